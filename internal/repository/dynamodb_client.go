package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-relay/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 24 * time.Hour

	// statusWaitIndex is the GSI keyed on message status and waitUntil. It
	// feeds the sweep with conversations whose window has elapsed.
	statusWaitIndex = "status-waitUntil-index"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store defines the conversation state operations consumed by the relay.
type Store interface {
	AppendMessage(ctx context.Context, msg domain.ConversationMessage) error
	PendingMessages(ctx context.Context, conversationID string) ([]domain.ConversationMessage, error)
	SetWaitUntil(ctx context.Context, conversationID string, seqIDs []int64, until time.Time) error
	ClaimPending(ctx context.Context, conversationID, dispatchID string, seqIDs []int64, now, staleBefore time.Time) (int, error)
	RecentProcessed(ctx context.Context, conversationID string, since time.Time, limit int) ([]domain.ConversationMessage, error)
	MarkProcessed(ctx context.Context, conversationID, dispatchID string, seqIDs []int64, answer string) error
	MarkError(ctx context.Context, conversationID, dispatchID string, seqIDs []int64) error
	DueConversations(ctx context.Context, now time.Time, limit int) ([]string, error)
	ReapStale(ctx context.Context, cutoff time.Time) (int, error)
}

// Client wraps a DynamoDB table for conversation state.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK returns the sort key for a message. Zero-padding keeps lexicographic
// SK order equal to sequence order.
func msgSK(sequenceID int64) string {
	return fmt.Sprintf("%s%020d", skPrefixMsg, sequenceID)
}

// ttlValue returns a Unix timestamp one retention period in the future.
func ttlValue(now time.Time) int64 {
	return now.Add(ttlDuration).Unix()
}

// AppendMessage persists a new pending message. A sequence ID already stored
// for the conversation returns domain.ErrDuplicateMessage, making webhook
// redeliveries safe to replay.
func (c *Client) AppendMessage(ctx context.Context, msg domain.ConversationMessage) error {
	if msg.ConversationID == "" || msg.SequenceID == 0 {
		return errors.New("repository: AppendMessage: conversation and sequence IDs are required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return domain.ErrDuplicateMessage
		}
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// PendingMessages returns the conversation's pending messages in sequence
// order.
func (c *Client) PendingMessages(ctx context.Context, conversationID string) ([]domain.ConversationMessage, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("#st = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":      &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix":  &types.AttributeValueMemberS{Value: skPrefixMsg},
			":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: PendingMessages query: %w", err)
	}

	msgs := make([]domain.ConversationMessage, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: PendingMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// SetWaitUntil pushes the do-not-claim-before mark of the given pending
// messages forward. Messages claimed concurrently are skipped.
func (c *Client) SetWaitUntil(ctx context.Context, conversationID string, seqIDs []int64, until time.Time) error {
	for _, seq := range seqIDs {
		_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
				"SK": &types.AttributeValueMemberS{Value: msgSK(seq)},
			},
			UpdateExpression:    aws.String("SET waitUntil = :w"),
			ConditionExpression: aws.String("#st = :pending"),
			ExpressionAttributeNames: map[string]string{
				"#st": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":w":       numAttr(until.UnixMilli()),
				":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
			},
		})
		if err != nil && !isConditionalCheckFailed(err) {
			return fmt.Errorf("repository: SetWaitUntil seq %d: %w", seq, err)
		}
	}
	return nil
}

// ClaimPending atomically moves the given pending messages to processing and
// takes the conversation's dispatch lock in a single transaction. The lock
// condition admits exactly one concurrent claimer; a lost race returns zero
// claimed messages and no error. A lock older than staleBefore is taken over.
func (c *Client) ClaimPending(ctx context.Context, conversationID, dispatchID string, seqIDs []int64, now, staleBefore time.Time) (int, error) {
	if dispatchID == "" {
		return 0, errors.New("repository: ClaimPending: dispatch ID is required")
	}
	if len(seqIDs) == 0 {
		return 0, nil
	}

	items := make([]types.TransactWriteItem, 0, len(seqIDs)+1)
	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
				"SK": &types.AttributeValueMemberS{Value: skMeta},
			},
			UpdateExpression:    aws.String("SET activeDispatch = :d, dispatchStartedAt = :now, conversationId = :cid, lastActivity = :ts, #ttl = :ttl"),
			ConditionExpression: aws.String("attribute_not_exists(activeDispatch) OR dispatchStartedAt <= :stale"),
			ExpressionAttributeNames: map[string]string{
				"#ttl": "ttl",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":d":     &types.AttributeValueMemberS{Value: dispatchID},
				":now":   numAttr(now.UnixMilli()),
				":cid":   &types.AttributeValueMemberS{Value: conversationID},
				":ts":    &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
				":ttl":   numAttr(ttlValue(now)),
				":stale": numAttr(staleBefore.UnixMilli()),
			},
		},
	})
	for _, seq := range seqIDs {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName: aws.String(c.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
					"SK": &types.AttributeValueMemberS{Value: msgSK(seq)},
				},
				UpdateExpression:    aws.String("SET #st = :processing, dispatchId = :d, claimedAt = :now"),
				ConditionExpression: aws.String("#st = :pending AND waitUntil <= :now"),
				ExpressionAttributeNames: map[string]string{
					"#st": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":processing": &types.AttributeValueMemberS{Value: string(domain.StatusProcessing)},
					":pending":    &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
					":d":          &types.AttributeValueMemberS{Value: dispatchID},
					":now":        numAttr(now.UnixMilli()),
				},
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isTransactionConditionFailure(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("repository: ClaimPending: %w", err)
	}
	return len(seqIDs), nil
}

// RecentProcessed returns the conversation's most recent processed messages
// received at or after since, capped at limit, in sequence order.
func (c *Client) RecentProcessed(ctx context.Context, conversationID string, since time.Time, limit int) ([]domain.ConversationMessage, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("#st = :processed"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":        &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix":    &types.AttributeValueMemberS{Value: skPrefixMsg},
			":processed": &types.AttributeValueMemberS{Value: string(domain.StatusProcessed)},
		},
		// Read newest first so the cap favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: RecentProcessed query: %w", err)
	}

	msgs := make([]domain.ConversationMessage, 0, limit)
	for _, item := range out.Items {
		if limit > 0 && len(msgs) >= limit {
			break
		}
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentProcessed unmarshal: %w", err)
		}
		if msg.ReceivedAt.Before(since) {
			break
		}
		msgs = append(msgs, msg)
	}
	// Reverse to chronological order before returning to context assembly.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkProcessed finalizes a dispatched batch and releases the conversation's
// dispatch lock in one transaction. The transaction requires the lock to
// still belong to dispatchID, so a takeover after a stale claim cannot be
// overwritten by the late finisher.
func (c *Client) MarkProcessed(ctx context.Context, conversationID, dispatchID string, seqIDs []int64, answer string) error {
	now := time.Now().UTC()
	items := c.finalizeItems(conversationID, dispatchID, seqIDs, domain.StatusProcessed)
	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
				"SK": &types.AttributeValueMemberS{Value: skMeta},
			},
			UpdateExpression:    aws.String("SET lastAnswer = :a, lastActivity = :ts REMOVE activeDispatch, dispatchStartedAt"),
			ConditionExpression: aws.String("activeDispatch = :d"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":a":  &types.AttributeValueMemberS{Value: answer},
				":ts": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
				":d":  &types.AttributeValueMemberS{Value: dispatchID},
			},
		},
	})

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: MarkProcessed: %w", err)
	}
	return nil
}

// MarkError moves a dispatched batch to the error state and releases the
// dispatch lock.
func (c *Client) MarkError(ctx context.Context, conversationID, dispatchID string, seqIDs []int64) error {
	now := time.Now().UTC()
	items := c.finalizeItems(conversationID, dispatchID, seqIDs, domain.StatusError)
	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
				"SK": &types.AttributeValueMemberS{Value: skMeta},
			},
			UpdateExpression:    aws.String("SET lastActivity = :ts REMOVE activeDispatch, dispatchStartedAt"),
			ConditionExpression: aws.String("activeDispatch = :d"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ts": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
				":d":  &types.AttributeValueMemberS{Value: dispatchID},
			},
		},
	})

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: MarkError: %w", err)
	}
	return nil
}

// finalizeItems builds the per-message transaction entries that move a
// claimed batch to its terminal status.
func (c *Client) finalizeItems(conversationID, dispatchID string, seqIDs []int64, status domain.MessageStatus) []types.TransactWriteItem {
	items := make([]types.TransactWriteItem, 0, len(seqIDs)+1)
	for _, seq := range seqIDs {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName: aws.String(c.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
					"SK": &types.AttributeValueMemberS{Value: msgSK(seq)},
				},
				UpdateExpression:    aws.String("SET #st = :final"),
				ConditionExpression: aws.String("#st = :processing AND dispatchId = :d"),
				ExpressionAttributeNames: map[string]string{
					"#st": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":final":      &types.AttributeValueMemberS{Value: string(status)},
					":processing": &types.AttributeValueMemberS{Value: string(domain.StatusProcessing)},
					":d":          &types.AttributeValueMemberS{Value: dispatchID},
				},
			},
		})
	}
	return items
}

// DueConversations returns the IDs of conversations holding pending messages
// whose waitUntil has elapsed, deduplicated in index order. The limit caps
// index entries scanned, not distinct IDs, so a conversation with many due
// messages can shrink one sweep's yield; the next sweep picks up the rest.
func (c *Client) DueConversations(ctx context.Context, now time.Time, limit int) ([]string, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(statusWaitIndex),
		KeyConditionExpression: aws.String("#st = :pending AND waitUntil <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
			":now":     numAttr(now.UnixMilli()),
		},
		Limit: aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: DueConversations query: %w", err)
	}

	seen := make(map[string]struct{}, len(out.Items))
	ids := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		id, err := strAttr(item, "conversationId")
		if err != nil {
			return nil, fmt.Errorf("repository: DueConversations decode: %w", err)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReapStale moves processing messages claimed before cutoff to the error
// state and releases their conversations' dispatch locks. It returns the
// number of messages reaped. Claimed messages are never dropped silently; a
// crashed invocation surfaces here.
func (c *Client) ReapStale(ctx context.Context, cutoff time.Time) (int, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(statusWaitIndex),
		KeyConditionExpression: aws.String("#st = :processing"),
		FilterExpression:       aws.String("claimedAt <= :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: string(domain.StatusProcessing)},
			":cutoff":     numAttr(cutoff.UnixMilli()),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("repository: ReapStale query: %w", err)
	}

	reaped := 0
	convs := make(map[string]struct{})
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return reaped, fmt.Errorf("repository: ReapStale unmarshal: %w", err)
		}
		_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
				"SK": &types.AttributeValueMemberS{Value: msgSK(msg.SequenceID)},
			},
			UpdateExpression:    aws.String("SET #st = :error"),
			ConditionExpression: aws.String("#st = :processing AND claimedAt <= :cutoff"),
			ExpressionAttributeNames: map[string]string{
				"#st": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":error":      &types.AttributeValueMemberS{Value: string(domain.StatusError)},
				":processing": &types.AttributeValueMemberS{Value: string(domain.StatusProcessing)},
				":cutoff":     numAttr(cutoff.UnixMilli()),
			},
		})
		if err != nil {
			if isConditionalCheckFailed(err) {
				continue
			}
			return reaped, fmt.Errorf("repository: ReapStale seq %d: %w", msg.SequenceID, err)
		}
		reaped++
		convs[msg.ConversationID] = struct{}{}
	}

	for id := range convs {
		_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: convPK(id)},
				"SK": &types.AttributeValueMemberS{Value: skMeta},
			},
			UpdateExpression:    aws.String("REMOVE activeDispatch, dispatchStartedAt"),
			ConditionExpression: aws.String("attribute_exists(activeDispatch) AND dispatchStartedAt <= :cutoff"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":cutoff": numAttr(cutoff.UnixMilli()),
			},
		})
		if err != nil && !isConditionalCheckFailed(err) {
			return reaped, fmt.Errorf("repository: ReapStale release lock: %w", err)
		}
	}
	return reaped, nil
}

// itemToMessage converts a DynamoDB attribute map to a ConversationMessage.
func itemToMessage(item map[string]types.AttributeValue) (domain.ConversationMessage, error) {
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.ConversationMessage{}, err
	}
	seq, err := int64Attr(item, "seq")
	if err != nil {
		return domain.ConversationMessage{}, err
	}
	kind, err := strAttr(item, "kind")
	if err != nil {
		return domain.ConversationMessage{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.ConversationMessage{}, err
	}
	receivedRaw, err := strAttr(item, "receivedAt")
	if err != nil {
		return domain.ConversationMessage{}, err
	}
	receivedAt, err := time.Parse(time.RFC3339Nano, receivedRaw)
	if err != nil {
		return domain.ConversationMessage{}, fmt.Errorf("repository: parse receivedAt: %w", err)
	}
	waitMs, err := int64Attr(item, "waitUntil")
	if err != nil {
		return domain.ConversationMessage{}, err
	}
	text, _ := strAttr(item, "text")             // allow empty
	mediaRef, _ := strAttr(item, "mediaRef")     // allow empty
	dispatchID, _ := strAttr(item, "dispatchId") // absent until claimed

	return domain.ConversationMessage{
		ConversationID: convID,
		SequenceID:     seq,
		Kind:           domain.PayloadKind(kind),
		Text:           text,
		MediaRef:       mediaRef,
		ReceivedAt:     receivedAt,
		Status:         domain.MessageStatus(status),
		WaitUntil:      time.UnixMilli(waitMs).UTC(),
		DispatchID:     dispatchID,
	}, nil
}

func messageItem(msg domain.ConversationMessage) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(msg.SequenceID)},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"seq":            numAttr(msg.SequenceID),
		"kind":           &types.AttributeValueMemberS{Value: string(msg.Kind)},
		"text":           &types.AttributeValueMemberS{Value: msg.Text},
		"mediaRef":       &types.AttributeValueMemberS{Value: msg.MediaRef},
		"receivedAt":     &types.AttributeValueMemberS{Value: msg.ReceivedAt.UTC().Format(time.RFC3339Nano)},
		"status":         &types.AttributeValueMemberS{Value: string(msg.Status)},
		"waitUntil":      numAttr(msg.WaitUntil.UnixMilli()),
		"ttl":            numAttr(ttlValue(msg.ReceivedAt)),
	}
}

func numAttr(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

// isConditionalCheckFailed reports whether err is a single-item conditional
// write failure.
func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// isTransactionConditionFailure reports whether a transaction was cancelled
// by a condition check, which signals a lost claim race rather than a store
// fault.
func isTransactionConditionFailure(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, reason := range tce.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}
