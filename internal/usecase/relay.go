package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/domain"
)

const (
	defaultQuietPeriod    = 30 * time.Second
	defaultMinimumDelay   = 10 * time.Second
	defaultClaimTimeout   = 5 * time.Minute
	defaultHistoryLimit   = 20
	defaultHistoryHorizon = 6 * time.Hour
	defaultSweepLimit     = 50

	// DynamoDB transactions hold at most 25 items; one slot goes to the
	// conversation lock.
	maxClaimBatch = 24
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// MediaResolver converts stored media references into oracle-ready content.
type MediaResolver interface {
	Transcribe(ctx context.Context, mediaRef string) (string, error)
	Describe(ctx context.Context, mediaRef string) (prompt, imageURL string, err error)
}

// Deliverer sends the assembled reply back to the conversation.
type Deliverer interface {
	SendMessageChunked(ctx context.Context, conversationID, text string) error
}

type ConversationStore interface {
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

// RecheckScheduler arranges a future CheckConversation call for a deferred
// conversation. Deployments without an in-process timer rely on the sweep
// alone.
type RecheckScheduler interface {
	Schedule(conversationID string, at time.Time)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Config bounds the accumulation window and the dispatch machinery. Zero
// values fall back to defaults.
type Config struct {
	Window         WindowConfig
	ClaimTimeout   time.Duration
	HistoryLimit   int
	HistoryHorizon time.Duration
	SweepLimit     int
}

type RelayService struct {
	params      ParamGetter
	llm         LLMClient
	store       ConversationStore
	media       MediaResolver
	courier     Deliverer
	recheck     RecheckScheduler
	paramPrefix string
	cfg         Config

	cacheMu       sync.RWMutex
	cacheLoaded   bool
	personaPrompt string
	openaiModel   string
}

type ServiceOption func(*RelayService)

// WithRecheck installs an in-process scheduler that re-evaluates deferred
// conversations when their wait expires.
func WithRecheck(r RecheckScheduler) ServiceOption {
	return func(s *RelayService) {
		s.recheck = r
	}
}

func NewRelayService(p ParamGetter, llm LLMClient, store ConversationStore, media MediaResolver, courier Deliverer, paramPrefix string, cfg Config, opts ...ServiceOption) (*RelayService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if media == nil {
		return nil, errors.New("usecase: media resolver must not be nil")
	}
	if courier == nil {
		return nil, errors.New("usecase: deliverer must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if cfg.Window.QuietPeriod <= 0 {
		cfg.Window.QuietPeriod = defaultQuietPeriod
	}
	if cfg.Window.MinimumDelay <= 0 {
		cfg.Window.MinimumDelay = defaultMinimumDelay
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = defaultClaimTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.HistoryHorizon <= 0 {
		cfg.HistoryHorizon = defaultHistoryHorizon
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = defaultSweepLimit
	}
	s := &RelayService{
		params:      p,
		llm:         llm,
		store:       store,
		media:       media,
		courier:     courier,
		paramPrefix: paramPrefix,
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OnInboundMessage persists one webhook message and re-evaluates the
// conversation's accumulation window. Redelivered messages are absorbed
// without side effects.
func (s *RelayService) OnInboundMessage(ctx context.Context, msg domain.ConversationMessage) error {
	if err := validateInbound(msg); err != nil {
		return err
	}
	msg.Status = domain.StatusPending
	msg.WaitUntil = msg.ReceivedAt.Add(s.cfg.Window.QuietPeriod)

	if err := s.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			slog.Info("ignoring redelivered message",
				"conversation_id", msg.ConversationID, "seq", msg.SequenceID)
			return nil
		}
		return newError(ErrorStore, "append_error", err)
	}
	return s.CheckConversation(ctx, msg.ConversationID)
}

// CheckConversation applies the accumulation window to the conversation's
// pending messages and dispatches them when the window allows. Concurrent
// callers race on the store claim; exactly one wins.
func (s *RelayService) CheckConversation(ctx context.Context, conversationID string) error {
	now := timeNow().UTC()

	pending, err := s.store.PendingMessages(ctx, conversationID)
	if err != nil {
		return newError(ErrorStore, "pending_read_error", err)
	}
	decision := EvaluateWindow(pending, now, s.cfg.Window)
	if !decision.Dispatch {
		if len(pending) == 0 {
			return nil
		}
		return s.deferBatch(ctx, conversationID, pending, decision.WaitUntil)
	}

	batch := pending
	if len(batch) > maxClaimBatch {
		batch = batch[:maxClaimBatch]
	}
	dispatchID := newUUID()
	claimed, err := s.store.ClaimPending(ctx, conversationID, dispatchID, seqIDs(batch), now, now.Add(-s.cfg.ClaimTimeout))
	if err != nil {
		return newError(ErrorStore, "claim_error", err)
	}
	if claimed == 0 {
		slog.Debug("conversation already claimed elsewhere", "conversation_id", conversationID)
		return nil
	}
	for i := range batch {
		batch[i].Status = domain.StatusProcessing
		batch[i].DispatchID = dispatchID
	}
	return s.processBatch(ctx, conversationID, dispatchID, batch)
}

func (s *RelayService) deferBatch(ctx context.Context, conversationID string, pending []domain.ConversationMessage, until time.Time) error {
	var stale []int64
	for _, m := range pending {
		if !m.WaitUntil.Equal(until) {
			stale = append(stale, m.SequenceID)
		}
	}
	if len(stale) > 0 {
		if err := s.store.SetWaitUntil(ctx, conversationID, stale, until); err != nil {
			return newError(ErrorStore, "defer_error", err)
		}
	}
	if s.recheck != nil {
		s.recheck.Schedule(conversationID, until)
	}
	return nil
}

// SweepResult summarizes one scheduled pass over due and stuck work.
type SweepResult struct {
	Due    int
	Failed int
	Reaped int
}

// Sweep dispatches every conversation whose wait has expired and recovers
// messages stranded by crashed dispatches. Per-conversation failures are
// logged and counted, not propagated.
func (s *RelayService) Sweep(ctx context.Context) (SweepResult, error) {
	now := timeNow().UTC()
	res := SweepResult{}

	due, err := s.store.DueConversations(ctx, now, s.cfg.SweepLimit)
	if err != nil {
		return res, newError(ErrorStore, "due_scan_error", err)
	}
	res.Due = len(due)
	for _, conversationID := range due {
		if err := s.CheckConversation(ctx, conversationID); err != nil {
			res.Failed++
			slog.Error("sweep dispatch failed", "conversation_id", conversationID, "err", err)
		}
	}

	reaped, err := s.store.ReapStale(ctx, now.Add(-s.cfg.ClaimTimeout))
	if err != nil {
		return res, newError(ErrorStore, "reap_error", err)
	}
	res.Reaped = reaped
	if reaped > 0 {
		slog.Warn("recovered stale dispatches", "count", reaped)
	}
	return res, nil
}

func (s *RelayService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	persona, model, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}

	s.personaPrompt = persona
	s.openaiModel = model
	s.cacheLoaded = true
	return nil
}

func (s *RelayService) loadSSMParams(ctx context.Context) (persona, openaiModel string, err error) {
	prefix := strings.TrimRight(s.paramPrefix, "/")

	persona, err = s.params.GetParameter(ctx, prefix+"/persona_prompt")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load persona prompt: %w", err)
	}
	openaiModel, err = s.params.GetParameter(ctx, prefix+"/config/openai_model")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load openai model: %w", err)
	}
	return persona, openaiModel, nil
}

func validateInbound(msg domain.ConversationMessage) error {
	if strings.TrimSpace(msg.ConversationID) == "" {
		return newError(ErrorInvalidPayload, "missing_conversation_id", nil)
	}
	if msg.SequenceID <= 0 {
		return newError(ErrorInvalidPayload, "missing_sequence_id", nil)
	}
	if msg.ReceivedAt.IsZero() {
		return newError(ErrorInvalidPayload, "missing_received_at", nil)
	}
	switch msg.Kind {
	case domain.KindText:
		if strings.TrimSpace(msg.Text) == "" {
			return newError(ErrorInvalidPayload, "empty_text", nil)
		}
	case domain.KindVoice, domain.KindPhoto, domain.KindVideo:
		if !msg.HasMedia() {
			return newError(ErrorInvalidPayload, "missing_media_ref", nil)
		}
	case domain.KindOther:
	default:
		return newError(ErrorInvalidPayload, "unknown_kind", nil)
	}
	return nil
}

func seqIDs(msgs []domain.ConversationMessage) []int64 {
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SequenceID)
	}
	return ids
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}

var timeNow = time.Now
