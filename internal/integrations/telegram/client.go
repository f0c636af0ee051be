package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"chat-relay/internal/domain"
)

const (
	// maxMessageLen is the per-message chunk size for outbound text. The Bot
	// API rejects messages over 4096 characters; 3500 leaves headroom.
	maxMessageLen = 3500
	// maxFileBytes bounds file downloads. The Bot API caps getFile downloads
	// at 20 MB.
	maxFileBytes = 20 << 20
)

// ErrIgnoredUpdate reports a well-formed webhook update that carries nothing
// the relay ingests (callback queries, channel posts, member events).
var ErrIgnoredUpdate = errors.New("telegram: update carries no message")

// tokenPayload is the expected JSON shape stored in SSM for the bot token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client is a focused Telegram Bot API client for outbound delivery and file
// retrieval.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenOnce sync.Once
	token     string
	tokenErr  error

	secretOnce sync.Once
	secret     string
	secretErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// bot token retrieval. The token is fetched from SSM on the first request
// and reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("telegram: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("telegram: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://api.telegram.org",
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		raw, err := c.getter.GetParameter(ctx, c.paramPrefix+"/telegram-bot-token")
		if err != nil {
			c.tokenErr = fmt.Errorf("telegram: fetch bot token from paramstore: %w", err)
			return
		}
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			c.tokenErr = fmt.Errorf("telegram: unmarshal paramstore token value as JSON: %w", err)
			return
		}
		if tp.Token == "" {
			c.tokenErr = errors.New("telegram: bot token is empty")
			return
		}
		c.token = tp.Token
	})
	return c.token, c.tokenErr
}

// WebhookSecret returns the secret expected in the
// X-Telegram-Bot-Api-Secret-Token header of inbound webhook requests. Stored
// in SSM as a plain string; a blank value disables webhook verification.
func (c *Client) WebhookSecret(ctx context.Context) (string, error) {
	c.secretOnce.Do(func() {
		raw, err := c.getter.GetParameter(ctx, c.paramPrefix+"/telegram-webhook-secret")
		if err != nil {
			c.secretErr = fmt.Errorf("telegram: fetch webhook secret from paramstore: %w", err)
			return
		}
		c.secret = strings.TrimSpace(raw)
	})
	return c.secret, c.secretErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type okResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// SendMessage delivers one outbound text message to the conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) error {
	chatID, err := chatIDFromConversation(conversationID)
	if err != nil {
		return err
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = "(empty)"
	}
	body, _ := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: true,
	})

	reqURL := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("telegram: sendMessage: %w", err)
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var ok okResponse
	_ = json.Unmarshal(raw, &ok)
	if !ok.OK {
		return fmt.Errorf("telegram: sendMessage: ok=false: %s", ok.Description)
	}
	return nil
}

// SendMessageChunked splits long replies across multiple messages.
func (c *Client) SendMessageChunked(ctx context.Context, conversationID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return c.SendMessage(ctx, conversationID, text)
	}
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxMessageLen {
			chunk = chunk[:maxMessageLen]
		}
		if err := c.SendMessage(ctx, conversationID, chunk); err != nil {
			return err
		}
		text = strings.TrimSpace(text[len(chunk):])
	}
	return nil
}

type getFileResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		FileID   string `json:"file_id"`
		FilePath string `json:"file_path"`
	} `json:"result"`
}

// FetchFile resolves a platform file reference and downloads its content.
// It returns the file's base name and bytes.
func (c *Client) FetchFile(ctx context.Context, fileID string) (string, []byte, error) {
	if strings.TrimSpace(fileID) == "" {
		return "", nil, errors.New("telegram: file ID must not be empty")
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return "", nil, err
	}

	reqURL := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", c.baseURL, token, url.QueryEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("telegram: create getFile request: %w", err)
	}
	resp, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("telegram: getFile: %w", err)
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("telegram: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var meta getFileResponse
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", nil, fmt.Errorf("telegram: decode getFile response: %w", err)
	}
	if !meta.OK || meta.Result.FilePath == "" {
		return "", nil, errors.New("telegram: getFile returned no file path")
	}

	dlURL := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, token, meta.Result.FilePath)
	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, dlURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("telegram: create download request: %w", err)
	}
	dlResp, err := c.resolvedHTTPClient().Do(dlReq)
	if err != nil {
		return "", nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer func() { _ = dlResp.Body.Close() }()
	if dlResp.StatusCode < 200 || dlResp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(dlResp.Body, 4096))
		return "", nil, fmt.Errorf("telegram: http %d: %s", dlResp.StatusCode, strings.TrimSpace(string(buf)))
	}
	data, err := io.ReadAll(io.LimitReader(dlResp.Body, maxFileBytes))
	if err != nil {
		return "", nil, fmt.Errorf("telegram: read file body: %w", err)
	}
	return path.Base(meta.Result.FilePath), data, nil
}

func chatIDFromConversation(conversationID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(conversationID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: conversation ID %q is not a chat ID: %w", conversationID, err)
	}
	return id, nil
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message,omitempty"`
}

type message struct {
	MessageID int64       `json:"message_id"`
	From      *user       `json:"from,omitempty"`
	Chat      *chat       `json:"chat,omitempty"`
	Date      int64       `json:"date"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Voice     *mediaFile  `json:"voice,omitempty"`
	Photo     []photoSize `json:"photo,omitempty"`
	Video     *mediaFile  `json:"video,omitempty"`
	Document  *mediaFile  `json:"document,omitempty"`
	Sticker   *mediaFile  `json:"sticker,omitempty"`
}

type chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"` // private|group|supergroup|channel
}

type user struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Username string `json:"username,omitempty"`
}

type mediaFile struct {
	FileID string `json:"file_id"`
}

type photoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ParseUpdate maps a webhook update body to a pending conversation message.
// Updates without a message, or from other bots, return ErrIgnoredUpdate.
func ParseUpdate(body []byte) (domain.ConversationMessage, error) {
	var u update
	if err := json.Unmarshal(body, &u); err != nil {
		return domain.ConversationMessage{}, fmt.Errorf("telegram: decode update: %w", err)
	}
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		return domain.ConversationMessage{}, ErrIgnoredUpdate
	}
	if msg.From != nil && msg.From.IsBot {
		return domain.ConversationMessage{}, ErrIgnoredUpdate
	}
	if msg.MessageID == 0 {
		return domain.ConversationMessage{}, errors.New("telegram: update missing message_id")
	}

	out := domain.ConversationMessage{
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		SequenceID:     msg.MessageID,
		ReceivedAt:     time.Unix(msg.Date, 0).UTC(),
		Status:         domain.StatusPending,
	}

	switch {
	case msg.Voice != nil:
		out.Kind = domain.KindVoice
		out.MediaRef = msg.Voice.FileID
		out.Text = msg.Caption
	case len(msg.Photo) > 0:
		out.Kind = domain.KindPhoto
		// Sizes arrive smallest first; take the largest rendition.
		out.MediaRef = msg.Photo[len(msg.Photo)-1].FileID
		out.Text = msg.Caption
	case msg.Video != nil:
		out.Kind = domain.KindVideo
		out.MediaRef = msg.Video.FileID
		out.Text = msg.Caption
	case strings.TrimSpace(msg.Text) != "":
		out.Kind = domain.KindText
		out.Text = msg.Text
	default:
		out.Kind = domain.KindOther
		if msg.Document != nil {
			out.MediaRef = msg.Document.FileID
		}
		out.Text = msg.Caption
	}
	return out, nil
}
