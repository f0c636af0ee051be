package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"12345:TEST"}`},
		"/chat-relay",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

// ---------------------------------------------------------------------------
// ParseUpdate
// ---------------------------------------------------------------------------

func TestParseUpdate_TextMessage(t *testing.T) {
	body := []byte(`{
		"update_id": 900,
		"message": {
			"message_id": 42,
			"from": {"id": 7, "is_bot": false, "username": "alice"},
			"chat": {"id": -100123, "type": "group"},
			"date": 1755950400,
			"text": "hello there"
		}
	}`)
	msg, err := ParseUpdate(body)
	require.NoError(t, err)
	require.Equal(t, "-100123", msg.ConversationID)
	require.Equal(t, int64(42), msg.SequenceID)
	require.Equal(t, domain.KindText, msg.Kind)
	require.Equal(t, "hello there", msg.Text)
	require.Empty(t, msg.MediaRef)
	require.Equal(t, domain.StatusPending, msg.Status)
	require.Equal(t, time.Unix(1755950400, 0).UTC(), msg.ReceivedAt)
}

func TestParseUpdate_VoiceMessage(t *testing.T) {
	body := []byte(`{
		"update_id": 901,
		"message": {
			"message_id": 43,
			"chat": {"id": 555, "type": "private"},
			"date": 1755950401,
			"voice": {"file_id": "voice-file-1"}
		}
	}`)
	msg, err := ParseUpdate(body)
	require.NoError(t, err)
	require.Equal(t, domain.KindVoice, msg.Kind)
	require.Equal(t, "voice-file-1", msg.MediaRef)
	require.True(t, msg.HasMedia())
}

func TestParseUpdate_PhotoPicksLargestSize(t *testing.T) {
	body := []byte(`{
		"update_id": 902,
		"message": {
			"message_id": 44,
			"chat": {"id": 555, "type": "private"},
			"date": 1755950402,
			"caption": "look at this",
			"photo": [
				{"file_id": "small", "width": 90, "height": 90},
				{"file_id": "large", "width": 800, "height": 800}
			]
		}
	}`)
	msg, err := ParseUpdate(body)
	require.NoError(t, err)
	require.Equal(t, domain.KindPhoto, msg.Kind)
	require.Equal(t, "large", msg.MediaRef)
	require.Equal(t, "look at this", msg.Text)
}

func TestParseUpdate_VideoMessage(t *testing.T) {
	body := []byte(`{
		"update_id": 903,
		"message": {
			"message_id": 45,
			"chat": {"id": 555, "type": "private"},
			"date": 1755950403,
			"video": {"file_id": "video-file-1"}
		}
	}`)
	msg, err := ParseUpdate(body)
	require.NoError(t, err)
	require.Equal(t, domain.KindVideo, msg.Kind)
	require.Equal(t, "video-file-1", msg.MediaRef)
}

func TestParseUpdate_StickerFallsBackToOther(t *testing.T) {
	body := []byte(`{
		"update_id": 904,
		"message": {
			"message_id": 46,
			"chat": {"id": 555, "type": "private"},
			"date": 1755950404,
			"sticker": {"file_id": "sticker-1"}
		}
	}`)
	msg, err := ParseUpdate(body)
	require.NoError(t, err)
	require.Equal(t, domain.KindOther, msg.Kind)
}

func TestParseUpdate_NoMessageIgnored(t *testing.T) {
	_, err := ParseUpdate([]byte(`{"update_id": 905, "edited_message": {"message_id": 1}}`))
	require.ErrorIs(t, err, ErrIgnoredUpdate)
}

func TestParseUpdate_BotSenderIgnored(t *testing.T) {
	body := []byte(`{
		"update_id": 906,
		"message": {
			"message_id": 47,
			"from": {"id": 8, "is_bot": true},
			"chat": {"id": 555, "type": "private"},
			"date": 1755950405,
			"text": "beep"
		}
	}`)
	_, err := ParseUpdate(body)
	require.ErrorIs(t, err, ErrIgnoredUpdate)
}

func TestParseUpdate_MalformedJSON(t *testing.T) {
	_, err := ParseUpdate([]byte(`{"broken`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode update")
}

func TestParseUpdate_MissingMessageID(t *testing.T) {
	body := []byte(`{
		"update_id": 907,
		"message": {"chat": {"id": 555}, "date": 1755950406, "text": "hi"}
	}`)
	_, err := ParseUpdate(body)
	require.Error(t, err)
	require.Contains(t, err.Error(), "message_id")
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/chat-relay")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

// ---------------------------------------------------------------------------
// Client.SendMessage
// ---------------------------------------------------------------------------

func TestClient_SendMessage_HappyPath(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.SendMessage(context.Background(), "555", "hello back")
	require.NoError(t, err)
	require.Equal(t, "/bot12345:TEST/sendMessage", gotPath)
	require.Equal(t, int64(555), gotBody.ChatID)
	require.Equal(t, "hello back", gotBody.Text)
}

func TestClient_SendMessage_APIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.SendMessage(context.Background(), "555", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
}

func TestClient_SendMessage_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		_, _ = w.Write([]byte(`bad gateway`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.SendMessage(context.Background(), "555", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestClient_SendMessage_BadConversationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.SendMessage(context.Background(), "not-a-chat-id", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a chat ID")
}

func TestClient_SendMessageChunked_SplitsLongText(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.SendMessageChunked(context.Background(), "555", strings.Repeat("a", maxMessageLen+100))
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

// ---------------------------------------------------------------------------
// Client.FetchFile
// ---------------------------------------------------------------------------

func TestClient_FetchFile_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getFile"):
			require.Equal(t, "file-123", r.URL.Query().Get("file_id"))
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"file-123","file_path":"voice/note_17.oga"}}`))
		case strings.Contains(r.URL.Path, "/file/bot"):
			require.Equal(t, "/file/bot12345:TEST/voice/note_17.oga", r.URL.Path)
			w.WriteHeader(200)
			_, _ = w.Write([]byte("opus-bytes"))
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	name, data, err := c.FetchFile(context.Background(), "file-123")
	require.NoError(t, err)
	require.Equal(t, "note_17.oga", name)
	require.Equal(t, []byte("opus-bytes"), data)
}

func TestClient_FetchFile_NoFilePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"file-123"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, _, err := c.FetchFile(context.Background(), "file-123")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no file path")
}

func TestClient_FetchFile_EmptyFileID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, _, err := c.FetchFile(context.Background(), " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

// ---------------------------------------------------------------------------
// token and secret resolution
// ---------------------------------------------------------------------------

func TestResolveToken_MalformedJSON(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"broken`}, "/chat-relay")
	require.NoError(t, err)
	_, err = c.resolveToken(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestWebhookSecret_FetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: "hook-secret\n"}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/chat-relay")
	require.NoError(t, err)

	secret, err := c.WebhookSecret(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hook-secret", secret)

	_, _ = c.WebhookSecret(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

func TestWebhookSecret_BlankDisablesVerification(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: "  "}, "/chat-relay")
	require.NoError(t, err)
	secret, err := c.WebhookSecret(context.Background())
	require.NoError(t, err)
	require.Empty(t, secret)
}
