package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
	"chat-relay/internal/usecase"
)

type stubRelay struct {
	inboundErr error
	received   []domain.ConversationMessage
	sweepRes   usecase.SweepResult
	sweepErr   error
	sweepCalls int
}

func (s *stubRelay) OnInboundMessage(_ context.Context, msg domain.ConversationMessage) error {
	s.received = append(s.received, msg)
	return s.inboundErr
}

func (s *stubRelay) Sweep(_ context.Context) (usecase.SweepResult, error) {
	s.sweepCalls++
	return s.sweepRes, s.sweepErr
}

type stubSecrets struct {
	secret string
	err    error
}

func (s *stubSecrets) WebhookSecret(_ context.Context) (string, error) {
	return s.secret, s.err
}

const textUpdate = `{"update_id":1,"message":{"message_id":7,"date":1754049600,"chat":{"id":700100,"type":"private"},"from":{"id":5,"is_bot":false},"text":"hi"}}`

func performRequest(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func secretHeader() map[string]string {
	return map[string]string{"X-Telegram-Bot-Api-Secret-Token": "hook-secret"}
}

func TestWebhookRoute_HappyPath(t *testing.T) {
	relay := &stubRelay{}
	router := newRouter(relay, &stubSecrets{secret: "hook-secret"})

	w := performRequest(router, http.MethodPost, "/telegram/webhook", textUpdate, secretHeader())
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "accepted")
	require.Len(t, relay.received, 1)
	require.Equal(t, "700100", relay.received[0].ConversationID)
	require.Equal(t, domain.KindText, relay.received[0].Kind)
}

func TestWebhookRoute_RejectsWrongSecret(t *testing.T) {
	relay := &stubRelay{}
	router := newRouter(relay, &stubSecrets{secret: "other-secret"})

	w := performRequest(router, http.MethodPost, "/telegram/webhook", textUpdate, secretHeader())
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Empty(t, relay.received)
}

func TestWebhookRoute_IgnoredUpdate(t *testing.T) {
	relay := &stubRelay{}
	router := newRouter(relay, &stubSecrets{secret: "hook-secret"})

	w := performRequest(router, http.MethodPost, "/telegram/webhook", `{"update_id":1}`, secretHeader())
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ignored")
	require.Empty(t, relay.received)
}

func TestWebhookRoute_MapsRelayErrors(t *testing.T) {
	relay := &stubRelay{inboundErr: &usecase.Error{Code: usecase.ErrorStore, Reason: "append_error"}}
	router := newRouter(relay, &stubSecrets{secret: "hook-secret"})

	w := performRequest(router, http.MethodPost, "/telegram/webhook", textUpdate, secretHeader())
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), string(usecase.ErrorStore))
}

func TestSweepRoute(t *testing.T) {
	relay := &stubRelay{sweepRes: usecase.SweepResult{Due: 2, Failed: 0, Reaped: 1}}
	router := newRouter(relay, &stubSecrets{secret: "hook-secret"})

	w := performRequest(router, http.MethodPost, "/internal/sweep", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, relay.sweepCalls)
	require.Contains(t, w.Body.String(), `"due":2`)
	require.Contains(t, w.Body.String(), `"reaped":1`)
}

func TestHealthzRoute(t *testing.T) {
	router := newRouter(&stubRelay{}, &stubSecrets{})

	w := performRequest(router, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
