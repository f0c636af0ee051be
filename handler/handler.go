package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chat-relay/internal/domain"
	"chat-relay/internal/integrations/telegram"
	"chat-relay/internal/usecase"
)

const (
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
	correlationHeader = "X-Correlation-Id"
)

// Relay is the slice of the relay service the handler needs.
type Relay interface {
	OnInboundMessage(ctx context.Context, msg domain.ConversationMessage) error
	Sweep(ctx context.Context) (usecase.SweepResult, error)
}

// SecretSource provides the expected webhook secret token. An empty secret
// disables verification.
type SecretSource interface {
	WebhookSecret(ctx context.Context) (string, error)
}

type Handler struct {
	relay   Relay
	secrets SecretSource
}

func NewHandler(relay Relay, secrets SecretSource) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("handler: relay use case must not be nil")
	}
	if secrets == nil {
		return nil, errors.New("handler: secret source must not be nil")
	}
	return &Handler{relay: relay, secrets: secrets}, nil
}

type webhookResponse struct {
	Status string `json:"status"`
}

type sweepResponse struct {
	Status string `json:"status"`
	Due    int    `json:"due"`
	Failed int    `json:"failed"`
	Reaped int    `json:"reaped"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle multiplexes the function's two triggers: Telegram webhook posts
// arriving through API Gateway and the scheduled sweep event.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error) {
	var probe struct {
		HTTPMethod string `json:"httpMethod"`
		Source     string `json:"source"`
		DetailType string `json:"detail-type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidPayload)}, uuid.NewString()), nil
	}
	if probe.HTTPMethod != "" {
		var req events.APIGatewayProxyRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidPayload)}, uuid.NewString()), nil
		}
		return h.handleWebhook(ctx, req), nil
	}
	if probe.Source == "aws.events" || probe.DetailType != "" {
		return h.handleSweep(ctx), nil
	}
	return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidPayload)}, uuid.NewString()), nil
}

func (h *Handler) handleWebhook(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}

	if req.HTTPMethod != http.MethodPost {
		return respond(http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidPayload)}, corrID)
	}

	expected, err := h.secrets.WebhookSecret(ctx)
	if err != nil {
		slog.Error("webhook secret lookup failed", "err", err, "correlation_id", corrID)
		return respond(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}, corrID)
	}
	if expected != "" && headerValue(req.Headers, secretTokenHeader) != expected {
		slog.Warn("webhook secret mismatch", "correlation_id", corrID)
		return respond(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"}, corrID)
	}

	msg, err := telegram.ParseUpdate([]byte(req.Body))
	if err != nil {
		if errors.Is(err, telegram.ErrIgnoredUpdate) {
			return respond(http.StatusOK, webhookResponse{Status: "ignored"}, corrID)
		}
		slog.Warn("webhook parse failed", "err", err, "correlation_id", corrID)
		return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidPayload)}, corrID)
	}

	if err := h.relay.OnInboundMessage(ctx, msg); err != nil {
		status, code := StatusForError(err)
		slog.Error("inbound relay failed",
			"err", err, "conversation_id", msg.ConversationID, "correlation_id", corrID)
		return respond(status, errorResponse{Error: code}, corrID)
	}
	return respond(http.StatusOK, webhookResponse{Status: "accepted"}, corrID)
}

func (h *Handler) handleSweep(ctx context.Context) events.APIGatewayProxyResponse {
	corrID := uuid.NewString()
	res, err := h.relay.Sweep(ctx)
	if err != nil {
		slog.Error("sweep failed", "err", err, "correlation_id", corrID)
		status, code := StatusForError(err)
		return respond(status, errorResponse{Error: code}, corrID)
	}
	return respond(http.StatusOK, sweepResponse{Status: "ok", Due: res.Due, Failed: res.Failed, Reaped: res.Reaped}, corrID)
}

// StatusForError maps a relay error to the HTTP status and code surfaced to
// callers. Shared by the Lambda entry point and the self-hosted server.
func StatusForError(err error) (int, string) {
	var usecaseErr *usecase.Error
	if !errors.As(err, &usecaseErr) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
	switch usecaseErr.Code {
	case usecase.ErrorInvalidPayload:
		return http.StatusBadRequest, string(usecaseErr.Code)
	case usecase.ErrorOracle, usecase.ErrorDelivery, usecase.ErrorTranscription, usecase.ErrorImage:
		return http.StatusBadGateway, string(usecaseErr.Code)
	case usecase.ErrorStore, usecase.ErrorInternal:
		return http.StatusInternalServerError, string(usecaseErr.Code)
	default:
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
}

func respond(status int, body any, corrID string) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(payload),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
