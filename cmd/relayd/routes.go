package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay/handler"
	"chat-relay/internal/integrations/telegram"
	"chat-relay/internal/usecase"
)

const maxWebhookBody = 1 << 20

func newRouter(relay handler.Relay, secrets handler.SecretSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/telegram/webhook", func(c *gin.Context) {
		expected, err := secrets.WebhookSecret(c.Request.Context())
		if err != nil {
			slog.Error("webhook secret lookup failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": string(usecase.ErrorInternal)})
			return
		}
		if expected != "" && c.GetHeader("X-Telegram-Bot-Api-Secret-Token") != expected {
			slog.Warn("webhook secret mismatch")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": string(usecase.ErrorInvalidPayload)})
			return
		}
		msg, err := telegram.ParseUpdate(body)
		if err != nil {
			if errors.Is(err, telegram.ErrIgnoredUpdate) {
				c.JSON(http.StatusOK, gin.H{"status": "ignored"})
				return
			}
			slog.Warn("webhook parse failed", "err", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": string(usecase.ErrorInvalidPayload)})
			return
		}

		if err := relay.OnInboundMessage(c.Request.Context(), msg); err != nil {
			status, code := handler.StatusForError(err)
			slog.Error("inbound relay failed", "err", err, "conversation_id", msg.ConversationID)
			c.JSON(status, gin.H{"error": code})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	})

	// Ops escape hatch: force a sweep outside the cron schedule.
	router.POST("/internal/sweep", func(c *gin.Context) {
		res, err := relay.Sweep(c.Request.Context())
		if err != nil {
			status, code := handler.StatusForError(err)
			slog.Error("manual sweep failed", "err", err)
			c.JSON(status, gin.H{"error": code})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "due": res.Due, "failed": res.Failed, "reaped": res.Reaped})
	})

	return router
}
