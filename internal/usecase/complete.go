package usecase

import (
	"context"
	"log/slog"
	"strings"

	"chat-relay/internal/domain"
)

const (
	apologyReply = "Sorry, something went wrong on my side. Please try again in a moment."
	ackReply     = "I can't open this kind of attachment yet, but feel free to describe it in text."
	refusalReply = "I can't help with that."
)

// processBatch resolves a claimed batch, consults the oracle, and delivers
// the reply. It always attempts to move the batch out of the processing
// state before returning.
func (s *RelayService) processBatch(ctx context.Context, conversationID, dispatchID string, batch []domain.ConversationMessage) error {
	ids := seqIDs(batch)

	reply, err := s.produceReply(ctx, conversationID, batch)
	if err != nil {
		s.failBatch(ctx, conversationID, dispatchID, ids)
		return err
	}

	if reply == "" {
		if err := s.store.MarkProcessed(ctx, conversationID, dispatchID, ids, ""); err != nil {
			return newError(ErrorStore, "finalize_error", err)
		}
		slog.Info("batch absorbed without reply",
			"conversation_id", conversationID, "dispatch_id", dispatchID, "messages", len(ids))
		return nil
	}

	if err := s.courier.SendMessageChunked(ctx, conversationID, reply); err != nil {
		slog.Error("reply delivery failed",
			"conversation_id", conversationID, "dispatch_id", dispatchID, "err", err)
		s.failBatch(ctx, conversationID, dispatchID, ids)
		return newError(ErrorDelivery, "send_error", err)
	}

	if err := s.store.MarkProcessed(ctx, conversationID, dispatchID, ids, reply); err != nil {
		// The reply is already out; the reaper will clear the stuck rows.
		slog.Error("finalize after delivery failed",
			"conversation_id", conversationID, "dispatch_id", dispatchID, "err", err)
		return newError(ErrorStore, "finalize_error", err)
	}
	slog.Info("reply delivered",
		"conversation_id", conversationID, "dispatch_id", dispatchID, "messages", len(ids))
	return nil
}

// failBatch moves the batch to the error state and tells the user something
// went wrong. Both steps are best effort; the sweep reaper covers whatever
// is left behind.
func (s *RelayService) failBatch(ctx context.Context, conversationID, dispatchID string, ids []int64) {
	if err := s.store.MarkError(ctx, conversationID, dispatchID, ids); err != nil {
		slog.Error("marking batch failed",
			"conversation_id", conversationID, "dispatch_id", dispatchID, "err", err)
	}
	if err := s.courier.SendMessageChunked(ctx, conversationID, apologyReply); err != nil {
		slog.Error("apology delivery failed",
			"conversation_id", conversationID, "dispatch_id", dispatchID, "err", err)
	}
}

// produceReply assembles the oracle context for the batch and returns the
// reply text. An empty reply with nil error means there is nothing to send.
func (s *RelayService) produceReply(ctx context.Context, conversationID string, batch []domain.ConversationMessage) (string, error) {
	if err := s.ensureConfig(ctx); err != nil {
		return "", newError(ErrorInternal, "ssm_load_error", err)
	}

	since := timeNow().UTC().Add(-s.cfg.HistoryHorizon)
	history, err := s.store.RecentProcessed(ctx, conversationID, since, s.cfg.HistoryLimit)
	if err != nil {
		return "", newError(ErrorStore, "history_read_error", err)
	}

	asm := s.resolveContent(ctx, mergeChronological(history, batch))
	if len(asm.batchText) == 0 {
		if len(asm.unsupported) > 0 {
			return ackReply, nil
		}
		return "", nil
	}

	flagged, err := s.llm.Moderate(ctx, strings.Join(asm.batchText, "\n"))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return "", newError(ErrorOracle, "moderation_rate_limited", err)
		}
		return "", newError(ErrorOracle, "moderation_error", err)
	}
	if flagged {
		return refusalReply, nil
	}

	raw, err := s.llm.Chat(ctx, s.openaiModel, buildOracleMessages(personaInstruction(s.personaPrompt), asm.units))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return "", newError(ErrorOracle, "openai_rate_limited", err)
		}
		return "", newError(ErrorOracle, "openai_error", err)
	}
	reply := strings.TrimSpace(raw)
	if reply == "" {
		slog.Warn("oracle returned empty reply", "conversation_id", conversationID)
	}
	return reply, nil
}
