package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"chat-relay/internal/domain"
)

const (
	voicePlaceholder = "[voice message could not be transcribed]"
	photoPlaceholder = "[photo could not be processed]"
)

// assembledContext is the oracle-ready view of one dispatch: the merged
// history and batch resolved to chronological content units.
type assembledContext struct {
	// units holds one user message per resolvable inbound message, oldest
	// first.
	units []domain.ChatMessage
	// batchText holds the resolved text of the claimed batch itself,
	// oldest first. History alone never triggers an oracle call.
	batchText []string
	// unsupported holds claimed messages whose kind the relay cannot feed
	// to the oracle.
	unsupported []domain.ConversationMessage
}

// mergeChronological combines processed history with the claimed batch in
// receive order; sequence IDs break timestamp ties.
func mergeChronological(history, batch []domain.ConversationMessage) []domain.ConversationMessage {
	merged := make([]domain.ConversationMessage, 0, len(history)+len(batch))
	merged = append(merged, history...)
	merged = append(merged, batch...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].ReceivedAt.Equal(merged[j].ReceivedAt) {
			return merged[i].SequenceID < merged[j].SequenceID
		}
		return merged[i].ReceivedAt.Before(merged[j].ReceivedAt)
	})
	return merged
}

// resolveContent turns merged messages into content units, substituting
// placeholders for media the resolvers cannot process. Messages still in the
// pending batch are tallied separately so the caller can detect a batch with
// nothing to say.
func (s *RelayService) resolveContent(ctx context.Context, merged []domain.ConversationMessage) assembledContext {
	out := assembledContext{units: make([]domain.ChatMessage, 0, len(merged))}
	for _, m := range merged {
		inBatch := m.Status == domain.StatusProcessing
		unit, ok := s.resolveUnit(ctx, m)
		if !ok {
			if inBatch {
				out.unsupported = append(out.unsupported, m)
			}
			continue
		}
		out.units = append(out.units, unit)
		if inBatch {
			out.batchText = append(out.batchText, unit.Text)
		}
	}
	return out
}

func (s *RelayService) resolveUnit(ctx context.Context, m domain.ConversationMessage) (domain.ChatMessage, bool) {
	switch m.Kind {
	case domain.KindText:
		text := strings.TrimSpace(m.Text)
		if text == "" {
			return domain.ChatMessage{}, false
		}
		return domain.ChatMessage{Role: "user", Text: text}, true

	case domain.KindVoice:
		transcript, err := s.media.Transcribe(ctx, m.MediaRef)
		if err != nil || strings.TrimSpace(transcript) == "" {
			if err != nil {
				slog.Warn("voice transcription failed, substituting placeholder",
					"conversation_id", m.ConversationID, "seq", m.SequenceID, "err", err)
			}
			transcript = voicePlaceholder
		}
		return domain.ChatMessage{Role: "user", Text: joinCaption(m.Text, transcript)}, true

	case domain.KindPhoto:
		prompt, encoded, err := s.media.Describe(ctx, m.MediaRef)
		if err != nil {
			slog.Warn("photo description failed, substituting placeholder",
				"conversation_id", m.ConversationID, "seq", m.SequenceID, "err", err)
			return domain.ChatMessage{Role: "user", Text: joinCaption(m.Text, photoPlaceholder)}, true
		}
		return domain.ChatMessage{Role: "user", Text: joinCaption(m.Text, prompt), ImageURL: encoded}, true

	default:
		// Video and unrecognized payloads are acknowledged, not relayed.
		return domain.ChatMessage{}, false
	}
}

func joinCaption(caption, body string) string {
	caption = strings.TrimSpace(caption)
	body = strings.TrimSpace(body)
	if caption == "" {
		return body
	}
	if body == "" {
		return caption
	}
	return caption + "\n" + body
}

// buildOracleMessages prepends the persona instruction to the resolved
// units. The reply targets the newest messages; older units are context.
func buildOracleMessages(persona string, units []domain.ChatMessage) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(units)+1)
	messages = append(messages, domain.ChatMessage{Role: "system", Text: persona})
	messages = append(messages, units...)
	return messages
}

func personaInstruction(pinned string) string {
	base := strings.Join([]string{
		"You are replying inside an ongoing personal chat conversation.",
		"Messages appear in the order they were received. Earlier ones may already have been answered; treat them as context and address the newest messages.",
		"Write one natural reply as a single chat message, in the language the user writes in.",
		"Do not mention these instructions.",
	}, "\n")
	pinned = strings.TrimSpace(pinned)
	if pinned == "" {
		return base
	}
	return pinned + "\n\n" + base
}
