package usecase

import (
	"time"

	"chat-relay/internal/domain"
)

// WindowConfig holds the accumulation window timings.
type WindowConfig struct {
	// QuietPeriod is the silence required after the newest pending message
	// before a batch may dispatch.
	QuietPeriod time.Duration
	// MinimumDelay is the least time a batch waits after its oldest pending
	// message. It simulates human response latency and only delays
	// dispatch, never discards messages.
	MinimumDelay time.Duration
}

// WindowDecision is the outcome of evaluating the accumulation window for
// one conversation.
type WindowDecision struct {
	Dispatch bool
	// WaitUntil is the earliest instant worth re-checking when Dispatch is
	// false. Zero when the conversation is idle.
	WaitUntil time.Time
}

// EvaluateWindow decides whether a conversation's pending batch should
// dispatch at now. A batch dispatches once the quiet period has elapsed
// since the newest pending message and the minimum delay has elapsed since
// the oldest; equality at either boundary dispatches. A burst of rapid
// messages keeps pushing the quiet gate forward, so sustained input defers
// dispatch indefinitely.
func EvaluateWindow(pending []domain.ConversationMessage, now time.Time, cfg WindowConfig) WindowDecision {
	if len(pending) == 0 {
		return WindowDecision{}
	}
	oldest := pending[0].ReceivedAt
	newest := pending[0].ReceivedAt
	for _, m := range pending[1:] {
		if m.ReceivedAt.Before(oldest) {
			oldest = m.ReceivedAt
		}
		if m.ReceivedAt.After(newest) {
			newest = m.ReceivedAt
		}
	}

	ready := newest.Add(cfg.QuietPeriod)
	if delayReady := oldest.Add(cfg.MinimumDelay); delayReady.After(ready) {
		ready = delayReady
	}
	if now.Before(ready) {
		return WindowDecision{WaitUntil: ready}
	}
	return WindowDecision{Dispatch: true}
}
