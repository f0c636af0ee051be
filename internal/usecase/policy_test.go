package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

func windowMsg(seq int64, receivedAt time.Time) domain.ConversationMessage {
	return domain.ConversationMessage{
		ConversationID: testConv,
		SequenceID:     seq,
		Kind:           domain.KindText,
		Text:           "m",
		ReceivedAt:     receivedAt,
		Status:         domain.StatusPending,
	}
}

func TestEvaluateWindow_EmptyPendingIsIdle(t *testing.T) {
	d := EvaluateWindow(nil, relayNow, WindowConfig{QuietPeriod: 3 * time.Second, MinimumDelay: time.Second})
	require.False(t, d.Dispatch)
	require.True(t, d.WaitUntil.IsZero())
}

func TestEvaluateWindow_QuietPeriodExtendsWithEachMessage(t *testing.T) {
	cfg := WindowConfig{QuietPeriod: 3 * time.Second, MinimumDelay: time.Second}
	base := relayNow
	pending := []domain.ConversationMessage{
		windowMsg(1, base),
		windowMsg(2, base.Add(time.Second)),
		windowMsg(3, base.Add(2*time.Second)),
	}

	d := EvaluateWindow(pending, base.Add(3*time.Second), cfg)
	require.False(t, d.Dispatch)
	require.Equal(t, base.Add(5*time.Second), d.WaitUntil)

	d = EvaluateWindow(pending, base.Add(5*time.Second), cfg)
	require.True(t, d.Dispatch)
}

func TestEvaluateWindow_BoundaryEqualityDispatches(t *testing.T) {
	cfg := WindowConfig{QuietPeriod: 30 * time.Second, MinimumDelay: 10 * time.Second}
	base := relayNow
	pending := []domain.ConversationMessage{windowMsg(1, base)}

	d := EvaluateWindow(pending, base.Add(30*time.Second-time.Nanosecond), cfg)
	require.False(t, d.Dispatch)

	d = EvaluateWindow(pending, base.Add(30*time.Second), cfg)
	require.True(t, d.Dispatch)
}

func TestEvaluateWindow_MinimumDelayHoldsQuietBatch(t *testing.T) {
	cfg := WindowConfig{QuietPeriod: 2 * time.Second, MinimumDelay: 10 * time.Second}
	base := relayNow
	pending := []domain.ConversationMessage{windowMsg(1, base)}

	d := EvaluateWindow(pending, base.Add(5*time.Second), cfg)
	require.False(t, d.Dispatch)
	require.Equal(t, base.Add(10*time.Second), d.WaitUntil)

	d = EvaluateWindow(pending, base.Add(10*time.Second), cfg)
	require.True(t, d.Dispatch)
}

func TestEvaluateWindow_SustainedTrafficKeepsDeferring(t *testing.T) {
	cfg := WindowConfig{QuietPeriod: 3 * time.Second, MinimumDelay: 5 * time.Second}
	base := relayNow
	var pending []domain.ConversationMessage
	for i := 0; i < 5; i++ {
		pending = append(pending, windowMsg(int64(i+1), base.Add(time.Duration(i)*2*time.Second)))
	}

	// Ten seconds in, the minimum delay is long satisfied but the newest
	// message keeps the quiet gate ahead of now.
	d := EvaluateWindow(pending, base.Add(10*time.Second), cfg)
	require.False(t, d.Dispatch)
	require.Equal(t, base.Add(11*time.Second), d.WaitUntil)
}

func TestEvaluateWindow_UnorderedInputFindsBounds(t *testing.T) {
	cfg := WindowConfig{QuietPeriod: 3 * time.Second, MinimumDelay: 20 * time.Second}
	base := relayNow
	pending := []domain.ConversationMessage{
		windowMsg(2, base.Add(4*time.Second)),
		windowMsg(1, base),
	}

	d := EvaluateWindow(pending, base.Add(10*time.Second), cfg)
	require.False(t, d.Dispatch)
	require.Equal(t, base.Add(20*time.Second), d.WaitUntil)
}
