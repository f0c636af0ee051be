package recheck

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fireRecorder struct {
	mu    sync.Mutex
	fired []string
	ch    chan string
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{ch: make(chan string, 16)}
}

func (r *fireRecorder) fire(conversationID string) {
	r.mu.Lock()
	r.fired = append(r.fired, conversationID)
	r.mu.Unlock()
	r.ch <- conversationID
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func (r *fireRecorder) waitForFire(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduler to fire")
		return ""
	}
}

func TestNewScheduler_RequiresCallback(t *testing.T) {
	_, err := NewScheduler(nil)
	require.Error(t, err)
}

func TestScheduler_FiresAfterDelay(t *testing.T) {
	rec := newFireRecorder()
	s, err := NewScheduler(rec.fire)
	require.NoError(t, err)
	defer s.Stop()

	s.Schedule("conv-1", time.Now().Add(20*time.Millisecond))
	require.Equal(t, "conv-1", rec.waitForFire(t))
}

func TestScheduler_PastInstantFiresImmediately(t *testing.T) {
	rec := newFireRecorder()
	s, err := NewScheduler(rec.fire)
	require.NoError(t, err)
	defer s.Stop()

	s.Schedule("conv-1", time.Now().Add(-time.Second))
	require.Equal(t, "conv-1", rec.waitForFire(t))
}

func TestScheduler_EarlierScheduleWins(t *testing.T) {
	rec := newFireRecorder()
	s, err := NewScheduler(rec.fire)
	require.NoError(t, err)
	defer s.Stop()

	s.Schedule("conv-1", time.Now().Add(10*time.Second))
	s.Schedule("conv-1", time.Now().Add(20*time.Millisecond))

	require.Equal(t, "conv-1", rec.waitForFire(t))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, rec.count())
}

func TestScheduler_LaterScheduleIsIgnoredWhileArmed(t *testing.T) {
	rec := newFireRecorder()
	s, err := NewScheduler(rec.fire)
	require.NoError(t, err)
	defer s.Stop()

	s.Schedule("conv-1", time.Now().Add(20*time.Millisecond))
	s.Schedule("conv-1", time.Now().Add(10*time.Second))

	require.Equal(t, "conv-1", rec.waitForFire(t))
	require.Equal(t, 1, rec.count())
}

func TestScheduler_ConversationsFireIndependently(t *testing.T) {
	rec := newFireRecorder()
	s, err := NewScheduler(rec.fire)
	require.NoError(t, err)
	defer s.Stop()

	s.Schedule("conv-1", time.Now().Add(20*time.Millisecond))
	s.Schedule("conv-2", time.Now().Add(30*time.Millisecond))

	fired := map[string]bool{rec.waitForFire(t): true, rec.waitForFire(t): true}
	require.True(t, fired["conv-1"])
	require.True(t, fired["conv-2"])
}

func TestScheduler_RearmsAfterFiring(t *testing.T) {
	rec := newFireRecorder()
	s, err := NewScheduler(rec.fire)
	require.NoError(t, err)
	defer s.Stop()

	s.Schedule("conv-1", time.Now().Add(10*time.Millisecond))
	rec.waitForFire(t)

	s.Schedule("conv-1", time.Now().Add(10*time.Millisecond))
	rec.waitForFire(t)
	require.Equal(t, 2, rec.count())
}

func TestScheduler_StopCancelsArmedTimers(t *testing.T) {
	rec := newFireRecorder()
	s, err := NewScheduler(rec.fire)
	require.NoError(t, err)

	s.Schedule("conv-1", time.Now().Add(50*time.Millisecond))
	s.Stop()

	time.Sleep(150 * time.Millisecond)
	require.Zero(t, rec.count())

	// Schedules after Stop are rejected.
	s.Schedule("conv-2", time.Now().Add(10*time.Millisecond))
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, rec.count())
}

func TestScheduler_IgnoresEmptyConversationID(t *testing.T) {
	rec := newFireRecorder()
	s, err := NewScheduler(rec.fire)
	require.NoError(t, err)
	defer s.Stop()

	s.Schedule("", time.Now().Add(5*time.Millisecond))
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, rec.count())
}
