// Package recheck arms one timer per conversation so deferred accumulation
// windows are re-evaluated when they expire, without waiting for the next
// scheduled sweep.
package recheck

import (
	"errors"
	"sync"
	"time"
)

type pendingCheck struct {
	at    time.Time
	timer *time.Timer
}

// Scheduler fires a callback when a conversation's wait expires. Scheduling
// the same conversation again only moves the timer earlier; the callback
// runs on the timer goroutine.
type Scheduler struct {
	fire func(conversationID string)

	mu      sync.Mutex
	stopped bool
	timers  map[string]*pendingCheck
}

func NewScheduler(fire func(conversationID string)) (*Scheduler, error) {
	if fire == nil {
		return nil, errors.New("recheck: fire callback must not be nil")
	}
	return &Scheduler{
		fire:   fire,
		timers: make(map[string]*pendingCheck),
	}, nil
}

// Schedule arms a check for the conversation at the given instant. An
// already armed earlier check wins; a past instant fires immediately.
func (s *Scheduler) Schedule(conversationID string, at time.Time) {
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if existing, ok := s.timers[conversationID]; ok {
		if !at.Before(existing.at) {
			return
		}
		existing.timer.Stop()
	}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[conversationID] = &pendingCheck{
		at:    at,
		timer: time.AfterFunc(delay, func() { s.expire(conversationID) }),
	}
}

func (s *Scheduler) expire(conversationID string) {
	s.mu.Lock()
	delete(s.timers, conversationID)
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	s.fire(conversationID)
}

// Stop cancels every armed timer and rejects further schedules.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, id)
	}
}
