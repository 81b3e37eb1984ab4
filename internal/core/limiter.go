package core

// limiter.go bounds how many validation sessions run at once. Each session
// holds whole returns and a copy of the datastore per rule in memory, so the
// server admits a fixed number and queues the rest for up to maxWait.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManySessions is returned when no session slot frees up within the
// wait limit.
var ErrTooManySessions = errors.New("too many validation sessions in progress")

const (
	DefaultMaxSessions = 4
	DefaultMaxWait     = 30 * time.Second
)

// SessionLimiter is a counting semaphore over validation sessions.
type SessionLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewSessionLimiter allows at most size concurrent sessions. Non-positive
// arguments take the defaults.
func NewSessionLimiter(size int, maxWait time.Duration) *SessionLimiter {
	if size <= 0 {
		size = DefaultMaxSessions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &SessionLimiter{
		slots:   make(chan struct{}, size),
		maxWait: maxWait,
	}
}

// Acquire waits for a slot. It fails with ErrTooManySessions after maxWait,
// or with ctx's error if ctx ends first. Callers must Release on success.
func (l *SessionLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	default:
	}

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManySessions
	}
}

// TryAcquire takes a slot only if one is free.
func (l *SessionLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *SessionLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of running sessions.
func (l *SessionLimiter) Active() int { return int(l.active.Load()) }

// Capacity returns the maximum number of concurrent sessions.
func (l *SessionLimiter) Capacity() int { return cap(l.slots) }

// WaitForDrain blocks until no session is running or ctx ends.
func (l *SessionLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for l.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// LimiterStatus is a snapshot for the health endpoint.
type LimiterStatus struct {
	Active    int `json:"active"`
	Available int `json:"available"`
	Capacity  int `json:"capacity"`
}

// Status returns the current limiter state.
func (l *SessionLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:    l.Active(),
		Available: cap(l.slots) - len(l.slots),
		Capacity:  cap(l.slots),
	}
}
