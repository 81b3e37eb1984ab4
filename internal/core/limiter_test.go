package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/ingress"
)

func TestSessionLimiter_AcquireRelease(t *testing.T) {
	l := NewSessionLimiter(2, time.Second)
	ctx := context.Background()

	assert.Equal(t, LimiterStatus{Active: 0, Available: 2, Capacity: 2}, l.Status())

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, LimiterStatus{Active: 2, Available: 0, Capacity: 2}, l.Status())
	assert.False(t, l.TryAcquire())

	l.Release()
	assert.Equal(t, 1, l.Active())
	assert.True(t, l.TryAcquire())

	l.Release()
	l.Release()
	assert.Equal(t, 0, l.Active())
}

func TestSessionLimiter_Timeout(t *testing.T) {
	l := NewSessionLimiter(1, 20*time.Millisecond)
	require.True(t, l.TryAcquire())
	defer l.Release()

	start := time.Now()
	err := l.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrTooManySessions)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSessionLimiter_ContextCancelled(t *testing.T) {
	l := NewSessionLimiter(1, time.Minute)
	require.True(t, l.TryAcquire())
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}

func TestSessionLimiter_WaitsForSlot(t *testing.T) {
	l := NewSessionLimiter(1, time.Second)
	require.True(t, l.TryAcquire())

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Release()
	}()
	require.NoError(t, l.Acquire(context.Background()))
	l.Release()
}

func TestSessionLimiter_Concurrent(t *testing.T) {
	l := NewSessionLimiter(3, time.Second)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		peak    int
		current int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				return
			}
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			l.Release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, 3)
	assert.Equal(t, 0, l.Active())
}

func TestSessionLimiter_WaitForDrain(t *testing.T) {
	l := NewSessionLimiter(2, time.Second)
	require.NoError(t, l.WaitForDrain(context.Background()))

	require.True(t, l.TryAcquire())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.WaitForDrain(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Release()
	}()
	assert.NoError(t, l.WaitForDrain(context.Background()))
}

func TestNewSessionLimiter_Defaults(t *testing.T) {
	l := NewSessionLimiter(0, 0)
	assert.Equal(t, DefaultMaxSessions, l.Capacity())
}

func TestMapError(t *testing.T) {
	assert.Equal(t, UserMessage{}, MapError(nil))

	err := &ingress.UploadError{File: "episodes.csv", Columns: []string{"SHOE_SIZE"}, Err: ingress.ErrUnmatchedColumns}
	msg := MapError(err)
	assert.Equal(t, "UPL004", msg.Code)
	assert.Equal(t, 422, msg.Status)
	assert.Equal(t, "file episodes.csv: SHOE_SIZE", msg.Detail)
	assert.Contains(t, FormatUserError(err), "(Code: UPL004)")
	assert.True(t, IsUserFacing(err))

	wrapped := errors.Join(errors.New("validation cancelled"), context.DeadlineExceeded)
	assert.Equal(t, "SES004", MapError(wrapped).Code)

	other := errors.New("disk on fire")
	assert.Equal(t, "ERR000", MapError(other).Code)
	assert.Equal(t, 500, MapError(other).Status)
	assert.False(t, IsUserFacing(other))
	assert.Empty(t, FormatUserError(nil))
}
