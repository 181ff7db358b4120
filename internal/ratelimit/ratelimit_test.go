package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_FirstCallIsImmediate(t *testing.T) {
	l := New(time.Second)

	assert.LessOrEqual(t, l.Acquire(), time.Duration(0))
}

func TestLimiter_ZeroIntervalFallsBackToDefault(t *testing.T) {
	l := New(0)

	// An unset interval must not disable limiting.
	l.Acquire()
	assert.Greater(t, l.Acquire(), time.Duration(0))
}

func TestLimiter_SecondCallWaitsTheInterval(t *testing.T) {
	l := New(time.Second)

	l.Acquire()
	delay := l.Acquire()

	assert.Greater(t, delay, 500*time.Millisecond)
	assert.LessOrEqual(t, delay, time.Second)
}

func TestLimiter_SlotConsumedRegardlessOfOutcome(t *testing.T) {
	l := New(time.Second)

	// A failed delivery attempt still occupies its slot.
	l.Acquire()
	first := l.Acquire()
	second := l.Acquire()

	assert.Greater(t, second, first)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := New(time.Minute)
	l.Acquire()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_WaitReturnsAfterInterval(t *testing.T) {
	l := New(20 * time.Millisecond)
	l.Acquire()

	start := time.Now()
	err := l.Wait(context.Background())

	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
