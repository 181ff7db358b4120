// Package ratelimit enforces a minimum spacing between outbound calls to a
// shared target. One Limiter instance is shared by every caller hitting
// that target, so the spacing holds process-wide.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/parkops/gatebridge/internal/constants"
)

// Limiter spaces calls at least minInterval apart. The slot is consumed at
// acquisition time, before the call is made: a failed attempt still occupies
// its slot so a down target is not hammered.
type Limiter struct {
	lim *rate.Limiter
}

// New builds a limiter with the given minimum interval between calls. An
// unset interval falls back to the default rather than disabling limiting.
func New(minInterval time.Duration) *Limiter {
	if minInterval <= 0 {
		minInterval = constants.DefaultAPIMinInterval
	}
	return &Limiter{lim: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Acquire reserves the next slot and returns how long the caller must wait
// before proceeding.
func (l *Limiter) Acquire() time.Duration {
	return l.lim.Reserve().Delay()
}

// Wait blocks until the next slot is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	d := l.Acquire()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
