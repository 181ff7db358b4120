package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff_GrowsPerAttempt(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	var prev time.Duration
	for attempt := 0; attempt < 5; attempt++ {
		delay := nextBackoff(base, max, attempt)
		assert.GreaterOrEqual(t, delay, prev, "attempt %d", attempt)
		prev = delay
	}
}

func TestNextBackoff_RespectsCapWithJitter(t *testing.T) {
	base := time.Second
	max := 5 * time.Second

	for attempt := 0; attempt < 20; attempt++ {
		delay := nextBackoff(base, max, attempt)
		assert.LessOrEqual(t, delay, max+max/4, "attempt %d", attempt)
		assert.Greater(t, delay, time.Duration(0), "attempt %d", attempt)
	}
}

func TestNextBackoff_OverflowFallsBackToMax(t *testing.T) {
	delay := nextBackoff(time.Second, 30*time.Second, 63)

	assert.LessOrEqual(t, delay, 30*time.Second+30*time.Second/4)
	assert.GreaterOrEqual(t, delay, 30*time.Second)
}
