package retry

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_ExponentialWithinJitterBounds(t *testing.T) {
	p := Default()
	p.rng = rand.New(rand.NewSource(1))

	for n := 0; n < 6; n++ {
		d := p.Delay(n)
		raw := float64(p.Initial) * pow(p.Backoff, n)
		if raw > float64(p.MaxDelay) {
			raw = float64(p.MaxDelay)
		}
		lo := time.Duration(raw * (1 - p.Jitter))
		hi := time.Duration(raw * (1 + p.Jitter))
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestDelay_CapsAtMaxDelay(t *testing.T) {
	p := Default()
	p.rng = rand.New(rand.NewSource(1))
	d := p.Delay(10) // would be far beyond maxDelay uncapped
	assert.LessOrEqual(t, d, p.MaxDelay+time.Duration(float64(p.MaxDelay)*p.Jitter))
}

func TestShouldRetry_TerminalErrorsNeverRetried(t *testing.T) {
	p := Default()
	p.Classify = func(err error) Class {
		if err.Error() == "validation" {
			return Terminal
		}
		return Retriable
	}

	assert.False(t, p.ShouldRetry(1, errors.New("validation")))
	assert.True(t, p.ShouldRetry(1, errors.New("timeout")))
}

func TestShouldRetry_StopsAtMaxAttempts(t *testing.T) {
	p := Default()
	p.MaxAttempts = 3
	assert.True(t, p.ShouldRetry(2, errors.New("timeout")))
	assert.False(t, p.ShouldRetry(3, errors.New("timeout")))
}

func pow(base float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= base
	}
	return r
}
