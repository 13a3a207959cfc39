package connection

import (
	"math/rand/v2"
	"time"
)

// Backoff is a capped exponential reconnect policy.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int     // Reconnect cycles before giving up (0 = never)
	Jitter      float64 // Fraction of the delay added at random, 0 disables
}

// DefaultBackoff returns 1s doubling up to 10s, five attempts, no jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Max:         10 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns min(Base * 2^attempt, Max) for a zero-based attempt,
// plus jitter when configured.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt && i < 32 && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 && d > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}

// Exhausted reports whether attempt has used up the budget.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
