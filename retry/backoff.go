// Package retry computes retry delays and classifies errors as retryable.
// Everything here is stateless and safe for concurrent use.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before a retry attempt.
type Backoff interface {
	// Delay returns how long to wait before attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Immediate
// ──────────────────────────────────────────────────

// Immediate never waits.
type Immediate struct{}

// Delay returns zero.
func (Immediate) Delay(int) time.Duration { return 0 }

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(int) time.Duration { return c.Interval }

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows the delay by Initial each attempt.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * attempt, capped at Max.
func (l Linear) Delay(attempt int) time.Duration {
	return capAt(l.Initial*time.Duration(max(attempt, 1)), l.Max)
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential multiplies the delay each attempt.
// Delay = min(Initial * Multiplier^(attempt-1), Max). A zero Multiplier
// means 2.
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns Initial * Multiplier^(attempt-1), capped at Max.
func (e Exponential) Delay(attempt int) time.Duration {
	mult := e.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(e.Initial) * math.Pow(mult, float64(max(attempt, 1)-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Jittered
// ──────────────────────────────────────────────────

// Jittered perturbs another strategy by a uniform ±Factor of its delay,
// clamps at zero and rounds to whole milliseconds.
type Jittered struct {
	Base   Backoff
	Factor float64
}

// Delay returns the jittered delay of the wrapped strategy.
func (j Jittered) Delay(attempt int) time.Duration {
	return jitter(j.Base.Delay(attempt), j.Factor)
}

func jitter(d time.Duration, factor float64) time.Duration {
	if d <= 0 || factor <= 0 {
		return d
	}
	spread := float64(d) * factor
	//nolint:gosec // jitter intentionally uses non-crypto rand
	perturbed := float64(d) + (rand.Float64()*2-1)*spread
	if perturbed < 0 {
		perturbed = 0
	}
	ms := math.Round(perturbed / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

func capAt(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
