// Package backoff provides exponential backoff delays for retry logic.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration `yaml:"base" json:"base"`
	// Max caps every computed delay.
	Max time.Duration `yaml:"max" json:"max"`
	// Factor is the exponential factor applied per retry. Zero means 2.
	Factor float64 `yaml:"factor" json:"factor"`
	// Jitter is the randomization factor (0.0 to 1.0) added before capping.
	Jitter float64 `yaml:"jitter" json:"jitter"`
}

// Delay returns the wait before retry number retry (0-indexed):
// min(Max, Base * Factor^retry), plus optional jitter, capped at Max.
func (p Policy) Delay(retry int) time.Duration {
	return p.DelayWithRand(retry, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand computes Delay using a provided random value in [0.0, 1.0).
// This is useful for testing to provide deterministic results.
func (p Policy) DelayWithRand(retry int, randomValue float64) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	exp := math.Max(float64(retry), 0)

	base := float64(p.Base) * math.Pow(factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	if total > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(total)
}

// DefaultPolicy returns a sensible default backoff policy.
// Base: 200ms, Max: 5s, Factor: 2, no jitter.
func DefaultPolicy() Policy {
	return Policy{
		Base:   200 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
	}
}
