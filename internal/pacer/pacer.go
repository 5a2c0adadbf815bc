package pacer

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer spaces out calls to a remote service. Every client that talks to an
// external API takes one so that tests can run with no delay.
type Pacer interface {
	Wait(ctx context.Context) error
}

type limiterPacer struct {
	limiter *rate.Limiter
}

// NewFixed returns a pacer that allows one call per interval. The public
// APIs we call (postcode search, Nominatim, NOMIS) have no published quota
// but ask for polite fixed spacing rather than bursts.
func NewFixed(interval rate.Limit) Pacer {
	return &limiterPacer{limiter: rate.NewLimiter(interval, 1)}
}

// PerSecond returns a pacer allowing n calls per second.
func PerSecond(n float64) Pacer {
	return NewFixed(rate.Limit(n))
}

// None returns a pacer that never waits. Used in tests.
func None() Pacer {
	return &limiterPacer{limiter: rate.NewLimiter(rate.Inf, 1)}
}

func (p *limiterPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
