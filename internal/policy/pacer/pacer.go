// Package pacer implements the token bucket that spaces outbound EDGAR
// requests. The whole pipeline talks to one host, so a single bucket of one
// token enforces the minimum start-to-start delay across every request,
// retries included.
package pacer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantfold/filingstream/internal/metrics"
)

// Pacer blocks callers until the next request is allowed to start.
type Pacer struct {
	limiter *rate.Limiter
}

// New builds a pacer with the given minimum start-to-start delay. A zero or
// negative delay disables pacing.
func New(minDelay time.Duration) *Pacer {
	r := rate.Every(minDelay)
	if minDelay <= 0 {
		r = rate.Inf
	}
	return &Pacer{limiter: rate.NewLimiter(r, 1)}
}

// Wait blocks until the delay since the previous permitted start has
// elapsed, or the context is done.
func (p *Pacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacerWait(waited)
	}
	return nil
}
