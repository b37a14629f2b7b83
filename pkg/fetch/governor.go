package fetch

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Sriram-PR/site-mirror/pkg/config"
)

// Governor paces every outbound request of a run. A single instance is shared by the
// page fetcher, the render path and all downloader workers, so the request rate to the
// target host is bounded globally rather than per worker.
//
// Wait holds the governor's lock while it sleeps: concurrent callers queue up and each is
// released at least one delay after the previous release. An optional token bucket
// (requests_per_second/burst) is applied on top of the delay.
type Governor struct {
	mu      sync.Mutex
	delay   time.Duration
	random  bool
	limiter *rate.Limiter // nil when no token bucket is configured
	last    time.Time     // Release time of the previous Wait
	factor  func() float64
	log     *logrus.Entry
}

// NewGovernor creates a governor from the effective delay settings of a site
func NewGovernor(cfg config.DelayConfig, log *logrus.Entry) *Governor {
	g := &Governor{
		delay:  cfg.Delay,
		random: cfg.RandomDelay,
		factor: func() float64 { return 0.5 + rand.Float64() },
		log:    log.WithField("component", "governor"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g
}

// Wait blocks until the caller may issue its next request.
// Returns ctx.Err() if the context ends while waiting.
func (g *Governor) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delay := g.delay
	if g.random && delay > 0 {
		delay = time.Duration(float64(delay) * g.factor())
	}

	if !g.last.IsZero() && delay > 0 {
		if remaining := delay - time.Since(g.last); remaining > 0 {
			g.log.Tracef("Pacing request for %v", remaining)
			if err := sleepContext(ctx, remaining); err != nil {
				return err
			}
		}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	g.last = time.Now()
	return nil
}
