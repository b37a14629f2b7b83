package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/metrics"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// transientMessages are lowercase substrings of network errors worth retrying
var transientMessages = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"connection error",
	"unreachable",
	"no such host",
	"name resolution",
	"temporary failure",
	"unexpected eof",
}

// RetryPolicy runs a fallible operation with exponential backoff and jitter, then applies
// the configured fail strategy. One policy is built per run and shared by the page fetcher
// and the downloader pool.
type RetryPolicy struct {
	retryCount   int
	baseDelay    time.Duration
	maxDelay     time.Duration // 0 = uncapped
	exponential  bool
	retryable    map[int]struct{}
	failStrategy config.FailStrategy

	jitter  func() float64 // Multiplier in [0.5, 1.5]
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *metrics.Recorder
	log     *logrus.Entry
}

// RetryOption customises a RetryPolicy
type RetryOption func(*RetryPolicy)

// WithJitter replaces the random jitter source
func WithJitter(f func() float64) RetryOption {
	return func(p *RetryPolicy) { p.jitter = f }
}

// WithSleep replaces the context-aware sleep between attempts
func WithSleep(f func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(p *RetryPolicy) { p.sleep = f }
}

// WithRetryMetrics counts scheduled retries on the given recorder
func WithRetryMetrics(m *metrics.Recorder) RetryOption {
	return func(p *RetryPolicy) { p.metrics = m }
}

// NewRetryPolicy builds a policy from the error_handling config section.
// cfg is expected to have passed AppConfig.Validate.
func NewRetryPolicy(cfg config.ErrorHandlingConfig, log *logrus.Entry, opts ...RetryOption) *RetryPolicy {
	codes := cfg.RetryableStatusCodes
	if len(codes) == 0 {
		codes = config.DefaultRetryableStatusCodes
	}
	retryable := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		retryable[c] = struct{}{}
	}
	strategy := cfg.FailStrategy
	if !strategy.IsValid() {
		strategy = config.FailStrategyLog
	}

	p := &RetryPolicy{
		retryCount:   max(cfg.RetryCount, 0),
		baseDelay:    cfg.RetryDelay,
		maxDelay:     cfg.MaxRetryDelay,
		exponential:  cfg.ExponentialBackoffEnabled(),
		retryable:    retryable,
		failStrategy: strategy,
		jitter:       func() float64 { return 0.5 + rand.Float64() },
		sleep:        sleepContext,
		log:          log.WithField("component", "retry"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FailStrategy returns the terminal failure behaviour of the policy
func (p *RetryPolicy) FailStrategy() config.FailStrategy { return p.failStrategy }

// IsRetryable classifies an error: a configured retryable HTTP status, a network timeout,
// or a message naming a known transient network failure.
func (p *RetryPolicy) IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if code := utils.StatusCodeOf(err); code != 0 {
		_, ok := p.retryable[code]
		return ok
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// BackoffDelay returns the un-jittered delay before retry number attempt (1-based):
// base*2^attempt with exponential backoff, base otherwise, capped at the max delay.
func (p *RetryPolicy) BackoffDelay(attempt int) time.Duration {
	delay := p.baseDelay
	if p.exponential {
		for i := 0; i < attempt; i++ {
			delay *= 2
			if p.maxDelay > 0 && delay >= p.maxDelay {
				break
			}
		}
	}
	if p.maxDelay > 0 && delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay
}

// Execute invokes op until it succeeds, fails with a non-retryable error, or the retry
// budget is spent. On terminal failure the fail strategy decides the return value:
// raise returns the error; log (after logging it) and skip return an error wrapping
// utils.ErrNoResult and the cause. Context cancellation is always returned as is.
func (p *RetryPolicy) Execute(ctx context.Context, desc string, op func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if !p.IsRetryable(err) {
			return p.fail(desc, err)
		}
		if attempt >= p.retryCount {
			return p.fail(desc, fmt.Errorf("%w: %w", utils.ErrRetryFailed, err))
		}

		delay := time.Duration(float64(p.BackoffDelay(attempt+1)) * p.jitter())
		p.metrics.RetryScheduled(utils.CategorizeError(err))
		p.log.WithFields(logrus.Fields{
			"operation": desc,
			"attempt":   attempt + 1,
			"of":        p.retryCount,
			"delay":     delay,
		}).Warnf("Retryable failure: %v", err)

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (p *RetryPolicy) fail(desc string, err error) error {
	switch p.failStrategy {
	case config.FailStrategyRaise:
		return err
	case config.FailStrategySkip:
		p.log.WithField("operation", desc).Debugf("Giving up: %v", err)
	default:
		p.log.WithFields(logrus.Fields{
			"operation":  desc,
			"error_type": utils.CategorizeError(err),
		}).Errorf("Operation failed: %v", err)
	}
	return fmt.Errorf("%w: %w", utils.ErrNoResult, err)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
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
