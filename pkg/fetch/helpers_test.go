package fetch

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/config"
)

// testLogger creates a logger that discards output for tests
func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// sleepRecorder captures requested backoff delays without sleeping
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// newTestPolicy builds a deterministic retry policy with the given strategy
func newTestPolicy(retries int, strategy config.FailStrategy, rec *sleepRecorder) *RetryPolicy {
	cfg := config.ErrorHandlingConfig{
		RetryCount:    retries,
		RetryDelay:    100 * time.Millisecond,
		MaxRetryDelay: 10 * time.Second,
		FailStrategy:  strategy,
	}
	return NewRetryPolicy(cfg, testLogger(),
		WithJitter(func() float64 { return 1.0 }),
		WithSleep(rec.sleep),
	)
}
