package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

func TestRetryPolicy_SuccessFirstAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	p := newTestPolicy(3, config.FailStrategyRaise, rec)

	calls := 0
	err := p.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.recorded())
}

func TestRetryPolicy_BackoffDelays(t *testing.T) {
	rec := &sleepRecorder{}
	p := newTestPolicy(3, config.FailStrategyRaise, rec)

	calls := 0
	err := p.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return utils.NewHTTPStatusError(http.StatusServiceUnavailable, "http://example.com")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrRetryFailed)
	assert.Equal(t, http.StatusServiceUnavailable, utils.StatusCodeOf(err))
	assert.Equal(t, 4, calls, "one initial attempt plus three retries")
	assert.Equal(t, []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, rec.recorded())
}

func TestRetryPolicy_DelayCappedAtMax(t *testing.T) {
	cfg := config.ErrorHandlingConfig{
		RetryCount:    6,
		RetryDelay:    time.Second,
		MaxRetryDelay: 5 * time.Second,
		FailStrategy:  config.FailStrategyRaise,
	}
	p := NewRetryPolicy(cfg, testLogger())

	assert.Equal(t, 2*time.Second, p.BackoffDelay(1))
	assert.Equal(t, 4*time.Second, p.BackoffDelay(2))
	assert.Equal(t, 5*time.Second, p.BackoffDelay(3))
	assert.Equal(t, 5*time.Second, p.BackoffDelay(6))
}

func TestRetryPolicy_ConstantDelayWithoutExponential(t *testing.T) {
	off := false
	cfg := config.ErrorHandlingConfig{
		RetryCount:         2,
		RetryDelay:         300 * time.Millisecond,
		ExponentialBackoff: &off,
		FailStrategy:       config.FailStrategyRaise,
	}
	p := NewRetryPolicy(cfg, testLogger())
	assert.Equal(t, 300*time.Millisecond, p.BackoffDelay(1))
	assert.Equal(t, 300*time.Millisecond, p.BackoffDelay(2))
}

func TestRetryPolicy_JitterStaysInRange(t *testing.T) {
	cfg := config.ErrorHandlingConfig{RetryCount: 1, RetryDelay: time.Second, MaxRetryDelay: time.Minute}
	p := NewRetryPolicy(cfg, testLogger())
	for i := 0; i < 100; i++ {
		j := p.jitter()
		assert.GreaterOrEqual(t, j, 0.5)
		assert.Less(t, j, 1.5)
	}
}

func TestRetryPolicy_RecoversAfterTransientFailures(t *testing.T) {
	rec := &sleepRecorder{}
	p := newTestPolicy(3, config.FailStrategyRaise, rec)

	calls := 0
	err := p.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, rec.recorded(), 2)
}

func TestRetryPolicy_NonRetryableFailsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	p := newTestPolicy(3, config.FailStrategyRaise, rec)

	calls := 0
	err := p.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return utils.NewHTTPStatusError(http.StatusNotFound, "http://example.com/missing")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrClientHTTPError)
	assert.NotErrorIs(t, err, utils.ErrRetryFailed)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.recorded())
}

func TestRetryPolicy_FailStrategies(t *testing.T) {
	tests := []struct {
		name         string
		strategy     config.FailStrategy
		wantNoResult bool
	}{
		{"log returns no result", config.FailStrategyLog, true},
		{"skip returns no result", config.FailStrategySkip, true},
		{"raise propagates", config.FailStrategyRaise, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &sleepRecorder{}
			p := newTestPolicy(1, tt.strategy, rec)

			err := p.Execute(context.Background(), "op", func(ctx context.Context) error {
				return utils.NewHTTPStatusError(http.StatusBadGateway, "http://example.com")
			})

			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrRetryFailed)
			assert.Equal(t, tt.wantNoResult, errors.Is(err, utils.ErrNoResult))
		})
	}
}

func TestRetryPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewRetryPolicy(config.ErrorHandlingConfig{
		RetryCount:   5,
		RetryDelay:   time.Hour,
		FailStrategy: config.FailStrategyLog,
	}, testLogger())

	calls := 0
	err := p.Execute(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("i/o timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, utils.ErrNoResult)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_IsRetryable(t *testing.T) {
	p := NewRetryPolicy(config.ErrorHandlingConfig{
		RetryableStatusCodes: []int{429, 503},
	}, testLogger())

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"configured status", utils.NewHTTPStatusError(503, "u"), true},
		{"429", utils.NewHTTPStatusError(429, "u"), true},
		{"unconfigured 5xx", utils.NewHTTPStatusError(500, "u"), false},
		{"404", utils.NewHTTPStatusError(404, "u"), false},
		{"wrapped status", fmt.Errorf("fetch: %w", utils.NewHTTPStatusError(429, "u")), true},
		{"timeout message", errors.New("Client.Timeout exceeded while awaiting headers"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"dns", errors.New("dial tcp: lookup nowhere.invalid: no such host"), true},
		{"unreachable", errors.New("connect: network is unreachable"), true},
		{"plain error", errors.New("malformed HTML"), false},
		{"cancelled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsRetryable(tt.err))
		})
	}
}
