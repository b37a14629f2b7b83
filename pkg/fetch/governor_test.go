package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/config"
)

func TestGovernor_FirstWaitDoesNotBlock(t *testing.T) {
	g := NewGovernor(config.DelayConfig{Delay: time.Hour}, testLogger())

	start := time.Now()
	require.NoError(t, g.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGovernor_SpacesConsecutiveRequests(t *testing.T) {
	delay := 50 * time.Millisecond
	g := NewGovernor(config.DelayConfig{Delay: delay}, testLogger())

	var mu sync.Mutex
	var releases []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Wait(context.Background()))
			mu.Lock()
			releases = append(releases, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, releases, 4)
	first, last := releases[0], releases[0]
	for _, r := range releases {
		if r.Before(first) {
			first = r
		}
		if r.After(last) {
			last = r
		}
	}
	// Four releases are separated by at least three delays
	assert.GreaterOrEqual(t, last.Sub(first), 3*delay-5*time.Millisecond)
}

func TestGovernor_RandomFactorApplied(t *testing.T) {
	g := NewGovernor(config.DelayConfig{Delay: 40 * time.Millisecond, RandomDelay: true}, testLogger())
	g.factor = func() float64 { return 1.5 }

	require.NoError(t, g.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, g.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestGovernor_ZeroDelayNeverBlocks(t *testing.T) {
	g := NewGovernor(config.DelayConfig{}, testLogger())
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGovernor_ContextCancelledWhileWaiting(t *testing.T) {
	g := NewGovernor(config.DelayConfig{Delay: time.Hour}, testLogger())
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGovernor_TokenBucket(t *testing.T) {
	g := NewGovernor(config.DelayConfig{RequestsPerSecond: 20, Burst: 1}, testLogger())
	require.NotNil(t, g.limiter)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	// Burst of one: the 2nd and 3rd tokens arrive 50ms apart
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
