package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/config"
)

func TestRobotsHandler_Allowed(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.Write([]byte("page"))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.Client(), 0, config.FailStrategySkip, &sleepRecorder{})
	rh := NewRobotsHandler(f, testLogger())

	allowed, err := url.Parse(server.URL + "/docs/intro")
	require.NoError(t, err)
	denied, err := url.Parse(server.URL + "/private/secret")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, rh.Allowed(context.Background(), allowed, "test-agent"))
			assert.False(t, rh.Allowed(context.Background(), denied, "test-agent"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load(), "robots.txt fetched once per host")
}

func TestRobotsHandler_MissingRobotsAllowsEverything(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := newTestFetcher(t, server.Client(), 0, config.FailStrategySkip, &sleepRecorder{})
	rh := NewRobotsHandler(f, testLogger())

	u, err := url.Parse(server.URL + "/anything")
	require.NoError(t, err)
	assert.True(t, rh.Allowed(context.Background(), u, "test-agent"))
}
