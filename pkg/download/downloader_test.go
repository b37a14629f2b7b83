package download

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/fetch"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/state"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

type testEnv struct {
	server  *httptest.Server
	hits    map[string]*atomic.Int32
	state   *state.Store
	outDir  string
	lastMod time.Time
	getter  *fetch.Fetcher
	oracle  *fetch.FreshnessOracle
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		hits:    map[string]*atomic.Int32{},
		outDir:  t.TempDir(),
		lastMod: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, p := range []string{"/static/app.css", "/static/img/logo.png", "/flaky.js", "/big.bin", "/gone.png"} {
		env.hits[p] = &atomic.Int32{}
	}

	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := env.hits[r.URL.Path]; ok && r.Method == http.MethodGet {
			c.Add(1)
		}
		w.Header().Set("Last-Modified", env.lastMod.Format(http.TimeFormat))
		switch r.URL.Path {
		case "/static/app.css":
			w.Write([]byte("body{}"))
		case "/static/img/logo.png":
			w.Write([]byte("PNGDATA"))
		case "/big.bin":
			w.Write(make([]byte, 4096))
		case "/flaky.js":
			if env.hits["/flaky.js"].Load() <= 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("console.log(1)"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(env.server.Close)

	policy := fetch.NewRetryPolicy(config.ErrorHandlingConfig{
		RetryCount:   2,
		RetryDelay:   time.Millisecond,
		FailStrategy: config.FailStrategyLog,
	}, testLogger())
	governor := fetch.NewGovernor(config.DelayConfig{}, testLogger())
	env.getter = fetch.NewFetcher(env.server.Client(), policy, governor, "test-agent", 0, testLogger())
	env.oracle = fetch.NewFreshnessOracle(env.server.Client(), governor, "test-agent", testLogger())
	env.state = state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	return env
}

func (env *testEnv) downloader(opts Options, ledger storage.AssetLedger) *Downloader {
	if opts.NumWorkers == 0 {
		opts.NumWorkers = 3
	}
	return NewDownloader(env.getter, env.oracle, env.state, ledger, nil, opts, testLogger())
}

func TestDownloadBatch_WritesMirroredPaths(t *testing.T) {
	env := newTestEnv(t)
	d := env.downloader(Options{SiteKey: "test"}, nil)

	urls := []string{
		env.server.URL + "/static/app.css",
		env.server.URL + "/static/img/logo.png",
		env.server.URL + "/flaky.js",
	}
	results := d.DownloadBatch(context.Background(), urls, env.outDir)

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, urls[i], r.URL, "results keep input order")
		assert.NoError(t, r.Err)
		assert.Equal(t, models.AssetStatusDownloaded, r.Status)
	}
	assert.Equal(t, "static/app.css", results[0].LocalPath)
	assert.Equal(t, "static/img/logo.png", results[1].LocalPath)

	data, err := os.ReadFile(filepath.Join(env.outDir, "static", "img", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	assert.True(t, env.state.IsDownloaded(filepath.Join(env.outDir, "static", "app.css")))
	assert.Equal(t, int32(2), env.hits["/flaky.js"].Load(), "503 is retried once")
}

func TestDownloadBatch_FailureDoesNotAbortBatch(t *testing.T) {
	env := newTestEnv(t)
	d := env.downloader(Options{}, nil)

	results := d.DownloadBatch(context.Background(), []string{
		env.server.URL + "/gone.png",
		env.server.URL + "/static/app.css",
	}, env.outDir)

	assert.Equal(t, models.AssetStatusFailed, results[0].Status)
	assert.Empty(t, results[0].LocalPath)
	assert.Equal(t, 404, utils.StatusCodeOf(results[0].Err))

	assert.Equal(t, models.AssetStatusDownloaded, results[1].Status)
	assert.NoError(t, results[1].Err)
}

func TestDownloadBatch_NoBasenameSkipped(t *testing.T) {
	env := newTestEnv(t)
	d := env.downloader(Options{}, nil)

	results := d.DownloadBatch(context.Background(), []string{env.server.URL + "/static/"}, env.outDir)
	assert.Equal(t, models.AssetStatusSkipped, results[0].Status)
	assert.ErrorIs(t, results[0].Err, utils.ErrNoBasename)
	assert.Empty(t, results[0].LocalPath)
}

func TestDownloadBatch_SkipsAlreadyDownloaded(t *testing.T) {
	env := newTestEnv(t)
	d := env.downloader(Options{}, nil)
	u := env.server.URL + "/static/app.css"

	first := d.DownloadBatch(context.Background(), []string{u}, env.outDir)
	require.Equal(t, models.AssetStatusDownloaded, first[0].Status)

	second := d.DownloadBatch(context.Background(), []string{u}, env.outDir)
	assert.Equal(t, models.AssetStatusSkipped, second[0].Status)
	assert.Equal(t, "static/app.css", second[0].LocalPath)
	assert.Equal(t, int32(1), env.hits["/static/app.css"].Load())
}

func TestDownloadBatch_FreshLocalCopyUnchanged(t *testing.T) {
	env := newTestEnv(t)
	d := env.downloader(Options{}, nil)

	// Local copy newer than the remote Last-Modified, but not in the downloaded set
	local := filepath.Join(env.outDir, "static", "app.css")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0755))
	require.NoError(t, os.WriteFile(local, []byte("old"), 0644))
	newer := env.lastMod.Add(time.Hour)
	require.NoError(t, os.Chtimes(local, newer, newer))

	results := d.DownloadBatch(context.Background(), []string{env.server.URL + "/static/app.css"}, env.outDir)
	assert.Equal(t, models.AssetStatusUnchanged, results[0].Status)
	assert.Equal(t, int32(0), env.hits["/static/app.css"].Load())
}

func TestDownloadBatch_StaleLocalCopyRefreshed(t *testing.T) {
	env := newTestEnv(t)
	d := env.downloader(Options{}, nil)

	local := filepath.Join(env.outDir, "static", "app.css")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0755))
	require.NoError(t, os.WriteFile(local, []byte("old"), 0644))
	older := env.lastMod.Add(-time.Hour)
	require.NoError(t, os.Chtimes(local, older, older))

	results := d.DownloadBatch(context.Background(), []string{env.server.URL + "/static/app.css"}, env.outDir)
	assert.Equal(t, models.AssetStatusDownloaded, results[0].Status)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(data))
}

func TestDownloadBatch_ForceDownload(t *testing.T) {
	env := newTestEnv(t)
	u := env.server.URL + "/static/app.css"

	env.downloader(Options{}, nil).DownloadBatch(context.Background(), []string{u}, env.outDir)
	results := env.downloader(Options{ForceDownload: true}, nil).DownloadBatch(context.Background(), []string{u}, env.outDir)

	assert.Equal(t, models.AssetStatusDownloaded, results[0].Status)
	assert.Equal(t, int32(2), env.hits["/static/app.css"].Load())
}

func TestDownloadBatch_MaxFileSize(t *testing.T) {
	env := newTestEnv(t)
	d := env.downloader(Options{MaxFileBytes: 1024}, nil)

	results := d.DownloadBatch(context.Background(), []string{env.server.URL + "/big.bin"}, env.outDir)
	assert.Equal(t, models.AssetStatusFailed, results[0].Status)
	assert.Contains(t, results[0].Err.Error(), "exceeds max size")

	_, err := os.Stat(filepath.Join(env.outDir, "big.bin"))
	assert.True(t, os.IsNotExist(err))
	leftovers, _ := filepath.Glob(filepath.Join(env.outDir, ".big.bin.*.part"))
	assert.Empty(t, leftovers)
}

func TestDownloadBatch_RecordsLedger(t *testing.T) {
	env := newTestEnv(t)
	ledger, err := storage.NewBadgerStore(context.Background(), t.TempDir(), "example.com", false, testLogger())
	require.NoError(t, err)
	defer ledger.Close()

	d := env.downloader(Options{}, ledger)
	d.DownloadBatch(context.Background(), []string{
		env.server.URL + "/static/app.css",
		env.server.URL + "/gone.png",
	}, env.outDir)

	status, entry, err := ledger.CheckAssetStatus(env.server.URL + "/static/app.css")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusDownloaded, status)
	assert.Equal(t, int64(len("body{}")), entry.Bytes)

	status, entry, err = ledger.CheckAssetStatus(env.server.URL + "/gone.png")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusFailed, status)
	assert.Equal(t, "HTTP_404", entry.ErrorType)
}

func TestDownloadBatch_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	d := env.downloader(Options{NumWorkers: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.DownloadBatch(ctx, []string{
		env.server.URL + "/static/app.css",
		env.server.URL + "/static/img/logo.png",
	}, env.outDir)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, models.AssetStatusFailed, r.Status)
		assert.Error(t, r.Err)
	}
}
