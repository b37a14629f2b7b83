package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/metrics"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Getter performs a paced, retried GET. The caller closes the response body.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// Freshness decides whether a remote resource is newer than its local copy
type Freshness interface {
	ShouldUpdate(ctx context.Context, rawURL, localPath string) bool
}

// DownloadedSet is the part of the crawl state the downloader reads and updates
type DownloadedSet interface {
	IsDownloaded(path string) bool
	AddDownloaded(path string)
}

// Options configures a Downloader
type Options struct {
	SiteKey       string
	NumWorkers    int
	MaxFileBytes  int64 // 0 = unlimited
	ForceDownload bool  // Ignore the downloaded set and the freshness check
}

// Downloader fetches static resources in parallel batches. Each batch gets its own short
// lived worker pool and DownloadBatch returns only once every URL has been handled.
type Downloader struct {
	getter    Getter
	freshness Freshness
	state     DownloadedSet
	ledger    storage.AssetLedger // may be nil
	metrics   *metrics.Recorder
	opts      Options
	log       *logrus.Entry
}

// NewDownloader creates a Downloader. ledger and m may be nil.
func NewDownloader(getter Getter, freshness Freshness, state DownloadedSet, ledger storage.AssetLedger, m *metrics.Recorder, opts Options, log *logrus.Entry) *Downloader {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	return &Downloader{
		getter:    getter,
		freshness: freshness,
		state:     state,
		ledger:    ledger,
		metrics:   m,
		opts:      opts,
		log:       log.WithField("component", "downloader"),
	}
}

type downloadTask struct {
	index int
	url   string
}

// DownloadBatch downloads every URL into outputRoot, mirroring the URL path. Results are
// returned in input order; a failed URL has an empty LocalPath and a non-nil Err and
// never stops the rest of the batch.
func (d *Downloader) DownloadBatch(ctx context.Context, urls []string, outputRoot string) []models.DownloadResult {
	results := make([]models.DownloadResult, len(urls))
	if len(urls) == 0 {
		return results
	}

	numWorkers := min(d.opts.NumWorkers, len(urls))
	taskChan := make(chan downloadTask, numWorkers*2)
	var wg sync.WaitGroup

	d.log.Debugf("Launching %d download workers for %d resource(s)", numWorkers, len(urls))
	for i := 1; i <= numWorkers; i++ {
		go d.worker(ctx, i, taskChan, outputRoot, results, &wg)
	}

dispatch:
	for i, u := range urls {
		wg.Add(1)
		select {
		case taskChan <- downloadTask{index: i, url: u}:
		case <-ctx.Done():
			wg.Done()
			for j := i; j < len(urls); j++ {
				results[j] = models.DownloadResult{URL: urls[j], Status: models.AssetStatusFailed, Err: ctx.Err()}
			}
			break dispatch
		}
	}
	close(taskChan)
	wg.Wait()

	return results
}

func (d *Downloader) worker(ctx context.Context, id int, taskChan <-chan downloadTask, outputRoot string, results []models.DownloadResult, wg *sync.WaitGroup) {
	workerLog := d.log.WithField("download_worker_id", id)
	for task := range taskChan {
		results[task.index] = d.processOne(ctx, task.url, outputRoot, workerLog)
		wg.Done()
	}
}

// processOne handles the dedup, freshness, fetch and write steps for one URL
func (d *Downloader) processOne(ctx context.Context, rawURL, outputRoot string, workerLog *logrus.Entry) (result models.DownloadResult) {
	assetLog := workerLog.WithField("asset_url", rawURL)
	result = models.DownloadResult{URL: rawURL}
	var written int64

	defer func() {
		if r := recover(); r != nil {
			assetLog.WithFields(logrus.Fields{
				"panic_info":  fmt.Sprintf("%v", r),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC Recovered in download worker")
			result = models.DownloadResult{
				URL:    rawURL,
				Status: models.AssetStatusFailed,
				Err:    fmt.Errorf("panic downloading '%s': %v", rawURL, r),
			}
		}
		d.record(result, written, assetLog)
	}()

	u, err := url.Parse(rawURL)
	if err != nil {
		result.Status, result.Err = models.AssetStatusFailed, fmt.Errorf("%w: asset URL '%s': %w", utils.ErrParsing, rawURL, err)
		return result
	}
	relPath, err := parse.LocalAssetPath(u)
	if err != nil {
		result.Status, result.Err = models.AssetStatusSkipped, err
		return result
	}
	fullPath := filepath.Join(outputRoot, filepath.FromSlash(relPath))

	if !d.opts.ForceDownload {
		if d.state.IsDownloaded(fullPath) && fileExists(fullPath) {
			assetLog.Debug("Already downloaded, skipping")
			result.Status, result.LocalPath = models.AssetStatusSkipped, relPath
			return result
		}
		if fileExists(fullPath) && !d.freshness.ShouldUpdate(ctx, rawURL, fullPath) {
			assetLog.Debug("Local copy is up to date")
			d.state.AddDownloaded(fullPath)
			result.Status, result.LocalPath = models.AssetStatusUnchanged, relPath
			return result
		}
	}

	written, err = d.fetchToFile(ctx, rawURL, fullPath)
	if err != nil {
		result.Status, result.Err = models.AssetStatusFailed, err
		return result
	}

	d.state.AddDownloaded(fullPath)
	result.Status, result.LocalPath = models.AssetStatusDownloaded, relPath
	assetLog.Debugf("Saved %d bytes to %s", written, fullPath)
	return result
}

// fetchToFile streams rawURL into a temporary file next to fullPath and renames it into place
func (d *Downloader) fetchToFile(ctx context.Context, rawURL, fullPath string) (int64, error) {
	resp, err := d.getter.Get(ctx, rawURL)
	if err != nil {
		return 0, fmt.Errorf("fetch failed for asset '%s': %w", rawURL, err)
	}
	defer resp.Body.Close()

	maxBytes := d.opts.MaxFileBytes
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("asset '%s' exceeds max size based on header (%d > %d bytes)", rawURL, resp.ContentLength, maxBytes)
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("%w: creating directory '%s': %w", utils.ErrFilesystem, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("%w: creating temp file in '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmpName := tmp.Name()

	var reader io.Reader = resp.Body
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	copied, copyErr := io.Copy(tmp, reader)
	closeErr := tmp.Close()

	switch {
	case copyErr != nil:
		os.Remove(tmpName)
		return 0, fmt.Errorf("%w: copying asset data to '%s' (copied %d bytes): %w", utils.ErrFilesystem, fullPath, copied, copyErr)
	case closeErr != nil:
		os.Remove(tmpName)
		return 0, fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, tmpName, closeErr)
	case maxBytes > 0 && copied > maxBytes:
		os.Remove(tmpName)
		return 0, fmt.Errorf("asset '%s' exceeds max size (%d bytes)", rawURL, maxBytes)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("%w: moving asset into '%s': %w", utils.ErrFilesystem, fullPath, err)
	}
	return copied, nil
}

// record writes the outcome to the ledger and metrics
func (d *Downloader) record(result models.DownloadResult, written int64, assetLog *logrus.Entry) {
	d.metrics.AssetProcessed(d.opts.SiteKey, result.Status.String())

	entry := &models.AssetDBEntry{
		Status:      result.Status,
		LocalPath:   result.LocalPath,
		Bytes:       written,
		LastAttempt: time.Now(),
	}
	if result.Err != nil {
		entry.ErrorType = utils.CategorizeError(result.Err)
		if result.Status == models.AssetStatusFailed && !errors.Is(result.Err, context.Canceled) {
			assetLog.WithField("error_type", entry.ErrorType).Warnf("Asset download failed: %v", result.Err)
		}
	}

	if d.ledger == nil {
		return
	}
	if err := d.ledger.RecordAsset(result.URL, entry); err != nil {
		assetLog.Errorf("Failed to record asset status '%s': %v", entry.Status, err)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
