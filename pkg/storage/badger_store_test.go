package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(context.Background(), t.TempDir(), "example.com", false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func cachedPage(depth int) *models.PageDBEntry {
	now := time.Now()
	return &models.PageDBEntry{
		Status:      models.PageStatusCached,
		Depth:       depth,
		LocalPath:   "docs/index.html",
		ContentHash: "abc123",
		ProcessedAt: now,
		LastAttempt: now,
	}
}

func TestNewBadgerStore(t *testing.T) {
	t.Run("fresh start has zero count", func(t *testing.T) {
		store := newTestStore(t)
		count, err := store.GetVisitedCount()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("resume preserves data", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		store1, err := NewBadgerStore(ctx, dir, "example.com", false, testLogger())
		require.NoError(t, err)
		require.NoError(t, store1.RecordPage("https://example.com/page1", cachedPage(0)))
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(ctx, dir, "example.com", true, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })

		count, err := store2.GetVisitedCount()
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		status, _, err := store2.CheckPageStatus("https://example.com/page1")
		require.NoError(t, err)
		assert.Equal(t, models.PageStatusCached, status)
	})

	t.Run("fresh start wipes data", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		store1, err := NewBadgerStore(ctx, dir, "example.com", false, testLogger())
		require.NoError(t, err)
		require.NoError(t, store1.RecordPage("https://example.com/page1", cachedPage(0)))
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(ctx, dir, "example.com", false, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })

		count, err := store2.GetVisitedCount()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("ledger directory is per site", func(t *testing.T) {
		assert.Equal(t, filepath.Join("state", "docs.example.com_ledger"), LedgerPath("state", "docs.example.com"))
	})
}

func TestPageRecords(t *testing.T) {
	store := newTestStore(t)

	t.Run("not found", func(t *testing.T) {
		status, entry, err := store.CheckPageStatus("https://example.com/missing")
		require.NoError(t, err)
		assert.Equal(t, models.PageStatusNotFound, status)
		assert.Nil(t, entry)
	})

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, store.RecordPage("https://example.com/docs/", cachedPage(2)))

		status, entry, err := store.CheckPageStatus("https://example.com/docs/")
		require.NoError(t, err)
		assert.Equal(t, models.PageStatusCached, status)
		require.NotNil(t, entry)
		assert.Equal(t, 2, entry.Depth)
		assert.Equal(t, "abc123", entry.ContentHash)
		assert.Equal(t, "docs/index.html", entry.LocalPath)
	})

	t.Run("overwrite keeps one key", func(t *testing.T) {
		require.NoError(t, store.RecordPage("https://example.com/docs/", &models.PageDBEntry{
			Status:    models.PageStatusFailed,
			ErrorType: "HTTP_5xx",
		}))
		status, entry, err := store.CheckPageStatus("https://example.com/docs/")
		require.NoError(t, err)
		assert.Equal(t, models.PageStatusFailed, status)
		assert.Equal(t, "HTTP_5xx", entry.ErrorType)

		count, err := store.GetVisitedCount()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestAssetRecords(t *testing.T) {
	store := newTestStore(t)

	status, entry, err := store.CheckAssetStatus("https://example.com/logo.png")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusNotFound, status)
	assert.Nil(t, entry)

	require.NoError(t, store.RecordAsset("https://example.com/logo.png", &models.AssetDBEntry{
		Status:    models.AssetStatusDownloaded,
		LocalPath: "logo.png",
		Bytes:     512,
	}))

	status, entry, err = store.CheckAssetStatus("https://example.com/logo.png")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusDownloaded, status)
	assert.Equal(t, int64(512), entry.Bytes)

	// Page and asset keys live in separate namespaces
	pageStatus, _, err := store.CheckPageStatus("https://example.com/logo.png")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusNotFound, pageStatus)
}

func TestFailedPagesAndListPages(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.RecordPage("https://example.com/ok", cachedPage(0)))
	require.NoError(t, store.RecordPage("https://example.com/bad1", &models.PageDBEntry{Status: models.PageStatusFailed, Depth: 1}))
	require.NoError(t, store.RecordPage("https://example.com/bad2", &models.PageDBEntry{Status: models.PageStatusFailed, Depth: 3}))
	require.NoError(t, store.RecordAsset("https://example.com/a.css", &models.AssetDBEntry{Status: models.AssetStatusFailed}))

	failed, err := store.FailedPages(context.Background())
	require.NoError(t, err)
	sort.Slice(failed, func(i, j int) bool { return failed[i].URL < failed[j].URL })
	assert.Equal(t, []models.CrawlTask{
		{URL: "https://example.com/bad1", Depth: 1},
		{URL: "https://example.com/bad2", Depth: 3},
	}, failed)

	pages, err := store.ListPages(context.Background())
	require.NoError(t, err)
	assert.Len(t, pages, 3)
	assert.Equal(t, models.PageStatusCached, pages["https://example.com/ok"].Status)

	t.Run("cancelled scan", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := store.FailedPages(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWriteVisitedLog(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		store := newTestStore(t)
		outPath := filepath.Join(t.TempDir(), "visited.log")
		require.NoError(t, store.WriteVisitedLog(outPath))

		data, err := os.ReadFile(outPath)
		require.NoError(t, err)
		assert.Empty(t, string(data))
	})

	t.Run("pages and assets written without prefix", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.RecordPage("https://example.com/page1", cachedPage(0)))
		require.NoError(t, store.RecordAsset("https://example.com/img.png", &models.AssetDBEntry{
			Status: models.AssetStatusDownloaded,
		}))

		outPath := filepath.Join(t.TempDir(), "visited.log")
		require.NoError(t, store.WriteVisitedLog(outPath))

		data, err := os.ReadFile(outPath)
		require.NoError(t, err)
		content := string(data)
		assert.Contains(t, content, "https://example.com/page1")
		assert.Contains(t, content, "https://example.com/img.png")
		assert.NotContains(t, content, "page:")
		assert.NotContains(t, content, "asset:")
	})

	t.Run("invalid path returns error", func(t *testing.T) {
		store := newTestStore(t)
		err := store.WriteVisitedLog("/nonexistent/dir/file.log")
		assert.ErrorIs(t, err, utils.ErrFilesystem)
	})
}

func TestRunGC(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		store.RunGC(ctx, 50*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not respect context cancellation")
	}
}

func TestClose(t *testing.T) {
	store, err := NewBadgerStore(context.Background(), t.TempDir(), "example.com", false, testLogger())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close()) // second close should be safe
}

func TestDBUpdateConflictRetry(t *testing.T) {
	t.Run("succeeds after transient conflicts", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			if attempts <= 3 {
				return badger.ErrConflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 4, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			return badger.ErrConflict
		})
		require.ErrorIs(t, err, utils.ErrDatabase)
		assert.Contains(t, err.Error(), "transaction conflict not resolved")
		assert.Equal(t, maxConflictRetries, attempts)
	})

	t.Run("non-conflict error returned immediately", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		sentinel := errors.New("some other error")
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts)
	})
}
