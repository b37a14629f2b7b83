package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/log"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

const (
	pageKeyPrefix  = "page:"  // Prefix for page URL keys in DB
	assetKeyPrefix = "asset:" // Prefix for static resource URL keys in DB
	ledgerDBDir    = "ledger" // Suffix of the per-site Badger directory within stateDir
)

// BadgerStore implements the Ledger interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	ctx      context.Context // Parent context
	keyCount atomic.Int64    // Cached key count for O(1) GetVisitedCount
}

// LedgerPath returns the Badger directory used for a site
func LedgerPath(stateDir, siteKey string) string {
	return filepath.Join(stateDir, utils.SanitizeFilename(siteKey)+"_"+ledgerDBDir)
}

// NewBadgerStore opens the ledger for a site. Without resume the existing ledger is
// removed first so the run starts from an empty record.
func NewBadgerStore(ctx context.Context, stateDir, siteKey string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger,
		ctx: ctx,
	}

	dbPath := LedgerPath(stateDir, siteKey)

	if !resume {
		logger.Warnf("Resume disabled. REMOVING existing ledger directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			// Badger may still recover or create new files
			logger.Errorf("Failed to remove existing ledger directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Initializing ledger database at: %s (Resume: %v)", dbPath, resume)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create ledger directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	if resume {
		count, err := store.countKeys()
		if err != nil {
			logger.Warnf("Failed to count existing ledger keys on resume: %v", err)
		} else {
			store.keyCount.Store(int64(count))
			logger.Infof("Loaded existing ledger key count on resume: %d", count)
		}
	}

	logger.Info("Ledger database initialized successfully.")
	return store, nil
}

// countKeys performs a one-time full key scan (used only during initialization on resume).
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicts on overlapping keys resolve in microseconds, so a tight loop is enough.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// put marshals value and stores it under key, counting newly created keys
func (s *BadgerStore) put(key []byte, value interface{}) error {
	if s.db == nil {
		return fmt.Errorf("%w: ledger not initialized", utils.ErrDatabase)
	}

	valBytes, errJson := json.Marshal(value)
	if errJson != nil {
		return fmt.Errorf("%w: failed to marshal ledger entry for key '%s': %w", utils.ErrParsing, string(key), errJson)
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, valBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error: %v", err)
		return fmt.Errorf("%w: failed setting key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// get loads the JSON value stored under key into dst. found is false for a missing key.
func (s *BadgerStore) get(key []byte, dst interface{}) (found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return nil
			}
			if errJson := json.Unmarshal(val, dst); errJson != nil {
				s.log.Warnf("Failed to unmarshal ledger entry for key '%s': %v. Treating as 'not_found'.", string(key), errJson)
				return nil
			}
			found = true
			return nil
		})
	})
	return found, err
}

// RecordPage implements the PageLedger interface
func (s *BadgerStore) RecordPage(normalizedPageURL string, entry *models.PageDBEntry) error {
	if err := s.put([]byte(pageKeyPrefix+normalizedPageURL), entry); err != nil {
		return err
	}
	s.log.Debugf("Recorded page '%s' as '%s'", normalizedPageURL, entry.Status)
	return nil
}

// CheckPageStatus implements the PageLedger interface
func (s *BadgerStore) CheckPageStatus(normalizedPageURL string) (models.PageStatus, *models.PageDBEntry, error) {
	var entry models.PageDBEntry
	found, err := s.get([]byte(pageKeyPrefix+normalizedPageURL), &entry)
	if err != nil {
		s.log.Errorf("DB View error in CheckPageStatus for '%s': %v", normalizedPageURL, err)
		return models.PageStatusDBError, nil, err
	}
	if !found {
		return models.PageStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// RecordAsset implements the AssetLedger interface
func (s *BadgerStore) RecordAsset(normalizedAssetURL string, entry *models.AssetDBEntry) error {
	return s.put([]byte(assetKeyPrefix+normalizedAssetURL), entry)
}

// CheckAssetStatus implements the AssetLedger interface
func (s *BadgerStore) CheckAssetStatus(normalizedAssetURL string) (models.AssetStatus, *models.AssetDBEntry, error) {
	var entry models.AssetDBEntry
	found, err := s.get([]byte(assetKeyPrefix+normalizedAssetURL), &entry)
	if err != nil {
		s.log.Errorf("DB View error in CheckAssetStatus for '%s': %v", normalizedAssetURL, err)
		return models.AssetStatusDBError, nil, err
	}
	if !found {
		return models.AssetStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// scanPages iterates all page records, stopping early if ctx is cancelled
func (s *BadgerStore) scanPages(ctx context.Context, fn func(url string, entry models.PageDBEntry)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(pageKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			url := string(item.KeyCopy(nil)[len(prefix):])
			err := item.Value(func(val []byte) error {
				var entry models.PageDBEntry
				if errJson := json.Unmarshal(val, &entry); errJson != nil {
					s.log.Errorf("Ledger scan: failed unmarshal PageDBEntry for '%s': %v. Skipping.", url, errJson)
					return nil
				}
				fn(url, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// FailedPages implements the PageLedger interface
func (s *BadgerStore) FailedPages(ctx context.Context) ([]models.CrawlTask, error) {
	var tasks []models.CrawlTask
	err := s.scanPages(ctx, func(url string, entry models.PageDBEntry) {
		if entry.Status == models.PageStatusFailed {
			tasks = append(tasks, models.CrawlTask{URL: url, Depth: entry.Depth})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning failed pages: %w", utils.ErrDatabase, err)
	}
	s.log.Infof("Ledger scan found %d failed page(s)", len(tasks))
	return tasks, nil
}

// ListPages implements the PageLedger interface
func (s *BadgerStore) ListPages(ctx context.Context) (map[string]models.PageDBEntry, error) {
	pages := make(map[string]models.PageDBEntry)
	err := s.scanPages(ctx, func(url string, entry models.PageDBEntry) {
		pages[url] = entry
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing pages: %w", utils.ErrDatabase, err)
	}
	return pages, nil
}

// GetVisitedCount implements the LedgerAdmin interface.
// Returns the cached key count maintained by atomic increments on writes.
func (s *BadgerStore) GetVisitedCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
				s.log.Debug("BadgerDB GC cycle completed.")
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// WriteVisitedLog implements the LedgerAdmin interface
func (s *BadgerStore) WriteVisitedLog(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		s.log.Errorf("Failed create visited log '%s': %v", filePath, err)
		return fmt.Errorf("%w: create visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	var writeErr error
	writtenCount := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		pagePrefixBytes := []byte(pageKeyPrefix)
		assetPrefixBytes := []byte(assetKeyPrefix)

		for it.Rewind(); it.Valid(); it.Next() {
			if err := s.ctx.Err(); err != nil {
				s.log.Warnf("WriteVisitedLog scan interrupted by context cancellation: %v", err)
				return err
			}

			key := it.Item().KeyCopy(nil)
			var keyToWrite string
			switch {
			case bytes.HasPrefix(key, pagePrefixBytes):
				keyToWrite = string(key[len(pagePrefixBytes):])
			case bytes.HasPrefix(key, assetPrefixBytes):
				keyToWrite = string(key[len(assetPrefixBytes):])
			default:
				s.log.Warnf("Skipping unexpected key in ledger: %s", string(key))
				continue
			}

			if _, err := writer.WriteString(keyToWrite + "\n"); err != nil && writeErr == nil {
				writeErr = err
			}
			writtenCount++
		}
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && writeErr == nil {
		writeErr = flushErr
	}
	if syncErr := file.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}

	if iterErr != nil {
		return iterErr
	}
	if writeErr != nil {
		s.log.Warnf("Finished writing visited log with errors. Wrote ~%d URLs to %s", writtenCount, filePath)
		return fmt.Errorf("%w: write visited log: %w", utils.ErrFilesystem, writeErr)
	}
	s.log.Infof("Finished writing %d URLs to visited log: %s", writtenCount, filePath)
	return nil
}

// Close implements the LedgerAdmin interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Debug("Closing ledger DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing ledger DB: %v", err)
			return err
		}
		return nil
	}
	return nil
}
