package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// PageLedger records the terminal state of every page task
type PageLedger interface {
	// RecordPage stores the outcome of processing a page URL, replacing any earlier record
	RecordPage(normalizedPageURL string, entry *models.PageDBEntry) error

	// CheckPageStatus retrieves the recorded outcome of a page URL.
	// Returns PageStatusNotFound with a nil entry if the URL was never recorded.
	CheckPageStatus(normalizedPageURL string) (status models.PageStatus, entry *models.PageDBEntry, err error)

	// FailedPages returns every page recorded as failed, with the depth it was attempted at
	FailedPages(ctx context.Context) ([]models.CrawlTask, error)

	// ListPages returns all page records keyed by URL
	ListPages(ctx context.Context) (map[string]models.PageDBEntry, error)
}

// AssetLedger records static resource downloads
type AssetLedger interface {
	RecordAsset(normalizedAssetURL string, entry *models.AssetDBEntry) error
	CheckAssetStatus(normalizedAssetURL string) (status models.AssetStatus, entry *models.AssetDBEntry, err error)
}

// LedgerAdmin handles lifecycle and administrative operations
type LedgerAdmin interface {
	// GetVisitedCount returns the number of page and asset records
	GetVisitedCount() (int, error)

	// WriteVisitedLog writes all recorded page and asset URLs to the specified file path
	WriteVisitedLog(filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// Ledger combines all ledger interfaces for components that need full access
type Ledger interface {
	PageLedger
	AssetLedger
	LedgerAdmin
}
