package models

import "time"

// CrawlTask is one frontier entry: a normalized URL and the depth it was discovered at
type CrawlTask struct {
	URL   string
	Depth int
}

// FetchedPage is the uniform output of the content fetcher, whichever strategy produced it
type FetchedPage struct {
	URL         string // URL that was requested
	FinalURL    string // URL after redirects (equal to URL for rendered pages)
	Body        []byte
	ContentType string
	StatusCode  int
	Rendered    bool // True when the headless renderer produced the body
}

// PageDBEntry stores the outcome of processing a page URL in the ledger
type PageDBEntry struct {
	Status      PageStatus `json:"status"`
	ErrorType   string     `json:"error_type,omitempty"`   // Error category (on failure/skip)
	Depth       int        `json:"depth"`                  // Depth at which the page was first dequeued
	LocalPath   string     `json:"local_path,omitempty"`   // Relative to the site output dir
	ContentHash string     `json:"content_hash,omitempty"` // SHA-256 of the fetched body
	ProcessedAt time.Time  `json:"processed_at,omitempty"` // Set when the page was cached
	LastAttempt time.Time  `json:"last_attempt"`
}

// AssetDBEntry stores the outcome of downloading a static resource in the ledger
type AssetDBEntry struct {
	Status      AssetStatus `json:"status"`
	LocalPath   string      `json:"local_path,omitempty"` // Relative to the site output dir
	Bytes       int64       `json:"bytes,omitempty"`
	ErrorType   string      `json:"error_type,omitempty"`
	LastAttempt time.Time   `json:"last_attempt"`
}

// DownloadResult is the per-URL outcome of a downloader batch.
// LocalPath is empty when nothing usable exists on disk for the URL.
type DownloadResult struct {
	URL       string
	LocalPath string
	Status    AssetStatus
	Err       error
}

// CrawlStats summarizes one crawl run
type CrawlStats struct {
	Visited          int `yaml:"visited" json:"visited"`
	Cached           int `yaml:"cached" json:"cached"`
	Unchanged        int `yaml:"unchanged" json:"unchanged"`
	Skipped          int `yaml:"skipped" json:"skipped"`
	Failed           int `yaml:"failed" json:"failed"`
	AssetsDownloaded int `yaml:"assets_downloaded" json:"assets_downloaded"`
	AssetsUnchanged  int `yaml:"assets_unchanged" json:"assets_unchanged"`
	AssetsSkipped    int `yaml:"assets_skipped" json:"assets_skipped"`
	AssetsFailed     int `yaml:"assets_failed" json:"assets_failed"`
}

// CrawlResult is what the orchestrator hands to save/export collaborators at crawl end.
// Pages, Depths and StaticResources are keyed by normalized URL.
type CrawlResult struct {
	SiteKey         string
	TargetURL       string
	OutputDir       string
	Pages           map[string][]byte
	Depths          map[string]int
	StaticResources map[string]struct{}
	Visited         []string
	Stats           CrawlStats
	StartTime       time.Time
	EndTime         time.Time
	Cancelled       bool
}

// SavedFile records one file written by a save collaborator
type SavedFile struct {
	URL       string `json:"url" yaml:"url"`
	LocalPath string `json:"local_path" yaml:"local_path"`
}

// CrawlMetadata is the per-run manifest written next to the mirror.
type CrawlMetadata struct {
	RunID          string         `yaml:"run_id"`
	SiteKey        string         `yaml:"site_key"`
	TargetURL      string         `yaml:"target_url"`
	CrawlStartTime time.Time      `yaml:"crawl_start_time"`
	CrawlEndTime   time.Time      `yaml:"crawl_end_time"`
	Cancelled      bool           `yaml:"cancelled,omitempty"`
	Stats          CrawlStats     `yaml:"stats"`
	SavedFiles     int            `yaml:"saved_files"`
	Pages          []PageMetadata `yaml:"pages"`
}

// PageMetadata holds manifest data for a single cached page.
type PageMetadata struct {
	URL           string `yaml:"url"`
	LocalFilePath string `yaml:"local_file_path"` // Relative to the site output dir
	Depth         int    `yaml:"depth"`
	ContentHash   string `yaml:"content_hash,omitempty"`
	Bytes         int    `yaml:"bytes"`
}
