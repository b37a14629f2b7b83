package plugin

import (
	"context"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// Plugin is the only method every plugin must implement. All lifecycle hooks below are
// optional; the Manager type-asserts for them and treats a missing hook as a no-op.
type Plugin interface {
	Name() string
}

// CrawlInfo describes the run a plugin is attached to
type CrawlInfo struct {
	SiteKey   string
	TargetURL string
	OutputDir string // Site mirror root (<output_base_dir>/<host>)
	MaxDepth  int
	MaxFiles  int
}

// SaveMetadata is handed to SaveStartHook before any SiteSaver runs
type SaveMetadata struct {
	RunID     string
	SiteKey   string
	TargetURL string
	OutputDir string
	Pages     int
	Assets    int
}

// Initializer is called once when the plugin is enabled. An error disables the plugin.
type Initializer interface {
	Init(ctx context.Context) error
}

type CrawlStartHook interface {
	OnCrawlStart(ctx context.Context, info CrawlInfo)
}

// PageCrawledHook sees every successfully fetched page, whether or not it is cached.
// It is called concurrently from crawl workers.
type PageCrawledHook interface {
	OnPageCrawled(ctx context.Context, pageURL string, body []byte)
}

type CrawlEndHook interface {
	OnCrawlEnd(ctx context.Context, result *models.CrawlResult)
}

type SaveStartHook interface {
	OnSaveStart(ctx context.Context, meta SaveMetadata)
}

// SiteSaver writes the crawl result somewhere and reports the files it produced
type SiteSaver interface {
	SaveSite(ctx context.Context, result *models.CrawlResult) ([]models.SavedFile, error)
}

type SaveEndHook interface {
	OnSaveEnd(ctx context.Context, saved []models.SavedFile)
}

// Cleaner releases plugin resources at the end of a run
type Cleaner interface {
	Cleanup() error
}
