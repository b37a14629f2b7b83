package mirror

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Name is the name the HTML mirror plugin registers under
const Name = "mirror"

// Plugin writes the cached pages of a crawl into the site output directory with their
// links rewritten for offline browsing
type Plugin struct {
	workers int
	log     *logrus.Entry
}

// New creates the mirror plugin. workers bounds concurrent page writes (minimum 1).
func New(workers int, log *logrus.Entry) *Plugin {
	return &Plugin{workers: max(workers, 1), log: log.WithField("plugin", Name)}
}

func (p *Plugin) Name() string { return Name }

// SaveSite writes every page of result. A page that cannot be rewritten is written as
// fetched; a page that cannot be written is logged and left out of the returned list.
// An error is returned only if pages existed and none could be written.
func (p *Plugin) SaveSite(ctx context.Context, result *models.CrawlResult) ([]models.SavedFile, error) {
	if len(result.Pages) == 0 {
		p.log.Info("No pages to save")
		return nil, nil
	}
	rewriter, err := NewRewriter(result, p.log)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(result.Pages))
	for u := range result.Pages {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var (
		mu     sync.Mutex
		saved  = make([]models.SavedFile, 0, len(urls))
		failed int
		totals RewriteStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, pageURL := range urls {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			file, stats, err := p.savePage(rewriter, result.OutputDir, pageURL, result.Pages[pageURL])

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				p.log.WithField("url", pageURL).Errorf("Failed to save page: %v", err)
				return nil
			}
			saved = append(saved, file)
			totals.Relative += stats.Relative
			totals.Absolute += stats.Absolute
			totals.Untouched += stats.Untouched
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(saved, func(i, j int) bool { return saved[i].URL < saved[j].URL })
	p.log.WithFields(logrus.Fields{
		"relative_links": totals.Relative,
		"absolute_links": totals.Absolute,
		"untouched":      totals.Untouched,
	}).Infof("Saved %d page(s) to %s (%d failed)", len(saved), result.OutputDir, failed)

	if len(saved) == 0 {
		return nil, fmt.Errorf("%w: none of %d page(s) could be written", utils.ErrFilesystem, len(urls))
	}
	return saved, nil
}

func (p *Plugin) savePage(rewriter *Rewriter, outputDir, pageURL string, body []byte) (models.SavedFile, RewriteStats, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return models.SavedFile{}, RewriteStats{}, fmt.Errorf("%w: %w", utils.ErrParsing, err)
	}
	local := parse.LocalPagePath(parsed)

	content, stats, err := rewriter.Rewrite(pageURL, body)
	if err != nil {
		p.log.WithField("url", pageURL).Warnf("Link rewriting failed, saving page as fetched: %v", err)
		content = body
	}

	fullPath := filepath.Join(outputDir, filepath.FromSlash(local))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return models.SavedFile{}, stats, fmt.Errorf("%w: creating directory for '%s': %w", utils.ErrFilesystem, fullPath, err)
	}
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		return models.SavedFile{}, stats, fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, fullPath, err)
	}
	return models.SavedFile{URL: pageURL, LocalPath: local}, stats, nil
}
