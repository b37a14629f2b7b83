package fetch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/metrics"
	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// ContentFetcher returns a page's HTML, rendering it in the headless browser when a
// renderer is configured and falling back to a direct fetch if rendering fails.
type ContentFetcher struct {
	direct   *Fetcher
	renderer Renderer // nil = direct only
	governor *Governor
	metrics  *metrics.Recorder
	log      *logrus.Entry
}

// NewContentFetcher creates a ContentFetcher. renderer may be nil.
func NewContentFetcher(direct *Fetcher, renderer Renderer, governor *Governor, m *metrics.Recorder, log *logrus.Entry) *ContentFetcher {
	return &ContentFetcher{
		direct:   direct,
		renderer: renderer,
		governor: governor,
		metrics:  m,
		log:      log.WithField("component", "content_fetcher"),
	}
}

// Fetch returns the page at rawURL. Context cancellation is returned unchanged; any
// other render failure falls through to the direct fetcher.
func (c *ContentFetcher) Fetch(ctx context.Context, rawURL string) (*models.FetchedPage, error) {
	if c.renderer != nil {
		page, err := c.render(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.WithField("url", rawURL).Warnf("Rendering failed, falling back to direct fetch: %v", err)
	}

	start := time.Now()
	page, err := c.direct.FetchPage(ctx, rawURL)
	c.metrics.ObserveFetch("direct", outcome(err), time.Since(start))
	return page, err
}

func (c *ContentFetcher) render(ctx context.Context, rawURL string) (*models.FetchedPage, error) {
	start := time.Now()
	if c.governor != nil {
		if err := c.governor.Wait(ctx); err != nil {
			return nil, err
		}
	}
	html, err := c.renderer.Render(ctx, rawURL)
	c.metrics.ObserveFetch("render", outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return &models.FetchedPage{
		URL:         rawURL,
		FinalURL:    rawURL,
		Body:        []byte(html),
		ContentType: "text/html; charset=utf-8",
		StatusCode:  200,
		Rendered:    true,
	}, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
