package plugin

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// PageCounterName is the name the page counter registers under
const PageCounterName = "page-counter"

// PageCounter logs crawl progress every N fetched pages
type PageCounter struct {
	every int64
	count atomic.Int64
	log   *logrus.Entry
}

// NewPageCounter creates a PageCounter that logs every `every` pages (minimum 1)
func NewPageCounter(every int, log *logrus.Entry) *PageCounter {
	if every < 1 {
		every = 1
	}
	return &PageCounter{every: int64(every), log: log.WithField("plugin", PageCounterName)}
}

func (c *PageCounter) Name() string { return PageCounterName }

func (c *PageCounter) OnCrawlStart(_ context.Context, info CrawlInfo) {
	c.count.Store(0)
	c.log.Infof("Counting pages for %s", info.TargetURL)
}

func (c *PageCounter) OnPageCrawled(_ context.Context, _ string, _ []byte) {
	if n := c.count.Add(1); n%c.every == 0 {
		c.log.Infof("Crawled %d pages", n)
	}
}

func (c *PageCounter) OnCrawlEnd(_ context.Context, result *models.CrawlResult) {
	c.log.Infof("Crawl ended: %d pages fetched, %d cached", c.count.Load(), len(result.Pages))
}

// Count returns the number of pages seen since the last crawl start
func (c *PageCounter) Count() int {
	return int(c.count.Load())
}
