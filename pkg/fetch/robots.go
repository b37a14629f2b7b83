package fetch

import (
	"context"
	"io"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsHandler fetches, parses and caches robots.txt per host. Concurrent lookups for
// the same host share one fetch. Any failure to obtain rules means "allowed".
type RobotsHandler struct {
	fetcher *Fetcher
	cache   map[string]*robotstxt.RobotsData // host -> parsed data (nil = no usable rules)
	cacheMu sync.RWMutex
	group   singleflight.Group
	log     *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler that fetches through the paced fetcher
func NewRobotsHandler(fetcher *Fetcher, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher: fetcher,
		cache:   make(map[string]*robotstxt.RobotsData),
		log:     log.WithField("component", "robots"),
	}
}

// rulesFor returns the cached or freshly fetched rules for u's host
func (rh *RobotsHandler) rulesFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	host := u.Host

	rh.cacheMu.RLock()
	data, found := rh.cache[host]
	rh.cacheMu.RUnlock()
	if found {
		return data
	}

	v, _, _ := rh.group.Do(host, func() (interface{}, error) {
		data := rh.fetch(ctx, u)
		if ctx.Err() == nil {
			rh.cacheMu.Lock()
			rh.cache[host] = data
			rh.cacheMu.Unlock()
		}
		return data, nil
	})
	return v.(*robotstxt.RobotsData)
}

func (rh *RobotsHandler) fetch(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()
	robotsLog := rh.log.WithField("robots_url", robotsURL)
	robotsLog.Info("Fetching robots.txt...")

	resp, err := rh.fetcher.Get(ctx, robotsURL)
	if err != nil {
		robotsLog.Debugf("No usable robots.txt: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		robotsLog.Warnf("Error reading robots.txt: %v", err)
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt: %v", err)
		return nil
	}
	robotsLog.Info("Successfully fetched and parsed robots.txt")
	return data
}

// Allowed reports whether userAgent may fetch u. Returns true when rules are unavailable.
func (rh *RobotsHandler) Allowed(ctx context.Context, u *url.URL, userAgent string) bool {
	data := rh.rulesFor(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.RequestURI(), userAgent)
}
