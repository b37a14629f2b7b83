package fetch

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// FreshnessOracle decides whether a remote resource should be downloaded again by
// comparing its Last-Modified header with the mtime of the local copy.
type FreshnessOracle struct {
	client    *http.Client
	governor  *Governor // Paces HEAD requests with the rest of the run; may be nil
	userAgent string
	log       *logrus.Entry
}

// NewFreshnessOracle creates a FreshnessOracle using the shared client. The HEAD
// requests it issues wait on governor like every other request of the run.
func NewFreshnessOracle(client *http.Client, governor *Governor, userAgent string, log *logrus.Entry) *FreshnessOracle {
	return &FreshnessOracle{
		client:    client,
		governor:  governor,
		userAgent: userAgent,
		log:       log.WithField("component", "freshness"),
	}
}

// LocalModTime returns the mtime of path, or the zero time if it does not exist
func (o *FreshnessOracle) LocalModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// RemoteLastModified issues a HEAD request and returns the parsed Last-Modified header.
// Any failure (pacing, network, non-200, missing or malformed header) yields the zero time.
func (o *FreshnessOracle) RemoteLastModified(ctx context.Context, rawURL string) time.Time {
	if o.governor != nil {
		if err := o.governor.Wait(ctx); err != nil {
			return time.Time{}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return time.Time{}
	}
	req.Header.Set("User-Agent", o.userAgent)

	resp, err := o.client.Do(req)
	if err != nil {
		o.log.WithField("url", rawURL).Debugf("HEAD failed: %v", err)
		return time.Time{}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return time.Time{}
	}
	header := resp.Header.Get("Last-Modified")
	if header == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(header)
	if err != nil {
		o.log.WithField("url", rawURL).Debugf("Unparseable Last-Modified %q", header)
		return time.Time{}
	}
	return t
}

// ShouldUpdate reports whether rawURL must be (re)downloaded to localPath.
// True when either timestamp is unknown or the remote copy is strictly newer.
func (o *FreshnessOracle) ShouldUpdate(ctx context.Context, rawURL, localPath string) bool {
	local := o.LocalModTime(localPath)
	if local.IsZero() {
		return true
	}
	remote := o.RemoteLastModified(ctx, rawURL)
	if remote.IsZero() {
		return true
	}
	return remote.After(local)
}
