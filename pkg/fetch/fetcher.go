package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Fetcher performs paced, retried GET requests with the site's user agent.
// Every attempt, including retries, waits on the shared governor first.
type Fetcher struct {
	client       *http.Client
	policy       *RetryPolicy
	governor     *Governor
	userAgent    string
	maxBodyBytes int64 // 0 = unlimited
	log          *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, policy *RetryPolicy, governor *Governor, userAgent string, maxBodyBytes int64, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:       client,
		policy:       policy,
		governor:     governor,
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
		log:          log.WithField("component", "fetcher"),
	}
}

// Client returns the underlying HTTP client
func (f *Fetcher) Client() *http.Client { return f.client }

// UserAgent returns the User-Agent header sent with every request
func (f *Fetcher) UserAgent() string { return f.userAgent }

// doRequest performs a single paced attempt. A non-2xx response is drained, closed and
// reported as a *utils.HTTPStatusError; on success the caller owns the body.
func (f *Fetcher) doRequest(ctx context.Context, rawURL string) (*http.Response, error) {
	if f.governor != nil {
		if err := f.governor.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		f.log.WithFields(logrus.Fields{"url": rawURL, "status_code": resp.StatusCode}).Debug("Non-success status")
		return nil, utils.NewHTTPStatusError(resp.StatusCode, rawURL)
	}
	return resp, nil
}

// Get fetches rawURL under the retry policy. The caller must close the response body.
// Under the log/skip fail strategies a terminal failure is returned wrapping utils.ErrNoResult.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	var resp *http.Response
	err := f.policy.Execute(ctx, "GET "+rawURL, func(ctx context.Context) error {
		r, err := f.doRequest(ctx, rawURL)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchPage fetches a page and reads its body inside the retry loop, so a connection
// dropped mid-body is retried like any other transient failure.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (*models.FetchedPage, error) {
	var page *models.FetchedPage
	err := f.policy.Execute(ctx, "fetch "+rawURL, func(ctx context.Context) error {
		resp, err := f.doRequest(ctx, rawURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var reader io.Reader = resp.Body
		if f.maxBodyBytes > 0 {
			reader = io.LimitReader(resp.Body, f.maxBodyBytes+1)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
		}
		if f.maxBodyBytes > 0 && int64(len(body)) > f.maxBodyBytes {
			return fmt.Errorf("%w: body of %s exceeds %d bytes", utils.ErrResponseBodyRead, rawURL, f.maxBodyBytes)
		}

		page = &models.FetchedPage{
			URL:         rawURL,
			FinalURL:    resp.Request.URL.String(),
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
			StatusCode:  resp.StatusCode,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}
