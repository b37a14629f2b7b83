package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.DefaultUserAgent == "" {
		warnings = append(warnings, "default_user_agent is empty, defaulting to 'site-mirror/1.0'")
		c.DefaultUserAgent = "site-mirror/1.0"
	}

	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	if c.NumDownloadWorkers <= 0 {
		warnings = append(warnings, fmt.Sprintf(
			"num_download_workers not specified or invalid, defaulting to num_workers (%d)",
			c.NumWorkers))
		c.NumDownloadWorkers = c.NumWorkers
	}

	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './mirrors'")
		c.OutputBaseDir = "./mirrors"
	}

	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './mirror_state'")
		c.StateDir = "./mirror_state"
	}

	warnings = append(warnings, c.validateDelay()...)

	retryWarnings, err := c.validateErrorHandling()
	warnings = append(warnings, retryWarnings...)
	if err != nil {
		return warnings, err
	}

	// Resume
	if c.Resume.SaveInterval < 0 {
		warnings = append(warnings, "resume.save_interval cannot be negative, defaulting to 60s")
		c.Resume.SaveInterval = 0
	}
	if c.Resume.SaveInterval == 0 {
		c.Resume.SaveInterval = 60 * time.Second
	}

	// JS rendering
	if c.JSRendering.Timeout <= 0 {
		c.JSRendering.Timeout = 30 * time.Second
	}
	if c.JSRendering.SettleTime < 0 {
		warnings = append(warnings, "js_rendering.settle_time cannot be negative, setting to 0")
		c.JSRendering.SettleTime = 0
	} else if c.JSRendering.SettleTime == 0 {
		c.JSRendering.SettleTime = 2 * time.Second
	}

	// Plugins
	if c.Plugins.PageCounterEvery <= 0 {
		c.Plugins.PageCounterEvery = 5
	}
	md := &c.Plugins.Markdown
	if md.ContentSelector == "" {
		md.ContentSelector = "body"
	}
	if md.ChunkSize <= 0 {
		md.ChunkSize = 1000
	}
	if md.ChunkOverlap < 0 || md.ChunkOverlap >= md.ChunkSize {
		warnings = append(warnings, fmt.Sprintf(
			"plugins.markdown.chunk_overlap (%d) must be in [0, chunk_size), defaulting to 100", md.ChunkOverlap))
		md.ChunkOverlap = 100
		if md.ChunkOverlap >= md.ChunkSize {
			md.ChunkOverlap = 0
		}
	}
	if md.TokenizerEncoding == "" {
		md.TokenizerEncoding = "cl100k_base"
	}

	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	if c.PerPageTimeout < 0 {
		warnings = append(warnings, "per_page_timeout cannot be negative, disabling timeout")
		c.PerPageTimeout = 0
	}

	if c.WorkerJoinTimeout <= 0 {
		c.WorkerJoinTimeout = 30 * time.Second
	}

	if c.MaxPageSizeBytes <= 0 {
		c.MaxPageSizeBytes = 50 * 1024 * 1024
	}

	if c.MaxFileSizeBytes < 0 {
		warnings = append(warnings, "max_file_size_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxFileSizeBytes = 0
	}

	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateDelay applies defaults to the governor settings.
func (c *AppConfig) validateDelay() (warnings []string) {
	d := &c.Delay
	if d.Delay < 0 {
		warnings = append(warnings, "delay.delay cannot be negative, setting to 0")
		d.Delay = 0
	}
	if d.RequestsPerSecond < 0 {
		warnings = append(warnings, "delay.requests_per_second cannot be negative, disabling token bucket")
		d.RequestsPerSecond = 0
	}
	if d.RequestsPerSecond > 0 && d.Burst <= 0 {
		warnings = append(warnings, "delay.burst should be > 0 when requests_per_second is set, defaulting to 1")
		d.Burst = 1
	}
	return warnings
}

// validateErrorHandling applies retry defaults. An unknown fail_strategy is fatal.
func (c *AppConfig) validateErrorHandling() (warnings []string, err error) {
	e := &c.ErrorHandling
	if e.RetryCount < 0 {
		warnings = append(warnings, "error_handling.retry_count cannot be negative, setting to 0")
		e.RetryCount = 0
	}
	if e.RetryCount == 0 && e.RetryDelay == 0 {
		e.RetryCount = 3
	}
	if e.RetryCount > 0 {
		if e.RetryDelay <= 0 {
			e.RetryDelay = 1 * time.Second
		}
		if e.MaxRetryDelay <= 0 {
			e.MaxRetryDelay = 30 * time.Second
		}
	}
	if e.RetryDelay > e.MaxRetryDelay && e.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"error_handling.retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for both",
			e.RetryDelay, e.MaxRetryDelay))
		e.RetryDelay = e.MaxRetryDelay
	}
	if len(e.RetryableStatusCodes) == 0 {
		e.RetryableStatusCodes = append([]int(nil), DefaultRetryableStatusCodes...)
	}
	for _, code := range e.RetryableStatusCodes {
		if code < 100 || code > 599 {
			return warnings, fmt.Errorf("%w: retryable status code %d is not an HTTP status", utils.ErrConfigValidation, code)
		}
	}
	if e.FailStrategy == "" {
		e.FailStrategy = FailStrategyLog
	}
	e.FailStrategy = FailStrategy(strings.ToLower(string(e.FailStrategy)))
	if !e.FailStrategy.IsValid() {
		return warnings, fmt.Errorf("%w: unknown fail_strategy '%s' (want log, skip or raise)", utils.ErrConfigValidation, e.FailStrategy)
	}
	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	if c.TargetURL == "" {
		return nil, fmt.Errorf("%w: site has no target_url", utils.ErrConfigValidation)
	}
	target, err := url.Parse(c.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid target_url '%s': %w", utils.ErrConfigValidation, c.TargetURL, err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: target_url '%s' must be an absolute http(s) URL", utils.ErrConfigValidation, c.TargetURL)
	}

	if c.MaxDepth < 0 {
		warnings = append(warnings, "Site max_depth cannot be negative, setting to 0 (seed page only)")
		c.MaxDepth = 0
	}

	if c.MaxFiles <= 0 {
		warnings = append(warnings, "Site max_files should be > 0, defaulting to 100")
		c.MaxFiles = 100
	}

	for i, prefix := range c.Exclude {
		u, perr := url.Parse(prefix)
		if perr != nil || u.Host == "" {
			return warnings, fmt.Errorf("%w: exclude entry #%d ('%s') must be an absolute URL", utils.ErrConfigValidation, i+1, prefix)
		}
	}

	if _, err := utils.CompileRegexPatterns(c.DisallowedPathPatterns); err != nil {
		return warnings, err
	}

	if c.Delay != nil && *c.Delay < 0 {
		warnings = append(warnings, "Site delay cannot be negative, ignoring override")
		c.Delay = nil
	}

	return warnings, nil
}
