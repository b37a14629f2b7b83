package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// FailStrategy decides what the retry policy does once an operation has failed for good
type FailStrategy string

const (
	FailStrategyLog   FailStrategy = "log"   // Log the error and return no result (default)
	FailStrategySkip  FailStrategy = "skip"  // Return no result silently
	FailStrategyRaise FailStrategy = "raise" // Propagate the error to the caller
)

// IsValid reports whether s names a known strategy
func (s FailStrategy) IsValid() bool {
	switch s {
	case FailStrategyLog, FailStrategySkip, FailStrategyRaise:
		return true
	}
	return false
}

// DefaultRetryableStatusCodes are retried when error_handling.retryable_status_codes is unset
var DefaultRetryableStatusCodes = []int{429, 500, 502, 503, 504}

// SiteConfig holds configuration specific to a single mirrored website
type SiteConfig struct {
	TargetURL              string         `yaml:"target_url"`
	MaxDepth               int            `yaml:"max_depth"`
	MaxFiles               int            `yaml:"max_files"`
	Exclude                []string       `yaml:"exclude,omitempty"`                  // URL prefixes that are never crawled or downloaded
	DisallowedPathPatterns []string       `yaml:"disallowed_path_patterns,omitempty"` // Regex patterns matched against the URL path
	UserAgent              string         `yaml:"user_agent,omitempty"`
	Delay                  *time.Duration `yaml:"delay,omitempty"`
	RandomDelay            *bool          `yaml:"random_delay,omitempty"`
	ForceDownload          *bool          `yaml:"force_download,omitempty"`
	RespectRobots          *bool          `yaml:"respect_robots,omitempty"`
	EnableJSRendering      *bool          `yaml:"enable_js_rendering,omitempty"`
	Plugins                []string       `yaml:"plugins,omitempty"` // Overrides plugins.enabled for this site
}

// DelayConfig controls the shared request governor
type DelayConfig struct {
	Delay             time.Duration `yaml:"delay"`
	RandomDelay       bool          `yaml:"random_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty"` // 0 disables the token bucket
	Burst             int           `yaml:"burst,omitempty"`
}

// ErrorHandlingConfig configures the retry/backoff policy
type ErrorHandlingConfig struct {
	RetryCount           int           `yaml:"retry_count"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
	MaxRetryDelay        time.Duration `yaml:"max_retry_delay,omitempty"`
	ExponentialBackoff   *bool         `yaml:"exponential_backoff,omitempty"` // nil = enabled
	RetryableStatusCodes []int         `yaml:"retryable_status_codes,omitempty"`
	FailStrategy         FailStrategy  `yaml:"fail_strategy,omitempty"`
}

// ResumeConfig controls the persisted crawl state
type ResumeConfig struct {
	Enable       *bool         `yaml:"enable,omitempty"`     // nil = enabled
	StateFile    string        `yaml:"state_file,omitempty"` // Relative names resolve inside state_dir; "{site}" is replaced by the site key
	SaveInterval time.Duration `yaml:"save_interval,omitempty"`
	ResetState   bool          `yaml:"reset_state,omitempty"`  // Clear persisted state even when resuming
	RetryFailed  bool          `yaml:"retry_failed,omitempty"` // Re-attempt pages the ledger recorded as failed
}

// JSRenderingConfig controls the headless render worker
type JSRenderingConfig struct {
	Enable     bool          `yaml:"enable"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	SettleTime time.Duration `yaml:"settle_time,omitempty"` // Pause after document ready before capturing HTML
	ExecPath   string        `yaml:"exec_path,omitempty"`   // Chrome binary; empty = chromedp lookup
}

// MarkdownConfig configures the markdown export plugin
type MarkdownConfig struct {
	ContentSelector   string `yaml:"content_selector,omitempty"`
	ChunkSize         int    `yaml:"chunk_size,omitempty"`
	ChunkOverlap      int    `yaml:"chunk_overlap,omitempty"`
	TokenizerEncoding string `yaml:"tokenizer_encoding,omitempty"`
}

// PluginsConfig selects the lifecycle plugins for a run
type PluginsConfig struct {
	Enabled          []string       `yaml:"enabled,omitempty"` // nil = ["mirror"]
	PageCounterEvery int            `yaml:"page_counter_every,omitempty"`
	Markdown         MarkdownConfig `yaml:"markdown,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string                `yaml:"default_user_agent"`
	NumWorkers              int                   `yaml:"num_workers"`
	NumDownloadWorkers      int                   `yaml:"num_download_workers,omitempty"`
	MaxRequests             int                   `yaml:"max_requests"` // Global cap on in-flight page fetches
	OutputBaseDir           string                `yaml:"output_base_dir"`
	StateDir                string                `yaml:"state_dir"`
	Delay                   DelayConfig           `yaml:"delay"`
	ErrorHandling           ErrorHandlingConfig   `yaml:"error_handling"`
	Resume                  ResumeConfig          `yaml:"resume"`
	JSRendering             JSRenderingConfig     `yaml:"js_rendering"`
	Plugins                 PluginsConfig         `yaml:"plugins"`
	ForceDownload           bool                  `yaml:"force_download,omitempty"`
	RespectRobots           bool                  `yaml:"respect_robots,omitempty"`
	EnableCookies           bool                  `yaml:"enable_cookies,omitempty"`
	SemaphoreAcquireTimeout time.Duration         `yaml:"semaphore_acquire_timeout,omitempty"`
	GlobalCrawlTimeout      time.Duration         `yaml:"global_crawl_timeout,omitempty"`
	PerPageTimeout          time.Duration         `yaml:"per_page_timeout,omitempty"` // 0 = no timeout
	WorkerJoinTimeout       time.Duration         `yaml:"worker_join_timeout,omitempty"`
	MaxPageSizeBytes        int64                 `yaml:"max_page_size_bytes,omitempty"`
	MaxFileSizeBytes        int64                 `yaml:"max_file_size_bytes,omitempty"` // 0 = unlimited
	DBGCInterval            time.Duration         `yaml:"db_gc_interval,omitempty"`
	MetricsAddr             string                `yaml:"metrics_addr,omitempty"`
	HTTPClientSettings      HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites                   map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// GetEffectiveUserAgent returns the site user agent, falling back to the global default
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveDelay merges the per-site delay overrides into the global governor settings
func GetEffectiveDelay(siteCfg SiteConfig, appCfg AppConfig) DelayConfig {
	d := appCfg.Delay
	if siteCfg.Delay != nil {
		d.Delay = *siteCfg.Delay
	}
	if siteCfg.RandomDelay != nil {
		d.RandomDelay = *siteCfg.RandomDelay
	}
	return d
}

// GetEffectiveForceDownload determines whether freshness checks and resume state are bypassed
func GetEffectiveForceDownload(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.ForceDownload != nil {
		return *siteCfg.ForceDownload
	}
	return appCfg.ForceDownload
}

// GetEffectiveRespectRobots determines whether robots.txt is consulted
func GetEffectiveRespectRobots(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.RespectRobots != nil {
		return *siteCfg.RespectRobots
	}
	return appCfg.RespectRobots
}

// GetEffectiveJSRendering determines whether the headless renderer is used for this site
func GetEffectiveJSRendering(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.EnableJSRendering != nil {
		return *siteCfg.EnableJSRendering
	}
	return appCfg.JSRendering.Enable
}

// GetEffectivePlugins returns the plugin names enabled for a site
func GetEffectivePlugins(siteCfg SiteConfig, appCfg AppConfig) []string {
	if siteCfg.Plugins != nil {
		return siteCfg.Plugins
	}
	if appCfg.Plugins.Enabled != nil {
		return appCfg.Plugins.Enabled
	}
	return []string{"mirror"}
}

// ResumeEnabled reports whether persisted state is honoured (default true)
func (c *AppConfig) ResumeEnabled() bool {
	return c.Resume.Enable == nil || *c.Resume.Enable
}

// ExponentialBackoffEnabled reports whether retry delays double per attempt (default true)
func (e ErrorHandlingConfig) ExponentialBackoffEnabled() bool {
	return e.ExponentialBackoff == nil || *e.ExponentialBackoff
}

// StateFilePath resolves the JSON state file for a site
func (c *AppConfig) StateFilePath(siteKey string) string {
	name := c.Resume.StateFile
	if name == "" {
		name = "{site}_state.json"
	}
	name = strings.ReplaceAll(name, "{site}", utils.SanitizeFilename(siteKey))
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.StateDir, name)
}
