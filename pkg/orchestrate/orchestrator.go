package orchestrate

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/crawler"
	"github.com/Sriram-PR/site-mirror/pkg/download"
	"github.com/Sriram-PR/site-mirror/pkg/export"
	"github.com/Sriram-PR/site-mirror/pkg/fetch"
	"github.com/Sriram-PR/site-mirror/pkg/metrics"
	"github.com/Sriram-PR/site-mirror/pkg/mirror"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/plugin"
	"github.com/Sriram-PR/site-mirror/pkg/state"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// SiteResult contains the result of mirroring a single site
type SiteResult struct {
	SiteKey        string
	Success        bool
	Error          error
	Cancelled      bool
	PagesProcessed int64
	OutputDir      string
	Stats          models.CrawlStats
	Duration       time.Duration
}

// Options configures an Orchestrator
type Options struct {
	Resume bool
	// Metrics is shared by every site; nil disables metrics
	Metrics *metrics.Recorder
	// ExtraPlugins returns additional plugins to register for a site. They are only
	// active if their name is in the site's effective plugin list.
	ExtraPlugins func(siteKey string) []plugin.Plugin
}

// Orchestrator mirrors several sites in parallel. The HTTP client and the global
// in-flight request cap are shared; each site gets its own governor, state, ledger and plugins.
type Orchestrator struct {
	appCfg   *config.AppConfig
	log      *logrus.Entry
	siteKeys []string
	opts     Options

	// Shared resources
	client          *http.Client
	globalSemaphore *semaphore.Weighted

	results   []SiteResult
	resultsMu sync.Mutex

	crawlers   map[string]*crawler.Crawler
	crawlersMu sync.Mutex
}

// NewOrchestrator creates an orchestrator for the given sites. appCfg must be validated.
func NewOrchestrator(appCfg *config.AppConfig, siteKeys []string, opts Options, log *logrus.Entry) (*Orchestrator, error) {
	if err := ValidateSiteKeys(appCfg, siteKeys); err != nil {
		return nil, err
	}
	client, err := fetch.NewClient(appCfg.HTTPClientSettings, appCfg.EnableCookies, log)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client: %w", err)
	}
	return &Orchestrator{
		appCfg:          appCfg,
		log:             log,
		siteKeys:        siteKeys,
		opts:            opts,
		client:          client,
		globalSemaphore: semaphore.NewWeighted(int64(max(appCfg.MaxRequests, 1))),
		results:         make([]SiteResult, 0, len(siteKeys)),
		crawlers:        make(map[string]*crawler.Crawler),
	}, nil
}

// Run mirrors all sites in parallel and waits for completion. Results are sorted by site key.
func (o *Orchestrator) Run(ctx context.Context) []SiteResult {
	startTime := time.Now()
	o.log.Infof("Starting parallel mirror of %d site(s): %v", len(o.siteKeys), o.siteKeys)

	var wg sync.WaitGroup
	for _, siteKey := range o.siteKeys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := o.RunSite(ctx, siteKey)
			o.resultsMu.Lock()
			o.results = append(o.results, result)
			o.resultsMu.Unlock()
		}()
	}
	wg.Wait()

	o.resultsMu.Lock()
	results := append([]SiteResult(nil), o.results...)
	o.resultsMu.Unlock()
	sort.Slice(results, func(i, j int) bool { return results[i].SiteKey < results[j].SiteKey })

	o.logSummary(results, time.Since(startTime))
	return results
}

// RunSite builds the components for one site and mirrors it
func (o *Orchestrator) RunSite(ctx context.Context, siteKey string) SiteResult {
	startTime := time.Now()
	result := SiteResult{SiteKey: siteKey}
	siteLog := o.log.WithField("site", siteKey)

	siteCfg, exists := o.appCfg.Sites[siteKey]
	if !exists {
		result.Error = fmt.Errorf("site '%s' not found in configuration", siteKey)
		siteLog.Error(result.Error)
		return result
	}
	warnings, err := siteCfg.Validate()
	for _, w := range warnings {
		siteLog.Warn(w)
	}
	if err != nil {
		result.Error = err
		siteLog.Errorf("Invalid site configuration: %v", err)
		return result
	}

	siteCtx, siteCancel := context.WithCancel(ctx)
	defer siteCancel()

	// The ledger follows the same fresh-or-resume decision as the JSON state
	resumeLedger := o.opts.Resume && o.appCfg.ResumeEnabled() && !o.appCfg.Resume.ResetState
	ledger, err := storage.NewBadgerStore(siteCtx, o.appCfg.StateDir, siteKey, resumeLedger, siteLog)
	if err != nil {
		result.Error = fmt.Errorf("failed to open ledger for '%s': %w", siteKey, err)
		siteLog.Error(result.Error)
		return result
	}
	defer ledger.Close()
	go ledger.RunGC(siteCtx, o.appCfg.DBGCInterval)

	comps, cleanup := o.buildComponents(siteCtx, siteKey, siteCfg, ledger, siteLog)
	defer cleanup()

	c, err := crawler.NewCrawler(o.appCfg, &siteCfg, siteKey, o.log, comps, &crawler.CrawlerOptions{
		SharedSemaphore: o.globalSemaphore,
	})
	if err != nil {
		result.Error = fmt.Errorf("failed to create crawler for '%s': %w", siteKey, err)
		siteLog.Error(result.Error)
		return result
	}
	o.crawlersMu.Lock()
	o.crawlers[siteKey] = c
	o.crawlersMu.Unlock()

	siteLog.Info("Starting mirror")
	crawlResult, runErr := c.Run(siteCtx, o.opts.Resume)
	result.OutputDir = c.OutputDir()
	result.PagesProcessed = c.GetProgress().PagesProcessed
	if crawlResult != nil {
		result.Stats = crawlResult.Stats
		result.Cancelled = crawlResult.Cancelled
	}
	if runErr != nil {
		result.Error = runErr
		siteLog.Errorf("Mirror stopped: %v", runErr)
	} else {
		result.Success = true
		siteLog.Info("Mirror completed")
	}

	visitedLog := filepath.Join(o.appCfg.StateDir, utils.SanitizeFilename(siteKey)+"_visited.txt")
	if err := ledger.WriteVisitedLog(visitedLog); err != nil {
		siteLog.Warnf("Failed to write visited log: %v", err)
	}

	result.Duration = time.Since(startTime)
	return result
}

// buildComponents wires the fetch, freshness, download, state and plugin components of a
// site. The returned cleanup releases the renderer and the plugins.
func (o *Orchestrator) buildComponents(ctx context.Context, siteKey string, siteCfg config.SiteConfig, ledger *storage.BadgerStore, siteLog *logrus.Entry) (crawler.Components, func()) {
	appCfg := o.appCfg
	m := o.opts.Metrics
	userAgent := config.GetEffectiveUserAgent(siteCfg, *appCfg)

	governor := fetch.NewGovernor(config.GetEffectiveDelay(siteCfg, *appCfg), siteLog)
	policy := fetch.NewRetryPolicy(appCfg.ErrorHandling, siteLog, fetch.WithRetryMetrics(m))
	direct := fetch.NewFetcher(o.client, policy, governor, userAgent, appCfg.MaxPageSizeBytes, siteLog)
	oracle := fetch.NewFreshnessOracle(o.client, governor, userAgent, siteLog)
	st := state.NewStore(appCfg.StateFilePath(siteKey))

	var renderer fetch.Renderer
	var renderWorker *fetch.RenderWorker
	if config.GetEffectiveJSRendering(siteCfg, *appCfg) {
		rw, err := fetch.NewChromeRenderer(appCfg.JSRendering, userAgent, siteLog)
		if err != nil {
			siteLog.Warnf("JS rendering unavailable, using direct fetches only: %v", err)
		} else {
			renderWorker, renderer = rw, rw
		}
	}

	comps := crawler.Components{
		Fetcher:   fetch.NewContentFetcher(direct, renderer, governor, m, siteLog),
		Freshness: oracle,
		Downloader: download.NewDownloader(direct, oracle, st, ledger, m, download.Options{
			SiteKey:       siteKey,
			NumWorkers:    appCfg.NumDownloadWorkers,
			MaxFileBytes:  appCfg.MaxFileSizeBytes,
			ForceDownload: config.GetEffectiveForceDownload(siteCfg, *appCfg),
		}, siteLog),
		State:   st,
		Ledger:  ledger,
		Plugins: o.buildPlugins(ctx, siteKey, siteCfg, siteLog),
		Metrics: m,
	}
	if config.GetEffectiveRespectRobots(siteCfg, *appCfg) {
		comps.Robots = fetch.NewRobotsHandler(direct, siteLog)
	}

	cleanup := func() {
		comps.Plugins.Cleanup()
		if renderWorker != nil {
			renderWorker.Close(appCfg.WorkerJoinTimeout)
		}
	}
	return comps, cleanup
}

// buildPlugins registers the built-in plugins and enables the site's effective list
func (o *Orchestrator) buildPlugins(ctx context.Context, siteKey string, siteCfg config.SiteConfig, siteLog *logrus.Entry) *plugin.Manager {
	pm := plugin.NewManager(siteLog)
	builtins := []plugin.Plugin{
		mirror.New(o.appCfg.NumWorkers, siteLog),
		export.New(o.appCfg.Plugins.Markdown, siteLog),
		plugin.NewPageCounter(o.appCfg.Plugins.PageCounterEvery, siteLog),
	}
	if o.opts.ExtraPlugins != nil {
		builtins = append(builtins, o.opts.ExtraPlugins(siteKey)...)
	}
	for _, p := range builtins {
		if err := pm.Register(p); err != nil {
			siteLog.Warnf("Plugin not registered: %v", err)
		}
	}
	pm.Enable(ctx, config.GetEffectivePlugins(siteCfg, *o.appCfg))
	return pm
}

// GetProgress returns the progress of every site that has started
func (o *Orchestrator) GetProgress() []crawler.CrawlerProgress {
	o.crawlersMu.Lock()
	defer o.crawlersMu.Unlock()

	progress := make([]crawler.CrawlerProgress, 0, len(o.crawlers))
	for _, c := range o.crawlers {
		progress = append(progress, c.GetProgress())
	}
	sort.Slice(progress, func(i, j int) bool { return progress[i].SiteKey < progress[j].SiteKey })
	return progress
}

func (o *Orchestrator) logSummary(results []SiteResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Parallel mirror completed in %v", totalDuration)
	o.log.Info("Site Results:")

	var totalPages int64
	successCount, failCount := 0, 0
	for _, r := range results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalPages += r.PagesProcessed

		o.log.Infof("  %s: %s - %d pages processed, %d cached, %d assets in %v",
			r.SiteKey, status, r.PagesProcessed, r.Stats.Cached, r.Stats.AssetsDownloaded, r.Duration)
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d success, %d failed), %d pages processed",
		len(results), successCount, failCount, totalPages)
	o.log.Info("============================================")
}

// ValidateSiteKeys checks that all provided site keys exist in the config
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("%w: site '%s' not found. Available sites: %v", utils.ErrConfigValidation, key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config, sorted
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
