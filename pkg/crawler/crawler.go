package crawler

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/metrics"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/plugin"
	"github.com/Sriram-PR/site-mirror/pkg/queue"
	"github.com/Sriram-PR/site-mirror/pkg/state"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// progressInterval is how often the waiter logs a progress line
var progressInterval = 30 * time.Second

// PageFetcher returns the content of a page URL
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.FetchedPage, error)
}

// FreshnessChecker decides whether a remote resource is newer than its local copy
type FreshnessChecker interface {
	ShouldUpdate(ctx context.Context, rawURL, localPath string) bool
}

// AssetDownloader downloads a batch of static resources and returns once all are handled
type AssetDownloader interface {
	DownloadBatch(ctx context.Context, urls []string, outputRoot string) []models.DownloadResult
}

// RobotsChecker reports whether robots.txt allows fetching a URL
type RobotsChecker interface {
	Allowed(ctx context.Context, u *url.URL, userAgent string) bool
}

// Components are the collaborators a Crawler drives. Fetcher, Freshness, Downloader and
// State are required; the rest may be nil.
type Components struct {
	Fetcher    PageFetcher
	Freshness  FreshnessChecker
	Downloader AssetDownloader
	State      *state.Store
	Ledger     storage.PageLedger
	Robots     RobotsChecker // nil = robots.txt is not consulted
	Plugins    *plugin.Manager
	Metrics    *metrics.Recorder
}

// CrawlerOptions contains optional parameters for NewCrawler
type CrawlerOptions struct {
	// SharedSemaphore caps in-flight page fetches across several crawlers.
	// If nil, the crawler creates its own semaphore based on appCfg.MaxRequests.
	SharedSemaphore *semaphore.Weighted
}

// Crawler mirrors a single configured site: a pool of workers drains a LIFO frontier,
// caching pages up to max_files and downloading the static resources they reference.
type Crawler struct {
	log           *logrus.Entry // Logger contextualized with site_key
	appCfg        *config.AppConfig
	siteCfg       *config.SiteConfig
	siteKey       string
	siteOutputDir string // <output_base_dir>/<host>
	seedURL       string // Normalized target URL
	userAgent     string
	forceDownload bool
	scope         *parse.Scope

	fetcher    PageFetcher
	freshness  FreshnessChecker
	downloader AssetDownloader
	state      *state.Store
	ledger     storage.PageLedger
	robots     RobotsChecker
	plugins    *plugin.Manager
	metrics    *metrics.Recorder

	frontier        *queue.ThreadSafeStack
	globalSemaphore *semaphore.Weighted

	wg               sync.WaitGroup // One count per task pushed onto the frontier
	processedCounter atomic.Int64
	running          atomic.Bool

	visitedMu sync.Mutex
	visited   map[string]struct{}

	pagesMu sync.Mutex // Guards pages and depths; the max_files check and the insert happen under it
	pages   map[string][]byte
	depths  map[string]int

	resourcesMu sync.Mutex
	resources   map[string]struct{}

	statsMu sync.Mutex
	stats   models.CrawlStats

	output *OutputManager
}

// NewCrawler creates a Crawler for one site. The site and app configs must already be validated.
func NewCrawler(
	appCfg *config.AppConfig,
	siteCfg *config.SiteConfig,
	siteKey string,
	baseLogger *logrus.Entry,
	comps Components,
	opts *CrawlerOptions,
) (*Crawler, error) {
	logger := baseLogger.WithField("site_key", siteKey)

	if comps.Fetcher == nil || comps.Freshness == nil || comps.Downloader == nil || comps.State == nil {
		return nil, fmt.Errorf("crawler for site '%s' needs a fetcher, freshness oracle, downloader and state store", siteKey)
	}

	seedURL, parsedSeed, err := parse.ParseAndNormalize(siteCfg.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: target_url for site '%s': %w", utils.ErrConfigValidation, siteKey, err)
	}
	scope, err := parse.NewScope(parsedSeed, siteCfg.Exclude, siteCfg.DisallowedPathPatterns)
	if err != nil {
		return nil, fmt.Errorf("building scope for site '%s': %w", siteKey, err)
	}
	logger.Infof("Scope: host '%s', directory '%s', %d exclude prefix(es)", scope.Host(), scope.TargetDir(), len(siteCfg.Exclude))

	var globalSem *semaphore.Weighted
	if opts != nil && opts.SharedSemaphore != nil {
		globalSem = opts.SharedSemaphore
		logger.Debug("Using shared global semaphore")
	} else {
		globalSem = semaphore.NewWeighted(int64(max(appCfg.MaxRequests, 1)))
	}

	plugins := comps.Plugins
	if plugins == nil {
		plugins = plugin.NewManager(logger)
	}

	siteOutputDir := filepath.Join(appCfg.OutputBaseDir, utils.HostDirName(scope.Host()))

	c := &Crawler{
		log:             logger,
		appCfg:          appCfg,
		siteCfg:         siteCfg,
		siteKey:         siteKey,
		siteOutputDir:   siteOutputDir,
		seedURL:         seedURL,
		userAgent:       config.GetEffectiveUserAgent(*siteCfg, *appCfg),
		forceDownload:   config.GetEffectiveForceDownload(*siteCfg, *appCfg),
		scope:           scope,
		fetcher:         comps.Fetcher,
		freshness:       comps.Freshness,
		downloader:      comps.Downloader,
		state:           comps.State,
		ledger:          comps.Ledger,
		robots:          comps.Robots,
		plugins:         plugins,
		metrics:         comps.Metrics,
		frontier:        queue.NewThreadSafeStack(logger),
		globalSemaphore: globalSem,
		visited:         make(map[string]struct{}),
		pages:           make(map[string][]byte),
		depths:          make(map[string]int),
		resources:       make(map[string]struct{}),
	}
	c.output = NewOutputManager(logger, siteKey, siteOutputDir)
	return c, nil
}

// OutputDir returns the directory the site is mirrored into
func (c *Crawler) OutputDir() string { return c.siteOutputDir }

// CrawlerProgress contains progress information for a crawler
type CrawlerProgress struct {
	SiteKey        string
	PagesProcessed int64
	PagesCached    int
	PagesQueued    int
	IsRunning      bool
}

// GetProgress returns the current progress of the crawler
func (c *Crawler) GetProgress() CrawlerProgress {
	c.pagesMu.Lock()
	cached := len(c.pages)
	c.pagesMu.Unlock()
	return CrawlerProgress{
		SiteKey:        c.siteKey,
		PagesProcessed: c.processedCounter.Load(),
		PagesCached:    cached,
		PagesQueued:    c.frontier.Len(),
		IsRunning:      c.running.Load(),
	}
}

// Run crawls the site and blocks until the frontier is drained or ctx is cancelled, then
// hands the result to the enabled save plugins and writes the run manifest.
// Once the crawl has started, the returned error is the context error (nil if the crawl
// completed) and the result holds whatever was gathered.
func (c *Crawler) Run(ctx context.Context, resume bool) (*models.CrawlResult, error) {
	c.running.Store(true)
	defer c.running.Store(false)

	startTime := time.Now()
	runLogFields := logrus.Fields{"target_url": c.seedURL, "resume": resume, "force_download": c.forceDownload}
	c.log.WithFields(runLogFields).Infof("Crawl starting with %d worker(s)...", c.appCfg.NumWorkers)

	if c.appCfg.GlobalCrawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.appCfg.GlobalCrawlTimeout)
		defer cancel()
	}

	if err := os.MkdirAll(c.siteOutputDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating site output dir '%s' for site '%s': %w", utils.ErrFilesystem, c.siteOutputDir, c.siteKey, err)
	}
	c.log.WithFields(runLogFields).Infof("Ensured site output directory exists: %s", c.siteOutputDir)

	c.prepareState(resume, runLogFields)
	retryTasks := c.failedTasksToRetry(ctx, resume)

	c.plugins.CrawlStart(ctx, plugin.CrawlInfo{
		SiteKey:   c.siteKey,
		TargetURL: c.seedURL,
		OutputDir: c.siteOutputDir,
		MaxDepth:  c.siteCfg.MaxDepth,
		MaxFiles:  c.siteCfg.MaxFiles,
	})

	// Seed before the waiter starts so the task count can never be observed at zero early.
	// The seed is pushed last so it is popped first.
	for _, task := range retryTasks {
		c.enqueue(task)
	}
	c.enqueue(models.CrawlTask{URL: c.seedURL, Depth: 0})
	c.log.WithFields(runLogFields).Infof("Seeded frontier with target URL and %d requeued task(s)", len(retryTasks))

	workersDone := c.startWorkers(ctx)
	waiterDone := c.startWaiter(ctx, runLogFields)

	<-waiterDone
	select {
	case <-workersDone:
		c.log.WithFields(runLogFields).Info("All workers exited.")
	case <-time.After(c.appCfg.WorkerJoinTimeout):
		c.log.WithFields(runLogFields).Warnf("Workers did not exit within %v; abandoning them", c.appCfg.WorkerJoinTimeout)
	}
	c.metrics.SetFrontierLength(c.siteKey, 0)

	if err := c.state.Save(); err != nil {
		c.log.WithFields(runLogFields).Errorf("Failed to save final crawl state: %v", err)
	}

	result := c.buildResult(startTime, ctx.Err() != nil)

	summaryLog := c.log.WithFields(logrus.Fields{"target_url": c.seedURL})
	summaryLog.Info("========================================================================")
	summaryLog.Info("CRAWL FINISHED")
	summaryLog.Infof("Duration:         %v", result.EndTime.Sub(startTime))
	summaryLog.Infof("Pages: visited %d, cached %d, unchanged %d, skipped %d, failed %d",
		result.Stats.Visited, result.Stats.Cached, result.Stats.Unchanged, result.Stats.Skipped, result.Stats.Failed)
	summaryLog.Infof("Assets: downloaded %d, unchanged %d, skipped %d, failed %d",
		result.Stats.AssetsDownloaded, result.Stats.AssetsUnchanged, result.Stats.AssetsSkipped, result.Stats.AssetsFailed)
	if result.Cancelled {
		summaryLog.Warnf("Crawl stopped early: %v", ctx.Err())
	}
	summaryLog.Info("========================================================================")

	// Save whatever was gathered even when the crawl was cancelled
	c.finish(context.WithoutCancel(ctx), result)

	return result, ctx.Err()
}

// prepareState loads or clears the persisted state and seeds the visited set from it
func (c *Crawler) prepareState(resume bool, runLogFields logrus.Fields) {
	honourState := resume && c.appCfg.ResumeEnabled() && !c.appCfg.Resume.ResetState
	if !honourState {
		if err := c.state.Clear(); err != nil {
			c.log.WithFields(runLogFields).Warnf("Failed to clear previous crawl state: %v", err)
		} else {
			c.log.WithFields(runLogFields).Infof("Starting from empty state (%s)", c.state.Path())
		}
		return
	}

	if err := c.state.Load(); err != nil {
		c.log.WithFields(runLogFields).Warnf("Persisted state unusable, starting from empty state: %v", err)
		return
	}
	if c.forceDownload {
		c.log.WithFields(runLogFields).Info("force_download set: persisted visited set is not merged")
		return
	}

	visited := c.state.VisitedURLs()
	c.visitedMu.Lock()
	for _, u := range visited {
		c.visited[u] = struct{}{}
	}
	c.visitedMu.Unlock()
	c.log.WithFields(runLogFields).Infof("Resumed state: %d visited URL(s) loaded from %s", len(visited), c.state.Path())
}

// failedTasksToRetry removes pages the ledger recorded as failed from the visited set so
// they are attempted again. Only used when resuming with resume.retry_failed.
func (c *Crawler) failedTasksToRetry(ctx context.Context, resume bool) []models.CrawlTask {
	if !resume || !c.appCfg.Resume.RetryFailed || c.ledger == nil {
		return nil
	}
	tasks, err := c.ledger.FailedPages(ctx)
	if err != nil {
		c.log.Errorf("Error scanning ledger for failed pages: %v", err)
		return nil
	}
	c.visitedMu.Lock()
	for _, t := range tasks {
		delete(c.visited, t.URL)
	}
	c.visitedMu.Unlock()
	if len(tasks) > 0 {
		c.log.Infof("Requeueing %d previously failed page(s)", len(tasks))
	}
	return tasks
}

// enqueue pushes a task and accounts for it in the task WaitGroup
func (c *Crawler) enqueue(task models.CrawlTask) bool {
	c.wg.Add(1)
	if !c.frontier.Push(task) {
		c.wg.Done()
		return false
	}
	return true
}

func (c *Crawler) startWorkers(ctx context.Context) <-chan struct{} {
	var workersWg sync.WaitGroup
	c.log.Infof("Starting %d workers...", c.appCfg.NumWorkers)
	for i := 1; i <= c.appCfg.NumWorkers; i++ {
		workersWg.Add(1)
		workerLog := c.log.WithField("worker_id", i)
		go func() {
			defer workersWg.Done()
			c.worker(ctx, workerLog)
		}()
	}
	done := make(chan struct{})
	go func() {
		workersWg.Wait()
		close(done)
	}()
	return done
}

// startWaiter closes the frontier once every task is done or ctx is cancelled,
// logging progress in the meantime.
func (c *Crawler) startWaiter(ctx context.Context, runLogFields logrus.Fields) <-chan struct{} {
	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)

		progTicker := time.NewTicker(progressInterval)
		defer progTicker.Stop()

		tasksDone := make(chan struct{})
		go func() { c.wg.Wait(); close(tasksDone) }()

	wait:
		for {
			select {
			case <-tasksDone:
				c.log.WithFields(runLogFields).Info("Waiter: all tasks done.")
				break wait
			case <-ctx.Done():
				c.log.WithFields(runLogFields).Warnf("Waiter: crawl context cancelled (%v), draining frontier.", ctx.Err())
				break wait
			case <-progTicker.C:
				c.logProgress()
			}
		}
		c.frontier.Close()
	}()
	return waiterDone
}

func (c *Crawler) logProgress() {
	progress := c.GetProgress()
	c.metrics.SetFrontierLength(c.siteKey, progress.PagesQueued)
	c.log.WithFields(logrus.Fields{
		"processed_tasks": progress.PagesProcessed,
		"pages_cached":    progress.PagesCached,
		"frontier_len":    progress.PagesQueued,
	}).Info("Crawl Progress")
}

// worker pops tasks until the frontier is closed. Once the crawl is cancelled or the page
// limit is reached, tasks are drained without being processed.
func (c *Crawler) worker(ctx context.Context, workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		task, ok := c.frontier.Pop()
		if !ok {
			return
		}
		if ctx.Err() != nil || c.limitReached() {
			c.wg.Done()
			if n := c.drainFrontier(); n > 0 {
				workerLog.Debugf("Dropped %d pending task(s) without processing", n)
			}
			continue
		}
		c.processSinglePageTask(ctx, task, workerLog)
	}
}

// drainFrontier discards every task currently on the frontier without blocking and
// returns how many were dropped
func (c *Crawler) drainFrontier() int {
	n := 0
	for {
		if _, ok := c.frontier.TryPop(); !ok {
			return n
		}
		c.wg.Done()
		n++
	}
}

// limitReached reports whether max_files pages have been cached
func (c *Crawler) limitReached() bool {
	c.pagesMu.Lock()
	defer c.pagesMu.Unlock()
	return len(c.pages) >= c.siteCfg.MaxFiles
}

// markVisited atomically tests and marks u as visited. Returns false if it already was.
func (c *Crawler) markVisited(u string) bool {
	c.visitedMu.Lock()
	defer c.visitedMu.Unlock()
	if _, seen := c.visited[u]; seen {
		return false
	}
	c.visited[u] = struct{}{}
	c.state.AddVisited(u)
	return true
}

func (c *Crawler) isVisited(u string) bool {
	c.visitedMu.Lock()
	defer c.visitedMu.Unlock()
	_, seen := c.visited[u]
	return seen
}

// storePage adds a page to the page store if the limit allows. The check and the insert
// happen under one lock so concurrent workers can never overshoot max_files.
func (c *Crawler) storePage(u string, body []byte, depth int) bool {
	c.pagesMu.Lock()
	defer c.pagesMu.Unlock()
	if len(c.pages) >= c.siteCfg.MaxFiles {
		return false
	}
	if _, exists := c.pages[u]; exists {
		return false
	}
	c.pages[u] = body
	c.depths[u] = depth
	return true
}

// processSinglePageTask runs one task through scope, freshness, fetch, caching and
// link extraction. Every outcome other than "already visited" is recorded in the ledger.
func (c *Crawler) processSinglePageTask(ctx context.Context, task models.CrawlTask, workerLog *logrus.Entry) {
	taskLog := workerLog.WithFields(logrus.Fields{"url": task.URL, "depth": task.Depth})
	startTime := time.Now()

	taskCtx := ctx
	if c.appCfg.PerPageTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, c.appCfg.PerPageTimeout)
		defer cancel()
	}

	var (
		taskErr     error
		status      models.PageStatus // Unset = discarded without a record
		localPath   string
		contentHash string
	)

	defer func() {
		if r := recover(); r != nil {
			taskErr = fmt.Errorf("panic: %v", r)
			status = models.PageStatusFailed
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"duration":    time.Since(startTime).String(),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in processSinglePageTask")
		}
		c.recordOutcome(task, status, taskErr, localPath, contentHash, time.Since(startTime), taskLog)
		c.wg.Done()
	}()

	parsed, err := url.Parse(task.URL)
	if err != nil {
		status, taskErr = models.PageStatusFailed, fmt.Errorf("%w: parsing URL '%s': %w", utils.ErrParsing, task.URL, err)
		return
	}
	normalized := parse.NormalizeURL(parsed)

	if task.Depth > c.siteCfg.MaxDepth {
		status, taskErr = models.PageStatusSkipped, fmt.Errorf("%w: depth %d > %d", utils.ErrMaxDepthExceeded, task.Depth, c.siteCfg.MaxDepth)
		return
	}

	if !c.markVisited(normalized) {
		taskLog.Debug("Already visited, discarding task")
		return
	}
	c.processedCounter.Add(1)
	c.bumpStats(func(s *models.CrawlStats) { s.Visited++ })

	if err := c.scope.Check(parsed); err != nil {
		status, taskErr = models.PageStatusSkipped, err
		return
	}
	if c.robots != nil && !c.robots.Allowed(taskCtx, parsed, c.userAgent) {
		status, taskErr = models.PageStatusSkipped, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, parsed.RequestURI())
		return
	}

	localPath = parse.LocalPagePath(parsed)
	fullPath := filepath.Join(c.siteOutputDir, filepath.FromSlash(localPath))
	needsDownload := c.forceDownload || c.freshness.ShouldUpdate(taskCtx, task.URL, fullPath)
	if needsDownload && c.limitReached() {
		status, taskErr = models.PageStatusSkipped, utils.ErrMaxFilesReached
		return
	}

	page, err := c.fetchPage(taskCtx, task.URL, taskLog)
	if err != nil {
		status, taskErr = models.PageStatusFailed, err
		c.state.AddFailed()
		return
	}

	// A redirect is only followed into a page that is itself in scope and not yet visited
	if page.FinalURL != "" && page.FinalURL != task.URL {
		finalNorm, finalParsed, perr := parse.ParseAndNormalize(page.FinalURL)
		if perr == nil && finalNorm != normalized {
			taskLog = taskLog.WithField("final_url", finalNorm)
			if err := c.scope.Check(finalParsed); err != nil {
				status, taskErr = models.PageStatusSkipped, fmt.Errorf("redirected: %w", err)
				return
			}
			if !c.markVisited(finalNorm) {
				status, taskErr = models.PageStatusSkipped, fmt.Errorf("%w: redirect target %s", utils.ErrAlreadyVisited, finalNorm)
				return
			}
			taskLog.Info("URL redirected.")
			normalized, parsed = finalNorm, finalParsed
			localPath = parse.LocalPagePath(parsed)
			fullPath = filepath.Join(c.siteOutputDir, filepath.FromSlash(localPath))
		}
	}

	if !page.Rendered && !isHTMLContentType(page.ContentType) {
		// Linked documents (PDFs, archives) are mirrored as files rather than pages
		c.downloadAssets(taskCtx, c.claimResources([]string{normalized}), taskLog)
		status, taskErr = models.PageStatusSkipped, fmt.Errorf("%w: %s", utils.ErrNotHTML, page.ContentType)
		localPath = ""
		return
	}

	c.plugins.PageCrawled(taskCtx, normalized, page.Body)

	if needsDownload {
		if !c.storePage(normalized, page.Body, task.Depth) {
			status, taskErr = models.PageStatusSkipped, utils.ErrMaxFilesReached
			localPath = ""
			return
		}
		c.state.AddDownloaded(fullPath)
		contentHash = utils.CalculateBytesSHA256(page.Body)
		status = models.PageStatusCached
		taskLog.Info("Page cached")
	} else {
		status = models.PageStatusUnchanged
		taskLog.Info("Local copy is up to date, page used for link extraction only")
	}

	if c.appCfg.ResumeEnabled() && c.state.ShouldSave(c.appCfg.Resume.SaveInterval) {
		if err := c.state.Save(); err != nil {
			taskLog.Warnf("Checkpoint failed: %v", err)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		taskLog.Warnf("%v: parsing HTML: %v", utils.ErrParsing, err)
		return
	}
	base := documentBase(doc, parsed)

	// Assets of a page are downloaded before its children are queued
	c.downloadAssets(taskCtx, c.claimResources(c.collectAssets(doc, base)), taskLog)

	children := c.collectChildren(doc, base, task.Depth)
	for i := len(children) - 1; i >= 0; i-- {
		if c.limitReached() {
			break
		}
		c.enqueue(models.CrawlTask{URL: children[i], Depth: task.Depth + 1})
	}
	if len(children) > 0 {
		taskLog.Debugf("Queued %d child link(s)", len(children))
	}
}

// fetchPage acquires a global request slot and fetches the page
func (c *Crawler) fetchPage(ctx context.Context, rawURL string, taskLog *logrus.Entry) (*models.FetchedPage, error) {
	semCtx, cancel := context.WithTimeout(ctx, c.appCfg.SemaphoreAcquireTimeout)
	defer cancel()
	if err := c.globalSemaphore.Acquire(semCtx, 1); err != nil {
		return nil, fmt.Errorf("%w: acquire global semaphore: %w", utils.ErrSemaphoreTimeout, err)
	}
	defer c.globalSemaphore.Release(1)

	taskLog.Debug("Fetching page")
	page, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, fmt.Errorf("%w: fetcher returned no page", utils.ErrNoResult)
	}
	return page, nil
}

// recordOutcome updates stats, metrics and the ledger for a finished task
func (c *Crawler) recordOutcome(task models.CrawlTask, status models.PageStatus, taskErr error, localPath, contentHash string, elapsed time.Duration, taskLog *logrus.Entry) {
	if status == models.PageStatusUnset {
		return
	}

	logFields := logrus.Fields{"duration": elapsed.String(), "status": status.String()}
	errorType := ""
	if taskErr != nil {
		errorType = utils.CategorizeError(taskErr)
		logFields["category"] = errorType
	}

	switch status {
	case models.PageStatusCached:
		c.bumpStats(func(s *models.CrawlStats) { s.Cached++ })
	case models.PageStatusUnchanged:
		c.bumpStats(func(s *models.CrawlStats) { s.Unchanged++ })
	case models.PageStatusSkipped:
		c.bumpStats(func(s *models.CrawlStats) { s.Skipped++ })
		taskLog.WithFields(logFields).Infof("Task skipped: %v", taskErr)
	case models.PageStatusFailed:
		c.bumpStats(func(s *models.CrawlStats) { s.Failed++ })
		taskLog.WithFields(logFields).Warnf("Task failed: %v", taskErr)
	}
	c.metrics.PageProcessed(c.siteKey, string(status))

	if c.ledger == nil {
		return
	}
	now := time.Now()
	entry := &models.PageDBEntry{
		Status:      status,
		ErrorType:   errorType,
		Depth:       task.Depth,
		LastAttempt: now,
	}
	if status == models.PageStatusCached || status == models.PageStatusUnchanged {
		entry.LocalPath = localPath
	}
	if status == models.PageStatusCached {
		entry.ContentHash = contentHash
		entry.ProcessedAt = now
	}
	if err := c.ledger.RecordPage(task.URL, entry); err != nil {
		taskLog.Errorf("Failed to record page status '%s' in ledger: %v", status, err)
	}
}

func (c *Crawler) bumpStats(fn func(s *models.CrawlStats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}

// documentBase honours a <base href> element when resolving the page's references
func documentBase(doc *goquery.Document, pageURL *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return pageURL
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return pageURL
	}
	return pageURL.ResolveReference(ref)
}

// link rel values that point at other documents rather than page resources
var nonResourceRels = map[string]bool{"canonical": true, "alternate": true, "next": true, "prev": true}

// collectAssets returns the in-scope static resource URLs referenced by the page, in document order
func (c *Crawler) collectAssets(doc *goquery.Document, base *url.URL) []string {
	var assets []string
	seen := make(map[string]bool)
	doc.Find("img[src], script[src], link[href], source[src]").Each(func(_ int, s *goquery.Selection) {
		attr := "src"
		if goquery.NodeName(s) == "link" {
			attr = "href"
			for _, rel := range strings.Fields(strings.ToLower(s.AttrOr("rel", ""))) {
				if nonResourceRels[rel] {
					return
				}
			}
		}
		normalized, abs, ok := parse.ResolveReference(base, s.AttrOr(attr, ""))
		if !ok || seen[normalized] {
			return
		}
		if c.scope.Check(abs) != nil {
			return
		}
		seen[normalized] = true
		assets = append(assets, normalized)
	})
	return assets
}

// claimResources adds urls to the run-wide static resource set and returns the ones
// that were not already present
func (c *Crawler) claimResources(urls []string) []string {
	c.resourcesMu.Lock()
	defer c.resourcesMu.Unlock()
	var fresh []string
	for _, u := range urls {
		if _, ok := c.resources[u]; ok {
			continue
		}
		c.resources[u] = struct{}{}
		fresh = append(fresh, u)
	}
	return fresh
}

// downloadAssets runs one downloader batch and folds the outcomes into the crawl stats
func (c *Crawler) downloadAssets(ctx context.Context, urls []string, taskLog *logrus.Entry) {
	if len(urls) == 0 {
		return
	}
	taskLog.Debugf("Downloading %d static resource(s)", len(urls))
	results := c.downloader.DownloadBatch(ctx, urls, c.siteOutputDir)
	c.bumpStats(func(s *models.CrawlStats) {
		for _, r := range results {
			switch r.Status {
			case models.AssetStatusDownloaded:
				s.AssetsDownloaded++
			case models.AssetStatusUnchanged:
				s.AssetsUnchanged++
			case models.AssetStatusSkipped:
				s.AssetsSkipped++
			default:
				s.AssetsFailed++
			}
		}
	})
}

// collectChildren returns the unvisited in-scope page links of the document, in document order
func (c *Crawler) collectChildren(doc *goquery.Document, base *url.URL, depth int) []string {
	if depth >= c.siteCfg.MaxDepth {
		return nil
	}
	var children []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		normalized, abs, ok := parse.ResolveReference(base, s.AttrOr("href", ""))
		if !ok || seen[normalized] {
			return
		}
		seen[normalized] = true
		if c.scope.Check(abs) != nil || c.isVisited(normalized) {
			return
		}
		children = append(children, normalized)
	})
	return children
}

func isHTMLContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// buildResult snapshots the crawl state for the save phase
func (c *Crawler) buildResult(startTime time.Time, cancelled bool) *models.CrawlResult {
	result := &models.CrawlResult{
		SiteKey:         c.siteKey,
		TargetURL:       c.seedURL,
		OutputDir:       c.siteOutputDir,
		StartTime:       startTime,
		EndTime:         time.Now(),
		Cancelled:       cancelled,
		StaticResources: make(map[string]struct{}),
	}

	c.pagesMu.Lock()
	result.Pages = make(map[string][]byte, len(c.pages))
	result.Depths = make(map[string]int, len(c.depths))
	for u, body := range c.pages {
		result.Pages[u] = body
	}
	for u, d := range c.depths {
		result.Depths[u] = d
	}
	c.pagesMu.Unlock()

	c.resourcesMu.Lock()
	for u := range c.resources {
		result.StaticResources[u] = struct{}{}
	}
	c.resourcesMu.Unlock()

	c.visitedMu.Lock()
	result.Visited = make([]string, 0, len(c.visited))
	for u := range c.visited {
		result.Visited = append(result.Visited, u)
	}
	c.visitedMu.Unlock()
	sort.Strings(result.Visited)

	c.statsMu.Lock()
	result.Stats = c.stats
	c.statsMu.Unlock()
	return result
}

// finish runs the save lifecycle of the enabled plugins and writes the run manifest
func (c *Crawler) finish(ctx context.Context, result *models.CrawlResult) {
	runID := c.output.RunID()
	c.plugins.CrawlEnd(ctx, result)
	c.plugins.SaveStart(ctx, plugin.SaveMetadata{
		RunID:     runID,
		SiteKey:   c.siteKey,
		TargetURL: c.seedURL,
		OutputDir: c.siteOutputDir,
		Pages:     len(result.Pages),
		Assets:    len(result.StaticResources),
	})
	saved := c.plugins.SaveSite(ctx, result)
	c.plugins.SaveEnd(ctx, saved)

	if err := c.output.Write(result, saved); err != nil {
		c.log.Errorf("Failed to write run manifest: %v", err)
	}
}
