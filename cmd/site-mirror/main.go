package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/metrics"
	"github.com/Sriram-PR/site-mirror/pkg/orchestrate"
	"github.com/Sriram-PR/site-mirror/pkg/watch"
)

const version = "1.0.0"

// forceExitAfter bounds the graceful shutdown that follows the first signal
const forceExitAfter = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:], false)
	case "resume":
		runCrawl(os.Args[2:], true)
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("site-mirror %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `site-mirror - Polite, resumable website mirroring

Usage:
  site-mirror <command> [options]

Commands:
  crawl       Start a fresh mirror (clears persisted crawl state)
  resume      Continue an interrupted mirror from its persisted state
  watch       Re-mirror sites on a schedule
  validate    Validate configuration file
  list-sites  List available site keys
  report      Summarise the ledger of a mirrored site
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'site-mirror <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}
	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// parseSiteKeys resolves the -site/-sites/-all-sites flags. A nil result with a nil
// error means all sites.
func parseSiteKeys(siteKey, sites string, allSites bool) ([]string, error) {
	switch {
	case allSites:
		return nil, nil
	case sites != "":
		var keys []string
		for _, s := range strings.Split(sites, ",") {
			if s = strings.TrimSpace(s); s != "" {
				keys = append(keys, s)
			}
		}
		if len(keys) == 0 {
			return nil, errors.New("-sites contains no site keys")
		}
		return keys, nil
	case siteKey != "":
		return []string{siteKey}, nil
	}
	return nil, errors.New("one of -site, -sites, or -all-sites is required")
}

// resolveSiteKeys expands "all sites" and checks every key exists
func resolveSiteKeys(appCfg *config.AppConfig, keys []string) ([]string, error) {
	if keys == nil {
		keys = orchestrate.GetAllSiteKeys(appCfg)
		if len(keys) == 0 {
			return nil, errors.New("no sites configured")
		}
	}
	if err := orchestrate.ValidateSiteKeys(appCfg, keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// startMetrics serves /metrics until ctx is done. An empty addr disables it.
func startMetrics(ctx context.Context, addr string, m *metrics.Recorder, log *logrus.Logger) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr, m, log.WithField("component", "metrics")); err != nil {
			log.Errorf("Metrics server error: %v", err)
		}
	}()
}

// withSignals returns a context cancelled by the first SIGINT/SIGTERM. A second signal,
// or a shutdown that outlasts forceExitAfter, exits the process.
func withSignals(parent context.Context, log *logrus.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-ctx.Done():
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown (signal again to force exit)...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(forceExitAfter):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// runCrawl handles both crawl and resume subcommands
func runCrawl(args []string, isResume bool) {
	cmdName := "crawl"
	if isResume {
		cmdName = "resume"
	}

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys to mirror in parallel")
	allSites := fs.Bool("all-sites", false, "Mirror all configured sites in parallel")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	metricsAddr := fs.String("metrics", "", "Serve Prometheus metrics on this address (overrides metrics_addr)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mirror %s [options]\n\nOptions:\n", cmdName)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  site-mirror %s -site go_docs\n", cmdName)
		fmt.Fprintf(os.Stderr, "  site-mirror %s -sites go_docs,rust_book\n", cmdName)
		fmt.Fprintf(os.Stderr, "  site-mirror %s -all-sites\n", cmdName)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	keys, err := parseSiteKeys(*siteKey, *sites, *allSites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg, err := loadAndValidateConfig(*configFile, log)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *metricsAddr != "" {
		appCfg.MetricsAddr = *metricsAddr
	}
	startPprof(*pprofAddr, log)

	ctx, stop := withSignals(context.Background(), log)
	defer stop()

	os.Exit(doCrawl(ctx, appCfg, keys, isResume, log))
}

// doCrawl mirrors the given sites (nil = all) and returns the process exit code.
// A cancelled run exits 0: whatever was gathered has been saved.
func doCrawl(ctx context.Context, appCfg *config.AppConfig, keys []string, isResume bool, log *logrus.Logger) int {
	keys, err := resolveSiteKeys(appCfg, keys)
	if err != nil {
		log.Errorf("Invalid site keys: %v", err)
		return 1
	}

	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Setting global crawl timeout: %v", appCfg.GlobalCrawlTimeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, appCfg.GlobalCrawlTimeout)
		defer cancel()
	}

	m := metrics.NewRecorder()
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	startMetrics(metricsCtx, appCfg.MetricsAddr, m, log)

	logAppConfig(appCfg, log)
	orch, err := orchestrate.NewOrchestrator(appCfg, keys, orchestrate.Options{Resume: isResume, Metrics: m}, log.WithField("component", "mirror"))
	if err != nil {
		log.Errorf("Failed to initialize: %v", err)
		return 1
	}

	exitCode := 0
	for _, r := range orch.Run(ctx) {
		switch {
		case r.Error == nil:
		case errors.Is(r.Error, context.Canceled):
			log.Warnf("[%s] Mirror cancelled; %d pages saved to %s", r.SiteKey, r.Stats.Cached, r.OutputDir)
		case errors.Is(r.Error, context.DeadlineExceeded):
			log.Errorf("[%s] Mirror timed out (global timeout)", r.SiteKey)
			exitCode = 1
		default:
			exitCode = 1
		}
	}
	return exitCode
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mirror validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *siteKey, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	if siteKey != "" {
		siteCfg, ok := appCfg.Sites[siteKey]
		if !ok {
			fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
			return 1
		}
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", siteKey, err)
			return 1
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", siteKey, w)
		}
		fmt.Fprintf(stdout, "OK: Site '%s' configuration is valid\n", siteKey)
	} else {
		hasError := false
		for _, key := range orchestrate.GetAllSiteKeys(appCfg) {
			siteCfg := appCfg.Sites[key]
			siteWarnings, err := siteCfg.Validate()
			if err != nil {
				fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
				hasError = true
				continue
			}
			for _, w := range siteWarnings {
				fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
			}
			fmt.Fprintf(stdout, "OK: [%s]\n", key)
		}
		if hasError {
			return 1
		}
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys")
	allSites := fs.Bool("all-sites", false, "Watch all configured sites")
	interval := fs.String("interval", "24h", "Re-mirror interval (e.g., 30m, 1h, 24h, 7d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	metricsAddr := fs.String("metrics", "", "Serve Prometheus metrics on this address (overrides metrics_addr)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mirror watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  site-mirror watch -site go_docs -interval 24h\n")
		fmt.Fprintf(os.Stderr, "  site-mirror watch -all-sites -interval 6h\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	keys, err := parseSiteKeys(*siteKey, *sites, *allSites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}
	every, err := watch.ParseInterval(*interval)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg, err := loadAndValidateConfig(*configFile, log)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *metricsAddr != "" {
		appCfg.MetricsAddr = *metricsAddr
	}
	keys, err = resolveSiteKeys(appCfg, keys)
	if err != nil {
		log.Fatalf("Invalid site keys: %v", err)
	}

	ctx, stop := withSignals(context.Background(), log)
	defer stop()

	m := metrics.NewRecorder()
	startMetrics(ctx, appCfg.MetricsAddr, m, log)

	logEntry := log.WithField("component", "mirror")
	scheduler := watch.NewScheduler(appCfg.StateDir, keys, every, watch.OrchestratorRunner(appCfg, m, logEntry), logEntry)
	if err := scheduler.Run(ctx); err != nil {
		log.Fatalf("Watch scheduler error: %v", err)
	}
	log.Info("Watch mode stopped")
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mirror list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListSites(*configFile, os.Stdout, os.Stderr))
}

// doListSites lists sites and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range orchestrate.GetAllSiteKeys(appCfg) {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    Target: %s\n", site.TargetURL)
		fmt.Fprintf(stdout, "    Max depth: %d, max files: %d\n", site.MaxDepth, site.MaxFiles)
		if len(site.Exclude) > 0 {
			fmt.Fprintf(stdout, "    Exclude: %s\n", strings.Join(site.Exclude, ", "))
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, DownloadWorkers:%d, MaxReqs:%d",
		appCfg.NumWorkers, appCfg.NumDownloadWorkers, appCfg.MaxRequests)
	log.Infof("Global Config: Delay:%v (random:%t, rps:%.2f), StateDir:%s, OutputDir:%s",
		appCfg.Delay.Delay, appCfg.Delay.RandomDelay, appCfg.Delay.RequestsPerSecond, appCfg.StateDir, appCfg.OutputBaseDir)
	log.Infof("Global Config Retries: Count:%d, Delay:%v, MaxDelay:%v, Exponential:%t, Strategy:%s",
		appCfg.ErrorHandling.RetryCount, appCfg.ErrorHandling.RetryDelay, appCfg.ErrorHandling.MaxRetryDelay,
		appCfg.ErrorHandling.ExponentialBackoffEnabled(), appCfg.ErrorHandling.FailStrategy)
	log.Infof("Global Config Resume: Enabled:%t, ResetState:%t, RetryFailed:%t, SaveInterval:%v",
		appCfg.ResumeEnabled(), appCfg.Resume.ResetState, appCfg.Resume.RetryFailed, appCfg.Resume.SaveInterval)
	log.Infof("Global Config Timeouts: SemaphoreAcquire:%v, GlobalCrawl:%v, PerPage:%v",
		appCfg.SemaphoreAcquireTimeout, appCfg.GlobalCrawlTimeout, appCfg.PerPageTimeout)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
