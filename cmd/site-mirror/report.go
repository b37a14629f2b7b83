package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/crawler"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
)

// runReport handles the report subcommand
func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to report on (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mirror report -site <key> [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *siteKey == "" {
		fmt.Fprintln(os.Stderr, "Error: -site is required")
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(doReport(*configFile, *siteKey, os.Stdout, os.Stderr))
}

// doReport summarises a site's ledger and its last run.
// Returns exit code (0 = success, 1 = error).
func doReport(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	siteCfg, ok := appCfg.Sites[siteKey]
	if !ok {
		fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
		return 1
	}

	dbPath := storage.LedgerPath(appCfg.StateDir, siteKey)
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "Error: site '%s' has not been mirrored yet\n", siteKey)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	ctx := context.Background()
	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, siteKey, true, quiet.WithField("site_key", siteKey))
	if err != nil {
		fmt.Fprintf(stderr, "Error: opening ledger: %v\n", err)
		return 1
	}
	defer store.Close()

	entries, err := store.ListPages(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: reading ledger: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Site: %s (%s)\n", siteKey, siteCfg.TargetURL)
	if outDir, err := crawler.SiteOutputDir(appCfg.OutputBaseDir, siteCfg.TargetURL); err == nil {
		if meta, err := crawler.ReadMetadata(outDir); err == nil {
			s := meta.Stats
			fmt.Fprintf(stdout, "Last run: %s (%s, cancelled: %t)\n",
				meta.CrawlEndTime.Format(time.RFC3339), meta.CrawlEndTime.Sub(meta.CrawlStartTime).Round(time.Millisecond), meta.Cancelled)
			fmt.Fprintf(stdout, "  Pages: %d visited, %d cached, %d unchanged, %d skipped, %d failed\n",
				s.Visited, s.Cached, s.Unchanged, s.Skipped, s.Failed)
			fmt.Fprintf(stdout, "  Files: %d downloaded, %d unchanged, %d skipped, %d failed\n",
				s.AssetsDownloaded, s.AssetsUnchanged, s.AssetsSkipped, s.AssetsFailed)
		}
	}

	counts := make(map[models.PageStatus]int)
	var failed []string
	for u, e := range entries {
		counts[e.Status]++
		if e.Status == models.PageStatusFailed {
			failed = append(failed, u)
		}
	}

	fmt.Fprintf(stdout, "\nLedger: %d pages\n", len(entries))
	statuses := make([]string, 0, len(counts))
	for st := range counts {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(stdout, "  %-10s %d\n", st, counts[models.PageStatus(st)])
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		fmt.Fprintf(stdout, "\nFailed pages:\n")
		for _, u := range failed {
			fmt.Fprintf(stdout, "  %s [%s]\n", u, entries[u].ErrorType)
		}
	}
	return 0
}
