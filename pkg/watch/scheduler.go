package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/metrics"
	"github.com/Sriram-PR/site-mirror/pkg/orchestrate"
)

// Runner mirrors a batch of sites and reports one result per site
type Runner func(ctx context.Context, siteKeys []string) []orchestrate.SiteResult

// OrchestratorRunner returns a Runner that mirrors due sites with a fresh (non-resume)
// orchestrator run. Re-runs stay incremental through the freshness check.
func OrchestratorRunner(appCfg *config.AppConfig, m *metrics.Recorder, log *logrus.Entry) Runner {
	return func(ctx context.Context, siteKeys []string) []orchestrate.SiteResult {
		orch, err := orchestrate.NewOrchestrator(appCfg, siteKeys, orchestrate.Options{Metrics: m}, log)
		if err != nil {
			results := make([]orchestrate.SiteResult, 0, len(siteKeys))
			for _, key := range siteKeys {
				results = append(results, orchestrate.SiteResult{SiteKey: key, Error: err})
			}
			return results
		}
		return orch.Run(ctx)
	}
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithTickInterval overrides how often the scheduler looks for due sites
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// Scheduler re-mirrors sites whenever their interval has elapsed
type Scheduler struct {
	siteKeys     []string
	interval     time.Duration
	tickInterval time.Duration
	run          Runner
	log          *logrus.Entry
	stateManager *StateManager

	busy atomic.Bool // A batch is in flight
	wg   sync.WaitGroup
}

// NewScheduler creates a watch scheduler whose schedule is persisted in stateDir
func NewScheduler(stateDir string, siteKeys []string, interval time.Duration, run Runner, log *logrus.Entry, opts ...Option) *Scheduler {
	s := &Scheduler{
		siteKeys:     siteKeys,
		interval:     interval,
		run:          run,
		log:          log.WithField("component", "watch"),
		stateManager: NewStateManager(stateDir),
	}
	s.tickInterval = s.calculateTickInterval()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the scheduler and blocks until ctx is cancelled and the running batch,
// if any, has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %d sites with interval %s", len(s.siteKeys), FormatInterval(s.interval))
	s.logSchedule()

	s.runDueSites(ctx)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.runDueSites(ctx)
		}
	}
}

// runDueSites starts a batch for the due sites unless one is still running
func (s *Scheduler) runDueSites(ctx context.Context) {
	dueSites := s.getDueSites()
	if len(dueSites) == 0 {
		s.logNextRun()
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Debugf("Previous batch still running, deferring %v", dueSites)
		return
	}

	s.log.Infof("Mirroring %d due sites: %v", len(dueSites), dueSites)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)

		results := s.run(ctx, dueSites)
		for _, result := range results {
			if result.Cancelled {
				// An interrupted run does not count; the site stays due
				continue
			}
			s.stateManager.RecordRun(result.SiteKey, RunOutcome{
				Success:        result.Success,
				PagesProcessed: result.PagesProcessed,
				Stats:          result.Stats,
				Duration:       result.Duration,
				Err:            result.Error,
			})
		}

		if err := s.stateManager.Save(); err != nil {
			s.log.Errorf("Failed to save watch state: %v", err)
		}
		s.logNextRun()
	}()
}

func (s *Scheduler) getDueSites() []string {
	var due []string
	for _, siteKey := range s.siteKeys {
		if s.stateManager.ShouldRun(siteKey, s.interval) {
			due = append(due, siteKey)
		}
	}
	return due
}

// calculateTickInterval checks every tenth of the interval, clamped to [1m, 10m]
func (s *Scheduler) calculateTickInterval() time.Duration {
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, siteKey := range s.siteKeys {
		state, exists := s.stateManager.GetSiteState(siteKey)
		if !exists {
			s.log.Infof("  %s: never run, will run immediately", siteKey)
			continue
		}
		status := "success"
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s: last run %s (%s, %d cached, %d unchanged), next run %s",
			siteKey,
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.LastStats.Cached,
			state.LastStats.Unchanged,
			s.stateManager.GetNextRunTime(siteKey, s.interval).Format(time.RFC3339))
	}
}

func (s *Scheduler) logNextRun() {
	status := s.GetStatus()
	if len(status) == 0 {
		return
	}
	next := status[0]
	until := max(time.Until(next.NextRunTime), 0)
	s.log.Infof("Next mirror: %s in %v (at %s)", next.SiteKey, until.Round(time.Second), next.NextRunTime.Format("15:04:05"))
}

// SiteStatus contains the status of a watched site
type SiteStatus struct {
	SiteKey        string
	LastRunTime    time.Time
	LastRunSuccess bool
	PagesProcessed int64
	ErrorMessage   string
	NextRunTime    time.Time
	NeverRun       bool
}

// GetStatus returns the status of all watched sites, soonest next run first
func (s *Scheduler) GetStatus() []SiteStatus {
	status := make([]SiteStatus, 0, len(s.siteKeys))
	for _, siteKey := range s.siteKeys {
		state, exists := s.stateManager.GetSiteState(siteKey)
		status = append(status, SiteStatus{
			SiteKey:        siteKey,
			LastRunTime:    state.LastRunTime,
			LastRunSuccess: state.LastRunSuccess,
			PagesProcessed: state.PagesProcessed,
			ErrorMessage:   state.ErrorMessage,
			NextRunTime:    s.stateManager.GetNextRunTime(siteKey, s.interval),
			NeverRun:       !exists,
		})
	}
	sort.SliceStable(status, func(i, j int) bool {
		return status[i].NextRunTime.Before(status[j].NextRunTime)
	})
	return status
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string, accepting a leading day count ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 && days > 0 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
