package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

const stateFileName = "watch_state.json"

// SiteState contains the last run information for a site
type SiteState struct {
	LastRunTime    time.Time         `json:"last_run_time"`
	LastRunSuccess bool              `json:"last_run_success"`
	PagesProcessed int64             `json:"pages_processed"`
	LastStats      models.CrawlStats `json:"last_stats"`
	LastDuration   time.Duration     `json:"last_duration_ns"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Runs           int               `json:"runs"`
}

// WatchState contains the persistent state for the watch scheduler
type WatchState struct {
	Sites     map[string]SiteState `json:"sites"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// RunOutcome is what the scheduler records after mirroring a site
type RunOutcome struct {
	Success        bool
	PagesProcessed int64
	Stats          models.CrawlStats
	Duration       time.Duration
	Err            error
}

// StateManager handles persisting and loading the watch schedule
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a state manager that keeps watch_state.json in stateDir
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state: WatchState{
			Sites: make(map[string]SiteState),
		},
	}
}

// Path returns the location of the state file
func (m *StateManager) Path() string { return m.statePath }

// Load loads the state from disk. A missing file is an empty schedule.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = WatchState{Sites: make(map[string]SiteState)}
			return nil
		}
		return fmt.Errorf("%w: reading watch state: %w", utils.ErrFilesystem, err)
	}

	var loaded WatchState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("%w: parsing watch state '%s': %w", utils.ErrStateCorrupt, m.statePath, err)
	}
	if loaded.Sites == nil {
		loaded.Sites = make(map[string]SiteState)
	}
	m.state = loaded
	return nil
}

// Save writes the state to disk via a temp file and rename
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: creating state directory: %w", utils.ErrFilesystem, err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal watch state: %w", err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: writing watch state: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("%w: replacing watch state: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// GetSiteState returns the state for a specific site
func (m *StateManager) GetSiteState(siteKey string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return state, ok
}

// RecordRun stores the outcome of a run that finished now
func (m *StateManager) RecordRun(siteKey string, outcome RunOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state.Sites[siteKey]
	next := SiteState{
		LastRunTime:    time.Now(),
		LastRunSuccess: outcome.Success,
		PagesProcessed: outcome.PagesProcessed,
		LastStats:      outcome.Stats,
		LastDuration:   outcome.Duration,
		Runs:           prev.Runs + 1,
	}
	if outcome.Err != nil {
		next.ErrorMessage = outcome.Err.Error()
	}
	m.state.Sites[siteKey] = next
}

// ShouldRun reports whether at least interval has passed since the site last ran
func (m *StateManager) ShouldRun(siteKey string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return true
	}
	return time.Since(state.LastRunTime) >= interval
}

// GetNextRunTime returns when the site should next run
func (m *StateManager) GetNextRunTime(siteKey string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return time.Now()
	}
	return state.LastRunTime.Add(interval)
}

// GetAllSiteStates returns a copy of all site states
func (m *StateManager) GetAllSiteStates() map[string]SiteState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]SiteState, len(m.state.Sites))
	for k, v := range m.state.Sites {
		result[k] = v
	}
	return result
}
