package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Stats are the running counters persisted with the crawl state
type Stats struct {
	TotalURLs       int `json:"total_urls"`
	DownloadedFiles int `json:"downloaded_files"`
	FailedURLs      int `json:"failed_urls"`
}

// document is the on-disk shape of the state file. Sets are stored as sorted arrays and
// timestamps as fractional unix seconds.
type document struct {
	VisitedURLs     []string `json:"visited_urls"`
	DownloadedFiles []string `json:"downloaded_files"`
	StartTime       float64  `json:"start_time"`
	LastSaveTime    float64  `json:"last_save_time"`
	Stats           Stats    `json:"stats"`
}

// Store is the durable record of visited URLs and downloaded file paths for one site.
// All methods are safe for concurrent use; the lock is private to the store.
type Store struct {
	path string

	mu           sync.RWMutex
	visited      map[string]struct{}
	downloaded   map[string]struct{}
	stats        Stats
	startTime    time.Time
	lastSaveTime time.Time
	now          func() time.Time
}

// NewStore creates an empty store backed by the JSON file at path
func NewStore(path string) *Store {
	s := &Store{path: path, now: time.Now}
	s.reset()
	return s
}

func (s *Store) reset() {
	now := s.now()
	s.visited = make(map[string]struct{})
	s.downloaded = make(map[string]struct{})
	s.stats = Stats{}
	s.startTime = now
	s.lastSaveTime = now
}

// Path returns the location of the state file
func (s *Store) Path() string { return s.path }

// Load reads the state file if it exists. A missing file leaves the store empty and
// returns nil. An unreadable or malformed file also leaves the store empty and returns
// an error wrapping utils.ErrStateCorrupt; callers treat that as a warning.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.reset()
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %w", utils.ErrStateCorrupt, s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.reset()
		return fmt.Errorf("%w: parse %s: %w", utils.ErrStateCorrupt, s.path, err)
	}

	s.reset()
	for _, u := range doc.VisitedURLs {
		s.visited[u] = struct{}{}
	}
	for _, p := range doc.DownloadedFiles {
		s.downloaded[p] = struct{}{}
	}
	s.stats = doc.Stats
	if doc.StartTime > 0 {
		s.startTime = fromUnixSeconds(doc.StartTime)
	}
	return nil
}

// AddVisited records url as visited. Returns false if it was already recorded.
func (s *Store) AddVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[url]; ok {
		return false
	}
	s.visited[url] = struct{}{}
	s.stats.TotalURLs++
	return true
}

// AddDownloaded records a file path written to disk
func (s *Store) AddDownloaded(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.downloaded[path]; ok {
		return
	}
	s.downloaded[path] = struct{}{}
	s.stats.DownloadedFiles++
}

// AddFailed counts a URL whose processing failed
func (s *Store) AddFailed() {
	s.mu.Lock()
	s.stats.FailedURLs++
	s.mu.Unlock()
}

// IsDownloaded reports whether path was recorded as a downloaded file
func (s *Store) IsDownloaded(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.downloaded[path]
	return ok
}

// VisitedURLs returns a sorted snapshot of the visited set
func (s *Store) VisitedURLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.visited)
}

// Stats returns a copy of the counters
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// ShouldSave reports whether more than interval has elapsed since the last checkpoint
func (s *Store) ShouldSave(interval time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().Sub(s.lastSaveTime) > interval
}

// Save writes the state atomically: the document goes to a temporary file in the same
// directory which is then renamed over the state file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	doc := document{
		VisitedURLs:     sortedKeys(s.visited),
		DownloadedFiles: sortedKeys(s.downloaded),
		StartTime:       toUnixSeconds(s.startTime),
		LastSaveTime:    toUnixSeconds(now),
		Stats:           s.stats,
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create state directory: %w", utils.ErrFilesystem, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp state file: %w", utils.ErrFilesystem, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write state file: %w", utils.ErrFilesystem, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close state file: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace state file: %w", utils.ErrFilesystem, err)
	}

	s.lastSaveTime = now
	return nil
}

// Clear empties the store and deletes the state file
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove state file: %w", utils.ErrFilesystem, err)
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}
