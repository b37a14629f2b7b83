package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/orchestrate"
)

// JobStatus represents the current state of a mirror job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the job can no longer change state
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job represents a background mirror job
type Job struct {
	ID             string             `json:"id"`
	SiteKey        string             `json:"site_key"`
	Status         JobStatus          `json:"status"`
	Resume         bool               `json:"resume"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    time.Time          `json:"completed_at,omitempty"`
	PagesProcessed int64              `json:"pages_processed"`
	PagesCached    int                `json:"pages_cached"`
	PagesQueued    int                `json:"pages_queued"`
	Stats          *models.CrawlStats `json:"stats,omitempty"` // Set once the job has finished
	OutputDir      string             `json:"output_dir,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager tracks background mirror jobs. At most one job per site is active.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	bysite map[string]string // siteKey -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		bysite: make(map[string]string),
	}
}

// CreateJob creates a pending job for a site. If the site already has an active job,
// that job is returned with created=false.
func (m *JobManager) CreateJob(siteKey string, resume bool) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, exists := m.bysite[siteKey]; exists {
		if existing := m.jobs[existingID]; existing != nil && !existing.Status.IsTerminal() {
			return existing.clone(), false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        uuid.New().String(),
		SiteKey:   siteKey,
		Status:    JobStatusPending,
		Resume:    resume,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[j.ID] = j
	m.bysite[siteKey] = j.ID
	return j.clone(), true
}

func (j *Job) clone() *Job {
	c := *j
	if j.Stats != nil {
		stats := *j.Stats
		c.Stats = &stats
	}
	return &c
}

// GetJob returns a snapshot of a job, or nil if it does not exist
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.clone()
	}
	return nil
}

// GetJobBySite returns a snapshot of the active job for a site, or nil
func (m *JobManager) GetJobBySite(siteKey string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if jobID, exists := m.bysite[siteKey]; exists {
		if job := m.jobs[jobID]; job != nil {
			return job.clone()
		}
	}
	return nil
}

// IsRunning reports whether a site has an active job
func (m *JobManager) IsRunning(siteKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if jobID, exists := m.bysite[siteKey]; exists {
		job := m.jobs[jobID]
		return job != nil && !job.Status.IsTerminal()
	}
	return false
}

// UpdateStatus moves a job to status. Terminal jobs are never changed.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists || job.Status.IsTerminal() {
		return
	}
	job.Status = status
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
	if status.IsTerminal() {
		m.finishLocked(job)
	}
}

// UpdateProgress updates the progress counters of a job
func (m *JobManager) UpdateProgress(jobID string, processed int64, cached, queued int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		job.PagesProcessed = processed
		job.PagesCached = cached
		job.PagesQueued = queued
	}
}

// Complete records the result of a finished site run. A job that was cancelled keeps
// its cancelled status but still receives the final stats.
func (m *JobManager) Complete(jobID string, result orchestrate.SiteResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return
	}
	stats := result.Stats
	job.Stats = &stats
	job.PagesProcessed = result.PagesProcessed
	job.PagesCached = result.Stats.Cached
	job.PagesQueued = 0
	job.OutputDir = result.OutputDir
	if job.Status.IsTerminal() {
		return
	}

	switch {
	case result.Cancelled:
		job.Status = JobStatusCancelled
	case result.Error != nil:
		job.Status = JobStatusFailed
		job.ErrorMessage = result.Error.Error()
	default:
		job.Status = JobStatusCompleted
	}
	m.finishLocked(job)
}

func (m *JobManager) finishLocked(job *Job) {
	job.CompletedAt = time.Now()
	job.cancel()
	if m.bysite[job.SiteKey] == job.ID {
		delete(m.bysite, job.SiteKey)
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists || job.Status.IsTerminal() {
		return false
	}
	job.Status = JobStatusCancelled
	m.finishLocked(job)
	return true
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if !job.Status.IsTerminal() {
			job.Status = JobStatusCancelled
			m.finishLocked(job)
		}
	}
}

// ListJobs returns snapshots of all jobs, most recent first
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.clone())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs
}

// GetContext returns the context a job runs under
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}
