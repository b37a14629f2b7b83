package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/site-mirror/pkg/crawler"
	"github.com/Sriram-PR/site-mirror/pkg/export"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/orchestrate"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
)

// progressInterval is how often a running job copies crawler progress into the job record
const progressInterval = time.Second

func (s *Server) handleListSites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appCfg := s.cfg.AppConfig
	keys := orchestrate.GetAllSiteKeys(appCfg)
	sites := make([]map[string]interface{}, 0, len(keys))

	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteInfo := map[string]interface{}{
			"key":        key,
			"target_url": siteCfg.TargetURL,
			"max_depth":  siteCfg.MaxDepth,
			"max_files":  siteCfg.MaxFiles,
		}

		if outDir, err := crawler.SiteOutputDir(appCfg.OutputBaseDir, siteCfg.TargetURL); err == nil {
			siteInfo["output_dir"] = outDir
			if meta, err := crawler.ReadMetadata(outDir); err == nil {
				siteInfo["last_mirrored"] = meta.CrawlEndTime.Format(time.RFC3339)
				siteInfo["last_stats"] = meta.Stats
			}
		}
		if job := s.jobManager.GetJobBySite(key); job != nil {
			siteInfo["status"] = "running"
			siteInfo["job_id"] = job.ID
		}
		sites = append(sites, siteInfo)
	}

	result := map[string]interface{}{
		"sites":       sites,
		"config_path": s.cfg.ConfigPath,
		"total_sites": len(sites),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

func (s *Server) handleMirrorSite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteKey := request.GetString("site_key", "")
	if siteKey == "" {
		return mcp.NewToolResultError("site_key parameter is required"), nil
	}
	resume := request.GetBool("resume", false)

	if err := orchestrate.ValidateSiteKeys(s.cfg.AppConfig, []string{siteKey}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, created := s.jobManager.CreateJob(siteKey, resume)
	if !created {
		result := map[string]interface{}{
			"status":   "already_running",
			"message":  "A mirror is already in progress for this site",
			"job_id":   job.ID,
			"site_key": siteKey,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	orch, err := orchestrate.NewOrchestrator(s.cfg.AppConfig, []string{siteKey}, orchestrate.Options{
		Resume:  resume,
		Metrics: s.cfg.Metrics,
	}, s.log)
	if err != nil {
		s.jobManager.UpdateStatus(job.ID, JobStatusFailed, err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("failed to start mirror: %v", err)), nil
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		s.runMirrorJob(job.ID, siteKey, orch)
	}()

	result := map[string]interface{}{
		"status":   "started",
		"message":  "Mirror started",
		"job_id":   job.ID,
		"site_key": siteKey,
		"resume":   resume,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runMirrorJob runs one site to completion, copying progress into the job record
func (s *Server) runMirrorJob(jobID, siteKey string, orch *orchestrate.Orchestrator) {
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(jobID)

	stopProgress := make(chan struct{})
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopProgress:
				return
			case <-ticker.C:
				for _, p := range orch.GetProgress() {
					s.jobManager.UpdateProgress(jobID, p.PagesProcessed, p.PagesCached, p.PagesQueued)
				}
			}
		}
	}()

	result := orch.RunSite(jobCtx, siteKey)
	close(stopProgress)
	<-progressDone

	s.jobManager.Complete(jobID, result)
	s.log.WithField("job_id", jobID).Infof("Mirror job for '%s' finished: success=%v cancelled=%v", siteKey, result.Success, result.Cancelled)
}

func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":          job.ID,
		"site_key":        job.SiteKey,
		"status":          job.Status,
		"resume":          job.Resume,
		"started_at":      job.StartedAt.Format(time.RFC3339),
		"pages_processed": job.PagesProcessed,
		"pages_cached":    job.PagesCached,
		"pages_queued":    job.PagesQueued,
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Stats != nil {
		result["stats"] = job.Stats
	}
	if job.OutputDir != "" {
		result["output_dir"] = job.OutputDir
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}
	if !s.jobManager.CancelJob(jobID) {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' is already %s", jobID, job.Status)), nil
	}

	result := map[string]interface{}{
		"job_id":   jobID,
		"site_key": job.SiteKey,
		"status":   JobStatusCancelled,
		"message":  "Cancellation requested; pages gathered so far will be saved",
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

func (s *Server) handleListPages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteKey := request.GetString("site_key", "")
	if siteKey == "" {
		return mcp.NewToolResultError("site_key parameter is required"), nil
	}
	if err := orchestrate.ValidateSiteKeys(s.cfg.AppConfig, []string{siteKey}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	statusFilter := models.PageStatus(request.GetString("status", ""))
	if statusFilter != "" && !statusFilter.IsValid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status '%s'", statusFilter)), nil
	}
	maxResults := clamp(request.GetInt("max_results", 100), 100, 1000)

	// The ledger is exclusively locked while a mirror of the site runs
	if s.jobManager.IsRunning(siteKey) {
		return mcp.NewToolResultError(fmt.Sprintf("a mirror of '%s' is in progress; try again when it finishes", siteKey)), nil
	}

	entries, err := s.readLedger(ctx, siteKey)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	urls := make([]string, 0, len(entries))
	counts := make(map[models.PageStatus]int)
	for u, e := range entries {
		counts[e.Status]++
		if statusFilter == "" || e.Status == statusFilter {
			urls = append(urls, u)
		}
	}
	sort.Strings(urls)

	pages := make([]map[string]interface{}, 0, min(len(urls), maxResults))
	for _, u := range urls[:min(len(urls), maxResults)] {
		e := entries[u]
		page := map[string]interface{}{
			"url":          u,
			"status":       e.Status,
			"depth":        e.Depth,
			"last_attempt": e.LastAttempt.Format(time.RFC3339),
		}
		if e.LocalPath != "" {
			page["local_path"] = e.LocalPath
		}
		if e.ErrorType != "" {
			page["error_type"] = e.ErrorType
		}
		pages = append(pages, page)
	}

	result := map[string]interface{}{
		"site_key":      siteKey,
		"pages":         pages,
		"total_matches": len(urls),
		"truncated":     len(urls) > maxResults,
		"status_counts": counts,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// readLedger opens the site's ledger read-write without wiping it and lists every page
func (s *Server) readLedger(ctx context.Context, siteKey string) (map[string]models.PageDBEntry, error) {
	dbPath := storage.LedgerPath(s.cfg.AppConfig.StateDir, siteKey)
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("site '%s' has not been mirrored yet", siteKey)
		}
		return nil, fmt.Errorf("checking ledger for '%s': %w", siteKey, err)
	}

	store, err := storage.NewBadgerStore(ctx, s.cfg.AppConfig.StateDir, siteKey, true, s.log)
	if err != nil {
		return nil, fmt.Errorf("opening ledger for '%s': %w", siteKey, err)
	}
	defer store.Close()
	return store.ListPages(ctx)
}

func (s *Server) handleSearchPages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	siteKey := request.GetString("site_key", "")
	maxResults := clamp(request.GetInt("max_results", 10), 10, 100)

	keys := orchestrate.GetAllSiteKeys(s.cfg.AppConfig)
	if siteKey != "" {
		if err := orchestrate.ValidateSiteKeys(s.cfg.AppConfig, []string{siteKey}); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		keys = []string{siteKey}
	}

	results := make([]map[string]interface{}, 0)
	for _, key := range keys {
		if len(results) >= maxResults {
			break
		}
		outDir, err := crawler.SiteOutputDir(s.cfg.AppConfig.OutputBaseDir, s.cfg.AppConfig.Sites[key].TargetURL)
		if err != nil {
			continue
		}
		chunksPath := filepath.Join(outDir, export.DirName, export.ChunksFileName)
		results = append(results, searchChunks(chunksPath, key, query, maxResults-len(results))...)
	}

	response := map[string]interface{}{
		"query":         query,
		"results":       results,
		"total_matches": len(results),
	}
	if siteKey != "" {
		response["site_key"] = siteKey
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// searchChunks streams a chunks.jsonl file and returns up to limit matches. Missing
// files yield no results.
func searchChunks(path, siteKey, query string, limit int) []map[string]interface{} {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var results []map[string]interface{}
	queryLower := strings.ToLower(query)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024) // up to 10MB per line
	for scanner.Scan() && len(results) < limit {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk export.ChunkRecord
		if err := parseJSONLine(line, &chunk); err != nil {
			continue
		}

		matchLocation := ""
		switch {
		case strings.Contains(strings.ToLower(chunk.PageTitle), queryLower):
			matchLocation = "title"
		case strings.Contains(strings.ToLower(chunk.Content), queryLower):
			matchLocation = "content"
		default:
			for _, heading := range chunk.HeadingHierarchy {
				if strings.Contains(strings.ToLower(heading), queryLower) {
					matchLocation = "headings"
					break
				}
			}
		}
		if matchLocation == "" {
			continue
		}
		results = append(results, map[string]interface{}{
			"url":            chunk.URL,
			"title":          chunk.PageTitle,
			"chunk_index":    chunk.ChunkIndex,
			"snippet":        extractSnippet(chunk.Content, query, 150),
			"site_key":       siteKey,
			"match_location": matchLocation,
		})
	}
	return results
}

// extractSnippet extracts a snippet around the query match, slicing on rune
// boundaries so multi-byte UTF-8 characters are never split.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	queryRunes := []rune(strings.ToLower(query))
	contentLowerRunes := []rune(strings.ToLower(content))

	idx := -1
	for i := 0; i <= len(contentLowerRunes)-len(queryRunes); i++ {
		if string(contentLowerRunes[i:i+len(queryRunes)]) == string(queryRunes) {
			idx = i
			break
		}
	}

	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := max(idx-maxLen/2, 0)
	end := min(idx+len(queryRunes)+maxLen/2, len(runes))

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}
	return snippet
}

func parseJSONLine(line string, chunk *export.ChunkRecord) error {
	return json.Unmarshal([]byte(line), chunk)
}

// clamp returns def for non-positive n and caps n at limit
func clamp(n, def, limit int) int {
	if n <= 0 {
		return def
	}
	return min(n, limit)
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
