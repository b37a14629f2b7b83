package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/metrics"
)

const (
	serverName    = "site-mirror"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig // Must be validated
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	Metrics    *metrics.Recorder // Optional
}

// Server exposes mirror jobs and their results as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	jobs       sync.WaitGroup // Background mirror goroutines
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("list_sites",
				mcp.WithDescription("List all configured sites with their limits and last mirror time"),
			),
			Handler: s.handleListSites,
		},
		{
			Tool: mcp.NewTool("mirror_site",
				mcp.WithDescription("Start mirroring a configured site in the background. Returns immediately with a job ID."),
				mcp.WithString("site_key",
					mcp.Required(),
					mcp.Description("Site key from the config file"),
				),
				mcp.WithBoolean("resume",
					mcp.Description("Continue from the persisted crawl state instead of starting fresh"),
				),
			),
			Handler: s.handleMirrorSite,
		},
		{
			Tool: mcp.NewTool("get_job_status",
				mcp.WithDescription("Get the status and progress of a mirror job"),
				mcp.WithString("job_id",
					mcp.Required(),
					mcp.Description("The job ID returned by mirror_site"),
				),
			),
			Handler: s.handleGetJobStatus,
		},
		{
			Tool: mcp.NewTool("cancel_job",
				mcp.WithDescription("Cancel a running mirror job. Pages gathered so far are still saved."),
				mcp.WithString("job_id",
					mcp.Required(),
					mcp.Description("The job ID returned by mirror_site"),
				),
			),
			Handler: s.handleCancelJob,
		},
		{
			Tool: mcp.NewTool("list_pages",
				mcp.WithDescription("List the pages recorded in a site's ledger with their status"),
				mcp.WithString("site_key",
					mcp.Required(),
					mcp.Description("Site key from the config file"),
				),
				mcp.WithString("status",
					mcp.Description("Only return pages with this status (cached, unchanged, skipped, failed)"),
				),
				mcp.WithNumber("max_results",
					mcp.Description("Maximum number of pages to return (default: 100, max: 1000)"),
				),
			),
			Handler: s.handleListPages,
		},
		{
			Tool: mcp.NewTool("search_pages",
				mcp.WithDescription("Search the markdown export of mirrored sites (case-insensitive substring match)"),
				mcp.WithString("query",
					mcp.Required(),
					mcp.Description("Search query"),
				),
				mcp.WithString("site_key",
					mcp.Description("Limit search to one site (optional)"),
				),
				mcp.WithNumber("max_results",
					mcp.Description("Maximum number of results to return (default: 10, max: 100)"),
				),
			),
			Handler: s.handleSearchPages,
		},
	}
	s.mcpServer.AddTools(tools...)
	s.log.Infof("Registered %d MCP tools", len(tools))
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio", "":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and waits for them to save what they gathered
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for mirror jobs: %w", ctx.Err())
	}
}
