package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

const (
	// Name is the name the markdown export plugin registers under
	Name = "markdown"

	DirName        = "_markdown"    // Export root inside the site output directory
	PagesFileName  = "pages.jsonl"  // One PageRecord per line
	ChunksFileName = "chunks.jsonl" // One ChunkRecord per line
)

// PageRecord describes one exported page
type PageRecord struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	File        string   `json:"file"`
	Depth       int      `json:"depth"`
	ContentHash string   `json:"content_hash"`
	Headings    []string `json:"headings,omitempty"`
	Links       []string `json:"links,omitempty"`
	TokenCount  int      `json:"token_count"` // -1 when no tokenizer is loaded
	ChunkCount  int      `json:"chunk_count"`
	ExportedAt  string   `json:"exported_at"`
}

// ChunkRecord is one chunk of an exported page
type ChunkRecord struct {
	URL              string   `json:"url"`
	ChunkIndex       int      `json:"chunk_index"`
	Content          string   `json:"content"`
	HeadingHierarchy []string `json:"heading_hierarchy,omitempty"`
	Length           int      `json:"length"`
	PageTitle        string   `json:"page_title"`
}

// Plugin exports the cached pages of a crawl as markdown, with a JSONL page index and
// retrieval-sized chunks
type Plugin struct {
	cfg       config.MarkdownConfig
	converter *Converter
	tokenizer *Tokenizer
	log       *logrus.Entry
}

// New creates the markdown export plugin. The tokenizer is loaded by Init.
func New(cfg config.MarkdownConfig, log *logrus.Entry) *Plugin {
	return &Plugin{
		cfg:       cfg,
		converter: NewConverter(cfg.ContentSelector),
		log:       log.WithField("plugin", Name),
	}
}

func (p *Plugin) Name() string { return Name }

// Init loads the tokenizer encoding
func (p *Plugin) Init(context.Context) error {
	tok, err := NewTokenizer(p.cfg.TokenizerEncoding)
	if err != nil {
		return fmt.Errorf("loading tokenizer '%s': %w", p.cfg.TokenizerEncoding, err)
	}
	p.tokenizer = tok
	return nil
}

// MarkdownPath maps a mirror page path to its export file, e.g. "docs/a.html" to
// "_markdown/docs/a.md"
func MarkdownPath(localPage string) string {
	return path.Join(DirName, strings.TrimSuffix(localPage, path.Ext(localPage))+".md")
}

// SaveSite converts every cached page and writes the markdown files, pages.jsonl and
// chunks.jsonl. Pages that fail to convert are logged and skipped.
func (p *Plugin) SaveSite(ctx context.Context, result *models.CrawlResult) ([]models.SavedFile, error) {
	if len(result.Pages) == 0 {
		return nil, nil
	}

	mdPaths := make(map[string]string, len(result.Pages))
	urls := make([]string, 0, len(result.Pages))
	for u := range result.Pages {
		parsed, err := url.Parse(u)
		if err != nil {
			continue
		}
		mdPaths[u] = MarkdownPath(parse.LocalPagePath(parsed))
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var (
		pages  []PageRecord
		chunks []ChunkRecord
		saved  []models.SavedFile
	)
	exportedAt := time.Now().UTC().Format(time.RFC3339)
	chunkCfg := ChunkerConfig{MaxChunkSize: p.cfg.ChunkSize, ChunkOverlap: p.cfg.ChunkOverlap}

	for _, pageURL := range urls {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		pageLog := p.log.WithField("url", pageURL)
		mdPath := mdPaths[pageURL]
		parsed, _ := url.Parse(pageURL)

		doc, err := p.converter.Convert(parsed, result.Pages[pageURL], func(target string) (string, bool) {
			targetPath, ok := mdPaths[target]
			if !ok {
				return "", false
			}
			return parse.RelativeLink(mdPath, targetPath), true
		})
		if err != nil {
			pageLog.Warnf("Markdown export skipped: %v", err)
			continue
		}

		if err := writeFile(filepath.Join(result.OutputDir, filepath.FromSlash(mdPath)), []byte(doc.Markdown)); err != nil {
			pageLog.Errorf("Failed to write markdown: %v", err)
			continue
		}
		saved = append(saved, models.SavedFile{URL: pageURL, LocalPath: mdPath})

		pageChunks, err := ChunkMarkdown(doc.Markdown, chunkCfg, p.tokenizer.lengthFunc())
		if err != nil {
			pageLog.Warnf("Failed to chunk markdown: %v", err)
		}
		for i, c := range pageChunks {
			chunks = append(chunks, ChunkRecord{
				URL:              pageURL,
				ChunkIndex:       i,
				Content:          c.Content,
				HeadingHierarchy: c.HeadingHierarchy,
				Length:           c.Length,
				PageTitle:        doc.Title,
			})
		}

		pages = append(pages, PageRecord{
			URL:         pageURL,
			Title:       doc.Title,
			File:        mdPath,
			Depth:       result.Depths[pageURL],
			ContentHash: utils.CalculateBytesSHA256([]byte(doc.Markdown)),
			Headings:    ExtractHeadings([]byte(doc.Markdown)),
			Links:       doc.Links,
			TokenCount:  p.tokenizer.Count(doc.Markdown),
			ChunkCount:  len(pageChunks),
			ExportedAt:  exportedAt,
		})
	}

	exportDir := filepath.Join(result.OutputDir, DirName)
	if err := writeJSONL(filepath.Join(exportDir, PagesFileName), pages); err != nil {
		return saved, err
	}
	if err := writeJSONL(filepath.Join(exportDir, ChunksFileName), chunks); err != nil {
		return saved, err
	}
	p.log.Infof("Exported %d page(s) as markdown (%d chunks) to %s", len(saved), len(chunks), exportDir)
	return saved, nil
}

func writeFile(fullPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("%w: creating directory for '%s': %w", utils.ErrFilesystem, fullPath, err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, fullPath, err)
	}
	return nil
}

func writeJSONL[T any](fullPath string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("%w: creating directory for '%s': %w", utils.ErrFilesystem, fullPath, err)
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("%w: creating '%s': %w", utils.ErrFilesystem, fullPath, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, fullPath, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flushing '%s': %w", utils.ErrFilesystem, fullPath, err)
	}
	return nil
}
