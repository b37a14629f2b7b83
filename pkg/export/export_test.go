package export

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/models"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

// --- Tokenizer ---

func TestTokenizer_Count(t *testing.T) {
	tok, err := NewTokenizer("cl100k_base")
	require.NoError(t, err)

	count := tok.Count("Hello, world!")
	assert.Positive(t, count)
	assert.LessOrEqual(t, count, 10)
	assert.Equal(t, 0, tok.Count(""))
}

func TestTokenizer_UnknownEncodingFallsBack(t *testing.T) {
	tok, err := NewTokenizer("no-such-encoding")
	require.NoError(t, err)
	assert.Positive(t, tok.Count("fallback works"))
}

func TestTokenizer_NilCountsRunes(t *testing.T) {
	var tok *Tokenizer
	assert.Equal(t, -1, tok.Count("abc"))
	assert.Equal(t, 4, tok.lengthFunc()("äbcd"))
}

// --- Headings ---

func TestExtractHeadings(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     []string
	}{
		{"Levels", "# Main\n\ntext\n\n## One\n\n### Sub\n\n## Two\n", []string{"Main", "One", "Sub", "Two"}},
		{"InlineMarkup", "# The `Run` *method*\n", []string{"The Run method"}},
		{"Setext", "Title\n=====\n", []string{"Title"}},
		{"None", "plain text only", nil},
		{"Empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractHeadings([]byte(tt.markdown)))
		})
	}
}

// --- Chunker ---

func TestChunkMarkdown_Empty(t *testing.T) {
	chunks, err := ChunkMarkdown("  \n", ChunkerConfig{MaxChunkSize: 100}, func(s string) int { return len(s) })
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkMarkdown_SmallDocumentIsOneChunk(t *testing.T) {
	tok, err := NewTokenizer("")
	require.NoError(t, err)

	chunks, err := ChunkMarkdown("# Hello\n\nThis is a small document.", ChunkerConfig{MaxChunkSize: 512, ChunkOverlap: 50}, tok.lengthFunc())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "Hello")
	assert.Positive(t, chunks[0].Length)
}

func TestChunkMarkdown_SplitsLargeDocument(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("# Guide\n\n")
	for i := 0; i < 6; i++ {
		sb.WriteString("## Section\n\n")
		sb.WriteString(strings.Repeat("Lorem ipsum dolor sit amet. ", 20))
		sb.WriteString("\n\n")
	}

	chunks, err := ChunkMarkdown(sb.String(), ChunkerConfig{MaxChunkSize: 200, ChunkOverlap: 20}, func(s string) int { return len(s) })
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)

	withHeadings := 0
	for _, c := range chunks {
		if len(c.HeadingHierarchy) > 0 {
			withHeadings++
		}
	}
	assert.Positive(t, withHeadings)
}

// --- Converter ---

func TestConverter_Convert(t *testing.T) {
	page := `<html><head><title> Install </title></head><body>
<nav><a href="/docs/">nav</a></nav>
<main>
<h1>Install<a class="headerlink" href="#install">¶</a></h1>
<p>See <a href="usage.html#flags">usage</a> and <a href="https://other.org/">elsewhere</a>.</p>
<img src="img/a.png" alt="diagram">
<script>alert(1)</script>
</main></body></html>`

	c := NewConverter("main")
	doc, err := c.Convert(mustParse(t, "https://example.com/docs/install.html"), []byte(page), func(target string) (string, bool) {
		if target == "https://example.com/docs/usage.html" {
			return "usage.md", true
		}
		return "", false
	})
	require.NoError(t, err)

	assert.Equal(t, "Install", doc.Title)
	assert.Contains(t, doc.Markdown, "# Install")
	assert.NotContains(t, doc.Markdown, "¶")
	assert.NotContains(t, doc.Markdown, "alert")
	assert.NotContains(t, doc.Markdown, "nav")
	assert.Contains(t, doc.Markdown, "(usage.md#flags)")
	assert.Contains(t, doc.Markdown, "(https://other.org/)")
	assert.Contains(t, doc.Markdown, "https://example.com/docs/img/a.png")
	assert.Equal(t, []string{"https://example.com/docs/usage.html", "https://other.org/"}, doc.Links)
}

func TestConverter_FallsBackToBody(t *testing.T) {
	doc, err := NewConverter("article.missing").Convert(mustParse(t, "https://example.com/"), []byte(`<html><body><p>Body text</p></body></html>`), nil)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "Body text")
	assert.Equal(t, "Untitled Page", doc.Title)
}

func TestDetectFramework(t *testing.T) {
	tests := []struct {
		name string
		html string
		want Framework
	}{
		{"docusaurus attribute", `<html data-docusaurus><body><article class="theme-doc-markdown">x</article></body></html>`, FrameworkDocusaurus},
		{"mkdocs component", `<html><body><div data-md-component="content">x</div></body></html>`, FrameworkMkDocs},
		{"readthedocs class", `<html><body><div class="rst-content">x</div></body></html>`, FrameworkReadTheDocs},
		{"sphinx script", `<html><head><script src="_static/documentation_options.js"></script></head><body>x</body></html>`, FrameworkSphinx},
		{"sphinx generator", `<html><head><meta name="generator" content="Sphinx 7.2"></head><body>x</body></html>`, FrameworkSphinx},
		{"gitbook class prefix", `<html><body><div class="book gitbook-root">x</div></body></html>`, FrameworkGitBook},
		{"plain page", `<html><body><main>x</main></body></html>`, FrameworkUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			fw, sel := DetectFramework(doc)
			assert.Equal(t, tt.want, fw)
			assert.NotEmpty(t, sel)
		})
	}
}

func TestConverter_AutoSelector(t *testing.T) {
	page := `<html><head><title>Guide</title></head><body data-md-color-scheme="default">
<nav class="md-nav">Sidebar entry</nav>
<div class="md-content"><article class="md-content__inner"><h1>Guide</h1><p>Main text</p></article></div>
</body></html>`

	c := NewConverter("auto")
	doc, err := c.Convert(mustParse(t, "https://example.com/guide/"), []byte(page), nil)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "Main text")
	assert.NotContains(t, doc.Markdown, "Sidebar entry")

	// The detected selector sticks to the host.
	doc, err = c.Convert(mustParse(t, "https://example.com/other/"), []byte(`<html><body><p>Outside</p><article class="md-content__inner">Inside</article></body></html>`), nil)
	require.NoError(t, err)
	assert.Contains(t, doc.Markdown, "Inside")
	assert.NotContains(t, doc.Markdown, "Outside")
}

func TestMarkdownPath(t *testing.T) {
	assert.Equal(t, "_markdown/docs/index.md", MarkdownPath("docs/index.html"))
	assert.Equal(t, "_markdown/docs/a/b.md", MarkdownPath("docs/a/b.htm"))
	assert.Equal(t, "_markdown/docs/readme.md", MarkdownPath("docs/readme"))
}

// --- Plugin ---

func readJSONL[T any](t *testing.T, path string) []T {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var v T
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &v))
		out = append(out, v)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestPlugin_SaveSite(t *testing.T) {
	outDir := t.TempDir()
	result := &models.CrawlResult{
		TargetURL: "https://example.com/docs/",
		OutputDir: outDir,
		Pages: map[string][]byte{
			"https://example.com/docs/":            []byte(`<html><head><title>Home</title></head><body><h1>Home</h1><a href="guide/setup">setup</a></body></html>`),
			"https://example.com/docs/guide/setup": []byte(`<html><head><title>Setup</title></head><body><h1>Setup</h1><h2>Steps</h2><p>Run it. <a href="../">home</a></p></body></html>`),
		},
		Depths: map[string]int{"https://example.com/docs/": 0, "https://example.com/docs/guide/setup": 1},
	}

	cfg := config.MarkdownConfig{ContentSelector: "body", ChunkSize: 1000, ChunkOverlap: 100, TokenizerEncoding: "cl100k_base"}
	p := New(cfg, testLogger())
	assert.Equal(t, Name, p.Name())
	require.NoError(t, p.Init(context.Background()))

	saved, err := p.SaveSite(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, []models.SavedFile{
		{URL: "https://example.com/docs/", LocalPath: "_markdown/docs/index.md"},
		{URL: "https://example.com/docs/guide/setup", LocalPath: "_markdown/docs/guide/setup.md"},
	}, saved)

	home, err := os.ReadFile(filepath.Join(outDir, "_markdown", "docs", "index.md"))
	require.NoError(t, err)
	assert.Contains(t, string(home), "(guide/setup.md)")

	setup, err := os.ReadFile(filepath.Join(outDir, "_markdown", "docs", "guide", "setup.md"))
	require.NoError(t, err)
	assert.Contains(t, string(setup), "(../index.md)")

	pages := readJSONL[PageRecord](t, filepath.Join(outDir, DirName, PagesFileName))
	require.Len(t, pages, 2)
	assert.Equal(t, "Setup", pages[1].Title)
	assert.Equal(t, 1, pages[1].Depth)
	assert.Equal(t, []string{"Setup", "Steps"}, pages[1].Headings)
	assert.Positive(t, pages[1].TokenCount)
	assert.GreaterOrEqual(t, pages[1].ChunkCount, 1)
	assert.Len(t, pages[1].ContentHash, 64)

	chunks := readJSONL[ChunkRecord](t, filepath.Join(outDir, DirName, ChunksFileName))
	assert.Len(t, chunks, pages[0].ChunkCount+pages[1].ChunkCount)
}

func TestPlugin_SaveSiteNoPages(t *testing.T) {
	p := New(config.MarkdownConfig{}, testLogger())
	saved, err := p.SaveSite(context.Background(), &models.CrawlResult{OutputDir: t.TempDir()})
	assert.NoError(t, err)
	assert.Empty(t, saved)
}
