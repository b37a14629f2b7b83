package mirror

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

const seed = "https://example.com/docs/"

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func attrOf(t *testing.T, html []byte, selector, attr string) string {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	require.NoError(t, err)
	v, ok := doc.Find(selector).First().Attr(attr)
	require.True(t, ok, "no %s[%s] in output", selector, attr)
	return v
}

func TestRewriter_Rewrite(t *testing.T) {
	outDir := t.TempDir()
	writeFile(t, outDir, "docs/img/logo.png", "PNG")
	writeFile(t, outDir, "docs/old.html", "<html></html>") // Left by an earlier run
	writeFile(t, outDir, "docs/manual.pdf", "%PDF")

	result := &models.CrawlResult{
		TargetURL: seed,
		OutputDir: outDir,
		Pages: map[string][]byte{
			"https://example.com/docs/":          nil,
			"https://example.com/docs/guide/a":  nil,
			"https://example.com/docs/guide/b/": nil,
		},
		StaticResources: map[string]struct{}{
			"https://example.com/docs/img/logo.png": {},
			"https://example.com/docs/manual.pdf":   {},
			"https://example.com/docs/missing.css":  {}, // Download failed, no file
		},
	}
	r, err := NewRewriter(result, testLogger())
	require.NoError(t, err)

	page := `<html><head>
<link id="css" rel="stylesheet" href="../missing.css">
<script id="ext" src="https://cdn.example.org/lib.js"></script>
</head><body>
<a id="sibling" href="b/#intro">b</a>
<a id="up" href="../">home</a>
<a id="old" href="/docs/old">old</a>
<a id="pdf" href="/docs/manual.pdf">pdf</a>
<a id="unmirrored" href="/docs/never.html">never</a>
<a id="outside" href="/blog/">blog</a>
<a id="external" href="https://other.org/x">x</a>
<a id="mail" href="mailto:a@example.com">mail</a>
<a id="frag" href="#top">top</a>
<img id="logo" src="/docs/img/logo.png">
<img id="remote" src="/static/banner.png">
</body></html>`

	out, stats, err := r.Rewrite("https://example.com/docs/guide/a", []byte(page))
	require.NoError(t, err)

	tests := []struct {
		selector, attr, want string
	}{
		{"#sibling", "href", "b/index.html#intro"},
		{"#up", "href", "../index.html"},
		{"#old", "href", "../old.html"},
		{"#pdf", "href", "../manual.pdf"},
		{"#unmirrored", "href", "https://example.com/docs/never.html"},
		{"#outside", "href", "/blog/"},
		{"#external", "href", "https://other.org/x"},
		{"#mail", "href", "mailto:a@example.com"},
		{"#frag", "href", "#top"},
		{"#logo", "src", "../img/logo.png"},
		{"#remote", "src", "https://example.com/static/banner.png"},
		{"#css", "href", "https://example.com/docs/missing.css"},
		{"#ext", "src", "https://cdn.example.org/lib.js"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, attrOf(t, out, tt.selector, tt.attr), "%s[%s]", tt.selector, tt.attr)
	}
	assert.Equal(t, 5, stats.Relative)
	assert.Equal(t, 3, stats.Absolute)
}

func TestRewriter_BaseHref(t *testing.T) {
	result := &models.CrawlResult{
		TargetURL: seed,
		OutputDir: t.TempDir(),
		Pages:     map[string][]byte{"https://example.com/docs/ref/x.html": nil},
	}
	r, err := NewRewriter(result, testLogger())
	require.NoError(t, err)

	page := `<html><head><base href="/docs/ref/"></head><body><a id="x" href="x.html">x</a></body></html>`
	out, _, err := r.Rewrite("https://example.com/docs/", []byte(page))
	require.NoError(t, err)

	assert.Equal(t, "ref/x.html", attrOf(t, out, "#x", "href"))
	assert.NotContains(t, string(out), "<base", "base element is dropped once links are rewritten")
}

func TestNewRewriter_InvalidTarget(t *testing.T) {
	_, err := NewRewriter(&models.CrawlResult{TargetURL: "not a url"}, testLogger())
	assert.Error(t, err)
}

func TestPlugin_SaveSite(t *testing.T) {
	outDir := t.TempDir()
	result := &models.CrawlResult{
		TargetURL: seed,
		OutputDir: outDir,
		Pages: map[string][]byte{
			"https://example.com/docs/":        []byte(`<html><body><a href="intro">intro</a></body></html>`),
			"https://example.com/docs/intro":   []byte(`<html><body><a href="./">home</a></body></html>`),
			"https://example.com/docs/a/b.htm": []byte(`<html><body>deep</body></html>`),
		},
	}

	p := New(2, testLogger())
	assert.Equal(t, Name, p.Name())

	saved, err := p.SaveSite(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, []models.SavedFile{
		{URL: "https://example.com/docs/", LocalPath: "docs/index.html"},
		{URL: "https://example.com/docs/a/b.htm", LocalPath: "docs/a/b.htm"},
		{URL: "https://example.com/docs/intro", LocalPath: "docs/intro.html"},
	}, saved)

	index, err := os.ReadFile(filepath.Join(outDir, "docs", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "intro.html", attrOf(t, index, "a", "href"))

	intro, err := os.ReadFile(filepath.Join(outDir, "docs", "intro.html"))
	require.NoError(t, err)
	assert.Equal(t, "index.html", attrOf(t, intro, "a", "href"))

	assert.FileExists(t, filepath.Join(outDir, "docs", "a", "b.htm"))
}

func TestPlugin_SaveSiteNoPages(t *testing.T) {
	saved, err := New(1, testLogger()).SaveSite(context.Background(), &models.CrawlResult{TargetURL: seed})
	assert.NoError(t, err)
	assert.Empty(t, saved)
}

func TestPlugin_SaveSiteUnwritableOutput(t *testing.T) {
	// A regular file where the output directory should be
	blocker := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	result := &models.CrawlResult{
		TargetURL: seed,
		OutputDir: blocker,
		Pages:     map[string][]byte{"https://example.com/docs/": []byte("<html></html>")},
	}
	saved, err := New(1, testLogger()).SaveSite(context.Background(), result)
	assert.Error(t, err)
	assert.Empty(t, saved)
}
