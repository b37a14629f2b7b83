package export

import (
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// AutoSelector makes the converter pick the content selector from the page's
// documentation framework
const AutoSelector = "auto"

// Framework identifies a documentation site generator
type Framework string

const (
	FrameworkUnknown     Framework = "unknown"
	FrameworkDocusaurus  Framework = "docusaurus"
	FrameworkMkDocs      Framework = "mkdocs"
	FrameworkReadTheDocs Framework = "readthedocs"
	FrameworkSphinx      Framework = "sphinx"
	FrameworkGitBook     Framework = "gitbook"
)

// frameworkSignature lists the markers that identify a framework and where it keeps
// the page content
type frameworkSignature struct {
	framework  Framework
	selector   string
	attributes []string // Attribute presence, e.g. "data-docusaurus"
	classes    []string // Exact class names; a trailing '*' matches a prefix
	scripts    []string // Substrings of <script src>
	generators []string // Substrings of <meta name="generator">
}

// Order matters: ReadTheDocs pages are usually Sphinx pages too.
var frameworkSignatures = []frameworkSignature{
	{
		framework:  FrameworkDocusaurus,
		selector:   "article[class*='theme-doc'], .theme-doc-markdown, article.markdown, main article",
		attributes: []string{"data-docusaurus", "data-docusaurus-root-container"},
		classes:    []string{"docusaurus-wrapper", "theme-doc-markdown"},
		generators: []string{"docusaurus"},
	},
	{
		framework:  FrameworkMkDocs,
		selector:   "article.md-content__inner, .md-content article, .md-content",
		attributes: []string{"data-md-component", "data-md-color-scheme"},
		classes:    []string{"md-content", "md-main"},
		generators: []string{"mkdocs"},
	},
	{
		framework: FrameworkReadTheDocs,
		selector:  ".rst-content, div[role='main'], .document",
		classes:   []string{"rst-content", "wy-nav-content"},
		scripts:   []string{"readthedocs"},
	},
	{
		framework:  FrameworkSphinx,
		selector:   "div.document, div.body, article.bd-article, main.bd-main",
		classes:    []string{"sphinxsidebar", "sphinx-tabs"},
		scripts:    []string{"searchindex.js", "_static/sphinx", "_static/documentation_options.js"},
		generators: []string{"sphinx"},
	},
	{
		framework:  FrameworkGitBook,
		selector:   "section.normal.markdown-section, .page-inner section, main[class*='gitbook']",
		classes:    []string{"gitbook*", "markdown-section"},
		generators: []string{"gitbook"},
	},
}

func (sig *frameworkSignature) matches(doc *goquery.Document) bool {
	for _, attr := range sig.attributes {
		if doc.Find("[" + attr + "]").Length() > 0 {
			return true
		}
	}
	for _, class := range sig.classes {
		if prefix, ok := strings.CutSuffix(class, "*"); ok {
			if doc.Find("[class*='" + prefix + "']").FilterFunction(func(_ int, s *goquery.Selection) bool {
				for _, c := range strings.Fields(s.AttrOr("class", "")) {
					if strings.HasPrefix(c, prefix) {
						return true
					}
				}
				return false
			}).Length() > 0 {
				return true
			}
		} else if doc.Find("." + class).Length() > 0 {
			return true
		}
	}
	matched := false
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := strings.ToLower(s.AttrOr("src", ""))
		for _, p := range sig.scripts {
			if strings.Contains(src, p) {
				matched = true
			}
		}
		return !matched
	})
	if matched {
		return true
	}
	generator := strings.ToLower(doc.Find("meta[name='generator']").AttrOr("content", ""))
	for _, g := range sig.generators {
		if generator != "" && strings.Contains(generator, g) {
			return true
		}
	}
	return false
}

// DetectFramework returns the first framework whose markers appear in doc, and its
// content selector. Unknown pages get "body".
func DetectFramework(doc *goquery.Document) (Framework, string) {
	for i := range frameworkSignatures {
		if frameworkSignatures[i].matches(doc) {
			return frameworkSignatures[i].framework, frameworkSignatures[i].selector
		}
	}
	return FrameworkUnknown, "body"
}

// selectorCache remembers the selector detected for each host. Pages of an unknown
// framework are not cached, so a later page can still identify the site.
type selectorCache struct {
	mu    sync.RWMutex
	hosts map[string]string
}

func newSelectorCache() *selectorCache {
	return &selectorCache{hosts: make(map[string]string)}
}

func (c *selectorCache) lookup(host string, doc *goquery.Document) string {
	c.mu.RLock()
	cached, ok := c.hosts[host]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	fw, sel := DetectFramework(doc)
	if fw != FrameworkUnknown {
		c.mu.Lock()
		c.hosts[host] = sel
		c.mu.Unlock()
	}
	return sel
}
