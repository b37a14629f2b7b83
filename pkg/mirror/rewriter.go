package mirror

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// resourceSelectors are the elements whose reference points at a static resource
var resourceSelectors = []struct {
	selector string
	attr     string
}{
	{"img[src]", "src"},
	{"script[src]", "src"},
	{"link[href]", "href"},
	{"source[src]", "src"},
}

// RewriteStats counts what happened to the references of one page
type RewriteStats struct {
	Relative  int // Pointed at a local mirror file
	Absolute  int // Same-site reference to something not mirrored
	Untouched int
}

// Rewriter turns the references of mirrored pages into links that work offline.
// Page links go to the local copy when one exists, otherwise to the absolute URL on the
// live site; resource links likewise. References to other sites are left alone.
type Rewriter struct {
	scope     *parse.Scope
	pages     map[string]struct{}
	resources map[string]struct{}
	outputDir string
	log       *logrus.Entry
}

// NewRewriter builds a Rewriter over the pages and static resources of a crawl result
func NewRewriter(result *models.CrawlResult, log *logrus.Entry) (*Rewriter, error) {
	_, seed, err := parse.ParseAndNormalize(result.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: target URL '%s': %w", utils.ErrParsing, result.TargetURL, err)
	}
	scope, err := parse.NewScope(seed, nil, nil)
	if err != nil {
		return nil, err
	}

	pages := make(map[string]struct{}, len(result.Pages))
	for u := range result.Pages {
		pages[u] = struct{}{}
	}
	resources := make(map[string]struct{}, len(result.StaticResources))
	for u := range result.StaticResources {
		resources[u] = struct{}{}
	}

	return &Rewriter{
		scope:     scope,
		pages:     pages,
		resources: resources,
		outputDir: result.OutputDir,
		log:       log,
	}, nil
}

// Rewrite returns the page HTML with its references rewritten
func (r *Rewriter) Rewrite(pageURL string, body []byte) ([]byte, RewriteStats, error) {
	var stats RewriteStats

	parsedPage, err := url.Parse(pageURL)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: page URL '%s': %w", utils.ErrParsing, pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, stats, fmt.Errorf("%w: parsing HTML of '%s': %w", utils.ErrParsing, pageURL, err)
	}

	base := parsedPage
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, perr := url.Parse(strings.TrimSpace(href)); perr == nil {
			base = parsedPage.ResolveReference(ref)
		}
	}
	// Rewritten references are relative to the page file itself
	doc.Find("base").Remove()

	fromLocal := parse.LocalPagePath(parsedPage)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		target, abs, ok := parse.ResolveReference(base, href)
		if !ok {
			stats.Untouched++
			return
		}
		local, found := r.localPage(target, abs)
		if !found {
			// Linked documents such as PDFs are mirrored as resources
			local, found = r.localResource(target, abs)
		}
		if found {
			s.SetAttr("href", withFragment(parse.RelativeLink(fromLocal, local), abs))
			stats.Relative++
			return
		}
		if r.scope.SameDomain(abs) && r.scope.InTargetDir(abs) {
			s.SetAttr("href", abs.String())
			stats.Absolute++
			return
		}
		stats.Untouched++
	})

	for _, rs := range resourceSelectors {
		doc.Find(rs.selector).Each(func(_ int, s *goquery.Selection) {
			target, abs, ok := parse.ResolveReference(base, s.AttrOr(rs.attr, ""))
			if !ok {
				stats.Untouched++
				return
			}
			if local, found := r.localResource(target, abs); found {
				s.SetAttr(rs.attr, withFragment(parse.RelativeLink(fromLocal, local), abs))
				stats.Relative++
				return
			}
			if r.scope.SameDomain(abs) {
				s.SetAttr(rs.attr, abs.String())
				stats.Absolute++
				return
			}
			stats.Untouched++
		})
	}

	html, err := doc.Html()
	if err != nil {
		return nil, stats, fmt.Errorf("rendering rewritten HTML of '%s': %w", pageURL, err)
	}
	return []byte(html), stats, nil
}

// localPage returns the mirror path of a linked page if it was cached in this run or a
// previous run left its file on disk
func (r *Rewriter) localPage(normalized string, abs *url.URL) (string, bool) {
	local := parse.LocalPagePath(abs)
	if _, ok := r.pages[normalized]; ok {
		return local, true
	}
	if r.scope.Check(abs) == nil && r.exists(local) {
		return local, true
	}
	return "", false
}

// localResource returns the mirror path of a static resource whose file was downloaded
func (r *Rewriter) localResource(normalized string, abs *url.URL) (string, bool) {
	if _, ok := r.resources[normalized]; !ok {
		return "", false
	}
	local, err := parse.LocalAssetPath(abs)
	if err != nil || !r.exists(local) {
		return "", false
	}
	return local, true
}

func (r *Rewriter) exists(local string) bool {
	info, err := os.Stat(filepath.Join(r.outputDir, filepath.FromSlash(local)))
	return err == nil && !info.IsDir()
}

func withFragment(link string, abs *url.URL) string {
	if abs.Fragment != "" {
		return link + "#" + abs.EscapedFragment()
	}
	return link
}
