package export

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Document is the markdown rendition of one page
type Document struct {
	Title    string
	Markdown string
	Links    []string // Absolute URLs of the links found in the content, in order
}

// LinkResolver maps a linked page to the href to use in the markdown output.
// ok=false keeps the absolute URL.
type LinkResolver func(normalized string) (href string, ok bool)

// Converter turns the main content of an HTML page into markdown
type Converter struct {
	selector string
	auto     *selectorCache // Set when selector is AutoSelector
	md       *md.Converter
}

// NewConverter creates a Converter that extracts the first element matching selector
// (falling back to <body>). AutoSelector detects the selector from the page.
func NewConverter(selector string) *Converter {
	if selector == "" {
		selector = "body"
	}
	c := &Converter{selector: selector, md: md.NewConverter("", true, nil)}
	if strings.EqualFold(selector, AutoSelector) {
		c.auto = newSelectorCache()
	}
	return c
}

// Convert extracts, cleans and converts the page content. Relative references are made
// absolute; links for which resolve returns a local href point there instead.
func (c *Converter) Convert(pageURL *url.URL, body []byte, resolve LinkResolver) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("%w: parsing HTML: %w", utils.ErrParsing, err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = "Untitled Page"
	}

	selector := c.selector
	if c.auto != nil {
		selector = c.auto.lookup(pageURL.Host, doc)
	}
	content := doc.Find(selector).First()
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}
	if content.Length() == 0 {
		return Document{}, fmt.Errorf("%w: no '%s' or <body> element", utils.ErrMarkdownConversion, selector)
	}
	cleanupHTML(content)

	var links []string
	content.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		normalized, abs, ok := parse.ResolveReference(pageURL, s.AttrOr("href", ""))
		if !ok {
			return
		}
		links = append(links, normalized)
		if resolve != nil {
			if href, local := resolve(normalized); local {
				if abs.Fragment != "" {
					href += "#" + abs.EscapedFragment()
				}
				s.SetAttr("href", href)
				return
			}
		}
		s.SetAttr("href", abs.String())
	})
	content.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if _, abs, ok := parse.ResolveReference(pageURL, s.AttrOr("src", "")); ok {
			s.SetAttr("src", abs.String())
		}
	})

	html, err := goquery.OuterHtml(content)
	if err != nil {
		return Document{}, fmt.Errorf("%w: rendering content HTML: %w", utils.ErrMarkdownConversion, err)
	}
	markdown, err := c.md.ConvertString(html)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %w", utils.ErrMarkdownConversion, err)
	}
	return Document{Title: title, Markdown: markdown, Links: links}, nil
}

// cleanupHTML removes permalink anchors and similar navigation noise
func cleanupHTML(content *goquery.Selection) {
	content.Find("script, style, noscript").Remove()
	content.Find("a.headerlink, a.permalink, a.edit-on-github").Remove()
	content.Find("a[title='Permalink to this heading'], a[title='Link to this heading']").Remove()

	content.Find("a").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		href := s.AttrOr("href", "")
		if text == "¶" || text == "#" || (text == "" && strings.HasPrefix(href, "#")) {
			s.Remove()
		}
	})
}
