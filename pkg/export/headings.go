package export

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractHeadings returns the text of every markdown heading in document order.
// Inline markup inside a heading (emphasis, code spans, links) is flattened to its text.
func ExtractHeadings(markdown []byte) []string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(markdown))

	var headings []string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		heading, ok := n.(*ast.Heading)
		if !entering || !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		collectText(heading, markdown, &buf)
		if buf.Len() > 0 {
			headings = append(headings, buf.String())
		}
		return ast.WalkSkipChildren, nil
	})
	return headings
}

func collectText(n ast.Node, source []byte, buf *bytes.Buffer) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			continue
		}
		collectText(child, source, buf)
	}
}
