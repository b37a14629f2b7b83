package parse

import (
	"net/url"
	"path"
	"strings"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// LocalPagePath maps a page URL to its slash-separated path inside the site mirror.
// "/" and "/a/" become "index.html" and "a/index.html"; a last segment without an
// extension gets ".html"; anything else is kept. The query string is ignored.
func LocalPagePath(u *url.URL) string {
	p := cleanURLPath(u)
	switch {
	case p == "" || strings.HasSuffix(p, "/"):
		return p + "index.html"
	case !strings.Contains(path.Base(p), "."):
		return p + ".html"
	}
	return p
}

// LocalAssetPath maps a static resource URL to its path inside the site mirror.
// URLs without a file name component cannot be stored and yield utils.ErrNoBasename.
func LocalAssetPath(u *url.URL) (string, error) {
	p := cleanURLPath(u)
	if p == "" || strings.HasSuffix(p, "/") {
		return "", utils.ErrNoBasename
	}
	return p, nil
}

// cleanURLPath returns the decoded URL path without the leading slash and with any
// "." or ".." segments resolved, so the result can never escape the mirror root.
func cleanURLPath(u *url.URL) string {
	raw := u.Path
	if raw == "" {
		return ""
	}
	trailing := strings.HasSuffix(raw, "/")
	cleaned := strings.TrimPrefix(path.Clean("/"+raw), "/")
	if trailing && cleaned != "" {
		cleaned += "/"
	}
	return cleaned
}

// RelativeLink returns the link that leads from the file fromLocal to the file toLocal,
// both given as slash-separated paths relative to the mirror root.
func RelativeLink(fromLocal, toLocal string) string {
	fromDir := splitSegments(path.Dir(fromLocal))
	to := splitSegments(toLocal)

	common := 0
	for common < len(fromDir) && common < len(to)-1 && fromDir[common] == to[common] {
		common++
	}

	parts := make([]string, 0, len(fromDir)-common+len(to)-common)
	for i := common; i < len(fromDir); i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, to[common:]...)
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}
