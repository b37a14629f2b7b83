package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// NormalizeURL standardizes a URL for dedup and map keys.
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https),
// turns an empty path into "/", and drops the fragment. The query string and any
// trailing slash are kept: "/docs" and "/docs/" are mirrored to different local files.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	if host, port, err := net.SplitHostPort(normalized.Host); err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" && normalized.Opaque == "" {
		normalized.Path = "/"
		normalized.RawPath = ""
	}

	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.ForceQuery = false

	return normalized.String()
}

// ParseAndNormalize parses an absolute URL string (a scheme is required) and normalizes it.
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return "", nil, err
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return "", nil, fmt.Errorf("%w: '%s' is not an absolute URL", utils.ErrParsing, urlStr)
	}
	return NormalizeURL(parsed), parsed, nil
}

// ResolveReference resolves an href/src attribute value against the page it appears on.
// Returns ok=false for references that never point at a fetchable document:
// empty values, fragment-only anchors, non-http(s) schemes (mailto:, javascript:, data:, tel:).
// The returned *url.URL still carries the fragment; the string form is normalized.
func ResolveReference(base *url.URL, ref string) (string, *url.URL, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return "", nil, false
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", nil, false
	}
	abs := base.ResolveReference(refURL)
	scheme := strings.ToLower(abs.Scheme)
	if (scheme != "http" && scheme != "https") || abs.Host == "" {
		return "", nil, false
	}
	return NormalizeURL(abs), abs, true
}
