package parse

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Scope decides which URLs belong to a mirror: same host as the seed, path inside the
// seed's directory, not under any exclude prefix, and not matching a disallowed pattern.
// It is immutable after construction and safe for concurrent use.
type Scope struct {
	targetURL  string
	host       string // Lowercased host[:port] with default port removed
	targetDir  string // Always ends with "/"
	exclude    []string
	disallowed []*regexp.Regexp
}

// NewScope builds the scope for a seed URL. Exclude entries must be absolute URLs;
// they are normalized to scheme://host/path/ so that prefix matching respects path boundaries.
func NewScope(seed *url.URL, exclude []string, disallowedPatterns []string) (*Scope, error) {
	if seed == nil || seed.Host == "" {
		return nil, fmt.Errorf("%w: seed URL must be absolute", utils.ErrConfigValidation)
	}
	patterns, err := utils.CompileRegexPatterns(disallowedPatterns)
	if err != nil {
		return nil, err
	}

	s := &Scope{
		targetURL:  NormalizeURL(seed),
		host:       hostKey(seed),
		targetDir:  TargetDirectory(seed),
		disallowed: patterns,
	}
	for _, raw := range exclude {
		prefix, err := NormalizeExcludePrefix(raw)
		if err != nil {
			return nil, err
		}
		s.exclude = append(s.exclude, prefix)
	}
	return s, nil
}

// TargetDirectory returns the directory subtree a seed URL covers, with a trailing slash.
// A seed whose last segment looks like a file (contains a dot) covers its parent directory.
func TargetDirectory(seed *url.URL) string {
	p := seed.Path
	if p == "" {
		return "/"
	}
	if !strings.HasSuffix(p, "/") && strings.Contains(path.Base(p), ".") {
		p = path.Dir(p)
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// NormalizeExcludePrefix turns an exclude entry into scheme://host/path/ form.
func NormalizeExcludePrefix(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: exclude entry '%s' is not an absolute URL", utils.ErrConfigValidation, raw)
	}
	p := u.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return strings.ToLower(u.Scheme) + "://" + hostKey(u) + p, nil
}

func hostKey(u *url.URL) string {
	host := strings.ToLower(u.Host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (strings.EqualFold(u.Scheme, "http") && port == "80") || (strings.EqualFold(u.Scheme, "https") && port == "443") {
			return h
		}
	}
	return host
}

// TargetURL returns the normalized seed URL
func (s *Scope) TargetURL() string { return s.targetURL }

// Host returns the host every in-scope URL must share
func (s *Scope) Host() string { return s.host }

// TargetDir returns the seed directory prefix
func (s *Scope) TargetDir() string { return s.targetDir }

// SameDomain reports whether u is on the seed's host
func (s *Scope) SameDomain(u *url.URL) bool {
	return u != nil && hostKey(u) == s.host
}

// InTargetDir reports whether u's path lies inside the seed directory.
// Both sides carry a trailing slash so "/docs" matches a "/docs/" seed but "/docsx" does not.
func (s *Scope) InTargetDir(u *url.URL) bool {
	p := u.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return strings.HasPrefix(p, s.targetDir)
}

// IsExcluded reports whether u falls under any exclude prefix
func (s *Scope) IsExcluded(u *url.URL) bool {
	if len(s.exclude) == 0 {
		return false
	}
	p := u.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	candidate := strings.ToLower(u.Scheme) + "://" + hostKey(u) + p
	for _, prefix := range s.exclude {
		if strings.HasPrefix(candidate, prefix) {
			return true
		}
	}
	return false
}

// Check returns nil if u is a mirrorable page URL, or an error wrapping
// utils.ErrScopeViolation or utils.ErrExcluded explaining why not.
func (s *Scope) Check(u *url.URL) error {
	if !s.SameDomain(u) {
		return fmt.Errorf("%w: host '%s' is not '%s'", utils.ErrScopeViolation, u.Host, s.host)
	}
	if !s.InTargetDir(u) {
		return fmt.Errorf("%w: path '%s' is outside '%s'", utils.ErrScopeViolation, u.Path, s.targetDir)
	}
	if s.IsExcluded(u) {
		return fmt.Errorf("%w: %s", utils.ErrExcluded, u.String())
	}
	if utils.MatchesAny(s.disallowed, u.Path) {
		return fmt.Errorf("%w: path '%s' matches a disallowed pattern", utils.ErrExcluded, u.Path)
	}
	return nil
}
