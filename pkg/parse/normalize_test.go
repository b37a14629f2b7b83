package parse

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestNormalizeURL_NilInput(t *testing.T) {
	assert.Equal(t, "", NormalizeURL(nil))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase scheme and host", "HTTPS://Example.COM/Docs/", "https://example.com/Docs/"},
		{"default https port", "https://example.com:443/a", "https://example.com/a"},
		{"default http port", "http://example.com:80/a", "http://example.com/a"},
		{"non-default port kept", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"empty path", "https://example.com", "https://example.com/"},
		{"trailing slash kept", "https://example.com/docs/", "https://example.com/docs/"},
		{"fragment dropped", "https://example.com/docs/page.html#intro", "https://example.com/docs/page.html"},
		{"query kept", "https://example.com/search?q=go&page=2", "https://example.com/search?q=go&page=2"},
		{"empty query marker dropped", "https://example.com/a?", "https://example.com/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeURL(mustParse(t, tt.input)))
		})
	}
}

func TestNormalizeURL_DoesNotModifyInput(t *testing.T) {
	u := mustParse(t, "HTTPS://Example.com:443/a#frag")
	_ = NormalizeURL(u)
	assert.Equal(t, "Example.com:443", u.Host)
	assert.Equal(t, "frag", u.Fragment)
}

func TestParseAndNormalize(t *testing.T) {
	norm, parsed, err := ParseAndNormalize("  https://Example.com/docs/#top ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/docs/", norm)
	assert.Equal(t, "/docs/", parsed.Path)

	_, _, err = ParseAndNormalize("not a url")
	assert.Error(t, err)
}

func TestResolveReference(t *testing.T) {
	base := mustParse(t, "https://example.com/docs/guide/index.html")

	tests := []struct {
		ref      string
		expected string
		ok       bool
	}{
		{"intro.html", "https://example.com/docs/guide/intro.html", true},
		{"../api/", "https://example.com/docs/api/", true},
		{"/docs/faq.html#q1", "https://example.com/docs/faq.html", true},
		{"//cdn.example.org/lib.js", "https://cdn.example.org/lib.js", true},
		{"https://Other.com/x", "https://other.com/x", true},
		{"#section", "", false},
		{"", "", false},
		{"mailto:team@example.com", "", false},
		{"javascript:void(0)", "", false},
		{"data:image/png;base64,AAAA", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, _, ok := ResolveReference(base, tt.ref)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}
