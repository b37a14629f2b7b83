package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	if got := CategorizeError(nil); got != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", got, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"RobotsDisallowed", ErrRobotsDisallowed, "Policy_Robots"},
		{"ScopeViolation", ErrScopeViolation, "Policy_Scope"},
		{"Excluded", ErrExcluded, "Policy_Excluded"},
		{"AlreadyVisited", ErrAlreadyVisited, "Policy_Duplicate"},
		{"MaxDepthExceeded", ErrMaxDepthExceeded, "Policy_MaxDepth"},
		{"MaxFilesReached", ErrMaxFilesReached, "Policy_MaxFiles"},
		{"NoBasename", ErrNoBasename, "Policy_NoBasename"},
		{"NotHTML", ErrNotHTML, "Content_NotHTML"},
		{"NoResult", ErrNoResult, "Policy_NoResult"},
		{"RenderTimeout", ErrRenderTimeout, "Render_Timeout"},
		{"RenderUnavailable", ErrRenderUnavailable, "Render_Unavailable"},
		{"StateCorrupt", ErrStateCorrupt, "State_Corrupt"},
		{"MarkdownConversion", ErrMarkdownConversion, "Content_Markdown"},
		{"SemaphoreTimeout", ErrSemaphoreTimeout, "Resource_SemaphoreTimeout"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Database", ErrDatabase, "Database_Other"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestCategorizeError_HTTPStatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{404, "HTTP_404"},
		{403, "HTTP_403"},
		{401, "HTTP_401"},
		{429, "HTTP_429"},
		{410, "HTTP_4xx"},
		{503, "HTTP_5xx"},
		{304, "HTTP_OtherStatus"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := fmt.Errorf("fetch page: %w", NewHTTPStatusError(tt.status, "http://example.com/x"))
			if got := CategorizeError(err); got != tt.expected {
				t.Errorf("CategorizeError(status %d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestCategorizeError_RetryFailed(t *testing.T) {
	tests := []struct {
		name     string
		cause    error
		expected string
	}{
		{"server", NewHTTPStatusError(503, "u"), "RetryFailed_HTTPServer"},
		{"client", NewHTTPStatusError(429, "u"), "RetryFailed_HTTPClient"},
		{"timeout", errors.New("dial tcp: i/o timeout"), "RetryFailed_NetworkTimeout"},
		{"refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), "RetryFailed_ConnectionRefused"},
		{"dns", errors.New("lookup nowhere.invalid: no such host"), "RetryFailed_DNSLookup"},
		{"other", errors.New("unexpected EOF"), "RetryFailed_NetworkOther"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("%w: %w", ErrRetryFailed, tt.cause)
			if got := CategorizeError(err); got != tt.expected {
				t.Errorf("CategorizeError() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCategorizeError_FilesystemWrapped(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrFilesystem, os.ErrPermission)
	if got := CategorizeError(err); got != "Filesystem_Permission" {
		t.Errorf("CategorizeError() = %q, want Filesystem_Permission", got)
	}
}

func TestCategorizeError_ContextErrors(t *testing.T) {
	if got := CategorizeError(context.Canceled); got != "System_ContextCanceled" {
		t.Errorf("got %q", got)
	}
	if got := CategorizeError(fmt.Errorf("acquire semaphore: %w", context.DeadlineExceeded)); got != "Resource_SemaphoreTimeout" {
		t.Errorf("got %q", got)
	}
	if got := CategorizeError(context.DeadlineExceeded); got != "System_ContextDeadlineExceeded" {
		t.Errorf("got %q", got)
	}
}

func TestCategorizeError_Unknown(t *testing.T) {
	if got := CategorizeError(errors.New("something odd")); got != "Unknown" {
		t.Errorf("CategorizeError() = %q, want Unknown", got)
	}
}

func TestHTTPStatusError_Unwrap(t *testing.T) {
	err := NewHTTPStatusError(503, "http://example.com/")
	if !errors.Is(err, ErrServerHTTPError) {
		t.Error("503 should unwrap to ErrServerHTTPError")
	}
	if StatusCodeOf(fmt.Errorf("wrapped: %w", err)) != 503 {
		t.Error("StatusCodeOf should see through wrapping")
	}
	if StatusCodeOf(errors.New("plain")) != 0 {
		t.Error("StatusCodeOf(plain) should be 0")
	}
}

// --- Sanitize Tests ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "simple"},
		{"with/slash", "with_slash"},
		{"a::b??c", "a_b_c"},
		{"__trim__", "trim"},
		{"", "untitled"},
		{"///", "untitled"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestSanitizeFilename_LongNames(t *testing.T) {
	long := ""
	for i := 0; i < 150; i++ {
		long += "a"
	}
	if got := SanitizeFilename(long); len(got) != maxFilenameLength {
		t.Errorf("len(SanitizeFilename(long)) = %d, want %d", len(got), maxFilenameLength)
	}
}

func TestHostDirName(t *testing.T) {
	if got := HostDirName("Docs.Example.com:8080"); got != "docs.example.com_8080" {
		t.Errorf("HostDirName() = %q", got)
	}
}

// --- Regex Tests ---

func TestCompileRegexPatterns(t *testing.T) {
	compiled, err := CompileRegexPatterns([]string{`\.pdf$`, "", `^/private/`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(compiled) != 2 {
		t.Fatalf("len = %d, want 2 (empty pattern skipped)", len(compiled))
	}
	if !MatchesAny(compiled, "/docs/manual.pdf") {
		t.Error("expected match for .pdf")
	}
	if MatchesAny(compiled, "/docs/index.html") {
		t.Error("unexpected match for index.html")
	}
}

func TestCompileRegexPatterns_InvalidPattern(t *testing.T) {
	_, err := CompileRegexPatterns([]string{"valid", "[unclosed"})
	if !errors.Is(err, ErrConfigValidation) {
		t.Errorf("error = %v, want ErrConfigValidation", err)
	}
}

// --- Hash Tests ---

func TestCalculateBytesSHA256(t *testing.T) {
	expected := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := CalculateBytesSHA256(nil); got != expected {
		t.Errorf("CalculateBytesSHA256(nil) = %q, want %q", got, expected)
	}
}

// --- WrapErrorf Tests ---

func TestWrapErrorf_NilError(t *testing.T) {
	if result := WrapErrorf(nil, "some context"); result != nil {
		t.Errorf("WrapErrorf(nil, ...) = %v, want nil", result)
	}
}

func TestWrapErrorf_WrapsError(t *testing.T) {
	original := errors.New("original error")
	wrapped := WrapErrorf(original, "context %s", "value")
	if !errors.Is(wrapped, original) {
		t.Error("WrapErrorf() result should wrap original error")
	}
	if wrapped.Error() != "context value: original error" {
		t.Errorf("WrapErrorf() message = %q", wrapped.Error())
	}
}
