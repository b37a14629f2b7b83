package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed     = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError  = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrNoResult        = errors.New("operation produced no result")     // Returned by log/skip fail strategies

	ErrRobotsDisallowed   = errors.New("disallowed by robots.txt")
	ErrScopeViolation     = errors.New("URL out of scope (domain/target directory)")
	ErrExcluded           = errors.New("URL matches exclude list")
	ErrAlreadyVisited     = errors.New("URL already visited")
	ErrMaxDepthExceeded   = errors.New("maximum crawl depth exceeded")
	ErrMaxFilesReached    = errors.New("maximum file count reached")
	ErrNoBasename         = errors.New("URL path has no file name")
	ErrNotHTML            = errors.New("response is not an HTML document")
	ErrParsing            = errors.New("parsing error")    // Wraps specific parsing error (HTML, URL, JSON)
	ErrFilesystem         = errors.New("filesystem error") // Wraps os errors
	ErrDatabase           = errors.New("database error")   // Wraps badger errors
	ErrStateCorrupt       = errors.New("persisted state is unreadable")
	ErrSemaphoreTimeout   = errors.New("timeout acquiring semaphore")
	ErrRequestCreation    = errors.New("failed to create HTTP request")
	ErrResponseBodyRead   = errors.New("failed to read response body")
	ErrRenderUnavailable  = errors.New("headless renderer unavailable")
	ErrRenderTimeout      = errors.New("headless render timed out")
	ErrMarkdownConversion = errors.New("failed to convert HTML to markdown")
	ErrConfigValidation   = errors.New("configuration validation error")
)

// HTTPStatusError records a non-2xx response. It unwraps to the sentinel matching
// its status class so callers can use errors.Is with ErrClientHTTPError and friends.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

// NewHTTPStatusError builds an HTTPStatusError for the given response status.
func NewHTTPStatusError(statusCode int, url string) *HTTPStatusError {
	return &HTTPStatusError{StatusCode: statusCode, URL: url}
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP status %d %s for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

func (e *HTTPStatusError) Unwrap() error {
	switch {
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return ErrClientHTTPError
	case e.StatusCode >= 500 && e.StatusCode < 600:
		return ErrServerHTTPError
	default:
		return ErrOtherHTTPError
	}
}

// StatusCodeOf extracts the HTTP status carried by err, or 0 if there is none.
func StatusCodeOf(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// WrapErrorf annotates err with a formatted message while keeping it in the chain.
// Returns nil when err is nil.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrRetryFailed):
		underlying := errors.Unwrap(err)
		if wrapped, ok := err.(interface{ Unwrap() []error }); ok {
			// fmt.Errorf("%w: %w") produces a multi-wrap; the cause is the second element
			if errs := wrapped.Unwrap(); len(errs) > 1 {
				underlying = errs[1]
			}
		}
		if underlying != nil {
			if errors.Is(underlying, ErrServerHTTPError) {
				return "RetryFailed_HTTPServer"
			}
			if errors.Is(underlying, ErrClientHTTPError) {
				return "RetryFailed_HTTPClient"
			}

			errMsg := strings.ToLower(underlying.Error())
			if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
				return "RetryFailed_NetworkTimeout"
			}
			if strings.Contains(errMsg, "connection refused") {
				return "RetryFailed_ConnectionRefused"
			}
			if strings.Contains(errMsg, "no such host") {
				return "RetryFailed_DNSLookup"
			}
			var netErr net.Error
			if errors.As(underlying, &netErr) && netErr.Timeout() {
				return "RetryFailed_NetworkTimeout"
			}
			return "RetryFailed_NetworkOther"
		}
		return "RetryFailed_Unknown"
	case errors.Is(err, ErrClientHTTPError):
		switch StatusCodeOf(err) {
		case http.StatusNotFound:
			return "HTTP_404"
		case http.StatusForbidden:
			return "HTTP_403"
		case http.StatusUnauthorized:
			return "HTTP_401"
		case http.StatusTooManyRequests:
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrNoResult):
		return "Policy_NoResult"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrScopeViolation):
		return "Policy_Scope"
	case errors.Is(err, ErrExcluded):
		return "Policy_Excluded"
	case errors.Is(err, ErrAlreadyVisited):
		return "Policy_Duplicate"
	case errors.Is(err, ErrMaxDepthExceeded):
		return "Policy_MaxDepth"
	case errors.Is(err, ErrMaxFilesReached):
		return "Policy_MaxFiles"
	case errors.Is(err, ErrNoBasename):
		return "Policy_NoBasename"
	case errors.Is(err, ErrNotHTML):
		return "Content_NotHTML"
	case errors.Is(err, ErrRenderTimeout):
		return "Render_Timeout"
	case errors.Is(err, ErrRenderUnavailable):
		return "Render_Unavailable"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrMarkdownConversion):
		return "Content_Markdown"
	case errors.Is(err, ErrStateCorrupt):
		return "State_Corrupt"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}
	if strings.Contains(lowerErrMsg, "broken pipe") {
		return "Network_BrokenPipe"
	}

	return "Unknown"
}
