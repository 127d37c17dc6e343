package metrics

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cloudflare/cloudflare-go/v6"
)

// Error type constants for metrics labels.
const (
	ErrorTypeAuth        = "auth"
	ErrorTypeRateLimit   = "rate_limit"
	ErrorTypeServerError = "server_error"
	ErrorTypeClientError = "client_error"
	ErrorTypeTimeout     = "timeout"
	ErrorTypeNetwork     = "network"
	ErrorTypeUnknown     = "unknown"
)

// ClassifyCloudflareError maps a Cloudflare API error to a metrics label.
// Returns an empty string for nil errors. The label space is fixed: the
// values above are the only ones this function emits, keeping cardinality
// bounded.
func ClassifyCloudflareError(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *cloudflare.Error
	if errors.As(err, &apiErr) {
		return labelForStatusCode(apiErr.StatusCode)
	}

	// Transport-level failures never carry a status code.
	return labelForErrorMessage(err.Error())
}

func labelForStatusCode(statusCode int) string {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode >= http.StatusInternalServerError && statusCode < 600:
		return ErrorTypeServerError
	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		return ErrorTypeClientError
	default:
		return ErrorTypeUnknown
	}
}

func labelForErrorMessage(msg string) string {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return ErrorTypeTimeout
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return ErrorTypeNetwork
	default:
		return ErrorTypeUnknown
	}
}
