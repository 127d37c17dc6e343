package cloudflare

import (
	"net/http"

	cf "github.com/cloudflare/cloudflare-go/v6"
	"github.com/cockroachdb/errors"
)

// Sentinel errors classifying every failure the gateway can surface.
// The reconciler keys its requeue policy off these: auth and config errors
// requeue at a slow fixed interval, transient errors requeue with backoff.
var (
	// ErrAuth marks 401/403 responses. Not retryable until credentials change.
	ErrAuth = errors.New("cloudflare: authentication failed")

	// ErrConfig marks schema or validation rejections (other 4xx). Not
	// retryable until the ClusterTunnel spec changes.
	ErrConfig = errors.New("cloudflare: configuration rejected")

	// ErrTransient marks rate limits, server errors, timeouts and network
	// failures. Retryable with backoff.
	ErrTransient = errors.New("cloudflare: transient failure")
)

// Classify wraps a Cloudflare API error with the sentinel matching its
// failure class so callers can branch with errors.Is. A nil error stays nil.
// Unclassifiable errors are treated as transient: the control loop must
// degrade to requeue-and-report, never crash on a single resource.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *cf.Error
	if errors.As(err, &apiErr) {
		return classifyStatusCode(err, apiErr.StatusCode)
	}

	// Timeouts and network failures land here alongside anything else the
	// SDK surfaces without a response.
	return errors.Mark(err, ErrTransient)
}

func classifyStatusCode(err error, statusCode int) error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errors.Mark(err, ErrAuth)
	case statusCode == http.StatusTooManyRequests:
		return errors.Mark(err, ErrTransient)
	case statusCode >= http.StatusInternalServerError:
		return errors.Mark(err, ErrTransient)
	case statusCode >= http.StatusBadRequest:
		return errors.Mark(err, ErrConfig)
	default:
		return errors.Mark(err, ErrTransient)
	}
}

// IsNotFound reports whether the error is a 404 from the Cloudflare API.
// Deletes treat it as success so removal stays idempotent.
func IsNotFound(err error) bool {
	var apiErr *cf.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}

	return false
}
