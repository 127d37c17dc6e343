package metrics

import (
	"errors"
	"net/http"
	"testing"

	"github.com/cloudflare/cloudflare-go/v6"
	"github.com/stretchr/testify/assert"
)

var (
	errContextDeadline   = errors.New("context deadline exceeded")
	errRequestTimeout    = errors.New("request timeout")
	errConnectionRefused = errors.New("dial tcp: connection refused")
	errNoSuchHost        = errors.New("no such host")
	errOpaque            = errors.New("some random error")
	errWrapper           = errors.New("wrapper")
)

func TestClassifyCloudflareError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "auth error 401",
			err:      &cloudflare.Error{StatusCode: http.StatusUnauthorized},
			expected: ErrorTypeAuth,
		},
		{
			name:     "auth error 403",
			err:      &cloudflare.Error{StatusCode: http.StatusForbidden},
			expected: ErrorTypeAuth,
		},
		{
			name:     "rate limit error",
			err:      &cloudflare.Error{StatusCode: http.StatusTooManyRequests},
			expected: ErrorTypeRateLimit,
		},
		{
			name:     "server error 500",
			err:      &cloudflare.Error{StatusCode: http.StatusInternalServerError},
			expected: ErrorTypeServerError,
		},
		{
			name:     "server error 503",
			err:      &cloudflare.Error{StatusCode: http.StatusServiceUnavailable},
			expected: ErrorTypeServerError,
		},
		{
			name:     "client error 400",
			err:      &cloudflare.Error{StatusCode: http.StatusBadRequest},
			expected: ErrorTypeClientError,
		},
		{
			name:     "client error 404",
			err:      &cloudflare.Error{StatusCode: http.StatusNotFound},
			expected: ErrorTypeClientError,
		},
		{
			name:     "deadline exceeded",
			err:      errContextDeadline,
			expected: ErrorTypeTimeout,
		},
		{
			name:     "request timeout",
			err:      errRequestTimeout,
			expected: ErrorTypeTimeout,
		},
		{
			name:     "connection refused",
			err:      errConnectionRefused,
			expected: ErrorTypeNetwork,
		},
		{
			name:     "no such host",
			err:      errNoSuchHost,
			expected: ErrorTypeNetwork,
		},
		{
			name:     "opaque error",
			err:      errOpaque,
			expected: ErrorTypeUnknown,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, testCase.expected, ClassifyCloudflareError(testCase.err))
		})
	}
}

func TestClassifyCloudflareErrorWrapped(t *testing.T) {
	t.Parallel()

	apiErr := &cloudflare.Error{StatusCode: http.StatusUnauthorized}
	wrapped := errors.Join(errWrapper, apiErr)

	assert.Equal(t, ErrorTypeAuth, ClassifyCloudflareError(wrapped))
}
