package reliability

import (
	"context"
	"errors"

	"github.com/ent0n29/gwent/internal/daemon"
)

// Error kinds reported in metrics labels and API error codes.
const (
	KindTimeout     = "timeout"
	KindUnreachable = "unreachable"
	KindRejected    = "rejected"
	KindMalformed   = "malformed"
	KindCanceled    = "canceled"
	KindUnknown     = "unknown"
)

// Classify maps a daemon call error to a stable kind.
func Classify(err error) string {
	var rejected *daemon.RejectedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rejected):
		return KindRejected
	case errors.Is(err, daemon.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, daemon.ErrUnreachable):
		return KindUnreachable
	case errors.Is(err, daemon.ErrMalformedResponse):
		return KindMalformed
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a caller could reasonably try err again.
// The relay itself never retries.
func IsRetryable(err error) bool {
	var rejected *daemon.RejectedError
	if errors.As(err, &rejected) {
		return IsRetryableHTTPStatus(rejected.StatusCode)
	}
	switch Classify(err) {
	case KindTimeout, KindUnreachable:
		return true
	default:
		return false
	}
}
