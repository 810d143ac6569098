package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnreachable wraps transport failures that are not timeouts.
	ErrUnreachable = errors.New("gwent daemon unreachable")
	// ErrTimeout wraps connect or request timeouts.
	ErrTimeout = errors.New("gwent daemon timeout")
	// ErrMalformedResponse marks a response body that does not match the
	// daemon contract.
	ErrMalformedResponse = errors.New("malformed gwent daemon response")
)

// RejectedError is returned when the daemon answers with a non-2xx status.
type RejectedError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gwent daemon request failed (%d): %s", e.StatusCode, e.Body)
}

// transportError classifies an error returned by http.Client.Do.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnreachable, err)
}
