package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// StatusError captures a non-200 HTTP status from a backend response. The
// body is kept so adapters can surface a bounded prefix of it.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// IsTimeout reports whether err represents a client timeout or deadline
// expiry anywhere in its chain.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ErrorMessage renders a backend failure as the audit-trail error string:
// "<Provider> returned <status>: <body prefix>" for HTTP errors (body capped
// at 200 chars), "<Provider> request timed out" for timeouts, the raw message
// otherwise.
func ErrorMessage(provider string, err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		body := se.Body
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Sprintf("%s returned %d: %s", provider, se.StatusCode, body)
	}
	if IsTimeout(err) {
		return fmt.Sprintf("%s request timed out", provider)
	}
	return err.Error()
}
