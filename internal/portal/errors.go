// File: internal/portal/errors.go
package portal

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrCaptchaFailure covers an empty or undownloadable challenge image, a
	// recognizer error and text that normalizes to nothing.
	ErrCaptchaFailure = errors.New("captcha could not be solved")
	// ErrAuthenticationRejected means the portal answered the login POST with
	// anything other than a success status, including unparseable bodies.
	ErrAuthenticationRejected = errors.New("authentication rejected")
	// ErrAuthenticationExhausted is returned once every attempt has failed.
	ErrAuthenticationExhausted = errors.New("authentication attempts exhausted")
	// ErrModuleUnavailable means the post-login probe page lacks the module marker.
	ErrModuleUnavailable = errors.New("presence module unavailable")
	// ErrReportAmbiguous means the presence response carries no recognizable verdict.
	ErrReportAmbiguous = errors.New("presence response is ambiguous")
	// ErrMissingToken blocks a mutating request when a token it needs is not held.
	// For the login POST both tokens must come from the page fetched just before.
	ErrMissingToken = errors.New("required token not held")
	// ErrJarLocked means another run holds the cookie jar file.
	ErrJarLocked = errors.New("cookie jar is locked by another run")
)

// TransportError wraps network-level failures (DNS, connect, TLS, timeouts, resets).
// HTTP error statuses are not TransportErrors.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// IsTransportError reports whether err is, or wraps, a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
