// Package errs defines the typed error taxonomy shared by every layer of the
// bus: the router, the session/request state machine, and the worker server
// all classify failures against these sentinels via errors.Is, rather than
// matching on error strings.
package errs

import "github.com/cockroachdb/errors"

var (
	// ErrConfig marks a malformed configuration file. Fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrBus marks a broker I/O or protocol failure.
	ErrBus = errors.New("bus error")

	// ErrJSON marks a malformed envelope that could not be decoded.
	ErrJSON = errors.New("json error")

	// ErrAddress marks an unparseable or unrecognized-kind bus address.
	ErrAddress = errors.New("address error")

	// ErrConnectTimeout marks a CONNECT that received no Status(Ok) in time.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrRequestTimeout marks a request that received no terminal reply in time.
	// Retryable by the caller with a fresh thread_trace.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrMethodNotFound marks a Status(NotFound) from the worker. Not retryable.
	ErrMethodNotFound = errors.New("method not found")

	// ErrServiceNotFound marks a Status(ServiceNotFound) from the router. Not retryable.
	ErrServiceNotFound = errors.New("service not found")

	// ErrBadResponse marks a reply whose shape did not match what was expected.
	ErrBadResponse = errors.New("bad response")
)

// Wrapf decorates err with a formatted message while preserving errors.Is
// compatibility with the taxonomy sentinels above.
func Wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}

// Is reports whether err (or anything it wraps) matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain matching target's type.
func As(err error, target any) bool { return errors.As(err, target) }
