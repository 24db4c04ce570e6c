package coordinator

import "github.com/gravitational/trace"

// Error taxonomy: thin constructors over gravitational/trace so the api
// package can map them to HTTP status with trace.Is*, and so Fatal-internal
// paths keep a stack trace via trace.Wrap.

// errValidation reports malformed input, out-of-range values, or a missing
// required field. Maps to HTTP 400.
func errValidation(format string, args ...any) error {
	return trace.BadParameter(format, args...)
}

// errAuthInvalid reports a credential that was presented but does not
// verify. Maps to HTTP 403. (HTTP 401 "AuthRequired" is decided at the
// transport boundary, before a credential ever reaches the coordinator.)
func errAuthInvalid(format string, args ...any) error {
	return trace.AccessDenied(format, args...)
}

// errNotFound reports an unknown party or session. Maps to HTTP 404.
func errNotFound(format string, args ...any) error {
	return trace.NotFound(format, args...)
}

// errConflict reports a closed session or a capacity violation on join.
// Maps to HTTP 409.
func errConflict(format string, args ...any) error {
	return trace.AlreadyExists(format, args...)
}

// errTransient wraps a durable-store failure on the paths where it must
// surface to the caller (the primary append on join, and loading the live
// roster during cold-start restore). Maps to HTTP 500.
func errTransient(err error) error {
	return trace.Wrap(err, "durable store unavailable")
}
