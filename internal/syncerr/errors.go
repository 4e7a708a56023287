// Package syncerr defines the error taxonomy shared by the sync engine and
// the system adapters.
//
// These errors can be checked with errors.Is() for proper handling:
//
//	if errors.Is(err, syncerr.ErrAuth) {
//	    // abort the pass; never retry a rejected credential
//	}
package syncerr

import "errors"

var (
	// ErrAuth is returned when an external system rejects our
	// credentials. Fatal to the pass; retrying a bad credential wastes
	// quota and risks lockout.
	ErrAuth = errors.New("authentication rejected")

	// ErrTransient is returned after a timeout, 5xx, or rate-limit
	// response has exhausted its retry budget. Escalates to a
	// per-record failure, never to a pass abort.
	ErrTransient = errors.New("transient failure")

	// ErrNotFound is returned when the target record no longer exists
	// on the remote side. Treated as "already deleted", non-fatal.
	ErrNotFound = errors.New("record not found")

	// ErrUniqueness is returned when an upsert is rejected because of a
	// duplicate external id that is not yet linked. Surfaces as a
	// per-record failure; never silently merged into the wrong row.
	ErrUniqueness = errors.New("duplicate external id")

	// ErrPassInProgress is returned when a pass for the same entity is
	// already running in this process.
	ErrPassInProgress = errors.New("sync already in progress")

	// ErrNotSupported is returned by adapters for operations the
	// underlying system cannot perform (e.g. creating Gmail messages).
	ErrNotSupported = errors.New("operation not supported")
)

// IsRetryable reports whether the error is likely to succeed on retry.
// Auth failures and not-found are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUniqueness) || errors.Is(err, ErrNotSupported) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether the error must abort the whole pass rather
// than a single record.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}
