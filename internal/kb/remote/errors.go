package remote

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by Client implementations.
//
// Check them with errors.Is:
//
//	if errors.Is(err, remote.ErrVersionConflict) {
//	    // refetch, merge, retry once
//	}
var (
	// ErrNotFound is returned by Fetch when no blob exists at the configured
	// location, and also when the blob exists but cannot be decoded.
	ErrNotFound = errors.New("remote document not found")

	// ErrMalformed accompanies ErrNotFound when the blob exists but is not a
	// valid document.
	ErrMalformed = errors.New("remote document is malformed")

	// ErrAuth is returned when the remote rejects the credentials.
	ErrAuth = errors.New("remote rejected credentials")

	// ErrNetwork is returned for transport failures and server errors.
	ErrNetwork = errors.New("remote unreachable")

	// ErrTimeout is returned when a call exceeds its deadline. It is also an
	// ErrNetwork.
	ErrTimeout = fmt.Errorf("%w: request timed out", ErrNetwork)

	// ErrVersionConflict is returned by Write when the remote's current tag
	// differs from the expected tag.
	ErrVersionConflict = errors.New("remote version conflict")

	// ErrConfiguration is returned when required settings are missing.
	ErrConfiguration = errors.New("remote not configured")
)

// IsTransient reports whether the next scheduled attempt may succeed without
// any change on the caller's side.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNetwork)
}

// IsUserActionRequired reports whether a person has to act: fix credentials
// or decide how to resolve a conflict.
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return true
	}
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	return false
}

// IsFatal reports whether the schedule must halt until reconfigured.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConfiguration)
}

// classifyContext maps context failures onto the taxonomy. Other errors pass
// through unchanged.
func classifyContext(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return err
}
