package credential

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRefreshToken is returned when a refresh is requested without a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrRefreshFailed is the sentinel behind RefreshFailedError.
	ErrRefreshFailed = errors.New("refresh failed")

	errEmptyAccessToken = errors.New("exchange returned no access token")

	// ErrCorrupt is returned when a persisted bundle cannot be decoded.
	ErrCorrupt = errors.New("credential store corrupt")
)

// RefreshFailedError wraps a failed token exchange or persistence step.
// The store is left as it was before the attempt.
type RefreshFailedError struct {
	Fingerprint string
	Err         error
}

func (e *RefreshFailedError) Error() string {
	if e.Err == nil {
		return ErrRefreshFailed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrRefreshFailed.Error(), e.Err)
}

// Is matches ErrRefreshFailed.
func (e *RefreshFailedError) Is(target error) bool { return target == ErrRefreshFailed }

func (e *RefreshFailedError) Unwrap() error { return e.Err }
