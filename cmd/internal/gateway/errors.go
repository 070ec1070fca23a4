package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed means the credential could not be recovered by
	// refreshing. The store has been cleared and the user must reconnect.
	ErrAuthenticationFailed = errors.New("authentication failed: reconnect required")

	// ErrMissingTenant is returned when a tenant-scoped path has no usable tenant id.
	ErrMissingTenant = errors.New("missing tenant id")

	// ErrTransport is the sentinel behind TransportError.
	ErrTransport = errors.New("transport error")
)

// AuthenticationFailedError carries the reason the gateway gave up on the credential.
type AuthenticationFailedError struct {
	// Reason is one of "refresh_failed" or "unauthorized_after_refresh".
	Reason string
	Err    error
}

func (e *AuthenticationFailedError) Error() string {
	return ErrAuthenticationFailed.Error()
}

// Is matches ErrAuthenticationFailed.
func (e *AuthenticationFailedError) Is(target error) bool { return target == ErrAuthenticationFailed }

func (e *AuthenticationFailedError) Unwrap() error { return e.Err }

// TransportError is a network-level failure (including timeouts). It is never retried.
type TransportError struct {
	Method  string
	Path    string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: %s %s: timeout", ErrTransport.Error(), e.Method, e.Path)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrTransport.Error(), e.Method, e.Path, e.Err)
}

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }
