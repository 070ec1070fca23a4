package accounting

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when the referenced object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrStaleVersion is returned when a mutation carried an outdated SyncToken.
	ErrStaleVersion = errors.New("stale sync token")

	// ErrInvalidID is returned for empty or malformed object ids.
	ErrInvalidID = errors.New("invalid object id")
)

// Fault codes the service uses for the conditions above.
const (
	faultCodeNotFound = "610"
	faultCodeStale    = "5010"
)

// UpstreamError is a non-401 failure response, passed through with its detail.
type UpstreamError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	Detail     string
	kind       error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upstream %d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Detail != "" && e.Detail != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Is matches ErrNotFound or ErrStaleVersion when the fault classifies as such.
func (e *UpstreamError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}
