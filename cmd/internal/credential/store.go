package credential

import (
	"context"
	"time"
)

// Store persists one credential bundle.
//
// Implementations must make every mutation visible to the next Get, and Set
// must be an atomic read-merge-write.
type Store interface {
	// Get returns the current bundle, or an empty Bundle when none is stored.
	Get(ctx context.Context) (Bundle, error)

	// Set merges p into the stored bundle and returns the result.
	Set(ctx context.Context, p Patch) (Bundle, error)

	// Clear removes the stored bundle.
	Clear(ctx context.Context) error
}

// Valid loads the bundle from s and reports whether it is usable at now.
func Valid(ctx context.Context, s Store, now time.Time) (bool, error) {
	b, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	return IsValid(b, now), nil
}

// Replace overwrites the stored bundle with b entirely, in one Set, so readers
// never observe an empty store in between.
func Replace(ctx context.Context, s Store, b Bundle) (Bundle, error) {
	return s.Set(ctx, Overwrite(b))
}
