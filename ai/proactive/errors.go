package proactive

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStoreUnavailable wraps any Pattern Store or Activity Source failure. The
	// affected user's pass is abandoned and retried on the next tick.
	ErrStoreUnavailable = errors.New("pattern store unavailable")
	// ErrPatternNotFound is returned when a pattern does not exist or belongs to another user.
	ErrPatternNotFound = errors.New("pattern not found")
	// ErrInvalidResponse is returned for a response the pattern's state does not allow.
	ErrInvalidResponse = errors.New("invalid response for pattern state")
)

// storeUnavailable marks err as a store failure while keeping it in the chain.
func storeUnavailable(err error, msg string) error {
	return fmt.Errorf("%s: %w: %w", msg, ErrStoreUnavailable, err)
}
