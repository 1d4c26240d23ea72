package funding

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no proposal exists for the given ID.
	ErrNotFound = errors.New("proposal not found")

	// ErrInvalidState is returned when a lifecycle transition is attempted
	// from a status that does not allow it.
	ErrInvalidState = errors.New("invalid proposal state")

	// ErrCapacityExceeded is returned when the pending-proposal ceiling is hit.
	ErrCapacityExceeded = errors.New("maximum pending proposals reached")

	// ErrDisabled is returned when the funding subsystem is not enabled.
	ErrDisabled = errors.New("funding proposals disabled")
)

// InvalidStateError carries the offending proposal's current status.
// errors.Is(err, ErrInvalidState) matches it.
type InvalidStateError struct {
	ProposalID string
	Current    Status
	Required   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("proposal %s is not %s (current: %s)", e.ProposalID, e.Required, e.Current)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}
