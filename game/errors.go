package game

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAction is matched by every *InvalidActionError.
	ErrInvalidAction = errors.New("invalid action")

	// ErrStateInvariant marks programming defects: the board (or a tree built
	// over it) was driven into a state correct callers never produce.
	ErrStateInvariant = errors.New("state invariant violation")

	// ErrEmptyHistory is returned by Undo when nothing has been played.
	ErrEmptyHistory = fmt.Errorf("%w: undo with empty history", ErrStateInvariant)
)

// InvalidActionError reports an attempt to play on a cell that is not available.
type InvalidActionError struct {
	Action int
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action %d: %s", e.Action, e.Reason)
}

func (e *InvalidActionError) Is(target error) bool {
	return target == ErrInvalidAction
}
