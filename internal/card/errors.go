package card

import (
	"errors"
	"fmt"
)

// Outcome sentinels. Core code returns these (possibly wrapped) so callers can
// branch with errors.Is instead of inspecting messages.
var (
	// ErrNotFound means a code or id did not resolve in the queried scope.
	ErrNotFound = errors.New("card not found")
	// ErrSourceUnavailable means a lookup source failed or timed out.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvalidMutation means a lifecycle command was rejected without effect.
	ErrInvalidMutation = errors.New("invalid mutation")
	// ErrPersistence means a durable write failed after the in-memory change.
	ErrPersistence = errors.New("persistence failure")
)

// MutationError describes a rejected lifecycle command.
type MutationError struct {
	Op     string
	CardID string
	Reason string
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %q rejected: %s", e.Op, e.CardID, e.Reason)
}

// Is matches ErrInvalidMutation.
func (e *MutationError) Is(target error) bool {
	return target == ErrInvalidMutation
}

// Rejected builds a MutationError.
func Rejected(op, cardID, reason string) error {
	return &MutationError{Op: op, CardID: cardID, Reason: reason}
}

// NotFound wraps ErrNotFound with the id that failed to resolve.
func NotFound(id string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, id)
}

// Unavailable wraps a collaborator failure as ErrSourceUnavailable.
func Unavailable(source string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrSourceUnavailable, source)
	}
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, source, cause)
}
