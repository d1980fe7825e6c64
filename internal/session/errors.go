package session

import (
	"errors"
	"fmt"
)

var (
	// ErrCooldownActive matches any *CooldownError.
	ErrCooldownActive = errors.New("cooldown active")

	// ErrNoActiveSession means there is nothing open to act on. Callers
	// treat it as a no-op.
	ErrNoActiveSession = errors.New("no active session")

	// ErrVersionConflict is returned by a RecordRepo when the stored record
	// changed since it was read.
	ErrVersionConflict = errors.New("record version conflict")

	// ErrEmptyBank means the chapter has no questions; the caller switches
	// to free-form explanation.
	ErrEmptyBank = errors.New("chapter has no questions")
)

// CooldownError is returned when a new session is requested too soon.
type CooldownError struct {
	HoursRemaining int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active: next session in %d hours", e.HoursRemaining)
}

func (e *CooldownError) Is(target error) bool { return target == ErrCooldownActive }
