package claims

import (
	"errors"
	"fmt"
)

// Terminal redemption outcomes. Each maps to a distinct user-facing message;
// "expired" and "already claimed" call for different next actions and are
// never collapsed.
var (
	ErrNotFound       = errors.New("no claim exists for that reference")
	ErrAlreadyClaimed = errors.New("this payment has already been claimed")
	ErrExpired        = errors.New("this payment expired before it was claimed")
	ErrRefunded       = errors.New("this payment expired and was returned to the sender")
	ErrLocked         = errors.New("too many incorrect PIN attempts; this claim is locked")
)

// WrongPinError is an expected outcome, not an infrastructure failure.
type WrongPinError struct {
	AttemptsRemaining int
}

func (e *WrongPinError) Error() string {
	if e.AttemptsRemaining == 1 {
		return "incorrect PIN; 1 attempt remaining"
	}
	return fmt.Sprintf("incorrect PIN; %d attempts remaining", e.AttemptsRemaining)
}

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RetryExhaustedError surfaces a submission failure that outlived the retry
// budget. The caller may safely retry the whole operation later.
type RetryExhaustedError struct {
	Op  string
	Err error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after retries: %v", e.Op, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
