package secret

import (
	"context"

	"claimrails/internal/registry"
)

// Result is the outcome of a verification attempt. A wrong guess is a normal
// result, not an error.
type Result int

const (
	ResultValid Result = iota
	ResultInvalid
	ResultLocked
)

func (r Result) String() string {
	switch r {
	case ResultValid:
		return "valid"
	case ResultInvalid:
		return "invalid"
	case ResultLocked:
		return "locked"
	}
	return "unknown"
}

// AttemptRecorder is the slice of the registry the store needs: an atomic
// failed-attempt counter with lock-at-threshold semantics.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, claimID string, lockThreshold int) (attempts int, locked bool, err error)
}

// Store verifies PINs against registry records and enforces lockout.
type Store struct {
	attempts    AttemptRecorder
	maxAttempts int
}

func NewStore(attempts AttemptRecorder, maxAttempts int) *Store {
	return &Store{attempts: attempts, maxAttempts: maxAttempts}
}

func (s *Store) MaxAttempts() int { return s.maxAttempts }

// Verify checks the supplied PIN against the claim's stored digest. On a wrong
// guess it records the attempt through the registry so concurrent guesses
// cannot lose increments, and reports the attempts remaining before lockout.
// Infrastructure failure is the only error path.
func (s *Store) Verify(ctx context.Context, claim *registry.Claim, supplied string) (Result, int, error) {
	if claim.Locked {
		return ResultLocked, 0, nil
	}
	if Matches(claim.PinHash, claim.PinSalt, supplied) {
		return ResultValid, s.maxAttempts - claim.AttemptCount, nil
	}

	// The guess that trips the threshold still reports Invalid; the lock is
	// observed from the next call onward.
	attempts, _, err := s.attempts.RecordAttempt(ctx, claim.ClaimID, s.maxAttempts)
	if err != nil {
		return ResultInvalid, 0, err
	}
	remaining := s.maxAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}
	return ResultInvalid, remaining, nil
}
