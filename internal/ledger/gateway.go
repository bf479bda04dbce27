// Package ledger abstracts the external claimable-balance ledger.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gateway is the narrow escrow interface the claim service depends on.
type Gateway interface {
	// CreateHold locks funds into a conditional hold the claimant can collect
	// before ExpiresAt. The tag travels with the hold (transaction memo) so a
	// retried submission can be reconciled via LookupHold.
	CreateHold(ctx context.Context, req CreateHoldRequest) (Hold, error)

	// Release pays a confirmed hold out to the given account.
	Release(ctx context.Context, escrowRef, toAccount string) (TxConfirmation, error)

	// Refund returns an expired hold to its original funder. The ledger's own
	// time predicate enforces expiry; the gateway is not the sole line of defense.
	Refund(ctx context.Context, escrowRef, toAccount string) (TxConfirmation, error)

	// LookupHold searches for an existing hold carrying the tag. Used to avoid
	// duplicate escrow creation when a submission timed out after landing.
	LookupHold(ctx context.Context, tag string) (Hold, bool, error)
}

// HealthChecker is implemented by gateways that can probe their backend.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type CreateHoldRequest struct {
	SourceAccount string
	Amount        string // decimal string, ledger-native precision
	AssetCode     string
	Claimant      string
	ExpiresAt     time.Time
	Tag           string
}

type Hold struct {
	Reference string // ledger-native escrow identifier
	TxHash    string
}

type TxConfirmation struct {
	TxHash string
	Ledger int64
}

var (
	ErrAlreadyReleased = errors.New("hold already released")
	ErrHoldExpired     = errors.New("hold past its claim deadline")
	ErrHoldNotFound    = errors.New("hold not found on ledger")
)

// SubmissionError wraps transport-level failures (network, timeout, 5xx).
// Retryable: the submission may or may not have landed.
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("ledger %s submission: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// RejectedError wraps a definitive ledger refusal (insufficient funds, bad
// destination). Not retryable.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected %s: %s", e.Op, e.Reason)
}

// IsRetryable reports whether the error is a transient submission failure.
func IsRetryable(err error) bool {
	var sub *SubmissionError
	return errors.As(err, &sub)
}
