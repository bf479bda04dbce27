package registry

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an escrow claim. Transitions are monotonic:
// Pending -> Active -> Claimed | Expired | Refunded, Pending -> Failed.
// A Claimed record with a recorded release is immutable. A Claimed record whose
// release never confirmed is still in flight: it resolves to Refunded when the
// hold expires un-released, or back to Active when the ledger definitively
// rejected the release.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusClaimed  Status = "claimed"
	StatusExpired  Status = "expired"
	StatusRefunded Status = "refunded"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusClaimed, StatusExpired, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

var (
	ErrNotFound     = errors.New("claim not found")
	ErrInvalidState = errors.New("claim is not in a state that allows this transition")
	ErrDuplicateID  = errors.New("claim id already exists")
)

// Claim is one send-to-non-wallet-holder transfer. The PIN is stored only as a
// salted hash; plaintext never reaches the registry.
type Claim struct {
	ClaimID         string
	EscrowRef       string
	SenderAccount   string
	Amount          string
	AssetCode       string
	PinHash         string
	PinSalt         string
	AttemptCount    int
	Locked          bool
	Status          Status
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ClaimedAt       *time.Time
	ClaimantAccount string
	// ReleaseTxHash is set once the ledger release is confirmed. A Claimed
	// record without it means the process died between the claim decision and
	// the ledger confirmation.
	ReleaseTxHash string
}

// Expired reports whether the claim's deadline has passed at the given instant.
func (c *Claim) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
