package registry

import (
	"context"
	"sync"
	"time"
)

// Store is the only mutation surface for claim records. Every transition is
// atomic with respect to concurrent callers so the state machine invariants
// hold regardless of backend.
type Store interface {
	Create(ctx context.Context, claim *Claim) error
	Get(ctx context.Context, claimID string) (*Claim, error)

	// MarkActive transitions Pending -> Active. It is idempotent under retry:
	// if the record is not Pending the current state is returned unchanged.
	MarkActive(ctx context.Context, claimID, escrowRef string) (*Claim, error)

	// MarkClaimed transitions Active -> Claimed as a compare-and-swap; it
	// returns ErrInvalidState when the record is no longer Active, which is
	// how a losing concurrent redeemer finds out.
	MarkClaimed(ctx context.Context, claimID, claimantAccount string, at time.Time) error

	// MarkExpired and MarkRefunded transition Active to the named terminal
	// state; both are no-ops on records that are already terminal.
	MarkExpired(ctx context.Context, claimID string) error
	MarkRefunded(ctx context.Context, claimID string) error

	// MarkFailed transitions Pending -> Failed (rejected escrow submission).
	MarkFailed(ctx context.Context, claimID string) error

	// RecordRelease stores the confirmed ledger release hash on a Claimed record.
	RecordRelease(ctx context.Context, claimID, txHash string) error

	// MarkRefundedUnreleased transitions a Claimed record with no recorded
	// release to Refunded, for holds that expired before the release confirmed.
	// ErrInvalidState once a release hash is recorded.
	MarkRefundedUnreleased(ctx context.Context, claimID string) error

	// ReopenClaim reverts a Claimed record with no recorded release to Active,
	// clearing the claimant. Used when the ledger definitively rejected the
	// release, so nothing was paid out and the claim may be redeemed again.
	ReopenClaim(ctx context.Context, claimID string) error

	// RecordAttempt atomically increments the failed-attempt counter and locks
	// the record once the threshold is reached. It returns the new count and
	// lock state so lost increments cannot let racing guesses bypass lockout.
	RecordAttempt(ctx context.Context, claimID string, lockThreshold int) (attempts int, locked bool, err error)

	// ResetAttempts clears the counter and lock. Administrative only.
	ResetAttempts(ctx context.Context, claimID string) error

	// ListExpired returns Active records whose deadline has passed.
	ListExpired(ctx context.Context, now time.Time) ([]*Claim, error)

	// ListStalePending returns Pending records created before the cutoff, for
	// ledger reconciliation after a crash mid-creation.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*Claim, error)

	// ListUnreleasedClaimed returns Claimed records past their deadline whose
	// release never confirmed. Their holds can no longer be paid out and are
	// refunded by the sweeper.
	ListUnreleasedClaimed(ctx context.Context, now time.Time) ([]*Claim, error)
}

// MemoryStore keeps claims in a map guarded by a mutex. Used in tests and
// single-process dev runs; the Postgres store is the durable backend.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]*Claim
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[string]*Claim)}
}

func (m *MemoryStore) Create(_ context.Context, claim *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[claim.ClaimID]; ok {
		return ErrDuplicateID
	}
	cp := *claim
	m.claims[claim.ClaimID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, claimID string) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[claimID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *claim
	return &cp, nil
}

func (m *MemoryStore) MarkActive(_ context.Context, claimID, escrowRef string) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[claimID]
	if !ok {
		return nil, ErrNotFound
	}
	if claim.Status == StatusPending {
		claim.Status = StatusActive
		claim.EscrowRef = escrowRef
	}
	cp := *claim
	return &cp, nil
}

func (m *MemoryStore) MarkClaimed(_ context.Context, claimID, claimantAccount string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[claimID]
	if !ok {
		return ErrNotFound
	}
	if claim.Status != StatusActive {
		return ErrInvalidState
	}
	claim.Status = StatusClaimed
	claim.ClaimantAccount = claimantAccount
	claimedAt := at
	claim.ClaimedAt = &claimedAt
	return nil
}

func (m *MemoryStore) MarkExpired(ctx context.Context, claimID string) error {
	return m.terminate(claimID, StatusExpired)
}

func (m *MemoryStore) MarkRefunded(ctx context.Context, claimID string) error {
	return m.terminate(claimID, StatusRefunded)
}

func (m *MemoryStore) terminate(claimID string, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[claimID]
	if !ok {
		return ErrNotFound
	}
	if claim.Status.Terminal() {
		return nil
	}
	if claim.Status != StatusActive {
		return ErrInvalidState
	}
	claim.Status = to
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[claimID]
	if !ok {
		return ErrNotFound
	}
	if claim.Status.Terminal() {
		return nil
	}
	if claim.Status != StatusPending {
		return ErrInvalidState
	}
	claim.Status = StatusFailed
	return nil
}

func (m *MemoryStore) RecordRelease(_ context.Context, claimID, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[claimID]
	if !ok {
		return ErrNotFound
	}
	if claim.Status != StatusClaimed {
		return ErrInvalidState
	}
	claim.ReleaseTxHash = txHash
	return nil
}

func (m *MemoryStore) MarkRefundedUnreleased(_ context.Context, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[claimID]
	if !ok {
		return ErrNotFound
	}
	if claim.Status != StatusClaimed || claim.ReleaseTxHash != "" {
		return ErrInvalidState
	}
	claim.Status = StatusRefunded
	return nil
}

func (m *MemoryStore) ReopenClaim(_ context.Context, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[claimID]
	if !ok {
		return ErrNotFound
	}
	if claim.Status != StatusClaimed || claim.ReleaseTxHash != "" {
		return ErrInvalidState
	}
	claim.Status = StatusActive
	claim.ClaimantAccount = ""
	claim.ClaimedAt = nil
	return nil
}

func (m *MemoryStore) RecordAttempt(_ context.Context, claimID string, lockThreshold int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[claimID]
	if !ok {
		return 0, false, ErrNotFound
	}
	claim.AttemptCount++
	if claim.AttemptCount >= lockThreshold {
		claim.Locked = true
	}
	return claim.AttemptCount, claim.Locked, nil
}

func (m *MemoryStore) ResetAttempts(_ context.Context, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[claimID]
	if !ok {
		return ErrNotFound
	}
	claim.AttemptCount = 0
	claim.Locked = false
	return nil
}

func (m *MemoryStore) ListExpired(_ context.Context, now time.Time) ([]*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Claim
	for _, claim := range m.claims {
		if claim.Status == StatusActive && claim.Expired(now) {
			cp := *claim
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListStalePending(_ context.Context, cutoff time.Time) ([]*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Claim
	for _, claim := range m.claims {
		if claim.Status == StatusPending && claim.CreatedAt.Before(cutoff) {
			cp := *claim
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListUnreleasedClaimed(_ context.Context, now time.Time) ([]*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Claim
	for _, claim := range m.claims {
		if claim.Status == StatusClaimed && claim.ReleaseTxHash == "" && claim.Expired(now) {
			cp := *claim
			out = append(out, &cp)
		}
	}
	return out, nil
}
