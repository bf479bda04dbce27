package registry

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestClaim(id string, status Status, expiresAt time.Time) *Claim {
	return &Claim{
		ClaimID:       id,
		SenderAccount: "S1",
		Amount:        "50.00",
		AssetCode:     "NATIVE",
		PinHash:       "hash",
		PinSalt:       "salt",
		Status:        status,
		CreatedAt:     time.Now(),
		ExpiresAt:     expiresAt,
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	expiry := time.Now().Add(time.Hour)

	if err := store.Create(ctx, newTestClaim("c1", StatusPending, expiry)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newTestClaim("c1", StatusPending, expiry)); err != ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	claim, err := store.MarkActive(ctx, "c1", "esc-1")
	if err != nil {
		t.Fatalf("mark active: %v", err)
	}
	if claim.Status != StatusActive || claim.EscrowRef != "esc-1" {
		t.Fatalf("unexpected claim after activate: %+v", claim)
	}

	// MarkActive is idempotent under retry: a second call is a no-op that
	// reports the current state.
	claim, err = store.MarkActive(ctx, "c1", "esc-other")
	if err != nil {
		t.Fatalf("second mark active: %v", err)
	}
	if claim.EscrowRef != "esc-1" {
		t.Fatalf("escrow ref overwritten on repeat activate: %s", claim.EscrowRef)
	}

	claimedAt := time.Now()
	if err := store.MarkClaimed(ctx, "c1", "R1", claimedAt); err != nil {
		t.Fatalf("mark claimed: %v", err)
	}
	if err := store.MarkClaimed(ctx, "c1", "R2", claimedAt); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState for second claim, got %v", err)
	}

	claim, _ = store.Get(ctx, "c1")
	if claim.ClaimantAccount != "R1" || claim.ClaimedAt == nil {
		t.Fatalf("claimant not recorded: %+v", claim)
	}

	// Terminal records stay terminal.
	if err := store.MarkExpired(ctx, "c1"); err != nil {
		t.Fatalf("mark expired on terminal should no-op, got %v", err)
	}
	claim, _ = store.Get(ctx, "c1")
	if claim.Status != StatusClaimed {
		t.Fatalf("terminal status resurrected: %s", claim.Status)
	}

	if err := store.RecordRelease(ctx, "c1", "tx-99"); err != nil {
		t.Fatalf("record release: %v", err)
	}
	claim, _ = store.Get(ctx, "c1")
	if claim.ReleaseTxHash != "tx-99" {
		t.Fatalf("release hash not recorded: %+v", claim)
	}
}

func TestMemoryStoreMarkFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	expiry := time.Now().Add(time.Hour)

	_ = store.Create(ctx, newTestClaim("c1", StatusPending, expiry))
	if err := store.MarkFailed(ctx, "c1"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	_ = store.Create(ctx, newTestClaim("c2", StatusPending, expiry))
	_, _ = store.MarkActive(ctx, "c2", "esc-2")
	if err := store.MarkFailed(ctx, "c2"); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState failing an active claim, got %v", err)
	}
}

func TestMemoryStoreAttemptCounterConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Create(ctx, newTestClaim("c1", StatusActive, time.Now().Add(time.Hour)))

	const guesses = 20
	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = store.RecordAttempt(ctx, "c1", 5)
		}()
	}
	wg.Wait()

	claim, _ := store.Get(ctx, "c1")
	if claim.AttemptCount != guesses {
		t.Fatalf("lost increments: got %d want %d", claim.AttemptCount, guesses)
	}
	if !claim.Locked {
		t.Fatalf("expected lockout past threshold")
	}

	if err := store.ResetAttempts(ctx, "c1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	claim, _ = store.Get(ctx, "c1")
	if claim.AttemptCount != 0 || claim.Locked {
		t.Fatalf("reset did not clear lockout: %+v", claim)
	}
}

func TestMemoryStoreListExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	_ = store.Create(ctx, newTestClaim("past-active", StatusActive, now.Add(-time.Minute)))
	_ = store.Create(ctx, newTestClaim("future-active", StatusActive, now.Add(time.Hour)))
	_ = store.Create(ctx, newTestClaim("past-pending", StatusPending, now.Add(-time.Minute)))

	expired, err := store.ListExpired(ctx, now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ClaimID != "past-active" {
		t.Fatalf("unexpected expired set: %+v", expired)
	}
}

func TestMemoryStoreUnreleasedClaimed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	// Claimed with no recorded release and a passed deadline: refundable.
	_ = store.Create(ctx, newTestClaim("stranded", StatusActive, now.Add(-time.Minute)))
	_ = store.MarkClaimed(ctx, "stranded", "R1", now)

	// Claimed with the release confirmed: immutable.
	_ = store.Create(ctx, newTestClaim("released", StatusActive, now.Add(-time.Minute)))
	_ = store.MarkClaimed(ctx, "released", "R1", now)
	_ = store.RecordRelease(ctx, "released", "tx-1")

	// Claimed but still inside the deadline: the resume path may finish it.
	_ = store.Create(ctx, newTestClaim("in-flight", StatusActive, now.Add(time.Hour)))
	_ = store.MarkClaimed(ctx, "in-flight", "R1", now)

	unreleased, err := store.ListUnreleasedClaimed(ctx, now)
	if err != nil {
		t.Fatalf("list unreleased: %v", err)
	}
	if len(unreleased) != 1 || unreleased[0].ClaimID != "stranded" {
		t.Fatalf("unexpected unreleased set: %+v", unreleased)
	}

	if err := store.MarkRefundedUnreleased(ctx, "stranded"); err != nil {
		t.Fatalf("mark refunded unreleased: %v", err)
	}
	claim, _ := store.Get(ctx, "stranded")
	if claim.Status != StatusRefunded {
		t.Fatalf("expected Refunded, got %s", claim.Status)
	}

	// Neither transition may touch a record with a confirmed release.
	if err := store.MarkRefundedUnreleased(ctx, "released"); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := store.ReopenClaim(ctx, "released"); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestMemoryStoreReopenClaim(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Create(ctx, newTestClaim("c1", StatusActive, time.Now().Add(time.Hour)))
	_ = store.MarkClaimed(ctx, "c1", "R1", time.Now())

	if err := store.ReopenClaim(ctx, "c1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	claim, _ := store.Get(ctx, "c1")
	if claim.Status != StatusActive || claim.ClaimantAccount != "" || claim.ClaimedAt != nil {
		t.Fatalf("reopen did not clear the claim decision: %+v", claim)
	}

	// The reopened record is claimable again.
	if err := store.MarkClaimed(ctx, "c1", "R2", time.Now()); err != nil {
		t.Fatalf("claim after reopen: %v", err)
	}
	if err := store.ReopenClaim(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListStalePending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	old := newTestClaim("old-pending", StatusPending, now.Add(time.Hour))
	old.CreatedAt = now.Add(-10 * time.Minute)
	_ = store.Create(ctx, old)

	fresh := newTestClaim("fresh-pending", StatusPending, now.Add(time.Hour))
	fresh.CreatedAt = now
	_ = store.Create(ctx, fresh)

	stale, err := store.ListStalePending(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("list stale pending: %v", err)
	}
	if len(stale) != 1 || stale[0].ClaimID != "old-pending" {
		t.Fatalf("unexpected stale set: %+v", stale)
	}
}
