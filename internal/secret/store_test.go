package secret

import (
	"context"
	"testing"
	"time"

	"claimrails/internal/registry"
)

func seedClaim(t *testing.T, store *registry.MemoryStore, pin string) *registry.Claim {
	t.Helper()
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	claim := &registry.Claim{
		ClaimID:       "c1",
		SenderAccount: "S1",
		Amount:        "10",
		AssetCode:     "NATIVE",
		PinHash:       HashPIN(pin, salt),
		PinSalt:       salt,
		Status:        registry.StatusActive,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	if err := store.Create(context.Background(), claim); err != nil {
		t.Fatalf("create: %v", err)
	}
	return claim
}

func TestVerifyLockoutThreshold(t *testing.T) {
	ctx := context.Background()
	regStore := registry.NewMemoryStore()
	claim := seedClaim(t, regStore, "4821")
	secrets := NewStore(regStore, 5)

	// Five consecutive wrong guesses, each reported as Invalid with a
	// shrinking remaining count.
	for i := 1; i <= 5; i++ {
		fresh, _ := regStore.Get(ctx, claim.ClaimID)
		result, remaining, err := secrets.Verify(ctx, fresh, "0000")
		if err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
		if result != ResultInvalid {
			t.Fatalf("guess %d: expected Invalid, got %s", i, result)
		}
		if remaining != 5-i {
			t.Fatalf("guess %d: expected %d remaining, got %d", i, 5-i, remaining)
		}
	}

	// The sixth call is Locked even with the correct PIN.
	fresh, _ := regStore.Get(ctx, claim.ClaimID)
	result, _, err := secrets.Verify(ctx, fresh, "4821")
	if err != nil {
		t.Fatalf("verify locked: %v", err)
	}
	if result != ResultLocked {
		t.Fatalf("expected Locked after threshold, got %s", result)
	}
}

func TestVerifyCorrectPin(t *testing.T) {
	ctx := context.Background()
	regStore := registry.NewMemoryStore()
	claim := seedClaim(t, regStore, "0007")
	secrets := NewStore(regStore, 5)

	result, remaining, err := secrets.Verify(ctx, claim, "0007")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result != ResultValid {
		t.Fatalf("expected Valid, got %s", result)
	}
	if remaining != 5 {
		t.Fatalf("expected full allowance, got %d", remaining)
	}

	// A correct guess never consumes an attempt.
	fresh, _ := regStore.Get(ctx, claim.ClaimID)
	if fresh.AttemptCount != 0 {
		t.Fatalf("attempt count moved on a correct guess: %d", fresh.AttemptCount)
	}
}
