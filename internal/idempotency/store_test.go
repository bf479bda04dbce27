package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if rec, err := store.Get(ctx, "missing"); err != nil || rec != nil {
		t.Fatalf("unknown key: got %v, %v", rec, err)
	}

	saved := Record{
		StatusCode: 201,
		Response:   []byte(`{"claimId":"c1"}`),
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := store.Save(ctx, "k1", saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.StatusCode != 201 || string(rec.Response) != `{"claimId":"c1"}` {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Save(ctx, "old", Record{
		StatusCode: 201,
		Response:   []byte(`{}`),
		CreatedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt:  time.Now().Add(-time.Hour),
	})

	if rec, _ := store.Get(ctx, "old"); rec != nil {
		t.Fatalf("expired record replayed: %+v", rec)
	}

	// Saving prunes expired entries.
	_ = store.Save(ctx, "fresh", Record{
		StatusCode: 201,
		Response:   []byte(`{}`),
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	})
	if _, ok := store.data["old"]; ok {
		t.Fatalf("expired entry not pruned on save")
	}
}
