package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// FakeGateway is an in-memory ledger for tests and dev runs. It enforces the
// same claim-before-expiry predicate a real ledger would, so expiry and
// double-release behavior can be exercised without a network.
type FakeGateway struct {
	mu    sync.Mutex
	now   func() time.Time
	holds map[string]*fakeHold // keyed by reference
	byTag map[string]string
}

type fakeHold struct {
	req      CreateHoldRequest
	released bool
	refunded bool
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		now:   time.Now,
		holds: make(map[string]*fakeHold),
		byTag: make(map[string]string),
	}
}

// SetClock overrides the gateway's clock. Test use only.
func (f *FakeGateway) SetClock(now func() time.Time) { f.now = now }

func (f *FakeGateway) CreateHold(_ context.Context, req CreateHoldRequest) (Hold, error) {
	if req.SourceAccount == "" || req.Amount == "" {
		return Hold{}, &RejectedError{Op: "create hold", Reason: "missing source or amount"}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	sum := sha256.Sum256([]byte(req.SourceAccount + req.Amount + req.AssetCode + req.Tag))
	ref := hex.EncodeToString(sum[:])
	f.holds[ref] = &fakeHold{req: req}
	if req.Tag != "" {
		f.byTag[req.Tag] = ref
	}
	return Hold{Reference: ref, TxHash: fakeTxHash("create", ref)}, nil
}

func (f *FakeGateway) Release(_ context.Context, escrowRef, toAccount string) (TxConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hold, ok := f.holds[escrowRef]
	if !ok {
		return TxConfirmation{}, ErrHoldNotFound
	}
	if hold.released || hold.refunded {
		return TxConfirmation{}, ErrAlreadyReleased
	}
	if !f.now().Before(hold.req.ExpiresAt) {
		return TxConfirmation{}, ErrHoldExpired
	}
	if toAccount == "" {
		return TxConfirmation{}, &RejectedError{Op: "release", Reason: "missing destination"}
	}
	hold.released = true
	return TxConfirmation{TxHash: fakeTxHash("release", escrowRef)}, nil
}

func (f *FakeGateway) Refund(_ context.Context, escrowRef, toAccount string) (TxConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hold, ok := f.holds[escrowRef]
	if !ok {
		return TxConfirmation{}, ErrHoldNotFound
	}
	if hold.released || hold.refunded {
		return TxConfirmation{}, ErrAlreadyReleased
	}
	if f.now().Before(hold.req.ExpiresAt) {
		return TxConfirmation{}, &RejectedError{Op: "refund", Reason: "hold has not expired"}
	}
	hold.refunded = true
	return TxConfirmation{TxHash: fakeTxHash("refund", escrowRef)}, nil
}

func (f *FakeGateway) LookupHold(_ context.Context, tag string) (Hold, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ref, ok := f.byTag[tag]
	if !ok {
		return Hold{}, false, nil
	}
	return Hold{Reference: ref, TxHash: fakeTxHash("create", ref)}, true, nil
}

func (f *FakeGateway) Ping(context.Context) error { return nil }

func fakeTxHash(op, ref string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", op, ref)))
	return hex.EncodeToString(sum[:])
}
