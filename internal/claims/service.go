// Package claims orchestrates the escrow claim protocol: lock funds into a
// conditional hold, bind them to a hashed PIN, notify the recipient, and
// redeem or refund before/after the deadline.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"claimrails/internal/config"
	"claimrails/internal/ledger"
	"claimrails/internal/notify"
	"claimrails/internal/registry"
	"claimrails/internal/secret"
)

// Service is the only component callers interact with. All registry mutation
// flows through the store's transition methods, which are the linearization
// points for concurrent callers.
type Service struct {
	store    registry.Store
	secrets  *secret.Store
	ledger   ledger.Gateway
	notifier notify.Gateway
	cfg      config.ClaimsConfig
	retry    config.RetryConfig
	now      func() time.Time
}

func NewService(store registry.Store, secrets *secret.Store, gw ledger.Gateway, notifier notify.Gateway, cfg config.ClaimsConfig, retry config.RetryConfig) *Service {
	return &Service{
		store:    store,
		secrets:  secrets,
		ledger:   gw,
		notifier: notifier,
		cfg:      cfg,
		retry:    retry,
		now:      time.Now,
	}
}

// SetClock overrides the service clock. Test use only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type CreateRequest struct {
	SenderAccount string
	Amount        string
	AssetCode     string
	NotifyAddress string
	TTL           time.Duration
	SenderName    string
}

type CreateResult struct {
	ClaimID   string
	EscrowRef string
	ExpiresAt time.Time
	// PIN is returned exactly once for display/resend and is never persisted.
	PIN string
	// NotifyWarning is set when the escrow succeeded but delivery failed.
	NotifyWarning string
}

// CreateClaim locks funds for a recipient identified only by an out-of-band
// address. Validation failures reject synchronously with no side effects; a
// ledger rejection marks the record Failed and sends nothing.
func (s *Service) CreateClaim(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	notifyAddr, err := s.validateCreate(&req)
	if err != nil {
		return nil, err
	}

	pin, err := secret.GeneratePIN()
	if err != nil {
		return nil, err
	}
	salt, err := secret.NewSalt()
	if err != nil {
		return nil, err
	}

	now := s.now()
	claim := &registry.Claim{
		ClaimID:       uuid.NewString(),
		SenderAccount: req.SenderAccount,
		Amount:        req.Amount,
		AssetCode:     req.AssetCode,
		PinHash:       secret.HashPIN(pin, salt),
		PinSalt:       salt,
		Status:        registry.StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(req.TTL),
	}
	if err := s.store.Create(ctx, claim); err != nil {
		return nil, fmt.Errorf("register claim: %w", err)
	}

	hold, err := s.submitHoldWithRetry(ctx, ledger.CreateHoldRequest{
		SourceAccount: claim.SenderAccount,
		Amount:        claim.Amount,
		AssetCode:     claim.AssetCode,
		Claimant:      notifyAddr,
		ExpiresAt:     claim.ExpiresAt,
		Tag:           claim.ClaimID,
	})
	if err != nil {
		var rejected *ledger.RejectedError
		if errors.As(err, &rejected) {
			if markErr := s.store.MarkFailed(ctx, claim.ClaimID); markErr != nil {
				log.Printf("claims: mark failed %s: %v", claim.ClaimID, markErr)
			}
			return nil, err
		}
		// Submission retries exhausted: the record stays Pending so the
		// sweeper can reconcile against the ledger before any resubmit.
		return nil, &RetryExhaustedError{Op: "create hold", Err: err}
	}

	if _, err := s.store.MarkActive(ctx, claim.ClaimID, hold.Reference); err != nil {
		return nil, fmt.Errorf("activate claim %s: %w", claim.ClaimID, err)
	}

	result := &CreateResult{
		ClaimID:   claim.ClaimID,
		EscrowRef: hold.Reference,
		ExpiresAt: claim.ExpiresAt,
		PIN:       pin,
	}

	message := notify.ClaimMessage(claim.Amount, claim.AssetCode, pin,
		notify.ClaimURL(s.cfg.ClaimBaseURL, claim.ClaimID), req.SenderName)
	if _, err := s.notifier.Send(ctx, notifyAddr, message); err != nil {
		// Never roll back a confirmed escrow over a failed text.
		log.Printf("claims: notification for %s failed: %v", claim.ClaimID, err)
		result.NotifyWarning = "escrow created but the notification could not be delivered; resend it manually"
	}
	return result, nil
}

func (s *Service) validateCreate(req *CreateRequest) (string, error) {
	if req.SenderAccount == "" {
		return "", &ValidationError{Field: "senderAccount", Reason: "required"}
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return "", &ValidationError{Field: "amount", Reason: "not a decimal number"}
	}
	if !amount.IsPositive() {
		return "", &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.AssetCode == "" {
		return "", &ValidationError{Field: "assetCode", Reason: "required"}
	}
	if req.TTL == 0 {
		req.TTL = s.cfg.DefaultTTL
	}
	if req.TTL < s.cfg.MinTTL || req.TTL > s.cfg.MaxTTL {
		return "", &ValidationError{
			Field:  "ttlSeconds",
			Reason: fmt.Sprintf("must be between %s and %s", s.cfg.MinTTL, s.cfg.MaxTTL),
		}
	}
	addr, err := notify.Normalize(req.NotifyAddress)
	if err != nil {
		return "", &ValidationError{Field: "notifyAddress", Reason: err.Error()}
	}
	return addr, nil
}

// submitHoldWithRetry retries transient submission failures with bounded
// exponential backoff. Before every resubmit it checks whether the previous
// attempt actually landed, keyed by the claim tag, so a timed-out submission
// never creates a second escrow for the same request.
func (s *Service) submitHoldWithRetry(ctx context.Context, req ledger.CreateHoldRequest) (ledger.Hold, error) {
	attempts := s.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := s.retry.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if i > 1 {
			if hold, found, err := s.ledger.LookupHold(ctx, req.Tag); err == nil && found {
				return hold, nil
			}
		}

		hold, err := s.ledger.CreateHold(ctx, req)
		if err == nil {
			return hold, nil
		}
		if !ledger.IsRetryable(err) || i == attempts {
			return ledger.Hold{}, err
		}
		lastErr = err

		sleep := backoff
		if s.retry.MaxBackoff > 0 && sleep > s.retry.MaxBackoff {
			sleep = s.retry.MaxBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ledger.Hold{}, &ledger.SubmissionError{Op: "create hold", Err: ctx.Err()}
		}
		if s.retry.BackoffMultiplier > 1 {
			backoff *= time.Duration(s.retry.BackoffMultiplier)
		}
	}
	return ledger.Hold{}, lastErr
}

type RedeemResult struct {
	Amount    string
	AssetCode string
	ClaimedAt time.Time
	TxHash    string
}

// RedeemClaim verifies the PIN and pays the hold out to the claimant. The
// registry's Active -> Claimed compare-and-swap is taken before the ledger
// release, so exactly one of any number of concurrent redeemers reaches the
// ledger; the rest get ErrAlreadyClaimed without touching it.
func (s *Service) RedeemClaim(ctx context.Context, claimID, suppliedPin, claimantAccount string) (*RedeemResult, error) {
	if claimantAccount == "" {
		return nil, &ValidationError{Field: "claimantAccount", Reason: "required"}
	}

	claim, err := s.store.Get(ctx, claimID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	switch claim.Status {
	case registry.StatusClaimed:
		// A Claimed record without a recorded release means a previous redeem
		// crashed between the claim decision and ledger confirmation. The
		// recorded claimant may finish the release; anyone else is a loser of
		// the original race.
		if claim.ReleaseTxHash == "" && claim.ClaimantAccount == claimantAccount {
			return s.resumeRelease(ctx, claim, suppliedPin)
		}
		return nil, ErrAlreadyClaimed
	case registry.StatusExpired:
		return nil, ErrExpired
	case registry.StatusRefunded:
		return nil, ErrRefunded
	case registry.StatusFailed, registry.StatusPending:
		return nil, ErrNotFound
	}

	// Registry-side deadline check; the ledger predicate is the second line.
	if claim.Expired(s.now()) {
		return nil, ErrExpired
	}

	if err := s.verifyPin(ctx, claim, suppliedPin); err != nil {
		return nil, err
	}

	claimedAt := s.now()
	if err := s.store.MarkClaimed(ctx, claimID, claimantAccount, claimedAt); err != nil {
		if errors.Is(err, registry.ErrInvalidState) {
			return nil, s.terminalError(ctx, claimID)
		}
		return nil, err
	}

	confirmation, err := s.releaseWithRetry(ctx, claim.EscrowRef, claimantAccount)
	if err != nil {
		return nil, s.failRelease(ctx, claim, err)
	}
	if err := s.store.RecordRelease(ctx, claimID, confirmation.TxHash); err != nil {
		log.Printf("claims: record release %s: %v", claimID, err)
	}

	return &RedeemResult{
		Amount:    claim.Amount,
		AssetCode: claim.AssetCode,
		ClaimedAt: claimedAt,
		TxHash:    confirmation.TxHash,
	}, nil
}

// failRelease resolves a release failure after the claim decision was taken.
// An expired hold is refunded to the sender straight away so the money is not
// stranded on-ledger. A definitive rejection (bad destination account) reopens
// the claim: nothing was paid out, and the redeemer may retry with a usable
// account. Transient failures leave the record Claimed for the resume path.
func (s *Service) failRelease(ctx context.Context, claim *registry.Claim, err error) error {
	if errors.Is(err, ledger.ErrHoldExpired) {
		s.refundUnreleased(ctx, claim)
		return ErrExpired
	}
	var rejected *ledger.RejectedError
	if errors.As(err, &rejected) {
		if reopenErr := s.store.ReopenClaim(ctx, claim.ClaimID); reopenErr != nil {
			log.Printf("claims: reopen %s after rejected release: %v", claim.ClaimID, reopenErr)
		}
		return err
	}
	return &RetryExhaustedError{Op: "release", Err: err}
}

// refundUnreleased returns an expired, never-released hold to the sender and
// closes the record out as Refunded. Failures are logged and retried by the
// sweeper's unreleased-claimed pass.
func (s *Service) refundUnreleased(ctx context.Context, claim *registry.Claim) {
	_, err := s.ledger.Refund(ctx, claim.EscrowRef, claim.SenderAccount)
	switch {
	case err == nil, errors.Is(err, ledger.ErrAlreadyReleased), errors.Is(err, ledger.ErrHoldNotFound):
		if markErr := s.store.MarkRefundedUnreleased(ctx, claim.ClaimID); markErr != nil {
			log.Printf("claims: mark refunded %s: %v", claim.ClaimID, markErr)
		}
	default:
		log.Printf("claims: refund expired hold %s: %v", claim.ClaimID, err)
	}
}

func (s *Service) verifyPin(ctx context.Context, claim *registry.Claim, suppliedPin string) error {
	result, remaining, err := s.secrets.Verify(ctx, claim, suppliedPin)
	if err != nil {
		return err
	}
	switch result {
	case secret.ResultLocked:
		return ErrLocked
	case secret.ResultInvalid:
		return &WrongPinError{AttemptsRemaining: remaining}
	}
	return nil
}

func (s *Service) resumeRelease(ctx context.Context, claim *registry.Claim, suppliedPin string) (*RedeemResult, error) {
	if err := s.verifyPin(ctx, claim, suppliedPin); err != nil {
		return nil, err
	}

	confirmation, err := s.releaseWithRetry(ctx, claim.EscrowRef, claim.ClaimantAccount)
	if err != nil {
		return nil, s.failRelease(ctx, claim, err)
	}
	if err := s.store.RecordRelease(ctx, claim.ClaimID, confirmation.TxHash); err != nil {
		log.Printf("claims: record release %s: %v", claim.ClaimID, err)
	}

	claimedAt := s.now()
	if claim.ClaimedAt != nil {
		claimedAt = *claim.ClaimedAt
	}
	return &RedeemResult{
		Amount:    claim.Amount,
		AssetCode: claim.AssetCode,
		ClaimedAt: claimedAt,
		TxHash:    confirmation.TxHash,
	}, nil
}

// releaseWithRetry mirrors the creation retry policy. ErrAlreadyReleased from
// the ledger counts as success with no hash: the registry already holds the
// authoritative outcome and the ledger refused a second payout.
func (s *Service) releaseWithRetry(ctx context.Context, escrowRef, toAccount string) (ledger.TxConfirmation, error) {
	attempts := s.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := s.retry.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	for i := 1; ; i++ {
		confirmation, err := s.ledger.Release(ctx, escrowRef, toAccount)
		if err == nil {
			return confirmation, nil
		}
		if errors.Is(err, ledger.ErrAlreadyReleased) {
			return ledger.TxConfirmation{}, nil
		}
		if !ledger.IsRetryable(err) || i == attempts {
			return ledger.TxConfirmation{}, err
		}

		sleep := backoff
		if s.retry.MaxBackoff > 0 && sleep > s.retry.MaxBackoff {
			sleep = s.retry.MaxBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ledger.TxConfirmation{}, &ledger.SubmissionError{Op: "release", Err: ctx.Err()}
		}
		if s.retry.BackoffMultiplier > 1 {
			backoff *= time.Duration(s.retry.BackoffMultiplier)
		}
	}
}

func (s *Service) terminalError(ctx context.Context, claimID string) error {
	claim, err := s.store.Get(ctx, claimID)
	if err != nil {
		return ErrAlreadyClaimed
	}
	switch claim.Status {
	case registry.StatusExpired:
		return ErrExpired
	case registry.StatusRefunded:
		return ErrRefunded
	default:
		return ErrAlreadyClaimed
	}
}

// GetClaim returns the caller-visible view of a claim. The PIN hash and salt
// never leave the service.
func (s *Service) GetClaim(ctx context.Context, claimID string) (*registry.Claim, error) {
	claim, err := s.store.Get(ctx, claimID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	claim.PinHash = ""
	claim.PinSalt = ""
	return claim, nil
}

// ResetAttempts clears a claim's lockout. Administrative action only; the
// counter never resets on its own.
func (s *Service) ResetAttempts(ctx context.Context, claimID string) error {
	if err := s.store.ResetAttempts(ctx, claimID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// ExpireSweep refunds every Active claim past its deadline, reconciles stale
// Pending records against the ledger, and refunds expired holds stranded
// behind an unconfirmed release. Individual failures are logged and retried
// on the next sweep without blocking other entries.
func (s *Service) ExpireSweep(ctx context.Context) {
	now := s.now()

	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		log.Printf("claims: sweep list expired: %v", err)
	}
	for _, claim := range expired {
		s.sweepOne(ctx, claim)
	}

	stale, err := s.store.ListStalePending(ctx, now.Add(-s.cfg.PendingGrace))
	if err != nil {
		log.Printf("claims: sweep list pending: %v", err)
	}
	for _, claim := range stale {
		s.reconcilePending(ctx, claim)
	}

	// Claimed records whose release never confirmed and whose hold has since
	// expired can no longer pay out; refund them to the sender.
	unreleased, err := s.store.ListUnreleasedClaimed(ctx, now)
	if err != nil {
		log.Printf("claims: sweep list unreleased: %v", err)
	}
	for _, claim := range unreleased {
		s.refundUnreleased(ctx, claim)
	}
}

func (s *Service) sweepOne(ctx context.Context, claim *registry.Claim) {
	_, err := s.ledger.Refund(ctx, claim.EscrowRef, claim.SenderAccount)
	switch {
	case err == nil:
		if err := s.store.MarkRefunded(ctx, claim.ClaimID); err != nil {
			log.Printf("claims: sweep mark refunded %s: %v", claim.ClaimID, err)
		}
	case errors.Is(err, ledger.ErrHoldNotFound), errors.Is(err, ledger.ErrAlreadyReleased):
		// Nothing left to refund on-ledger; close the record out.
		if err := s.store.MarkExpired(ctx, claim.ClaimID); err != nil {
			log.Printf("claims: sweep mark expired %s: %v", claim.ClaimID, err)
		}
	default:
		log.Printf("claims: sweep refund %s: %v", claim.ClaimID, err)
	}
}

// reconcilePending resolves records stranded by a crash between submission
// and confirmation: if the tagged hold exists the claim becomes Active,
// otherwise it is Failed and the caller may recreate it.
func (s *Service) reconcilePending(ctx context.Context, claim *registry.Claim) {
	hold, found, err := s.ledger.LookupHold(ctx, claim.ClaimID)
	if err != nil {
		log.Printf("claims: reconcile lookup %s: %v", claim.ClaimID, err)
		return
	}
	if found {
		if _, err := s.store.MarkActive(ctx, claim.ClaimID, hold.Reference); err != nil {
			log.Printf("claims: reconcile activate %s: %v", claim.ClaimID, err)
		}
		return
	}
	if err := s.store.MarkFailed(ctx, claim.ClaimID); err != nil {
		log.Printf("claims: reconcile fail %s: %v", claim.ClaimID, err)
	}
}
