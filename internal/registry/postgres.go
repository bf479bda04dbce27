package registry

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists claims in a PostgreSQL table. Every transition is a
// single conditional UPDATE so the row's status acts as the compare-and-swap
// guard; no explicit row locks are needed.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createClaimsTableSQL = `
CREATE TABLE IF NOT EXISTS escrow_claims (
    claim_id         TEXT PRIMARY KEY,
    escrow_ref       TEXT NOT NULL DEFAULT '',
    sender_account   TEXT NOT NULL,
    amount           TEXT NOT NULL,
    asset_code       TEXT NOT NULL,
    pin_hash         TEXT NOT NULL,
    pin_salt         TEXT NOT NULL,
    attempt_count    INT NOT NULL DEFAULT 0,
    locked           BOOLEAN NOT NULL DEFAULT FALSE,
    status           TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    expires_at       TIMESTAMPTZ NOT NULL,
    claimed_at       TIMESTAMPTZ,
    claimant_account TEXT NOT NULL DEFAULT '',
    release_tx_hash  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS escrow_claims_status_expiry ON escrow_claims (status, expires_at);
`

// NewPostgresStore connects using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createClaimsTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Create(ctx context.Context, claim *Claim) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO escrow_claims
    (claim_id, escrow_ref, sender_account, amount, asset_code, pin_hash, pin_salt,
     attempt_count, locked, status, created_at, expires_at, claimant_account, release_tx_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`, claim.ClaimID, claim.EscrowRef, claim.SenderAccount, claim.Amount, claim.AssetCode,
		claim.PinHash, claim.PinSalt, claim.AttemptCount, claim.Locked, string(claim.Status),
		claim.CreatedAt, claim.ExpiresAt, claim.ClaimantAccount, claim.ReleaseTxHash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return err
	}
	return nil
}

const claimColumns = `claim_id, escrow_ref, sender_account, amount, asset_code, pin_hash, pin_salt,
attempt_count, locked, status, created_at, expires_at, claimed_at, claimant_account, release_tx_hash`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	var status string
	if err := row.Scan(&c.ClaimID, &c.EscrowRef, &c.SenderAccount, &c.Amount, &c.AssetCode,
		&c.PinHash, &c.PinSalt, &c.AttemptCount, &c.Locked, &status,
		&c.CreatedAt, &c.ExpiresAt, &c.ClaimedAt, &c.ClaimantAccount, &c.ReleaseTxHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Status = Status(status)
	return &c, nil
}

func (p *PostgresStore) Get(ctx context.Context, claimID string) (*Claim, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM escrow_claims WHERE claim_id = $1`, claimID)
	return scanClaim(row)
}

func (p *PostgresStore) MarkActive(ctx context.Context, claimID, escrowRef string) (*Claim, error) {
	_, err := p.pool.Exec(ctx, `
UPDATE escrow_claims SET status = $1, escrow_ref = $2
WHERE claim_id = $3 AND status = $4
`, string(StatusActive), escrowRef, claimID, string(StatusPending))
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, claimID)
}

func (p *PostgresStore) MarkClaimed(ctx context.Context, claimID, claimantAccount string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE escrow_claims SET status = $1, claimant_account = $2, claimed_at = $3
WHERE claim_id = $4 AND status = $5
`, string(StatusClaimed), claimantAccount, at, claimID, string(StatusActive))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.classifyMissedTransition(ctx, claimID)
	}
	return nil
}

func (p *PostgresStore) MarkExpired(ctx context.Context, claimID string) error {
	return p.terminate(ctx, claimID, StatusExpired)
}

func (p *PostgresStore) MarkRefunded(ctx context.Context, claimID string) error {
	return p.terminate(ctx, claimID, StatusRefunded)
}

func (p *PostgresStore) terminate(ctx context.Context, claimID string, to Status) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE escrow_claims SET status = $1
WHERE claim_id = $2 AND status = $3
`, string(to), claimID, string(StatusActive))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	claim, err := p.Get(ctx, claimID)
	if err != nil {
		return err
	}
	if claim.Status.Terminal() {
		return nil
	}
	return ErrInvalidState
}

func (p *PostgresStore) MarkFailed(ctx context.Context, claimID string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE escrow_claims SET status = $1
WHERE claim_id = $2 AND status = $3
`, string(StatusFailed), claimID, string(StatusPending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	claim, err := p.Get(ctx, claimID)
	if err != nil {
		return err
	}
	if claim.Status.Terminal() {
		return nil
	}
	return ErrInvalidState
}

func (p *PostgresStore) RecordRelease(ctx context.Context, claimID, txHash string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE escrow_claims SET release_tx_hash = $1
WHERE claim_id = $2 AND status = $3
`, txHash, claimID, string(StatusClaimed))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.classifyMissedTransition(ctx, claimID)
	}
	return nil
}

func (p *PostgresStore) MarkRefundedUnreleased(ctx context.Context, claimID string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE escrow_claims SET status = $1
WHERE claim_id = $2 AND status = $3 AND release_tx_hash = ''
`, string(StatusRefunded), claimID, string(StatusClaimed))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.classifyMissedTransition(ctx, claimID)
	}
	return nil
}

func (p *PostgresStore) ReopenClaim(ctx context.Context, claimID string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE escrow_claims SET status = $1, claimant_account = '', claimed_at = NULL
WHERE claim_id = $2 AND status = $3 AND release_tx_hash = ''
`, string(StatusActive), claimID, string(StatusClaimed))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.classifyMissedTransition(ctx, claimID)
	}
	return nil
}

func (p *PostgresStore) RecordAttempt(ctx context.Context, claimID string, lockThreshold int) (int, bool, error) {
	row := p.pool.QueryRow(ctx, `
UPDATE escrow_claims
SET attempt_count = attempt_count + 1,
    locked = locked OR (attempt_count + 1 >= $1)
WHERE claim_id = $2
RETURNING attempt_count, locked
`, lockThreshold, claimID)

	var attempts int
	var locked bool
	if err := row.Scan(&attempts, &locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, err
	}
	return attempts, locked, nil
}

func (p *PostgresStore) ResetAttempts(ctx context.Context, claimID string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE escrow_claims SET attempt_count = 0, locked = FALSE WHERE claim_id = $1
`, claimID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]*Claim, error) {
	return p.list(ctx, `
SELECT `+claimColumns+` FROM escrow_claims
WHERE status = $1 AND expires_at <= $2
`, string(StatusActive), now)
}

func (p *PostgresStore) ListStalePending(ctx context.Context, cutoff time.Time) ([]*Claim, error) {
	return p.list(ctx, `
SELECT `+claimColumns+` FROM escrow_claims
WHERE status = $1 AND created_at < $2
`, string(StatusPending), cutoff)
}

func (p *PostgresStore) ListUnreleasedClaimed(ctx context.Context, now time.Time) ([]*Claim, error) {
	return p.list(ctx, `
SELECT `+claimColumns+` FROM escrow_claims
WHERE status = $1 AND release_tx_hash = '' AND expires_at <= $2
`, string(StatusClaimed), now)
}

func (p *PostgresStore) list(ctx context.Context, sql string, args ...any) ([]*Claim, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, claim)
	}
	return out, rows.Err()
}

// classifyMissedTransition turns a zero-row conditional update into the
// sentinel the caller can act on.
func (p *PostgresStore) classifyMissedTransition(ctx context.Context, claimID string) error {
	if _, err := p.Get(ctx, claimID); err != nil {
		return err
	}
	return ErrInvalidState
}
