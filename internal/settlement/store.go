package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no settlement or idempotency mapping
// exists for the given key.
var ErrNotFound = errors.New("settlement not found")

// Store is the durable idempotency/progress store. Every write is
// visible before the call returns, and readable from a fresh process
// after a restart; the orchestrator treats SaveProgress as synchronous
// and on the critical path.
type Store struct {
	db *sql.DB
}

// NewStore creates a new settlement store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Resolve returns the settlement id registered for an idempotency key.
func (s *Store) Resolve(ctx context.Context, idempotencyKey string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT settlement_id FROM idempotency_keys WHERE idempotency_key = $1;`,
		idempotencyKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve idempotency key: %w", err)
	}
	return id, nil
}

// Register atomically claims an idempotency key for settlementID.
// Exactly one concurrent caller wins; the loser gets created=false and
// the winner's settlement id. The mapping never expires.
func (s *Store) Register(ctx context.Context, idempotencyKey, settlementID string) (created bool, existingID string, err error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO idempotency_keys(idempotency_key, settlement_id, created_at_ns)
VALUES($1, $2, $3)
ON CONFLICT(idempotency_key) DO NOTHING;`,
		idempotencyKey, settlementID, time.Now().UnixNano())
	if err != nil {
		return false, "", fmt.Errorf("failed to register idempotency key: %w", err)
	}

	aff, _ := res.RowsAffected()
	if aff == 1 {
		return true, settlementID, nil
	}

	existingID, err = s.Resolve(ctx, idempotencyKey)
	if err != nil {
		return false, "", err
	}
	return false, existingID, nil
}

// SaveProgress durably overwrites the full settlement record. The write
// is committed before return; a caller must not advance any in-memory
// state that SaveProgress failed to persist.
func (s *Store) SaveProgress(ctx context.Context, stl *Settlement) error {
	stl.UpdatedAt = time.Now()
	if stl.CreatedAt.IsZero() {
		stl.CreatedAt = stl.UpdatedAt
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO settlements(
  settlement_id, idempotency_key, source_chain, dest_chain, account, amount,
  status, burn_ref, mint_ref, compensation_ref, error_message,
  created_at_ns, updated_at_ns)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT(settlement_id) DO UPDATE SET
  status = excluded.status,
  burn_ref = excluded.burn_ref,
  mint_ref = excluded.mint_ref,
  compensation_ref = excluded.compensation_ref,
  error_message = excluded.error_message,
  updated_at_ns = excluded.updated_at_ns;`,
		stl.SettlementID, stl.IdempotencyKey, stl.SourceChain, stl.DestChain,
		stl.Account, stl.Amount, string(stl.Status), stl.BurnRef, stl.MintRef,
		stl.CompensationRef, stl.ErrorMessage,
		stl.CreatedAt.UnixNano(), stl.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save settlement progress: %w", err)
	}
	return nil
}

// LoadProgress reads the latest durable snapshot of a settlement.
func (s *Store) LoadProgress(ctx context.Context, settlementID string) (*Settlement, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT settlement_id, idempotency_key, source_chain, dest_chain, account, amount,
       status, burn_ref, mint_ref, compensation_ref, error_message,
       created_at_ns, updated_at_ns
FROM settlements WHERE settlement_id = $1;`, settlementID)

	stl, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement: %w", err)
	}
	return stl, nil
}

// TransitionStatus performs the compare-and-set status change that
// guards every transition. It fails (false) when the durable status no
// longer equals from, which a worker must treat as another worker having
// advanced the record.
func (s *Store) TransitionStatus(ctx context.Context, settlementID string, from, to Status) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("illegal status transition %s -> %s", from, to)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE settlements SET status = $1, updated_at_ns = $2
WHERE settlement_id = $3 AND status = $4;`,
		string(to), time.Now().UnixNano(), settlementID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition status: %w", err)
	}
	aff, _ := res.RowsAffected()
	return aff == 1, nil
}

// ListByStatus returns up to limit settlements in the given status,
// oldest first. Used by the worker pool to find work.
func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]*Settlement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT settlement_id, idempotency_key, source_chain, dest_chain, account, amount,
       status, burn_ref, mint_ref, compensation_ref, error_message,
       created_at_ns, updated_at_ns
FROM settlements WHERE status = $1
ORDER BY created_at_ns ASC
LIMIT $2;`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	var out []*Settlement
	for rows.Next() {
		stl, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		out = append(out, stl)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSettlement(row scanner) (*Settlement, error) {
	var (
		stl         Settlement
		status      string
		createdAtNs int64
		updatedAtNs int64
	)
	if err := row.Scan(
		&stl.SettlementID, &stl.IdempotencyKey, &stl.SourceChain, &stl.DestChain,
		&stl.Account, &stl.Amount, &status, &stl.BurnRef, &stl.MintRef,
		&stl.CompensationRef, &stl.ErrorMessage, &createdAtNs, &updatedAtNs,
	); err != nil {
		return nil, err
	}
	stl.Status = Status(status)
	stl.CreatedAt = time.Unix(0, createdAtNs)
	stl.UpdatedAt = time.Unix(0, updatedAtNs)
	return &stl, nil
}
