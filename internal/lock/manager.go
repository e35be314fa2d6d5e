package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bridgekit/chainsettle/internal/obs"
)

// Manager grants time-bounded exclusive ownership of a key to one holder
// at a time, backed by the shared database so ownership is visible to
// every worker process. An entry whose expiry has passed is treated as
// absent by every operation and reclaimed on the next acquire; there is
// no background sweep.
type Manager struct {
	db      *sql.DB
	logger  *obs.Logger
	metrics *obs.Metrics
}

// Entry describes a currently recorded lock row.
type Entry struct {
	LockKey    string
	HolderID   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func NewManager(db *sql.DB, logger *obs.Logger, metrics *obs.Metrics) *Manager {
	return &Manager{db: db, logger: logger, metrics: metrics}
}

// Acquire attempts to take the lock for holderID. It succeeds when no
// entry exists, the entry has expired, or holderID already holds it
// (reentrant; the lease is refreshed). It returns false without side
// effect when a different holder owns an unexpired entry.
func (m *Manager) Acquire(ctx context.Context, lockKey, holderID string, ttl time.Duration) (bool, error) {
	if lockKey == "" || holderID == "" {
		return false, fmt.Errorf("lock_key and holder_id required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}

	now := time.Now()
	nowNs := now.UnixNano()
	expiryNs := now.Add(ttl).UnixNano()

	// Single guarded upsert so contested acquires are decided by one
	// atomic statement: the DO UPDATE only fires when the existing entry
	// is expired or already ours, otherwise zero rows change.
	res, err := m.db.ExecContext(ctx, `
INSERT INTO settlement_locks(lock_key, holder_id, acquired_at_ns, expires_at_ns)
VALUES($1, $2, $3, $4)
ON CONFLICT(lock_key) DO UPDATE SET
  holder_id = excluded.holder_id,
  acquired_at_ns = excluded.acquired_at_ns,
  expires_at_ns = excluded.expires_at_ns
WHERE settlement_locks.expires_at_ns <= excluded.acquired_at_ns
   OR settlement_locks.holder_id = excluded.holder_id;`,
		lockKey, holderID, nowNs, expiryNs)
	if err != nil {
		m.countAcquire("error")
		return false, fmt.Errorf("failed to upsert lock row: %w", err)
	}

	aff, _ := res.RowsAffected()
	if aff != 1 {
		m.countAcquire("busy")
		m.log("acquire", lockKey, holderID, false, "")
		return false, nil
	}

	m.countAcquire("success")
	m.log("acquire", lockKey, holderID, true, "")
	return true, nil
}

// Release removes the entry when holderID is the current unexpired
// holder; otherwise it is a no-op and returns false. A holder that lost
// its lease to expiry cannot release a lock someone else reacquired.
func (m *Manager) Release(ctx context.Context, lockKey, holderID string) (bool, error) {
	if lockKey == "" || holderID == "" {
		return false, fmt.Errorf("lock_key and holder_id required")
	}

	res, err := m.db.ExecContext(ctx,
		`DELETE FROM settlement_locks WHERE lock_key = $1 AND holder_id = $2 AND expires_at_ns > $3;`,
		lockKey, holderID, time.Now().UnixNano())
	if err != nil {
		m.countRelease("error")
		return false, fmt.Errorf("failed to release lock: %w", err)
	}

	aff, _ := res.RowsAffected()
	if aff != 1 {
		m.countRelease("lost")
		m.log("release", lockKey, holderID, false, "")
		return false, nil
	}
	m.countRelease("success")
	m.log("release", lockKey, holderID, true, "")
	return true, nil
}

// Extend pushes the expiry of a held lock further out. Only the current
// unexpired holder may extend; callers use it to keep ownership across
// slow ledger calls.
func (m *Manager) Extend(ctx context.Context, lockKey, holderID string, additional time.Duration) (bool, error) {
	if lockKey == "" || holderID == "" {
		return false, fmt.Errorf("lock_key and holder_id required")
	}
	if additional <= 0 {
		return false, fmt.Errorf("additional ttl must be > 0")
	}

	res, err := m.db.ExecContext(ctx, `
UPDATE settlement_locks
SET expires_at_ns = expires_at_ns + $1
WHERE lock_key = $2 AND holder_id = $3 AND expires_at_ns > $4;`,
		additional.Nanoseconds(), lockKey, holderID, time.Now().UnixNano())
	if err != nil {
		m.countExtend("error")
		return false, fmt.Errorf("failed to extend lock: %w", err)
	}

	aff, _ := res.RowsAffected()
	if aff != 1 {
		m.countExtend("lost")
		return false, nil
	}
	m.countExtend("success")
	return true, nil
}

// Get returns the recorded entry for lockKey, or nil when no unexpired
// entry exists.
func (m *Manager) Get(ctx context.Context, lockKey string) (*Entry, error) {
	var (
		holder string
		accNs  int64
		expNs  int64
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT holder_id, acquired_at_ns, expires_at_ns FROM settlement_locks WHERE lock_key = $1;`,
		lockKey).Scan(&holder, &accNs, &expNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock row: %w", err)
	}
	if expNs <= time.Now().UnixNano() {
		return nil, nil
	}
	return &Entry{
		LockKey:    lockKey,
		HolderID:   holder,
		AcquiredAt: time.Unix(0, accNs),
		ExpiresAt:  time.Unix(0, expNs),
	}, nil
}

func (m *Manager) countAcquire(result string) {
	if m.metrics != nil {
		m.metrics.LockAcquireTotal.WithLabelValues(result).Inc()
	}
}

func (m *Manager) countRelease(result string) {
	if m.metrics != nil {
		m.metrics.LockReleaseTotal.WithLabelValues(result).Inc()
	}
}

func (m *Manager) countExtend(result string) {
	if m.metrics != nil {
		m.metrics.LockExtendTotal.WithLabelValues(result).Inc()
	}
}

func (m *Manager) log(op, lockKey, holderID string, ok bool, curHolder string) {
	if m.logger == nil {
		return
	}
	fields := map[string]interface{}{
		"op":     op,
		"lock":   lockKey,
		"holder": holderID,
		"ok":     ok,
	}
	if curHolder != "" {
		fields["cur_holder"] = curHolder
	}
	m.logger.Info(fields)
}
