package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists settlement events.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends an event to a settlement's trail. Recording is
// best-effort from the caller's point of view: the settlement row is the
// source of truth and callers must not fail processing on a trail error.
func (s *Store) Record(ctx context.Context, settlementID, fromStatus, toStatus, detail string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settlement_events(event_id, settlement_id, from_status, to_status, detail, recorded_at_ns)
VALUES($1, $2, $3, $4, $5, $6);`,
		uuid.NewString(), settlementID, fromStatus, toStatus, detail, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record settlement event: %w", err)
	}
	return nil
}

// ListBySettlement returns a settlement's events oldest first.
func (s *Store) ListBySettlement(ctx context.Context, settlementID string, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, settlement_id, from_status, to_status, detail, recorded_at_ns
FROM settlement_events
WHERE settlement_id = $1
ORDER BY recorded_at_ns ASC, event_id ASC
LIMIT $2;`, settlementID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlement events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			ev         Event
			recordedNS int64
		)
		if err := rows.Scan(&ev.EventID, &ev.SettlementID, &ev.FromStatus, &ev.ToStatus, &ev.Detail, &recordedNS); err != nil {
			return nil, fmt.Errorf("failed to scan settlement event: %w", err)
		}
		ev.RecordedAt = time.Unix(0, recordedNS).UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}
