package audit

import "time"

// Event is one recorded change in a settlement's lifecycle. Events are
// append-only: the settlement row holds the current state, the event
// trail holds how it got there.
type Event struct {
	EventID      string    `json:"event_id"`
	SettlementID string    `json:"settlement_id"`
	FromStatus   string    `json:"from_status"`
	ToStatus     string    `json:"to_status"`
	Detail       string    `json:"detail,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}
