package settlement

import "time"

// Status represents the lifecycle state of a settlement
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusProcessing   Status = "PROCESSING"
	StatusBurning      Status = "BURNING"
	StatusBurned       Status = "BURNED"
	StatusMinting      Status = "MINTING"
	StatusMinted       Status = "MINTED"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCompensating Status = "COMPENSATING"
)

// Terminal reports whether a settlement may rest in this status
// indefinitely with nothing left to do.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// validTransitions encodes the state machine. FAILED -> PROCESSING is the
// retry path and is only legal when no side effect was ever recorded;
// the orchestrator enforces that part.
var validTransitions = map[Status][]Status{
	StatusPending:      {StatusProcessing},
	StatusProcessing:   {StatusBurning, StatusFailed},
	StatusBurning:      {StatusBurned, StatusFailed},
	StatusBurned:       {StatusMinting},
	StatusMinting:      {StatusMinted, StatusCompensating, StatusFailed},
	StatusMinted:       {StatusCompleted},
	StatusCompensating: {StatusFailed},
	StatusFailed:       {StatusProcessing},
}

// CanTransitionTo reports whether moving from s to next is a legal step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, n := range validTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Settlement represents one cross-ledger transfer: a burn on the source
// chain followed by a mint on the destination chain. Stage completion is
// recorded by reference presence (BurnRef, MintRef, CompensationRef),
// not by the status alone, so resuming after a crash never repeats a
// stage that already has a reference.
type Settlement struct {
	SettlementID    string    `json:"settlement_id"`
	IdempotencyKey  string    `json:"idempotency_key"`
	SourceChain     string    `json:"source_chain"`
	DestChain       string    `json:"dest_chain"`
	Account         string    `json:"account"`
	Amount          int64     `json:"amount"` // minor units, always > 0
	Status          Status    `json:"status"`
	BurnRef         string    `json:"burn_ref,omitempty"`
	MintRef         string    `json:"mint_ref,omitempty"`
	CompensationRef string    `json:"compensation_ref,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
