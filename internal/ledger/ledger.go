package ledger

import (
	"context"
	"errors"
)

// Common errors
var (
	// ErrTransient marks a failure that may succeed on a later attempt
	// (network timeout, temporary chain congestion).
	ErrTransient = errors.New("transient ledger failure")

	// ErrPermanent marks a failure that will not succeed on retry with
	// the same inputs (insufficient balance, rejected transaction).
	ErrPermanent = errors.New("permanent ledger failure")
)

// Ledger is the capability the orchestrator consumes to move value on a
// chain. Implementations may block on network I/O; a returned error with
// no recorded reference means the call is safe to attempt again. The
// orchestrator, not the ledger, is responsible for never calling a stage
// twice once a reference has been recorded.
type Ledger interface {
	// Burn destroys amount (in minor units) from account on chain and
	// returns an opaque transaction reference.
	Burn(ctx context.Context, chain, account string, amount int64) (string, error)

	// Mint creates amount (in minor units) for account on chain and
	// returns an opaque transaction reference.
	Mint(ctx context.Context, chain, account string, amount int64) (string, error)
}

// IsTransient reports whether err is a retryable ledger failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
