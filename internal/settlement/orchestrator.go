package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bridgekit/chainsettle/internal/audit"
	"github.com/bridgekit/chainsettle/internal/ledger"
	"github.com/bridgekit/chainsettle/internal/lock"
	"github.com/bridgekit/chainsettle/internal/obs"
)

// Common errors
var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrMissingField   = errors.New("idempotency key, chains and account are required")
	ErrNotRetryable   = errors.New("settlement is not in a retryable state")
	ErrStatusConflict = errors.New("settlement status changed underneath this worker")
)

// OutcomeCode classifies the result of a Process or Retry invocation.
type OutcomeCode string

const (
	OutcomeCompleted       OutcomeCode = "COMPLETED"
	OutcomeFailed          OutcomeCode = "FAILED"
	OutcomeLockBusy        OutcomeCode = "LOCK_BUSY"
	OutcomeAlreadyTerminal OutcomeCode = "ALREADY_TERMINAL"
)

// Outcome is what a worker gets back from Process/Retry. Settlement is
// the latest durable snapshot, never an uncommitted intermediate.
type Outcome struct {
	Code       OutcomeCode
	Reason     string
	Settlement *Settlement
}

// Orchestrator drives settlements through the burn/mint state machine.
// It owns no long-lived mutable settlement objects: each critical
// section reloads the record from the store under the distributed lock
// and persists progress after every side effect.
type Orchestrator struct {
	store   *Store
	locks   *lock.Manager
	ledger  ledger.Ledger
	events  *audit.Store
	logger  *obs.Logger
	metrics *obs.Metrics

	workerID string
	lockTTL  time.Duration
}

// NewOrchestrator creates an orchestrator with its own holder identity.
// lockTTL must cover the worst-case latency of a single ledger call; the
// orchestrator additionally extends the lock before each call. events
// may be nil to disable the audit trail.
func NewOrchestrator(store *Store, locks *lock.Manager, ledg ledger.Ledger, events *audit.Store, logger *obs.Logger, metrics *obs.Metrics, lockTTL time.Duration) *Orchestrator {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Orchestrator{
		store:    store,
		locks:    locks,
		ledger:   ledg,
		events:   events,
		logger:   logger,
		metrics:  metrics,
		workerID: uuid.NewString(),
		lockTTL:  lockTTL,
	}
}

// WorkerID returns the holder identity this orchestrator locks with.
func (o *Orchestrator) WorkerID() string {
	return o.workerID
}

// SubmitRequest carries the caller-supplied fields for a new settlement.
type SubmitRequest struct {
	IdempotencyKey string
	SourceChain    string
	DestChain      string
	Account        string
	Amount         int64 // minor units
}

// Submit creates a settlement for an unseen idempotency key, or returns
// the existing one without side effects; created reports which case
// applied. The key is claimed via Register before any settlement row is
// written: a race loser never writes a row, so no second PENDING record
// can ever exist for an already-mapped key for the worker pool to pick
// up. A crash between Register and the row write leaves only a mapped
// key with no row, which the next submission of the same key heals.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Settlement, bool, error) {
	if req.IdempotencyKey == "" || req.SourceChain == "" || req.DestChain == "" || req.Account == "" {
		return nil, false, ErrMissingField
	}
	if req.Amount <= 0 {
		return nil, false, ErrInvalidAmount
	}

	if id, err := o.store.Resolve(ctx, req.IdempotencyKey); err == nil {
		stl, err := o.loadOrHeal(ctx, id, req)
		if err != nil {
			o.countSubmit("error")
			return nil, false, err
		}
		o.countSubmit("duplicate")
		return stl, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		o.countSubmit("error")
		return nil, false, err
	}

	created, id, err := o.store.Register(ctx, req.IdempotencyKey, uuid.NewString())
	if err != nil {
		o.countSubmit("error")
		return nil, false, err
	}
	if !created {
		// Lost the race: another submission claimed the key first.
		stl, err := o.loadOrHeal(ctx, id, req)
		if err != nil {
			o.countSubmit("error")
			return nil, false, err
		}
		o.countSubmit("duplicate")
		return stl, false, nil
	}

	stl := &Settlement{
		SettlementID:   id,
		IdempotencyKey: req.IdempotencyKey,
		SourceChain:    req.SourceChain,
		DestChain:      req.DestChain,
		Account:        req.Account,
		Amount:         req.Amount,
		Status:         StatusPending,
	}
	if err := o.store.SaveProgress(ctx, stl); err != nil {
		o.countSubmit("error")
		return nil, false, err
	}

	o.countSubmit("created")
	o.recordEvent(ctx, stl.SettlementID, "", string(StatusPending), "submitted")
	o.logInfo("submit", stl.SettlementID, string(StatusPending), "")
	return stl, true, nil
}

// loadOrHeal returns the settlement registered under id. When a crash
// separated Register from the row write, the row is re-created PENDING
// from the resubmitted request under the already-registered id.
func (o *Orchestrator) loadOrHeal(ctx context.Context, id string, req SubmitRequest) (*Settlement, error) {
	stl, err := o.store.LoadProgress(ctx, id)
	if err == nil {
		return stl, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	stl = &Settlement{
		SettlementID:   id,
		IdempotencyKey: req.IdempotencyKey,
		SourceChain:    req.SourceChain,
		DestChain:      req.DestChain,
		Account:        req.Account,
		Amount:         req.Amount,
		Status:         StatusPending,
	}
	if err := o.store.SaveProgress(ctx, stl); err != nil {
		return nil, err
	}
	o.recordEvent(ctx, stl.SettlementID, "", string(StatusPending), "submitted")
	return stl, nil
}

// Process drives a settlement forward from its durably recorded stage.
// It short-circuits with OutcomeLockBusy when another worker holds the
// settlement's lock, and with OutcomeAlreadyTerminal when there is
// nothing left to do. The lock is released on every exit path.
func (o *Orchestrator) Process(ctx context.Context, settlementID string) (*Outcome, error) {
	out, err := o.withLock(ctx, settlementID, func(stl *Settlement) (*Outcome, error) {
		if stl.Status.Terminal() {
			return &Outcome{Code: OutcomeAlreadyTerminal, Settlement: stl}, nil
		}
		if stl.Status == StatusCompensating {
			// A crash mid-compensation leaves this state; finish it
			// idempotently rather than re-running the forward path.
			return o.compensate(ctx, stl)
		}
		return o.execute(ctx, stl)
	})
	o.countOutcome("process", out, err)
	return out, err
}

// Retry re-drives a settlement that ended in FAILED with no side effect
// recorded, or resumes a stuck compensation. Stages with a recorded
// reference are never re-executed.
func (o *Orchestrator) Retry(ctx context.Context, settlementID string) (*Outcome, error) {
	out, err := o.withLock(ctx, settlementID, func(stl *Settlement) (*Outcome, error) {
		switch stl.Status {
		case StatusCompensating:
			return o.compensate(ctx, stl)
		case StatusFailed:
			if stl.BurnRef != "" || stl.CompensationRef != "" {
				// Compensated failure: value was already returned to the
				// source chain, re-running the transfer would double it.
				return &Outcome{Code: OutcomeAlreadyTerminal, Settlement: stl}, nil
			}
			if err := o.advance(ctx, stl, StatusProcessing); err != nil {
				return nil, err
			}
			stl.ErrorMessage = ""
			if err := o.store.SaveProgress(ctx, stl); err != nil {
				return nil, err
			}
			return o.execute(ctx, stl)
		case StatusCompleted:
			return &Outcome{Code: OutcomeAlreadyTerminal, Settlement: stl}, nil
		default:
			return nil, ErrNotRetryable
		}
	})
	o.countOutcome("retry", out, err)
	return out, err
}

// GetStatus returns the latest durable snapshot of a settlement.
func (o *Orchestrator) GetStatus(ctx context.Context, settlementID string) (*Settlement, error) {
	return o.store.LoadProgress(ctx, settlementID)
}

// withLock runs fn on a freshly loaded snapshot while holding the
// settlement's distributed lock, releasing it on all exit paths.
func (o *Orchestrator) withLock(ctx context.Context, settlementID string, fn func(*Settlement) (*Outcome, error)) (*Outcome, error) {
	key := lockKey(settlementID)
	acquired, err := o.locks.Acquire(ctx, key, o.workerID, o.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock acquire failed: %w", err)
	}
	if !acquired {
		return &Outcome{Code: OutcomeLockBusy}, nil
	}
	defer func() {
		_, _ = o.locks.Release(ctx, key, o.workerID)
	}()

	// Never trust a cached copy: another worker may have advanced the
	// record before a crash released its lease.
	stl, err := o.store.LoadProgress(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	return fn(stl)
}

// execute resumes the forward path from whatever the durable record
// shows. Stage completion is decided by reference presence, so a stage
// that already recorded its reference is never repeated.
func (o *Orchestrator) execute(ctx context.Context, stl *Settlement) (*Outcome, error) {
	if stl.Status == StatusPending {
		if err := o.advance(ctx, stl, StatusProcessing); err != nil {
			return nil, err
		}
	}

	if stl.BurnRef == "" {
		if err := o.advance(ctx, stl, StatusBurning); err != nil {
			return nil, err
		}
		if err := o.keepLock(ctx, stl.SettlementID); err != nil {
			return nil, err
		}

		ref, err := o.timed("burn", func() (string, error) {
			return o.ledger.Burn(ctx, stl.SourceChain, stl.Account, stl.Amount)
		})
		if err != nil {
			// No reference recorded, so nothing to compensate; the
			// settlement is safely retryable.
			stl.ErrorMessage = fmt.Sprintf("burn failed: %v", err)
			if aerr := o.advance(ctx, stl, StatusFailed); aerr != nil {
				return nil, aerr
			}
			if serr := o.store.SaveProgress(ctx, stl); serr != nil {
				return nil, serr
			}
			o.logError("process", stl.SettlementID, string(stl.Status), stl.ErrorMessage)
			return &Outcome{Code: OutcomeFailed, Reason: stl.ErrorMessage, Settlement: stl}, nil
		}

		// Reference and status land in one durable write; a crash before
		// it reaches the store is the documented window where the ledger
		// must tolerate a repeated burn for this settlement.
		stl.BurnRef = ref
		stl.Status = StatusBurned
		if err := o.store.SaveProgress(ctx, stl); err != nil {
			return nil, err
		}
		o.recordEvent(ctx, stl.SettlementID, string(StatusBurning), string(StatusBurned), ref)
	}

	if stl.MintRef == "" {
		if err := o.advance(ctx, stl, StatusMinting); err != nil {
			return nil, err
		}
		if err := o.keepLock(ctx, stl.SettlementID); err != nil {
			return nil, err
		}

		ref, err := o.timed("mint", func() (string, error) {
			return o.ledger.Mint(ctx, stl.DestChain, stl.Account, stl.Amount)
		})
		if err != nil {
			// The burn already happened; route to compensation. Persist
			// COMPENSATING before acting so a crash resumes it.
			stl.ErrorMessage = fmt.Sprintf("mint failed: %v", err)
			if aerr := o.advance(ctx, stl, StatusCompensating); aerr != nil {
				return nil, aerr
			}
			if serr := o.store.SaveProgress(ctx, stl); serr != nil {
				return nil, serr
			}
			return o.compensate(ctx, stl)
		}

		stl.MintRef = ref
		stl.Status = StatusMinted
		if err := o.store.SaveProgress(ctx, stl); err != nil {
			return nil, err
		}
		o.recordEvent(ctx, stl.SettlementID, string(StatusMinting), string(StatusMinted), ref)
	}

	if err := o.advance(ctx, stl, StatusCompleted); err != nil {
		return nil, err
	}
	o.logInfo("process", stl.SettlementID, string(stl.Status), "")
	return &Outcome{Code: OutcomeCompleted, Settlement: stl}, nil
}

// compensate reverses a recorded burn by minting the amount back on the
// source chain. The compensation reference is persisted before the
// terminal FAILED write, so a crashed or failed compensation resumes by
// the same reference-presence rule as the forward path. A failed
// compensation attempt is never retried automatically.
func (o *Orchestrator) compensate(ctx context.Context, stl *Settlement) (*Outcome, error) {
	if stl.CompensationRef == "" {
		if err := o.keepLock(ctx, stl.SettlementID); err != nil {
			return nil, err
		}

		ref, err := o.timed("compensate", func() (string, error) {
			return o.ledger.Mint(ctx, stl.SourceChain, stl.Account, stl.Amount)
		})
		if err != nil {
			// Fatal path: an automatic retry could double-credit if this
			// attempt partially succeeded without a reference. Leave the
			// settlement in COMPENSATING for operator attention.
			if o.metrics != nil {
				o.metrics.CompensationFailedTotal.Inc()
			}
			reason := fmt.Sprintf("compensation failed, operator attention required: %v", err)
			o.logError("compensate", stl.SettlementID, string(stl.Status), reason)
			return &Outcome{Code: OutcomeFailed, Reason: reason, Settlement: stl}, nil
		}

		stl.CompensationRef = ref
		if err := o.store.SaveProgress(ctx, stl); err != nil {
			return nil, err
		}
		o.recordEvent(ctx, stl.SettlementID, string(StatusCompensating), string(StatusCompensating), ref)
	}

	if err := o.advance(ctx, stl, StatusFailed); err != nil {
		return nil, err
	}
	stl.ErrorMessage = fmt.Sprintf("compensated: %s", stl.ErrorMessage)
	if err := o.store.SaveProgress(ctx, stl); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.CompensatedTotal.Inc()
	}
	o.logInfo("compensate", stl.SettlementID, string(stl.Status), stl.ErrorMessage)
	return &Outcome{Code: OutcomeFailed, Reason: stl.ErrorMessage, Settlement: stl}, nil
}

// advance performs the lock-guarded compare-and-set status transition
// and updates the local snapshot only when the durable write succeeded.
func (o *Orchestrator) advance(ctx context.Context, stl *Settlement, to Status) error {
	if stl.Status == to {
		return nil
	}
	ok, err := o.store.TransitionStatus(ctx, stl.SettlementID, stl.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrStatusConflict, stl.Status, to)
	}
	o.recordEvent(ctx, stl.SettlementID, string(stl.Status), string(to), "")
	stl.Status = to
	return nil
}

// keepLock extends the lease before a potentially slow ledger call. A
// lost lease means another worker may legally own the settlement now, so
// processing must stop rather than race it.
func (o *Orchestrator) keepLock(ctx context.Context, settlementID string) error {
	ok, err := o.locks.Extend(ctx, lockKey(settlementID), o.workerID, o.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock lease lost for settlement %s", settlementID)
	}
	return nil
}

func (o *Orchestrator) timed(stage string, fn func() (string, error)) (string, error) {
	start := time.Now()
	ref, err := fn()
	if o.metrics != nil {
		o.metrics.StageLatencyMS.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
	}
	return ref, err
}

func lockKey(settlementID string) string {
	return "settlement_" + settlementID
}

// recordEvent appends to the audit trail without affecting the outcome:
// the settlement row is the source of truth, a trail write failure is
// logged and swallowed.
func (o *Orchestrator) recordEvent(ctx context.Context, settlementID, from, to, detail string) {
	if o.events == nil {
		return
	}
	if err := o.events.Record(ctx, settlementID, from, to, detail); err != nil {
		o.logError("audit", settlementID, to, err.Error())
	}
}

func (o *Orchestrator) countSubmit(result string) {
	if o.metrics != nil {
		o.metrics.SubmitTotal.WithLabelValues(result).Inc()
	}
}

func (o *Orchestrator) countOutcome(op string, out *Outcome, err error) {
	if o.metrics == nil {
		return
	}
	label := "error"
	if err == nil && out != nil {
		switch out.Code {
		case OutcomeCompleted:
			label = "completed"
		case OutcomeFailed:
			label = "failed"
		case OutcomeLockBusy:
			label = "lock_busy"
		case OutcomeAlreadyTerminal:
			label = "already_terminal"
		}
	}
	switch op {
	case "process":
		o.metrics.ProcessTotal.WithLabelValues(label).Inc()
	case "retry":
		o.metrics.RetryTotal.WithLabelValues(label).Inc()
	}
}

func (o *Orchestrator) logInfo(op, settlementID, status, msg string) {
	if o.logger == nil {
		return
	}
	fields := map[string]interface{}{
		"op":         op,
		"settlement": settlementID,
		"status":     status,
		"worker":     o.workerID,
	}
	if msg != "" {
		fields["msg"] = msg
	}
	o.logger.Info(fields)
}

func (o *Orchestrator) logError(op, settlementID, status, msg string) {
	if o.logger == nil {
		return
	}
	o.logger.Error(map[string]interface{}{
		"op":         op,
		"settlement": settlementID,
		"status":     status,
		"worker":     o.workerID,
		"error":      msg,
	})
}
