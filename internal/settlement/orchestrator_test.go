package settlement_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bridgekit/chainsettle/internal/audit"
	"github.com/bridgekit/chainsettle/internal/ledger"
	"github.com/bridgekit/chainsettle/internal/lock"
	"github.com/bridgekit/chainsettle/internal/settlement"
)

type engine struct {
	orchestrator *settlement.Orchestrator
	store        *settlement.Store
	locks        *lock.Manager
	events       *audit.Store
	chains       *ledger.Simulator
}

func newEngine(t *testing.T, path string, chains *ledger.Simulator) *engine {
	t.Helper()
	db := openTestDB(t, path)
	t.Cleanup(func() { _ = db.Close() })

	store := settlement.NewStore(db.DB)
	locks := lock.NewManager(db.DB, nil, nil)
	events := audit.NewStore(db.DB)
	return &engine{
		orchestrator: settlement.NewOrchestrator(store, locks, chains, events, nil, nil, 30*time.Second),
		store:        store,
		locks:        locks,
		events:       events,
		chains:       chains,
	}
}

func submitOne(t *testing.T, e *engine, key string) *settlement.Settlement {
	t.Helper()
	stl, created, err := e.orchestrator.Submit(context.Background(), settlement.SubmitRequest{
		IdempotencyKey: key,
		SourceChain:    "ETH",
		DestChain:      "SOL",
		Account:        "userA",
		Amount:         100,
	})
	require.NoError(t, err)
	require.True(t, created)
	return stl
}

func TestEndToEndCompleted(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	stl := submitOne(t, e, "k1")
	require.Equal(t, settlement.StatusPending, stl.Status)

	out, err := e.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeCompleted, out.Code)

	got, err := e.orchestrator.GetStatus(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.StatusCompleted, got.Status)
	require.NotEmpty(t, got.BurnRef)
	require.NotEmpty(t, got.MintRef)

	require.Equal(t, int64(400), chains.Balance("ETH", "userA"))
	require.Equal(t, int64(100), chains.Balance("SOL", "userA"))

	// The audit trail records every lifecycle step in order.
	events, err := e.events.ListBySettlement(ctx, stl.SettlementID, 100)
	require.NoError(t, err)
	var steps []string
	for _, ev := range events {
		steps = append(steps, ev.ToStatus)
	}
	require.Equal(t, []string{
		"PENDING", "PROCESSING", "BURNING", "BURNED", "MINTING", "MINTED", "COMPLETED",
	}, steps)
	require.Equal(t, got.BurnRef, events[3].Detail)
	require.Equal(t, got.MintRef, events[5].Detail)
}

func TestSubmitIsIdempotent(t *testing.T) {
	chains := ledger.NewSimulator()
	e := newEngine(t, testDBPath(t), chains)

	first := submitOne(t, e, "k2")
	second, created, err := e.orchestrator.Submit(context.Background(), settlement.SubmitRequest{
		IdempotencyKey: "k2",
		SourceChain:    "ETH",
		DestChain:      "SOL",
		Account:        "userA",
		Amount:         100,
	})
	require.NoError(t, err)
	require.False(t, created, "a replayed key must not report a new settlement")
	require.Equal(t, first.SettlementID, second.SettlementID)
}

func TestConcurrentSubmitSingleSettlement(t *testing.T) {
	chains := ledger.NewSimulator()
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	const callers = 10
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			stl, _, err := e.orchestrator.Submit(ctx, settlement.SubmitRequest{
				IdempotencyKey: "k-conc",
				SourceChain:    "ETH",
				DestChain:      "SOL",
				Account:        "userA",
				Amount:         100,
			})
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			ids[n] = stl.SettlementID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id, "concurrent submits must observe one settlement id")
	}

	pending, err := e.store.ListByStatus(ctx, settlement.StatusPending, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1, "exactly one settlement row may exist for the key")
}

func TestCrashedSubmitLeavesNoRunnableOrphan(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	// A submission that died between claiming the key and writing the
	// settlement row leaves only the mapping behind.
	created, _, err := e.store.Register(ctx, "k-orphan", "stl-orphan")
	require.NoError(t, err)
	require.True(t, created)

	// Nothing is runnable, so pollers have nothing to double-drive.
	pending, err := e.store.ListByStatus(ctx, settlement.StatusPending, 50)
	require.NoError(t, err)
	require.Empty(t, pending)

	// Resubmitting the same logical request heals the row under the
	// already-registered id.
	stl, created, err := e.orchestrator.Submit(ctx, settlement.SubmitRequest{
		IdempotencyKey: "k-orphan",
		SourceChain:    "ETH",
		DestChain:      "SOL",
		Account:        "userA",
		Amount:         100,
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "stl-orphan", stl.SettlementID)
	require.Equal(t, settlement.StatusPending, stl.Status)

	out, err := e.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeCompleted, out.Code)

	// Exactly one settlement moved value for the key.
	burns, mints := chains.Calls()
	require.Equal(t, 1, burns)
	require.Equal(t, 1, mints)
	require.Equal(t, int64(400), chains.Balance("ETH", "userA"))
	require.Equal(t, int64(100), chains.Balance("SOL", "userA"))

	completed, err := e.store.ListByStatus(ctx, settlement.StatusCompleted, 50)
	require.NoError(t, err)
	require.Len(t, completed, 1)
}

func TestSubmitRaceLoserWritesNoRow(t *testing.T) {
	chains := ledger.NewSimulator()
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	winner := submitOne(t, e, "k-loser")

	// A second submission arriving after the winner registered must end
	// up on the winner's record without ever creating a second row.
	stl, created, err := e.orchestrator.Submit(ctx, settlement.SubmitRequest{
		IdempotencyKey: "k-loser",
		SourceChain:    "ETH",
		DestChain:      "SOL",
		Account:        "userA",
		Amount:         100,
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, winner.SettlementID, stl.SettlementID)

	pending, err := e.store.ListByStatus(ctx, settlement.StatusPending, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1, "exactly one row may exist for the key")
}

func TestSubmitValidation(t *testing.T) {
	chains := ledger.NewSimulator()
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	_, _, err := e.orchestrator.Submit(ctx, settlement.SubmitRequest{
		IdempotencyKey: "k-bad",
		SourceChain:    "ETH",
		DestChain:      "SOL",
		Account:        "userA",
		Amount:         0,
	})
	require.ErrorIs(t, err, settlement.ErrInvalidAmount)

	_, _, err = e.orchestrator.Submit(ctx, settlement.SubmitRequest{
		IdempotencyKey: "",
		SourceChain:    "ETH",
		DestChain:      "SOL",
		Account:        "userA",
		Amount:         10,
	})
	require.ErrorIs(t, err, settlement.ErrMissingField)
}

func TestConcurrentProcessSingleBurnAndMint(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	chains.Delay = 10 * time.Millisecond // widen the race window

	path := testDBPath(t)
	e := newEngine(t, path, chains)
	ctx := context.Background()

	stl := submitOne(t, e, "k-race")

	// Two independent orchestrators with distinct holder ids, as if two
	// service instances were offered the same settlement.
	e2 := newEngine(t, path, chains)

	var completed, busy int64
	var wg sync.WaitGroup
	for _, o := range []*settlement.Orchestrator{e.orchestrator, e2.orchestrator} {
		wg.Add(1)
		go func(o *settlement.Orchestrator) {
			defer wg.Done()
			out, err := o.Process(ctx, stl.SettlementID)
			if err != nil {
				t.Errorf("process: %v", err)
				return
			}
			switch out.Code {
			case settlement.OutcomeCompleted, settlement.OutcomeAlreadyTerminal:
				atomic.AddInt64(&completed, 1)
			case settlement.OutcomeLockBusy:
				atomic.AddInt64(&busy, 1)
			}
		}(o)
	}
	wg.Wait()

	burns, mints := chains.Calls()
	require.Equal(t, 1, burns, "concurrent workers must not double burn")
	require.Equal(t, 1, mints, "concurrent workers must not double mint")
	require.GreaterOrEqual(t, completed, int64(1))

	got, err := e.orchestrator.GetStatus(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.StatusCompleted, got.Status)
}

func TestProcessLockBusy(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	stl := submitOne(t, e, "k-busy")

	// Another worker holds the settlement's lock.
	acquired, err := e.locks.Acquire(ctx, "settlement_"+stl.SettlementID, "other-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	out, err := e.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeLockBusy, out.Code)

	burns, mints := chains.Calls()
	require.Zero(t, burns)
	require.Zero(t, mints)
}

func TestProcessAlreadyTerminal(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	stl := submitOne(t, e, "k-term")
	_, err := e.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)

	out, err := e.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeAlreadyTerminal, out.Code)

	burns, _ := chains.Calls()
	require.Equal(t, 1, burns, "a completed settlement must never burn again")
}

func TestBurnFailureIsRetryable(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	chains.FailBurn("ETH", ledger.ErrTransient)
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	stl := submitOne(t, e, "k-burnfail")

	out, err := e.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeFailed, out.Code)

	got, err := e.orchestrator.GetStatus(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.StatusFailed, got.Status)
	require.Empty(t, got.BurnRef)
	require.Contains(t, got.ErrorMessage, "burn failed")
	require.Equal(t, int64(500), chains.Balance("ETH", "userA"), "no side effect may remain")

	// Nothing was recorded, so retry re-runs the whole transfer.
	chains.FailBurn("ETH", nil)
	out, err = e.orchestrator.Retry(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeCompleted, out.Code)
	require.Equal(t, int64(400), chains.Balance("ETH", "userA"))
	require.Equal(t, int64(100), chains.Balance("SOL", "userA"))
}

func TestMintFailureCompensates(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	chains.FailMint("SOL", ledger.ErrPermanent)
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	stl := submitOne(t, e, "k-comp")

	out, err := e.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeFailed, out.Code)

	got, err := e.orchestrator.GetStatus(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.StatusFailed, got.Status)
	require.NotEmpty(t, got.BurnRef)
	require.Empty(t, got.MintRef)
	require.NotEmpty(t, got.CompensationRef, "compensation must record its own reference")
	require.Contains(t, got.ErrorMessage, "compensated")

	// The burn was reversed on the source chain.
	require.Equal(t, int64(500), chains.Balance("ETH", "userA"))
	require.Zero(t, chains.Balance("SOL", "userA"))
}

func TestCompensationFailureNeedsOperator(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	chains.FailMint("SOL", ledger.ErrPermanent)
	chains.FailMint("ETH", ledger.ErrTransient) // mint-back fails too
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	stl := submitOne(t, e, "k-stuck")

	out, err := e.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeFailed, out.Code)
	require.Contains(t, out.Reason, "operator attention")

	got, err := e.orchestrator.GetStatus(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.StatusCompensating, got.Status, "failed compensation must not auto-resolve")
	require.Empty(t, got.CompensationRef)

	// Processing again does not blindly re-run the forward path.
	burnsBefore, _ := chains.Calls()
	chains.FailMint("ETH", nil)
	out, err = e.orchestrator.Retry(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeFailed, out.Code)

	got, err = e.orchestrator.GetStatus(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.StatusFailed, got.Status)
	require.NotEmpty(t, got.CompensationRef)
	require.Equal(t, int64(500), chains.Balance("ETH", "userA"))

	burnsAfter, _ := chains.Calls()
	require.Equal(t, burnsBefore, burnsAfter, "compensation retry must not burn again")
}

func TestRetryCompensatedSettlementIsTerminal(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	chains.FailMint("SOL", ledger.ErrPermanent)
	e := newEngine(t, testDBPath(t), chains)
	ctx := context.Background()

	stl := submitOne(t, e, "k-compdone")
	_, err := e.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)

	// Value already went back to the source chain; retry must not mint on
	// the destination off the recorded burn.
	chains.FailMint("SOL", nil)
	out, err := e.orchestrator.Retry(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeAlreadyTerminal, out.Code)
	require.Zero(t, chains.Balance("SOL", "userA"))
}

func TestRetryRequiresRetryableState(t *testing.T) {
	chains := ledger.NewSimulator()
	e := newEngine(t, testDBPath(t), chains)

	stl := submitOne(t, e, "k-notretry")
	_, err := e.orchestrator.Retry(context.Background(), stl.SettlementID)
	require.ErrorIs(t, err, settlement.ErrNotRetryable)
}

func TestCrashResumeNeverRepeatsRecordedStage(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	path := testDBPath(t)
	e := newEngine(t, path, chains)
	ctx := context.Background()

	stl := submitOne(t, e, "k-crash")

	// Simulate a worker that burned, persisted the reference, and died
	// before minting.
	loaded, err := e.store.LoadProgress(ctx, stl.SettlementID)
	require.NoError(t, err)
	ref, err := chains.Burn(ctx, "ETH", "userA", 100)
	require.NoError(t, err)
	loaded.BurnRef = ref
	loaded.Status = settlement.StatusBurned
	require.NoError(t, e.store.SaveProgress(ctx, loaded))

	// Fresh orchestrator: new process, empty memory, same durable store.
	e2 := newEngine(t, path, chains)
	out, err := e2.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeCompleted, out.Code)

	burns, mints := chains.Calls()
	require.Equal(t, 1, burns, "recorded burn stage must not repeat after restart")
	require.Equal(t, 1, mints)
	require.Equal(t, int64(400), chains.Balance("ETH", "userA"))
	require.Equal(t, int64(100), chains.Balance("SOL", "userA"))

	got, err := e2.orchestrator.GetStatus(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, ref, got.BurnRef)
}

func TestCrashResumeMidCompensation(t *testing.T) {
	chains := ledger.NewSimulator()
	chains.SetBalance("ETH", "userA", 500)
	path := testDBPath(t)
	e := newEngine(t, path, chains)
	ctx := context.Background()

	stl := submitOne(t, e, "k-crash-comp")

	// Worker crashed right after persisting COMPENSATING with the
	// compensation reference but before the terminal FAILED write.
	loaded, err := e.store.LoadProgress(ctx, stl.SettlementID)
	require.NoError(t, err)
	burnRef, err := chains.Burn(ctx, "ETH", "userA", 100)
	require.NoError(t, err)
	compRef, err := chains.Mint(ctx, "ETH", "userA", 100)
	require.NoError(t, err)
	loaded.BurnRef = burnRef
	loaded.CompensationRef = compRef
	loaded.ErrorMessage = "mint failed: simulated"
	loaded.Status = settlement.StatusCompensating
	require.NoError(t, e.store.SaveProgress(ctx, loaded))

	e2 := newEngine(t, path, chains)
	out, err := e2.orchestrator.Process(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeFailed, out.Code)

	got, err := e2.orchestrator.GetStatus(ctx, stl.SettlementID)
	require.NoError(t, err)
	require.Equal(t, settlement.StatusFailed, got.Status)
	require.Equal(t, compRef, got.CompensationRef, "recorded compensation must not repeat")

	_, mints := chains.Calls()
	require.Equal(t, 1, mints, "only the pre-crash mint-back may exist")
	require.Equal(t, int64(500), chains.Balance("ETH", "userA"))
}
