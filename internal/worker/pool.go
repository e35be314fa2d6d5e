package worker

import (
	"context"
	"sync"
	"time"

	"github.com/bridgekit/chainsettle/internal/obs"
	"github.com/bridgekit/chainsettle/internal/settlement"
)

// Pool runs a set of workers that poll for pending settlements and offer
// each one to the orchestrator. Workers coordinate through nothing but
// the orchestrator's own locking: the same settlement may be picked up
// by several workers at once and at most one of them will process it,
// the rest observe LOCK_BUSY.
type Pool struct {
	orchestrator *settlement.Orchestrator
	store        *settlement.Store
	logger       *obs.Logger

	workers      int
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(orchestrator *settlement.Orchestrator, store *settlement.Store, logger *obs.Logger, workers int, pollInterval time.Duration) *Pool {
	if workers <= 0 {
		workers = 5
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Pool{
		orchestrator: orchestrator,
		store:        store,
		logger:       logger,
		workers:      workers,
		pollInterval: pollInterval,
	}
}

// Start launches the worker goroutines. They run until Stop is called or
// ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

// Stop cancels all workers and waits for them to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Pool) drain(ctx context.Context) {
	pending, err := p.store.ListByStatus(ctx, settlement.StatusPending, 50)
	if err != nil {
		if ctx.Err() == nil && p.logger != nil {
			p.logger.Error(map[string]interface{}{"op": "worker_poll", "error": err.Error()})
		}
		return
	}

	for _, stl := range pending {
		if ctx.Err() != nil {
			return
		}
		outcome, err := p.orchestrator.Process(ctx, stl.SettlementID)
		if err != nil {
			if ctx.Err() == nil && p.logger != nil {
				p.logger.Error(map[string]interface{}{
					"op":         "worker_process",
					"settlement": stl.SettlementID,
					"error":      err.Error(),
				})
			}
			continue
		}
		if outcome.Code == settlement.OutcomeLockBusy {
			continue // another worker owns it
		}
	}
}
