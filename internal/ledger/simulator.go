package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator is an in-process Ledger backed by per-chain account balances.
// It stands in for real chain clients in development and tests, and lets
// tests inject burn/mint failures and observe call counts.
type Simulator struct {
	mu        sync.Mutex
	balances  map[string]map[string]int64 // chain -> account -> minor units
	txCounter int

	burnErrs map[string]error // chain -> injected failure
	mintErrs map[string]error

	burnCalls int
	mintCalls int

	// Delay is applied to every call to model network latency.
	Delay time.Duration
}

func NewSimulator() *Simulator {
	return &Simulator{
		balances: make(map[string]map[string]int64),
		burnErrs: make(map[string]error),
		mintErrs: make(map[string]error),
	}
}

// SetBalance sets the balance for account on chain.
func (s *Simulator) SetBalance(chain, account string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[chain] == nil {
		s.balances[chain] = make(map[string]int64)
	}
	s.balances[chain][account] = amount
}

// Balance returns the balance for account on chain.
func (s *Simulator) Balance(chain, account string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[chain][account]
}

// FailBurn makes subsequent Burn calls on chain fail with err; a nil err
// clears the injection.
func (s *Simulator) FailBurn(chain string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.burnErrs, chain)
		return
	}
	s.burnErrs[chain] = err
}

// FailMint makes subsequent Mint calls on chain fail with err; a nil err
// clears the injection.
func (s *Simulator) FailMint(chain string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.mintErrs, chain)
		return
	}
	s.mintErrs[chain] = err
}

// Calls returns how many burn and mint calls were attempted.
func (s *Simulator) Calls() (burns, mints int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.burnCalls, s.mintCalls
}

func (s *Simulator) Burn(ctx context.Context, chain, account string, amount int64) (string, error) {
	if err := s.sleep(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.burnCalls++

	if err := s.burnErrs[chain]; err != nil {
		return "", fmt.Errorf("burn on %s: %w", chain, err)
	}

	current := s.balances[chain][account]
	if current < amount {
		return "", fmt.Errorf("insufficient balance on %s for %s: %w", chain, account, ErrPermanent)
	}

	s.balances[chain][account] = current - amount
	s.txCounter++
	return fmt.Sprintf("burn_tx_%06d", s.txCounter), nil
}

func (s *Simulator) Mint(ctx context.Context, chain, account string, amount int64) (string, error) {
	if err := s.sleep(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mintCalls++

	if err := s.mintErrs[chain]; err != nil {
		return "", fmt.Errorf("mint on %s: %w", chain, err)
	}

	if s.balances[chain] == nil {
		s.balances[chain] = make(map[string]int64)
	}
	s.balances[chain][account] += amount
	s.txCounter++
	return fmt.Sprintf("mint_tx_%06d", s.txCounter), nil
}

func (s *Simulator) sleep(ctx context.Context) error {
	if s.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(s.Delay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ledger call cancelled: %w", ErrTransient)
	}
}
