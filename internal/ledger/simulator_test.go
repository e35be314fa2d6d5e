package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgekit/chainsettle/internal/ledger"
)

func TestBurnMovesBalanceAndReturnsRef(t *testing.T) {
	sim := ledger.NewSimulator()
	sim.SetBalance("ETH", "userA", 250)
	ctx := context.Background()

	ref, err := sim.Burn(ctx, "ETH", "userA", 100)
	require.NoError(t, err)
	assert.Regexp(t, `^burn_tx_\d{6}$`, ref)
	assert.Equal(t, int64(150), sim.Balance("ETH", "userA"))

	ref, err = sim.Mint(ctx, "SOL", "userA", 100)
	require.NoError(t, err)
	assert.Regexp(t, `^mint_tx_\d{6}$`, ref)
	assert.Equal(t, int64(100), sim.Balance("SOL", "userA"))
}

func TestBurnInsufficientBalanceIsPermanent(t *testing.T) {
	sim := ledger.NewSimulator()
	sim.SetBalance("ETH", "userA", 50)

	_, err := sim.Burn(context.Background(), "ETH", "userA", 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrPermanent))
	assert.False(t, ledger.IsTransient(err))
	assert.Equal(t, int64(50), sim.Balance("ETH", "userA"), "a failed burn must not move funds")
}

func TestFailureInjectionIsPerChain(t *testing.T) {
	sim := ledger.NewSimulator()
	sim.SetBalance("ETH", "userA", 200)
	sim.FailMint("SOL", ledger.ErrTransient)
	ctx := context.Background()

	_, err := sim.Mint(ctx, "SOL", "userA", 100)
	require.Error(t, err)
	assert.True(t, ledger.IsTransient(err))

	// The injection does not leak to other chains; mint-back on the
	// source chain still works.
	_, err = sim.Mint(ctx, "ETH", "userA", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(300), sim.Balance("ETH", "userA"))

	sim.FailMint("SOL", nil)
	_, err = sim.Mint(ctx, "SOL", "userA", 100)
	require.NoError(t, err)
}

func TestCallCounting(t *testing.T) {
	sim := ledger.NewSimulator()
	sim.SetBalance("ETH", "userA", 500)
	sim.FailBurn("BTC", ledger.ErrTransient)
	ctx := context.Background()

	_, _ = sim.Burn(ctx, "ETH", "userA", 100)
	_, _ = sim.Burn(ctx, "BTC", "userA", 100) // failed attempts count too
	_, _ = sim.Mint(ctx, "SOL", "userA", 100)

	burns, mints := sim.Calls()
	assert.Equal(t, 2, burns)
	assert.Equal(t, 1, mints)
}
