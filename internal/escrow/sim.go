package escrow

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/intercomswap/swapd/internal/domain"
)

// SimChain exposes a simulated Program and its Ledger through the
// domain.ChainRPC interface, so the pre-pay verifier and the settlement
// flows run unmodified against it in tests and simnet mode.
type SimChain struct {
	program *Program
	ledger  *Ledger
	sigSeq  atomic.Int64
}

// NewSimChain wraps a program and ledger as a chain RPC.
func NewSimChain(program *Program, ledger *Ledger) *SimChain {
	return &SimChain{program: program, ledger: ledger}
}

// GetAccount returns the escrow state account at pubkey, if any.
func (c *SimChain) GetAccount(_ context.Context, pubkey string) (domain.Account, error) {
	st, ok := c.program.StateOf(pubkey)
	if !ok {
		return domain.Account{}, fmt.Errorf("sim: %s: %w", pubkey, domain.ErrNotFound)
	}
	return domain.Account{Owner: c.program.ID(), Data: st.Serialize()}, nil
}

// GetTokenAccount reads a token account from the ledger.
func (c *SimChain) GetTokenAccount(_ context.Context, ata string) (domain.TokenAccount, error) {
	mint, owner, amount, ok := c.ledger.Account(ata)
	if !ok {
		return domain.TokenAccount{}, fmt.Errorf("sim: %s: %w", ata, domain.ErrNotFound)
	}
	return domain.TokenAccount{Mint: mint, Owner: owner, Amount: amount}, nil
}

// Now returns the simulated on-chain clock.
func (c *SimChain) Now(context.Context) (int64, error) {
	return c.program.clock(), nil
}

// SendTx is a placeholder: simnet flows invoke the program directly, so
// any bytes submitted here just receive a synthetic signature.
func (c *SimChain) SendTx(context.Context, []byte) (string, error) {
	return fmt.Sprintf("simsig-%d", c.sigSeq.Add(1)), nil
}

// Confirm always succeeds on simnet.
func (c *SimChain) Confirm(context.Context, string) error { return nil }

var _ domain.ChainRPC = (*SimChain)(nil)
