// Package verify implements the client-side pre-pay check: before a single
// satoshi leaves the Lightning node, the negotiated terms are proven
// against the on-chain escrow through an independent RPC read. Every check
// must pass; any failure means the client refuses to pay.
package verify

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/escrow"
)

// DefaultSafetyMargin is the maximum time, in seconds, the client budgets
// for the Lightning payment plus the on-chain claim. The refund deadline
// must be further out than now + margin.
const DefaultSafetyMargin int64 = 600

// Params bundles the negotiated bodies under verification.
type Params struct {
	Terms   domain.TermsBody
	Invoice domain.LNInvoiceBody
	Escrow  domain.SolEscrowCreatedBody

	// SafetyMarginSec overrides DefaultSafetyMargin when positive.
	SafetyMarginSec int64
}

// PrePay runs the six checks against the chain. It returns nil only when
// the escrow provably satisfies the terms; the typed error identifies the
// first failed check otherwise.
func PrePay(ctx context.Context, rpc domain.ChainReader, p Params, nowUnix int64) error {
	margin := p.SafetyMarginSec
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}

	// 1. The invoice and the escrow must be locked to the same hash.
	if p.Invoice.PaymentHashHex != p.Escrow.PaymentHashHex {
		return fmt.Errorf("verify: %w: invoice %s, escrow %s",
			domain.ErrPayHashMismatch, p.Invoice.PaymentHashHex, p.Escrow.PaymentHashHex)
	}
	var paymentHash [32]byte
	raw, err := hex.DecodeString(p.Invoice.PaymentHashHex)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("verify: %w: payment_hash_hex", domain.ErrSchemaInvalid)
	}
	copy(paymentHash[:], raw)

	// 2. The claimed PDA must be the deterministic derivation.
	wantPDA, _, err := escrow.DerivePDA(p.Escrow.ProgramID, paymentHash)
	if err != nil {
		return fmt.Errorf("verify: derive pda: %w", err)
	}
	if wantPDA != p.Escrow.EscrowPDA {
		return fmt.Errorf("verify: %w: pda %s is not derive(%s, escrow, payment_hash)",
			domain.ErrMismatchedBinding, p.Escrow.EscrowPDA, p.Escrow.ProgramID)
	}

	// 3. The account exists, is owned by the program, and its parsed state
	// mirrors the terms exactly.
	acc, err := rpc.GetAccount(ctx, p.Escrow.EscrowPDA)
	if err != nil {
		return fmt.Errorf("verify: %w: %v", domain.ErrEscrowMissing, err)
	}
	if acc.Owner != p.Escrow.ProgramID {
		return fmt.Errorf("verify: %w: owner %s", domain.ErrEscrowWrongOwner, acc.Owner)
	}
	st, err := escrow.ParseState(acc.Data)
	if err != nil {
		return fmt.Errorf("verify: %w: %v", domain.ErrEscrowWrongOwner, err)
	}
	if st.Status != escrow.StatusActive {
		return fmt.Errorf("verify: %w: status %d", domain.ErrEscrowNotFunded, st.Status)
	}
	wantAmount, err := domain.AtomicToUint64(p.Terms.USDTAmount)
	if err != nil {
		return fmt.Errorf("verify: terms amount: %w", err)
	}
	if st.NetAmount != wantAmount {
		return fmt.Errorf("verify: %w: escrow %d, terms %s",
			domain.ErrEscrowAmountMismatch, st.NetAmount, p.Terms.USDTAmount)
	}
	if escrow.EncodeKey(st.Mint) != p.Terms.SolMint {
		return fmt.Errorf("verify: %w: mint", domain.ErrMismatchedBinding)
	}
	if escrow.EncodeKey(st.Recipient) != p.Terms.SolRecipient {
		return fmt.Errorf("verify: %w: recipient", domain.ErrMismatchedBinding)
	}
	if escrow.EncodeKey(st.Refund) != p.Terms.SolRefund {
		return fmt.Errorf("verify: %w: refund", domain.ErrMismatchedBinding)
	}
	if st.PaymentHash != paymentHash {
		return fmt.Errorf("verify: %w: on-chain hash differs", domain.ErrPayHashMismatch)
	}
	if st.RefundAfter != p.Terms.SolRefundAfterUnix {
		return fmt.Errorf("verify: %w: refund_after_unix", domain.ErrMismatchedBinding)
	}

	// 4. Enough runway before the refund cliff to pay and claim.
	if nowUnix+margin >= st.RefundAfter {
		return fmt.Errorf("verify: %w: now %d + margin %d >= refund_after %d",
			domain.ErrEscrowTimeTooTight, nowUnix, margin, st.RefundAfter)
	}

	// 5. The vault is the right ATA and actually holds the funds.
	wantVault, err := escrow.VaultATA(p.Escrow.EscrowPDA, p.Terms.SolMint)
	if err != nil {
		return fmt.Errorf("verify: derive vault: %w", err)
	}
	if wantVault != p.Escrow.VaultATA {
		return fmt.Errorf("verify: %w: vault_ata %s", domain.ErrMismatchedBinding, p.Escrow.VaultATA)
	}
	vault, err := rpc.GetTokenAccount(ctx, p.Escrow.VaultATA)
	if err != nil {
		return fmt.Errorf("verify: %w: %v", domain.ErrVaultUnderfunded, err)
	}
	if vault.Mint != p.Terms.SolMint {
		return fmt.Errorf("verify: %w: vault mint", domain.ErrMismatchedBinding)
	}
	if vault.Owner != p.Escrow.EscrowPDA {
		return fmt.Errorf("verify: %w: vault owner", domain.ErrMismatchedBinding)
	}
	if vault.Amount < st.Total() {
		return fmt.Errorf("verify: %w: vault %d < %d", domain.ErrVaultUnderfunded, vault.Amount, st.Total())
	}

	// 6. The invoice charges exactly the negotiated sats.
	wantMsat, err := domain.SatsToMsat(p.Terms.BTCSats)
	if err != nil {
		return err
	}
	if p.Invoice.AmountMsat != wantMsat {
		return fmt.Errorf("verify: %w: amount_msat %s, terms want %s",
			domain.ErrMismatchedBinding, p.Invoice.AmountMsat, wantMsat)
	}

	return nil
}
