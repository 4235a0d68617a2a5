// Package trade implements the per-trade state machine. Apply is a pure
// function from (trade, signed envelope) to a successor trade or a typed
// rejection; all I/O lives in the orchestration layer above it.
package trade

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/envelope"
)

// New returns a fresh trade record in INIT with no bindings.
func New(tradeID string) *domain.Trade { return domain.NewTrade(tradeID) }

// Apply validates env against t and returns the successor trade. The input
// trade is never mutated. Rejections are wrapped sentinel errors from the
// domain package; callers branch with errors.Is.
//
// A byte-identical replay of an already-applied envelope returns the trade
// unchanged with no error. A different envelope of an already-consumed
// kind is rejected with AlreadyApplied (DuplicateTerms for TERMS).
func Apply(t *domain.Trade, env domain.Signed, nowUnix int64) (*domain.Trade, error) {
	if t == nil {
		return nil, fmt.Errorf("trade: nil trade")
	}
	if err := envelope.Verify(env); err != nil {
		return nil, err
	}
	if env.TradeID != t.ID {
		return nil, fmt.Errorf("trade: %w: envelope %q, trade %q", domain.ErrWrongTradeID, env.TradeID, t.ID)
	}

	envID, err := envelope.Hash(env.Unsigned())
	if err != nil {
		return nil, err
	}
	if _, ok := t.AppliedHashes[envID]; ok {
		// Idempotent replay of the exact same envelope.
		return t, nil
	}

	if t.State.Terminal() {
		return nil, fmt.Errorf("trade: %w: trade is %s", domain.ErrIllegalTransition, t.State)
	}

	next := t.Clone()
	switch body := env.Body.(type) {
	case domain.TermsBody:
		err = applyTerms(next, body, nowUnix)
	case domain.AcceptBody:
		err = applyAccept(next, body)
	case domain.LNInvoiceBody:
		err = applyInvoice(next, body)
	case domain.SolEscrowCreatedBody:
		err = applyEscrow(next, body)
	case domain.LNPaidBody:
		err = applyPaid(next, body)
	case domain.SolClaimedBody:
		err = applyClaimed(next, body)
	case domain.CancelBody:
		next.State = domain.StateCancelled
		next.CancelReason = body.Reason
	case domain.StatusBody:
		// Informational; consumes nothing and moves nothing.
		return t, nil
	default:
		return nil, fmt.Errorf("trade: %w: %s has no transition", domain.ErrIllegalTransition, env.Kind)
	}
	if err != nil {
		return nil, err
	}

	next.AppliedHashes[envID] = struct{}{}
	next.PeerPubkeys[env.SignerPubkey] = struct{}{}
	return next, nil
}

// ObserveRefund folds an on-chain refund observation into the trade. It is
// not envelope-driven: the watcher calls it after confirming the escrow
// reached REFUNDED status on chain.
func ObserveRefund(t *domain.Trade) (*domain.Trade, error) {
	if t.State.Terminal() {
		if t.State == domain.StateRefunded {
			return t, nil
		}
		return nil, fmt.Errorf("trade: %w: trade is %s", domain.ErrIllegalTransition, t.State)
	}
	if !t.State.After(domain.StateEscrow) {
		return nil, fmt.Errorf("trade: %w: refund observed before escrow", domain.ErrIllegalTransition)
	}
	next := t.Clone()
	next.State = domain.StateRefunded
	return next, nil
}

func applyTerms(t *domain.Trade, body domain.TermsBody, nowUnix int64) error {
	if t.Terms != nil {
		return fmt.Errorf("trade: %w", domain.ErrDuplicateTerms)
	}
	if t.State != domain.StateInit {
		return illegal(t.State, domain.KindTerms)
	}
	if body.TermsValidUntilUnix < nowUnix {
		return fmt.Errorf("trade: %w: terms expired at %d", domain.ErrStaleExpiry, body.TermsValidUntilUnix)
	}
	hash, err := envelope.Hash(domain.Unsigned{
		V: domain.ProtocolVersion, Kind: domain.KindTerms, TradeID: t.ID, Body: body,
	})
	if err != nil {
		return err
	}
	t.Terms = &body
	t.TermsHash = hash
	t.State = domain.StateTerms
	return nil
}

func applyAccept(t *domain.Trade, body domain.AcceptBody) error {
	if t.State != domain.StateTerms {
		return illegal(t.State, domain.KindAccept)
	}
	if body.TermsHash != t.TermsHash {
		return fmt.Errorf("trade: %w: terms_hash %s != %s", domain.ErrMismatchedBinding, body.TermsHash, t.TermsHash)
	}
	t.State = domain.StateAccepted
	return nil
}

func applyInvoice(t *domain.Trade, body domain.LNInvoiceBody) error {
	if t.Invoice != nil {
		return fmt.Errorf("trade: %w: invoice", domain.ErrAlreadyApplied)
	}
	if t.State != domain.StateAccepted {
		return illegal(t.State, domain.KindLNInvoice)
	}
	wantMsat, err := domain.SatsToMsat(t.Terms.BTCSats)
	if err != nil {
		return err
	}
	if body.AmountMsat != wantMsat {
		return fmt.Errorf("trade: %w: amount_msat %s, terms want %s", domain.ErrMismatchedBinding, body.AmountMsat, wantMsat)
	}
	t.Invoice = &body
	t.PaymentHash = body.PaymentHashHex
	t.State = domain.StateInvoice
	return nil
}

func applyEscrow(t *domain.Trade, body domain.SolEscrowCreatedBody) error {
	if t.Escrow != nil {
		return fmt.Errorf("trade: %w: escrow", domain.ErrAlreadyApplied)
	}
	if t.State != domain.StateInvoice {
		return illegal(t.State, domain.KindSolEscrowCreated)
	}
	if body.PaymentHashHex != t.PaymentHash {
		return bindErr("payment_hash_hex", body.PaymentHashHex, t.PaymentHash)
	}
	terms := t.Terms
	if body.Amount != terms.USDTAmount {
		return bindErr("amount", body.Amount, terms.USDTAmount)
	}
	if body.Mint != terms.SolMint {
		return bindErr("mint", body.Mint, terms.SolMint)
	}
	if body.Recipient != terms.SolRecipient {
		return bindErr("recipient", body.Recipient, terms.SolRecipient)
	}
	if body.Refund != terms.SolRefund {
		return bindErr("refund", body.Refund, terms.SolRefund)
	}
	if body.RefundAfterUnix != terms.SolRefundAfterUnix {
		return bindErr("refund_after_unix",
			fmt.Sprintf("%d", body.RefundAfterUnix), fmt.Sprintf("%d", terms.SolRefundAfterUnix))
	}
	t.Escrow = &body
	t.State = domain.StateEscrow
	return nil
}

func applyPaid(t *domain.Trade, body domain.LNPaidBody) error {
	if t.State != domain.StateEscrow {
		return illegal(t.State, domain.KindLNPaid)
	}
	if body.PaymentHashHex != t.PaymentHash {
		return bindErr("payment_hash_hex", body.PaymentHashHex, t.PaymentHash)
	}
	if body.PreimageHex != "" {
		pre, err := hex.DecodeString(body.PreimageHex)
		if err != nil {
			return fmt.Errorf("trade: %w: preimage_hex", domain.ErrSchemaInvalid)
		}
		sum := sha256.Sum256(pre)
		if hex.EncodeToString(sum[:]) != t.PaymentHash {
			return fmt.Errorf("trade: %w: preimage does not hash to payment_hash", domain.ErrMismatchedBinding)
		}
	}
	t.Paid = &body
	t.State = domain.StateLNPaid
	return nil
}

func applyClaimed(t *domain.Trade, body domain.SolClaimedBody) error {
	if t.State != domain.StateLNPaid {
		return illegal(t.State, domain.KindSolClaimed)
	}
	if body.PaymentHashHex != t.PaymentHash {
		return bindErr("payment_hash_hex", body.PaymentHashHex, t.PaymentHash)
	}
	if body.EscrowPDA != t.Escrow.EscrowPDA {
		return bindErr("escrow_pda", body.EscrowPDA, t.Escrow.EscrowPDA)
	}
	t.Claim = &body
	t.State = domain.StateClaimed
	return nil
}

func illegal(s domain.TradeState, k domain.Kind) error {
	return fmt.Errorf("trade: %w: %s in state %s", domain.ErrIllegalTransition, k, s)
}

func bindErr(field, got, want string) error {
	return fmt.Errorf("trade: %w: %s %s != %s", domain.ErrMismatchedBinding, field, got, want)
}
