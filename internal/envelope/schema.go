package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcutil/base58"

	"github.com/intercomswap/swapd/internal/domain"
)

// ParseBody decodes raw body JSON into the typed variant for kind and
// validates every field against the schema: presence, integer ranges, hex
// widths, enum membership. All downstream code operates on the typed body.
func ParseBody(kind domain.Kind, raw json.RawMessage) (domain.Body, error) {
	if len(raw) == 0 {
		return nil, schemaErr(kind, "missing body")
	}
	var body domain.Body
	switch kind {
	case domain.KindRFQ:
		body = &domain.RFQBody{}
	case domain.KindQuote:
		body = &domain.QuoteBody{}
	case domain.KindQuoteAccept:
		body = &domain.QuoteAcceptBody{}
	case domain.KindSwapInvite:
		body = &domain.SwapInviteBody{}
	case domain.KindTerms:
		body = &domain.TermsBody{}
	case domain.KindAccept:
		body = &domain.AcceptBody{}
	case domain.KindLNInvoice:
		body = &domain.LNInvoiceBody{}
	case domain.KindSolEscrowCreated:
		body = &domain.SolEscrowCreatedBody{}
	case domain.KindLNPaid:
		body = &domain.LNPaidBody{}
	case domain.KindSolClaimed:
		body = &domain.SolClaimedBody{}
	case domain.KindStatus:
		body = &domain.StatusBody{}
	case domain.KindCancel:
		body = &domain.CancelBody{}
	default:
		return nil, fmt.Errorf("envelope: %w: %q", domain.ErrUnknownKind, kind)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(body); err != nil {
		return nil, schemaErr(kind, err.Error())
	}
	if err := validateBody(body); err != nil {
		return nil, err
	}
	return deref(body), nil
}

// deref returns the value form so envelopes compare and clone by value.
func deref(b domain.Body) domain.Body {
	switch v := b.(type) {
	case *domain.RFQBody:
		return *v
	case *domain.QuoteBody:
		return *v
	case *domain.QuoteAcceptBody:
		return *v
	case *domain.SwapInviteBody:
		return *v
	case *domain.TermsBody:
		return *v
	case *domain.AcceptBody:
		return *v
	case *domain.LNInvoiceBody:
		return *v
	case *domain.SolEscrowCreatedBody:
		return *v
	case *domain.LNPaidBody:
		return *v
	case *domain.SolClaimedBody:
		return *v
	case *domain.StatusBody:
		return *v
	case *domain.CancelBody:
		return *v
	default:
		return b
	}
}

func validateBody(b domain.Body) error {
	switch v := b.(type) {
	case *domain.RFQBody:
		return validateRFQFields(v.Pair, v.Direction, v.BTCSats, v.USDTAmount, v.ValidUntilUnix, v.Kind())
	case *domain.QuoteBody:
		if err := validateRFQFields(v.Pair, v.Direction, v.BTCSats, v.USDTAmount, v.ValidUntilUnix, v.Kind()); err != nil {
			return err
		}
		return requireHex32(v.Kind(), "rfq_id", v.RFQID)
	case *domain.QuoteAcceptBody:
		if err := requireHex32(v.Kind(), "rfq_id", v.RFQID); err != nil {
			return err
		}
		if err := requireHex32(v.Kind(), "quote_id", v.QuoteID); err != nil {
			return err
		}
		if v.SolRecipient != "" {
			if err := requireBase58Key(v.Kind(), "sol_recipient", v.SolRecipient); err != nil {
				return err
			}
		}
		if v.LNPayerPeer != "" {
			return requireNodeID(v.Kind(), "ln_payer_peer", v.LNPayerPeer)
		}
		return nil
	case *domain.SwapInviteBody:
		if err := requireHex32(v.Kind(), "rfq_id", v.RFQID); err != nil {
			return err
		}
		if err := requireHex32(v.Kind(), "quote_id", v.QuoteID); err != nil {
			return err
		}
		if v.SwapChannel == "" {
			return schemaErr(v.Kind(), "missing swap_channel")
		}
		if err := requireHexKey(v.Kind(), "owner_pubkey", v.OwnerPubkey); err != nil {
			return err
		}
		if v.Invite == "" || v.Welcome == "" {
			return schemaErr(v.Kind(), "missing invite/welcome capability")
		}
		return nil
	case *domain.TermsBody:
		if err := validateRFQFields(v.Pair, v.Direction, v.BTCSats, v.USDTAmount, v.TermsValidUntilUnix, v.Kind()); err != nil {
			return err
		}
		if v.USDTDecimals == 0 || v.USDTDecimals > 18 {
			return schemaErr(v.Kind(), "usdt_decimals out of range")
		}
		for _, f := range []struct{ name, val string }{
			{"sol_mint", v.SolMint},
			{"sol_recipient", v.SolRecipient},
			{"sol_refund", v.SolRefund},
		} {
			if err := requireBase58Key(v.Kind(), f.name, f.val); err != nil {
				return err
			}
		}
		if v.SolRefundAfterUnix <= 0 {
			return schemaErr(v.Kind(), "sol_refund_after_unix must be positive")
		}
		if err := requireNodeID(v.Kind(), "ln_receiver_peer", v.LNReceiverPeer); err != nil {
			return err
		}
		return requireNodeID(v.Kind(), "ln_payer_peer", v.LNPayerPeer)
	case *domain.AcceptBody:
		return requireHex32(v.Kind(), "terms_hash", v.TermsHash)
	case *domain.LNInvoiceBody:
		if v.Bolt11 == "" {
			return schemaErr(v.Kind(), "missing bolt11")
		}
		if err := requireHex32(v.Kind(), "payment_hash_hex", v.PaymentHashHex); err != nil {
			return err
		}
		return requireAtomic(v.Kind(), "amount_msat", v.AmountMsat)
	case *domain.SolEscrowCreatedBody:
		if err := requireHex32(v.Kind(), "payment_hash_hex", v.PaymentHashHex); err != nil {
			return err
		}
		for _, f := range []struct{ name, val string }{
			{"program_id", v.ProgramID},
			{"escrow_pda", v.EscrowPDA},
			{"vault_ata", v.VaultATA},
			{"mint", v.Mint},
			{"recipient", v.Recipient},
			{"refund", v.Refund},
		} {
			if err := requireBase58Key(v.Kind(), f.name, f.val); err != nil {
				return err
			}
		}
		if err := requireAtomic(v.Kind(), "amount", v.Amount); err != nil {
			return err
		}
		if v.RefundAfterUnix <= 0 {
			return schemaErr(v.Kind(), "refund_after_unix must be positive")
		}
		if v.TxSig == "" {
			return schemaErr(v.Kind(), "missing tx_sig")
		}
		return nil
	case *domain.LNPaidBody:
		if err := requireHex32(v.Kind(), "payment_hash_hex", v.PaymentHashHex); err != nil {
			return err
		}
		if v.PreimageHex != "" {
			return requireHex32(v.Kind(), "preimage_hex", v.PreimageHex)
		}
		return nil
	case *domain.SolClaimedBody:
		if err := requireHex32(v.Kind(), "payment_hash_hex", v.PaymentHashHex); err != nil {
			return err
		}
		if err := requireBase58Key(v.Kind(), "escrow_pda", v.EscrowPDA); err != nil {
			return err
		}
		if v.TxSig == "" {
			return schemaErr(v.Kind(), "missing tx_sig")
		}
		return nil
	case *domain.StatusBody:
		if !domain.TradeState(v.State).Valid() {
			return schemaErr(v.Kind(), "unknown state")
		}
		return nil
	case *domain.CancelBody:
		if v.Reason == "" {
			return schemaErr(v.Kind(), "missing reason")
		}
		return nil
	default:
		return fmt.Errorf("envelope: %w", domain.ErrUnknownKind)
	}
}

func validateRFQFields(pair, direction string, sats uint64, usdt string, validUntil int64, k domain.Kind) error {
	if pair != domain.PairBTCLNUSDTSOL {
		return schemaErr(k, "unsupported pair")
	}
	if direction != domain.DirectionBTCToUSDT && direction != domain.DirectionUSDTToBTC {
		return schemaErr(k, "unsupported direction")
	}
	if sats == 0 {
		return schemaErr(k, "btc_sats must be positive")
	}
	if err := requireAtomic(k, "usdt_amount", usdt); err != nil {
		return err
	}
	if validUntil <= 0 {
		return schemaErr(k, "valid_until_unix must be positive")
	}
	return nil
}

func requireAtomic(k domain.Kind, field, val string) error {
	if !domain.AtomicValid(val) {
		return schemaErr(k, field+" is not an atomic integer string")
	}
	return nil
}

// requireHex32 enforces lower-case 64-char hex.
func requireHex32(k domain.Kind, field, val string) error {
	if _, err := decodeHexExact(val, 32); err != nil {
		return schemaErr(k, field+": "+err.Error())
	}
	return nil
}

// requireHexKey enforces a lower-case hex Ed25519 public key.
func requireHexKey(k domain.Kind, field, val string) error {
	return requireHex32(k, field, val)
}

// requireNodeID enforces a 33-byte compressed-point hex Lightning node id.
func requireNodeID(k domain.Kind, field, val string) error {
	if _, err := decodeHexExact(val, 33); err != nil {
		return schemaErr(k, field+": "+err.Error())
	}
	return nil
}

// requireBase58Key enforces a base58-encoded 32-byte Solana-style key.
func requireBase58Key(k domain.Kind, field, val string) error {
	if val == "" {
		return schemaErr(k, "missing "+field)
	}
	if len(base58.Decode(val)) != 32 {
		return schemaErr(k, field+" is not a base58 32-byte key")
	}
	return nil
}

func schemaErr(k domain.Kind, msg string) error {
	return fmt.Errorf("envelope: %w: %s: %s", domain.ErrSchemaInvalid, k, msg)
}
