// Package domain defines the envelope protocol types, the per-trade record,
// and the interfaces the coordinator consumes (receipt store, sidechannel,
// chain RPC, Lightning RPC). Everything here is transport-agnostic.
package domain

import "encoding/json"

// ProtocolVersion is the envelope protocol version emitted by this build.
const ProtocolVersion = 1

// Kind identifies the envelope body schema.
type Kind string

const (
	KindRFQ              Kind = "RFQ"
	KindQuote            Kind = "QUOTE"
	KindQuoteAccept      Kind = "QUOTE_ACCEPT"
	KindSwapInvite       Kind = "SWAP_INVITE"
	KindTerms            Kind = "TERMS"
	KindAccept           Kind = "ACCEPT"
	KindLNInvoice        Kind = "LN_INVOICE"
	KindSolEscrowCreated Kind = "SOL_ESCROW_CREATED"
	KindLNPaid           Kind = "LN_PAID"
	KindSolClaimed       Kind = "SOL_CLAIMED"
	KindStatus           Kind = "STATUS"
	KindCancel           Kind = "CANCEL"
)

// Valid reports whether k is a known envelope kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRFQ, KindQuote, KindQuoteAccept, KindSwapInvite,
		KindTerms, KindAccept, KindLNInvoice, KindSolEscrowCreated,
		KindLNPaid, KindSolClaimed, KindStatus, KindCancel:
		return true
	default:
		return false
	}
}

// Body is implemented by every envelope body variant.
type Body interface {
	Kind() Kind
}

// Pair and direction enums for the single supported market.
const (
	PairBTCLNUSDTSOL = "BTC_LN/USDT_SOL"

	DirectionBTCToUSDT = "BTC_LN->USDT_SOL"
	DirectionUSDTToBTC = "USDT_SOL->BTC_LN"
)

// RFQBody requests a quote on the public rendezvous channel.
type RFQBody struct {
	Pair           string `json:"pair"`
	Direction      string `json:"direction"`
	BTCSats        uint64 `json:"btc_sats"`
	USDTAmount     string `json:"usdt_amount"`
	ValidUntilUnix int64  `json:"valid_until_unix"`
}

func (RFQBody) Kind() Kind { return KindRFQ }

// QuoteBody answers an RFQ. It repeats the RFQ economics and binds to the
// RFQ envelope hash.
type QuoteBody struct {
	Pair           string `json:"pair"`
	Direction      string `json:"direction"`
	BTCSats        uint64 `json:"btc_sats"`
	USDTAmount     string `json:"usdt_amount"`
	RFQID          string `json:"rfq_id"`
	ValidUntilUnix int64  `json:"valid_until_unix"`
}

func (QuoteBody) Kind() Kind { return KindQuote }

// QuoteAcceptBody accepts a specific quote. The optional fields carry the
// accepting client's settlement coordinates so the service can draft TERMS
// without a further round trip.
type QuoteAcceptBody struct {
	RFQID        string `json:"rfq_id"`
	QuoteID      string `json:"quote_id"`
	SolRecipient string `json:"sol_recipient,omitempty"`
	LNPayerPeer  string `json:"ln_payer_peer,omitempty"`
}

func (QuoteAcceptBody) Kind() Kind { return KindQuoteAccept }

// SwapInviteBody moves the negotiation into a private swap channel. The
// invite and welcome blobs are opaque capabilities minted by the
// sidechannel subsystem; the core only carries them.
type SwapInviteBody struct {
	RFQID       string `json:"rfq_id"`
	QuoteID     string `json:"quote_id"`
	SwapChannel string `json:"swap_channel"`
	OwnerPubkey string `json:"owner_pubkey"`
	Invite      string `json:"invite"`
	Welcome     string `json:"welcome"`
}

func (SwapInviteBody) Kind() Kind { return KindSwapInvite }

// TermsBody fixes the full economics of the swap. Once accepted it is
// immutable for the trade.
type TermsBody struct {
	Pair                string `json:"pair"`
	Direction           string `json:"direction"`
	BTCSats             uint64 `json:"btc_sats"`
	USDTAmount          string `json:"usdt_amount"`
	USDTDecimals        uint8  `json:"usdt_decimals"`
	SolMint             string `json:"sol_mint"`
	SolRecipient        string `json:"sol_recipient"`
	SolRefund           string `json:"sol_refund"`
	SolRefundAfterUnix  int64  `json:"sol_refund_after_unix"`
	LNReceiverPeer      string `json:"ln_receiver_peer"`
	LNPayerPeer         string `json:"ln_payer_peer"`
	TermsValidUntilUnix int64  `json:"terms_valid_until_unix"`
}

func (TermsBody) Kind() Kind { return KindTerms }

// AcceptBody accepts TERMS by their envelope hash.
type AcceptBody struct {
	TermsHash string `json:"terms_hash"`
}

func (AcceptBody) Kind() Kind { return KindAccept }

// LNInvoiceBody carries the BOLT11 invoice the client must pay.
type LNInvoiceBody struct {
	Bolt11         string `json:"bolt11"`
	PaymentHashHex string `json:"payment_hash_hex"`
	AmountMsat     string `json:"amount_msat"`
}

func (LNInvoiceBody) Kind() Kind { return KindLNInvoice }

// SolEscrowCreatedBody reports the funded on-chain escrow. Every mirrored
// field must match TERMS exactly; the state machine enforces that.
type SolEscrowCreatedBody struct {
	PaymentHashHex  string `json:"payment_hash_hex"`
	ProgramID       string `json:"program_id"`
	EscrowPDA       string `json:"escrow_pda"`
	VaultATA        string `json:"vault_ata"`
	Mint            string `json:"mint"`
	Amount          string `json:"amount"`
	RefundAfterUnix int64  `json:"refund_after_unix"`
	Recipient       string `json:"recipient"`
	Refund          string `json:"refund"`
	TxSig           string `json:"tx_sig"`
}

func (SolEscrowCreatedBody) Kind() Kind { return KindSolEscrowCreated }

// LNPaidBody reports a settled Lightning payment. The preimage is optional
// on the wire; once present its SHA-256 must equal the payment hash.
type LNPaidBody struct {
	PaymentHashHex string `json:"payment_hash_hex"`
	PreimageHex    string `json:"preimage_hex,omitempty"`
}

func (LNPaidBody) Kind() Kind { return KindLNPaid }

// SolClaimedBody reports the on-chain claim of the escrow.
type SolClaimedBody struct {
	PaymentHashHex string `json:"payment_hash_hex"`
	EscrowPDA      string `json:"escrow_pda"`
	TxSig          string `json:"tx_sig"`
}

func (SolClaimedBody) Kind() Kind { return KindSolClaimed }

// StatusBody is an informational resync message; it never mutates a trade.
type StatusBody struct {
	State string `json:"state"`
	Note  string `json:"note"`
}

func (StatusBody) Kind() Kind { return KindStatus }

// CancelBody aborts a trade from any non-terminal state.
type CancelBody struct {
	Reason string `json:"reason"`
}

func (CancelBody) Kind() Kind { return KindCancel }

// Unsigned is an envelope before signing. The canonical encoding of this
// value is the preimage of both the signature and the envelope hash.
type Unsigned struct {
	V       int    `json:"v"`
	Kind    Kind   `json:"kind"`
	TradeID string `json:"trade_id"`
	Body    Body   `json:"body"`
}

// Signed wraps an unsigned envelope with the signer's Ed25519 public key
// and a detached signature, both lower-case hex.
type Signed struct {
	V            int    `json:"v"`
	Kind         Kind   `json:"kind"`
	TradeID      string `json:"trade_id"`
	Body         Body   `json:"body"`
	SignerPubkey string `json:"signer_pubkey"`
	Signature    string `json:"signature"`
}

// Unsigned strips the signature fields.
func (s Signed) Unsigned() Unsigned {
	return Unsigned{V: s.V, Kind: s.Kind, TradeID: s.TradeID, Body: s.Body}
}

// WireEnvelope is the raw JSON shape of a signed envelope before the body
// has been parsed against its kind schema.
type WireEnvelope struct {
	V            int             `json:"v"`
	Kind         string          `json:"kind"`
	TradeID      string          `json:"trade_id"`
	Body         json.RawMessage `json:"body"`
	SignerPubkey string          `json:"signer_pubkey"`
	Signature    string          `json:"signature"`
}
