package domain

import "errors"

// Protocol errors: the envelope itself is unacceptable.
var (
	ErrBadSig        = errors.New("bad signature")
	ErrMalformedKey  = errors.New("malformed signer key")
	ErrSchemaInvalid = errors.New("schema invalid")
	ErrUnknownKind   = errors.New("unknown envelope kind")
	ErrWrongTradeID  = errors.New("wrong trade id")
	ErrCanonMismatch = errors.New("canonical encoding mismatch")
)

// State errors: the envelope is well-formed but not applicable to the trade
// in its current state.
var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrMismatchedBinding = errors.New("mismatched binding")
	ErrDuplicateTerms    = errors.New("duplicate terms")
	ErrStaleExpiry       = errors.New("stale expiry")
	ErrAlreadyApplied    = errors.New("already applied")
)

// Verification errors: the on-chain escrow does not satisfy the negotiated
// terms. Any of these causes the client to refuse the Lightning payment.
var (
	ErrEscrowMissing        = errors.New("escrow account missing")
	ErrEscrowWrongOwner     = errors.New("escrow account has wrong owner")
	ErrEscrowNotFunded      = errors.New("escrow not in funded status")
	ErrEscrowAmountMismatch = errors.New("escrow amount mismatch")
	ErrEscrowTimeTooTight   = errors.New("escrow refund deadline too tight")
	ErrPayHashMismatch      = errors.New("payment hash mismatch")
	ErrVaultUnderfunded     = errors.New("vault underfunded")
)

// Transport/IO errors passed through from external collaborators.
var (
	ErrTimeout      = errors.New("timeout")
	ErrDisconnected = errors.New("disconnected")
	ErrRPCFailure   = errors.New("rpc failure")
	ErrNotAdmitted  = errors.New("not admitted to channel")
	ErrNotFound     = errors.New("not found")
)

// ErrInconsistent marks a fatal divergence between a confirmed on-chain
// observation and the persisted trade record. There is no automatic
// recovery; the trade is frozen and surfaced to the operator.
var ErrInconsistent = errors.New("trade record inconsistent with chain")
