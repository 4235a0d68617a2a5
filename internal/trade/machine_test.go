package trade

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/require"

	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/envelope"
)

const testNow int64 = 1_700_000_000

type fixture struct {
	serviceKey ed25519.PrivateKey
	clientKey  ed25519.PrivateKey
	preimage   [32]byte
	payHash    string
	terms      domain.TermsBody
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, svc, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, cli, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var preimage [32]byte
	_, err = rand.Read(preimage[:])
	require.NoError(t, err)
	hash := sha256.Sum256(preimage[:])

	return &fixture{
		serviceKey: svc,
		clientKey:  cli,
		preimage:   preimage,
		payHash:    hex.EncodeToString(hash[:]),
		terms: domain.TermsBody{
			Pair:                domain.PairBTCLNUSDTSOL,
			Direction:           domain.DirectionBTCToUSDT,
			BTCSats:             50_000,
			USDTAmount:          "100000000",
			USDTDecimals:        6,
			SolMint:             b58(1),
			SolRecipient:        b58(2),
			SolRefund:           b58(3),
			SolRefundAfterUnix:  testNow + 3600,
			LNReceiverPeer:      node(4),
			LNPayerPeer:         node(5),
			TermsValidUntilUnix: testNow + 600,
		},
	}
}

func b58(b byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = b
	}
	return base58.Encode(raw)
}

func node(b byte) string {
	raw := make([]byte, 33)
	for i := range raw {
		raw[i] = b
	}
	return hex.EncodeToString(raw)
}

func (f *fixture) sign(t *testing.T, key ed25519.PrivateKey, kind domain.Kind, body domain.Body) domain.Signed {
	t.Helper()
	env, err := envelope.Sign(domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    kind,
		TradeID: "t1",
		Body:    body,
	}, key)
	require.NoError(t, err)
	return env
}

func (f *fixture) invoice() domain.LNInvoiceBody {
	return domain.LNInvoiceBody{
		Bolt11:         "lnbc50000n1fake",
		PaymentHashHex: f.payHash,
		AmountMsat:     "50000000",
	}
}

func (f *fixture) escrowBody() domain.SolEscrowCreatedBody {
	return domain.SolEscrowCreatedBody{
		PaymentHashHex:  f.payHash,
		ProgramID:       b58(9),
		EscrowPDA:       b58(10),
		VaultATA:        b58(11),
		Mint:            f.terms.SolMint,
		Amount:          f.terms.USDTAmount,
		RefundAfterUnix: f.terms.SolRefundAfterUnix,
		Recipient:       f.terms.SolRecipient,
		Refund:          f.terms.SolRefund,
		TxSig:           "sig-create",
	}
}

// advance drives a fresh trade to the requested state.
func (f *fixture) advance(t *testing.T, to domain.TradeState) *domain.Trade {
	t.Helper()
	tr := New("t1")
	steps := []struct {
		state domain.TradeState
		env   func() domain.Signed
	}{
		{domain.StateTerms, func() domain.Signed { return f.sign(t, f.serviceKey, domain.KindTerms, f.terms) }},
		{domain.StateAccepted, func() domain.Signed {
			return f.sign(t, f.clientKey, domain.KindAccept, domain.AcceptBody{TermsHash: tr.TermsHash})
		}},
		{domain.StateInvoice, func() domain.Signed { return f.sign(t, f.serviceKey, domain.KindLNInvoice, f.invoice()) }},
		{domain.StateEscrow, func() domain.Signed {
			return f.sign(t, f.serviceKey, domain.KindSolEscrowCreated, f.escrowBody())
		}},
		{domain.StateLNPaid, func() domain.Signed {
			return f.sign(t, f.clientKey, domain.KindLNPaid, domain.LNPaidBody{
				PaymentHashHex: f.payHash,
				PreimageHex:    hex.EncodeToString(f.preimage[:]),
			})
		}},
		{domain.StateClaimed, func() domain.Signed {
			return f.sign(t, f.clientKey, domain.KindSolClaimed, domain.SolClaimedBody{
				PaymentHashHex: f.payHash,
				EscrowPDA:      f.escrowBody().EscrowPDA,
				TxSig:          "sig-claim",
			})
		}},
	}
	for _, step := range steps {
		next, err := Apply(tr, step.env(), testNow)
		require.NoError(t, err)
		tr = next
		if tr.State == to {
			return tr
		}
	}
	require.Equal(t, to, tr.State)
	return tr
}

func TestHappyPathReachesClaimed(t *testing.T) {
	f := newFixture(t)
	tr := f.advance(t, domain.StateClaimed)

	require.True(t, tr.State.Terminal())
	require.NotNil(t, tr.Terms)
	require.NotNil(t, tr.Invoice)
	require.NotNil(t, tr.Escrow)
	require.NotNil(t, tr.Paid)
	require.NotNil(t, tr.Claim)

	// Binding closure: the escrow mirrors the terms and the invoice.
	require.Equal(t, tr.Terms.USDTAmount, tr.Escrow.Amount)
	require.Equal(t, tr.Terms.SolMint, tr.Escrow.Mint)
	require.Equal(t, tr.Terms.SolRecipient, tr.Escrow.Recipient)
	require.Equal(t, tr.Terms.SolRefundAfterUnix, tr.Escrow.RefundAfterUnix)
	require.Equal(t, tr.Invoice.PaymentHashHex, tr.Escrow.PaymentHashHex)
	require.Len(t, tr.PeerPubkeys, 2)
}

func TestStaleTermsRejected(t *testing.T) {
	f := newFixture(t)
	f.terms.TermsValidUntilUnix = testNow - 1
	tr := New("t1")
	_, err := Apply(tr, f.sign(t, f.serviceKey, domain.KindTerms, f.terms), testNow)
	require.ErrorIs(t, err, domain.ErrStaleExpiry)
	require.Equal(t, domain.StateInit, tr.State)
}

func TestDuplicateTermsRejected(t *testing.T) {
	f := newFixture(t)
	tr := f.advance(t, domain.StateTerms)
	firstHash := tr.TermsHash

	other := f.terms
	other.BTCSats = 60_000
	_, err := Apply(tr, f.sign(t, f.serviceKey, domain.KindTerms, other), testNow)
	require.ErrorIs(t, err, domain.ErrDuplicateTerms)
	require.Equal(t, firstHash, tr.TermsHash)
	require.Equal(t, uint64(50_000), tr.Terms.BTCSats)
}

func TestIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	tr := New("t1")
	env := f.sign(t, f.serviceKey, domain.KindTerms, f.terms)

	once, err := Apply(tr, env, testNow)
	require.NoError(t, err)
	twice, err := Apply(once, env, testNow)
	require.NoError(t, err)
	require.Same(t, once, twice)
}

func TestWrongTradeID(t *testing.T) {
	f := newFixture(t)
	env, err := envelope.Sign(domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindTerms,
		TradeID: "other",
		Body:    f.terms,
	}, f.serviceKey)
	require.NoError(t, err)
	_, err = Apply(New("t1"), env, testNow)
	require.ErrorIs(t, err, domain.ErrWrongTradeID)
}

func TestOutOfOrderIsIllegal(t *testing.T) {
	f := newFixture(t)
	tr := New("t1")
	env := f.sign(t, f.serviceKey, domain.KindLNInvoice, f.invoice())
	_, err := Apply(tr, env, testNow)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestAcceptWithWrongHashRejected(t *testing.T) {
	f := newFixture(t)
	tr := f.advance(t, domain.StateTerms)
	env := f.sign(t, f.clientKey, domain.KindAccept, domain.AcceptBody{
		TermsHash: "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
	})
	_, err := Apply(tr, env, testNow)
	require.ErrorIs(t, err, domain.ErrMismatchedBinding)
}

func TestEscrowMirrorMismatchRejected(t *testing.T) {
	f := newFixture(t)
	tr := f.advance(t, domain.StateInvoice)

	short := f.escrowBody()
	short.Amount = "90000000"
	_, err := Apply(tr, f.sign(t, f.serviceKey, domain.KindSolEscrowCreated, short), testNow)
	require.ErrorIs(t, err, domain.ErrMismatchedBinding)

	wrongHash := f.escrowBody()
	wrongHash.PaymentHashHex = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	_, err = Apply(tr, f.sign(t, f.serviceKey, domain.KindSolEscrowCreated, wrongHash), testNow)
	require.ErrorIs(t, err, domain.ErrMismatchedBinding)
}

func TestPreimageMustHashToPaymentHash(t *testing.T) {
	f := newFixture(t)
	tr := f.advance(t, domain.StateEscrow)

	var wrong [32]byte
	wrong[0] = 0xff
	env := f.sign(t, f.clientKey, domain.KindLNPaid, domain.LNPaidBody{
		PaymentHashHex: f.payHash,
		PreimageHex:    hex.EncodeToString(wrong[:]),
	})
	_, err := Apply(tr, env, testNow)
	require.ErrorIs(t, err, domain.ErrMismatchedBinding)
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	f := newFixture(t)
	for _, state := range []domain.TradeState{
		domain.StateTerms, domain.StateAccepted, domain.StateInvoice, domain.StateEscrow,
	} {
		tr := f.advance(t, state)
		next, err := Apply(tr, f.sign(t, f.clientKey, domain.KindCancel, domain.CancelBody{Reason: "test"}), testNow)
		require.NoError(t, err)
		require.Equal(t, domain.StateCancelled, next.State)
	}
}

func TestTerminalStatesAreSticky(t *testing.T) {
	f := newFixture(t)
	tr := f.advance(t, domain.StateClaimed)
	_, err := Apply(tr, f.sign(t, f.clientKey, domain.KindCancel, domain.CancelBody{Reason: "late"}), testNow)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestStateMonotonicity(t *testing.T) {
	f := newFixture(t)
	tr := New("t1")
	prev := tr.State
	for _, to := range []domain.TradeState{
		domain.StateTerms, domain.StateAccepted, domain.StateInvoice,
		domain.StateEscrow, domain.StateLNPaid, domain.StateClaimed,
	} {
		tr = f.advance(t, to)
		require.True(t, tr.State.After(prev), "state %s went backwards from %s", tr.State, prev)
		prev = tr.State
	}
}

func TestObserveRefund(t *testing.T) {
	f := newFixture(t)

	tr := f.advance(t, domain.StateEscrow)
	next, err := ObserveRefund(tr)
	require.NoError(t, err)
	require.Equal(t, domain.StateRefunded, next.State)

	// Before ESCROW nothing can be refunded.
	early := f.advance(t, domain.StateAccepted)
	_, err = ObserveRefund(early)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}
