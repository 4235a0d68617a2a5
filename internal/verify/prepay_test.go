package verify

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/escrow"
)

const testNow int64 = 1_700_000_000

// world funds a simulated escrow that exactly satisfies the terms and
// returns the matching bodies.
type world struct {
	chain   *escrow.SimChain
	ledger  *escrow.Ledger
	program *escrow.Program
	params  Params
	clock   int64
}

func newWorld(t *testing.T, escrowAmount uint64) *world {
	t.Helper()

	w := &world{clock: testNow}
	ledger := escrow.NewLedger()
	programID := randKey(t)
	program, err := escrow.NewProgram(escrow.ProgramConfig{
		ProgramID: programID,
		Clock:     func() int64 { return w.clock },
	}, ledger)
	require.NoError(t, err)

	mint := randKey(t)
	service := randKey(t)
	client := randKey(t)

	serviceATA := "ata-service"
	require.NoError(t, ledger.CreateAccount(serviceATA, mint, service))
	require.NoError(t, ledger.Mint(serviceATA, 1_000_000_000))

	var preimage [32]byte
	_, err = rand.Read(preimage[:])
	require.NoError(t, err)
	payHash := sha256.Sum256(preimage[:])

	recipient, err := escrow.DecodeKey(client)
	require.NoError(t, err)
	refund, err := escrow.DecodeKey(service)
	require.NoError(t, err)

	refundAfter := testNow + 3600
	pda, vault, err := program.Create(service, serviceATA, mint, escrow.InitArgs{
		PaymentHash: payHash,
		Recipient:   recipient,
		Refund:      refund,
		RefundAfter: refundAfter,
		Amount:      escrowAmount,
	})
	require.NoError(t, err)

	terms := domain.TermsBody{
		Pair:                domain.PairBTCLNUSDTSOL,
		Direction:           domain.DirectionBTCToUSDT,
		BTCSats:             50_000,
		USDTAmount:          "100000000",
		USDTDecimals:        6,
		SolMint:             mint,
		SolRecipient:        client,
		SolRefund:           service,
		SolRefundAfterUnix:  refundAfter,
		TermsValidUntilUnix: testNow + 600,
	}
	payHashHex := hex.EncodeToString(payHash[:])
	w.chain = escrow.NewSimChain(program, ledger)
	w.ledger = ledger
	w.program = program
	w.params = Params{
		Terms: terms,
		Invoice: domain.LNInvoiceBody{
			Bolt11:         "lnbc50000n1fake",
			PaymentHashHex: payHashHex,
			AmountMsat:     "50000000",
		},
		Escrow: domain.SolEscrowCreatedBody{
			PaymentHashHex:  payHashHex,
			ProgramID:       programID,
			EscrowPDA:       pda,
			VaultATA:        vault,
			Mint:            mint,
			Amount:          "100000000",
			RefundAfterUnix: refundAfter,
			Recipient:       client,
			Refund:          service,
			TxSig:           "sig",
		},
	}
	return w
}

func randKey(t *testing.T) string {
	t.Helper()
	var raw [32]byte
	_, err := rand.Read(raw[:])
	require.NoError(t, err)
	return escrow.EncodeKey(raw)
}

func TestPrePayAllChecksPass(t *testing.T) {
	w := newWorld(t, 100_000_000)
	require.NoError(t, PrePay(context.Background(), w.chain, w.params, testNow))
}

func TestPrePayHashMismatch(t *testing.T) {
	w := newWorld(t, 100_000_000)
	w.params.Invoice.PaymentHashHex = otherHash(w.params.Invoice.PaymentHashHex)
	err := PrePay(context.Background(), w.chain, w.params, testNow)
	require.ErrorIs(t, err, domain.ErrPayHashMismatch)
}

func TestPrePayWrongPDA(t *testing.T) {
	w := newWorld(t, 100_000_000)
	w.params.Escrow.EscrowPDA = randKey(t)
	err := PrePay(context.Background(), w.chain, w.params, testNow)
	require.ErrorIs(t, err, domain.ErrMismatchedBinding)
}

func TestPrePayEscrowMissing(t *testing.T) {
	w := newWorld(t, 100_000_000)
	// Point at a different program: the derivation changes and that PDA
	// does not exist on chain.
	otherProgram := randKey(t)
	w.params.Escrow.ProgramID = otherProgram
	pda, _, err := escrow.DerivePDA(otherProgram, mustHash(t, w.params.Invoice.PaymentHashHex))
	require.NoError(t, err)
	w.params.Escrow.EscrowPDA = pda
	err = PrePay(context.Background(), w.chain, w.params, testNow)
	require.ErrorIs(t, err, domain.ErrEscrowMissing)
}

// Scenario: terms say 100 USDT but the escrow was funded with 90.
func TestPrePayUnderfundedEscrow(t *testing.T) {
	w := newWorld(t, 90_000_000)
	err := PrePay(context.Background(), w.chain, w.params, testNow)
	require.ErrorIs(t, err, domain.ErrEscrowAmountMismatch)
}

func TestPrePayTimeTooTight(t *testing.T) {
	w := newWorld(t, 100_000_000)
	// 3600s window minus a margin larger than the window.
	w.params.SafetyMarginSec = 7200
	err := PrePay(context.Background(), w.chain, w.params, testNow)
	require.ErrorIs(t, err, domain.ErrEscrowTimeTooTight)
}

func TestPrePayInvoiceAmountMismatch(t *testing.T) {
	w := newWorld(t, 100_000_000)
	w.params.Invoice.AmountMsat = "49999000"
	err := PrePay(context.Background(), w.chain, w.params, testNow)
	require.ErrorIs(t, err, domain.ErrMismatchedBinding)
}

// A refunded escrow is no longer FUNDED and must refuse payment.
func TestPrePayRefundedEscrowNotFunded(t *testing.T) {
	w := newWorld(t, 100_000_000)

	refundATA := "ata-refund"
	require.NoError(t, w.ledger.CreateAccount(refundATA, w.params.Terms.SolMint, w.params.Terms.SolRefund))
	w.clock = w.params.Terms.SolRefundAfterUnix + 1
	require.NoError(t, w.program.Refund(w.params.Terms.SolRefund, w.params.Escrow.EscrowPDA, refundATA))

	err := PrePay(context.Background(), w.chain, w.params, testNow)
	require.ErrorIs(t, err, domain.ErrEscrowNotFunded)
}

func otherHash(h string) string {
	if h[0] == 'a' {
		return "b" + h[1:]
	}
	return "a" + h[1:]
}

func mustHash(t *testing.T, hexStr string) [32]byte {
	t.Helper()
	raw, err := hex.DecodeString(hexStr)
	require.NoError(t, err)
	var out [32]byte
	copy(out[:], raw)
	return out
}
