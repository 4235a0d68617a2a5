package service_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cacheredis "github.com/intercomswap/swapd/internal/cache/redis"
	"github.com/intercomswap/swapd/internal/crypto"
	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/escrow"
	"github.com/intercomswap/swapd/internal/lightning"
	"github.com/intercomswap/swapd/internal/notify"
	"github.com/intercomswap/swapd/internal/service"
	"github.com/intercomswap/swapd/internal/sidechannel"
	"github.com/intercomswap/swapd/internal/store/memory"
)

const rendezvous = "0000intercomswapbtcusdt"

type e2eWorld struct {
	ledger  *escrow.Ledger
	program *escrow.Program
	chain   *escrow.SimChain
	lnNet   *lightning.FakeNetwork

	mint   string
	svc    *e2ePeer
	cli    *e2ePeer
	svcATA string
	cliATA string

	maker *service.Maker
	taker *service.Taker
}

type e2ePeer struct {
	keys    *crypto.Keypair
	bus     *sidechannel.MemoryBus
	runner  *service.Runner
	solAddr string
	lnNode  string
}

func newPeer(t *testing.T, broker *sidechannel.Broker, logger *slog.Logger) *e2ePeer {
	t.Helper()
	keys, err := crypto.Generate()
	require.NoError(t, err)
	bus := sidechannel.NewMemoryBus(broker, keys.PubkeyHex(), func() int64 { return time.Now().Unix() })
	runner := service.NewRunner(service.RunnerConfig{
		Keys:     keys,
		Bus:      bus,
		Receipts: memory.NewReceiptStore(),
		Trades:   memory.NewTradeStore(),
		Locks:    cacheredis.NewMemLockManager(),
		Notifier: notify.NewNotifier(nil, nil, logger),
		Metrics:  service.NewMetrics(nil),
		Logger:   logger,
	})
	var solKey [32]byte
	copy(solKey[:], keys.Public())
	return &e2ePeer{
		keys:    keys,
		bus:     bus,
		runner:  runner,
		solAddr: escrow.EncodeKey(solKey),
		lnNode:  "02" + keys.PubkeyHex(),
	}
}

// newE2EWorld stands up two peers sharing an in-memory sidechannel, a
// simulated chain, and a fake Lightning network. The creator argument
// lets a test substitute a dishonest escrow creator.
func newE2EWorld(t *testing.T, creator func(*e2eWorld) service.EscrowCreator) *e2eWorld {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := &e2eWorld{
		ledger: escrow.NewLedger(),
		lnNet:  lightning.NewFakeNetwork(),
	}
	programKeys, err := crypto.Generate()
	require.NoError(t, err)
	mintKeys, err := crypto.Generate()
	require.NoError(t, err)
	var raw [32]byte
	copy(raw[:], programKeys.Public())
	programID := escrow.EncodeKey(raw)
	copy(raw[:], mintKeys.Public())
	w.mint = escrow.EncodeKey(raw)

	w.program, err = escrow.NewProgram(escrow.ProgramConfig{
		ProgramID: programID,
		Clock:     func() int64 { return time.Now().Unix() },
	}, w.ledger)
	require.NoError(t, err)
	w.chain = escrow.NewSimChain(w.program, w.ledger)

	broker := sidechannel.NewBroker()
	w.svc = newPeer(t, broker, logger)
	w.cli = newPeer(t, broker, logger)

	w.svcATA = "ata-svc"
	w.cliATA = "ata-cli"
	require.NoError(t, w.ledger.CreateAccount(w.svcATA, w.mint, w.svc.solAddr))
	require.NoError(t, w.ledger.CreateAccount(w.cliATA, w.mint, w.cli.solAddr))
	require.NoError(t, w.ledger.Mint(w.svcATA, 1_000_000_000))

	escrowCreator := service.EscrowCreator(service.NewSimEscrow(w.program, w.svc.solAddr, w.svcATA))
	if creator != nil {
		escrowCreator = creator(w)
	}

	w.maker = service.NewMaker(service.MakerConfig{
		RendezvousChannel: rendezvous,
		QuoteTTLSec:       120,
		InviteTTLSec:      3600,
		TermsTTLSec:       600,
		RefundWindowSec:   3600,
		SolMint:           w.mint,
		SolRefund:         w.svc.solAddr,
		USDTDecimals:      6,
		LNNodePubkey:      w.svc.lnNode,
	}, w.svc.runner, w.svc.bus, w.lnNet.Node("service"),
		escrowCreator,
		service.NewSimEscrow(w.program, w.svc.solAddr, w.svcATA),
		logger)

	w.taker = service.NewTaker(service.TakerConfig{
		RendezvousChannel: rendezvous,
		RFQTTLSec:         120,
		SafetyMarginSec:   600,
		SolRecipient:      w.cli.solAddr,
		LNNodePubkey:      w.cli.lnNode,
	}, w.cli.runner, w.cli.bus, w.lnNet.Node("client"), w.chain,
		service.NewSimEscrow(w.program, w.cli.solAddr, w.cliATA),
		logger)

	return w
}

func (w *e2eWorld) run(t *testing.T, ctx context.Context) {
	t.Helper()
	go func() { _ = w.maker.Run(ctx) }()
	go func() { _ = w.taker.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
}

// Scenario: the happy path. Both peers reach CLAIMED and the client's
// token balance grows by the full amount.
func TestSwapHappyPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w := newE2EWorld(t, nil)
	w.run(t, ctx)

	tradeID, done, err := w.taker.StartSwap(ctx, service.SwapRequest{
		BTCSats:    50_000,
		USDTAmount: "100000000",
	})
	require.NoError(t, err)

	select {
	case state := <-done:
		require.Equal(t, domain.StateClaimed, state)
	case <-ctx.Done():
		t.Fatal("swap did not finish")
	}

	cliTrade, ok := w.cli.runner.Trade(tradeID)
	require.True(t, ok)
	require.Equal(t, domain.StateClaimed, cliTrade.State)

	// The maker observes the client's LN_PAID and SOL_CLAIMED envelopes
	// asynchronously.
	require.Eventually(t, func() bool {
		svcTrade, ok := w.svc.runner.Trade(tradeID)
		return ok && svcTrade.State == domain.StateClaimed
	}, 5*time.Second, 20*time.Millisecond)

	balance, err := w.ledger.Balance(w.cliATA)
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000), balance)

	st, ok := w.program.StateOf(cliTrade.Escrow.EscrowPDA)
	require.True(t, ok)
	require.Equal(t, escrow.StatusClaimed, st.Status)
	require.Zero(t, st.NetAmount)

	require.True(t, w.lnNet.Settled(cliTrade.PaymentHash))
}

// shortingCreator funds the escrow with less than the terms demand while
// reporting the full amount in the envelope.
type shortingCreator struct {
	inner service.EscrowCreator
}

func (s shortingCreator) CreateEscrow(ctx context.Context, paymentHash [32]byte, terms domain.TermsBody) (domain.SolEscrowCreatedBody, error) {
	short := terms
	short.USDTAmount = "90000000"
	body, err := s.inner.CreateEscrow(ctx, paymentHash, short)
	if err != nil {
		return body, err
	}
	body.Amount = terms.USDTAmount
	return body, nil
}

// Scenario: the escrow is under-funded. The pre-pay verifier refuses, the
// client cancels, and no Lightning payment is ever attempted.
func TestSwapUnderfundedEscrowRefusesPayment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w := newE2EWorld(t, func(w *e2eWorld) service.EscrowCreator {
		return shortingCreator{inner: service.NewSimEscrow(w.program, w.svc.solAddr, w.svcATA)}
	})
	w.run(t, ctx)

	tradeID, done, err := w.taker.StartSwap(ctx, service.SwapRequest{
		BTCSats:    50_000,
		USDTAmount: "100000000",
	})
	require.NoError(t, err)

	select {
	case state := <-done:
		require.Equal(t, domain.StateCancelled, state)
	case <-ctx.Done():
		t.Fatal("swap did not finish")
	}

	cliTrade, ok := w.cli.runner.Trade(tradeID)
	require.True(t, ok)
	require.Equal(t, domain.StateCancelled, cliTrade.State)

	// No payment was broadcast: the invoice is unsettled and the client
	// balance is untouched.
	require.False(t, w.lnNet.Settled(cliTrade.PaymentHash))
	balance, err := w.ledger.Balance(w.cliATA)
	require.NoError(t, err)
	require.Zero(t, balance)
}
