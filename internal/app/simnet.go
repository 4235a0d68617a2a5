package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/intercomswap/swapd/internal/crypto"
	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/escrow"
	"github.com/intercomswap/swapd/internal/lightning"
	"github.com/intercomswap/swapd/internal/notify"
	"github.com/intercomswap/swapd/internal/service"
	"github.com/intercomswap/swapd/internal/sidechannel"
	"github.com/intercomswap/swapd/internal/store/memory"

	cacheredis "github.com/intercomswap/swapd/internal/cache/redis"
)

// runSimnet drives one complete swap between two in-process peers over an
// in-memory sidechannel, a simulated escrow program, and a fake Lightning
// network. It exercises the full protocol with no external services.
func (a *App) runSimnet(ctx context.Context, opts Options) error {
	logger := a.logger.With(slog.String("component", "simnet"))

	sats := opts.SwapBTCSats
	usdt := opts.SwapUSDTAmount
	if sats == 0 {
		sats = 50_000
		usdt = "100000000"
	}

	// Simulated chain.
	ledger := escrow.NewLedger()
	programKey, err := crypto.Generate()
	if err != nil {
		return err
	}
	mintKey, err := crypto.Generate()
	if err != nil {
		return err
	}
	programID := base58Of(programKey)
	mint := base58Of(mintKey)
	program, err := escrow.NewProgram(escrow.ProgramConfig{
		ProgramID: programID,
		Clock:     func() int64 { return time.Now().Unix() },
	}, ledger)
	if err != nil {
		return err
	}
	chain := escrow.NewSimChain(program, ledger)

	// Fake Lightning fabric.
	lnNet := lightning.NewFakeNetwork()

	// The two peers.
	broker := sidechannel.NewBroker()
	svc, err := newSimPeer(ctx, "service", broker, logger)
	if err != nil {
		return err
	}
	cli, err := newSimPeer(ctx, "client", broker, logger)
	if err != nil {
		return err
	}

	amount, err := domain.AtomicToUint64(usdt)
	if err != nil {
		return err
	}
	svcATA, cliATA := "sim-ata-"+svc.solAddr[:8], "sim-ata-"+cli.solAddr[:8]
	if err := ledger.CreateAccount(svcATA, mint, svc.solAddr); err != nil {
		return err
	}
	if err := ledger.CreateAccount(cliATA, mint, cli.solAddr); err != nil {
		return err
	}
	if err := ledger.Mint(svcATA, amount); err != nil {
		return err
	}

	rendezvous := a.cfg.Sidechannel.RendezvousChannel
	maker := service.NewMaker(service.MakerConfig{
		RendezvousChannel: rendezvous,
		QuoteTTLSec:       120,
		InviteTTLSec:      3600,
		TermsTTLSec:       600,
		RefundWindowSec:   3600,
		SolMint:           mint,
		SolRefund:         svc.solAddr,
		USDTDecimals:      6,
		LNNodePubkey:      svc.lnNodeID,
	}, svc.runner, svc.bus, lnNet.Node("service"),
		service.NewSimEscrow(program, svc.solAddr, svcATA),
		service.NewSimEscrow(program, svc.solAddr, svcATA),
		logger)

	taker := service.NewTaker(service.TakerConfig{
		RendezvousChannel: rendezvous,
		RFQTTLSec:         120,
		SafetyMarginSec:   600,
		SolRecipient:      cli.solAddr,
		LNNodePubkey:      cli.lnNodeID,
	}, cli.runner, cli.bus, lnNet.Node("client"), chain,
		service.NewSimEscrow(program, cli.solAddr, cliATA),
		logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return maker.Run(runCtx) })
	g.Go(func() error { return taker.Run(runCtx) })

	// Give both subscriptions a beat, then swap.
	time.Sleep(100 * time.Millisecond)
	tradeID, done, err := taker.StartSwap(runCtx, service.SwapRequest{BTCSats: sats, USDTAmount: usdt})
	if err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("simnet: start swap: %w", err)
	}
	logger.Info("simnet swap started", slog.String("trade_id", tradeID))

	select {
	case <-ctx.Done():
		cancel()
		_ = g.Wait()
		return ctx.Err()
	case state := <-done:
		balance, _ := ledger.Balance(cliATA)
		logger.Info("simnet swap finished",
			slog.String("trade_id", tradeID),
			slog.String("state", string(state)),
			slog.Uint64("client_usdt_balance", balance),
		)
		cancel()
		_ = g.Wait()
		if state != domain.StateClaimed {
			return fmt.Errorf("simnet: swap ended %s", state)
		}
		return nil
	case <-time.After(60 * time.Second):
		cancel()
		_ = g.Wait()
		return fmt.Errorf("simnet: swap timed out: %w", domain.ErrTimeout)
	}
}

type simPeer struct {
	keys     *crypto.Keypair
	bus      *sidechannel.MemoryBus
	runner   *service.Runner
	solAddr  string
	lnNodeID string
}

func newSimPeer(_ context.Context, name string, broker *sidechannel.Broker, logger *slog.Logger) (*simPeer, error) {
	keys, err := crypto.Generate()
	if err != nil {
		return nil, err
	}
	bus := sidechannel.NewMemoryBus(broker, keys.PubkeyHex(), func() int64 { return time.Now().Unix() })
	runner := service.NewRunner(service.RunnerConfig{
		Keys:     keys,
		Bus:      bus,
		Receipts: memory.NewReceiptStore(),
		Trades:   memory.NewTradeStore(),
		Locks:    cacheredis.NewMemLockManager(),
		Notifier: notify.NewNotifier(nil, nil, logger),
		Metrics:  service.NewMetrics(nil),
		Logger:   logger.With(slog.String("peer", name)),
	})
	return &simPeer{
		keys:    keys,
		bus:     bus,
		runner:  runner,
		solAddr: base58Of(keys),
		// Synthetic 33-byte compressed-point node id for the fake network.
		lnNodeID: "02" + hex.EncodeToString(keys.Public()),
	}, nil
}

func base58Of(k *crypto.Keypair) string {
	var key [32]byte
	copy(key[:], k.Public())
	return escrow.EncodeKey(key)
}
