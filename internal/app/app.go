// Package app wires configuration into concrete dependencies and drives
// the selected run mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/intercomswap/swapd/internal/config"
	"github.com/intercomswap/swapd/internal/server"
	"github.com/intercomswap/swapd/internal/service"
)

// App is the running coordinator process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	deps    *Dependencies
	cleanup func()
}

// Options carry run-mode parameters not part of the durable config.
type Options struct {
	// SwapBTCSats / SwapUSDTAmount start one swap at boot in client mode.
	SwapBTCSats    uint64
	SwapUSDTAmount string
}

// New creates the application shell; dependencies are wired in Run so
// failures surface with the right exit code.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Close releases wired resources.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
	}
}

// Run executes the configured mode until ctx ends.
func (a *App) Run(ctx context.Context, opts Options) error {
	mode := strings.ToLower(a.cfg.Mode)
	if mode == "simnet" {
		return a.runSimnet(ctx, opts)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.deps = deps
	a.cleanup = cleanup

	g, ctx := errgroup.WithContext(ctx)

	if deps.RelayBus != nil {
		g.Go(func() error { return deps.RelayBus.Run(ctx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiver(ctx) })
	}

	var starter server.SwapStarter

	switch mode {
	case "service":
		maker := service.NewMaker(service.MakerConfig{
			RendezvousChannel: a.cfg.Sidechannel.RendezvousChannel,
			MaxBTCSats:        uint64(a.cfg.Swap.MaxBTCSats),
			QuoteTTLSec:       a.cfg.Swap.QuoteTTLSec,
			InviteTTLSec:      a.cfg.Swap.InviteTTLSec,
			TermsTTLSec:       a.cfg.Swap.TermsTTLSec,
			RefundWindowSec:   a.cfg.Swap.RefundWindowSec,
			SolMint:           a.cfg.Solana.Mint,
			SolRefund:         deps.SolOwner,
			USDTDecimals:      uint8(a.cfg.Swap.USDTDecimals),
			LNNodePubkey:      a.cfg.Lightning.NodePubkey,
		}, deps.Runner, deps.Bus, deps.Lightning, deps.Escrow, deps.Escrow, a.logger)
		g.Go(func() error { return maker.Run(ctx) })

	case "client":
		taker := service.NewTaker(service.TakerConfig{
			RendezvousChannel: a.cfg.Sidechannel.RendezvousChannel,
			RendezvousWelcome: a.cfg.Sidechannel.RendezvousWelcome,
			RFQTTLSec:         a.cfg.Swap.RFQTTLSec,
			SafetyMarginSec:   a.cfg.Swap.SafetyMarginSec,
			SolRecipient:      deps.SolOwner,
			LNNodePubkey:      a.cfg.Lightning.NodePubkey,
		}, deps.Runner, deps.Bus, deps.Lightning, deps.Chain, deps.Escrow, a.logger)
		g.Go(func() error { return taker.Run(ctx) })
		starter = swapStarter{taker: taker}

		if opts.SwapBTCSats > 0 {
			g.Go(func() error {
				// Let the subscription settle before posting the RFQ.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
				}
				tradeID, done, err := taker.StartSwap(ctx, service.SwapRequest{
					BTCSats:    opts.SwapBTCSats,
					USDTAmount: opts.SwapUSDTAmount,
				})
				if err != nil {
					return fmt.Errorf("app: start swap: %w", err)
				}
				a.logger.Info("swap started", slog.String("trade_id", tradeID))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case state := <-done:
					a.logger.Info("swap finished",
						slog.String("trade_id", tradeID),
						slog.String("state", string(state)),
					)
					return nil
				}
			})
		}

	default:
		return fmt.Errorf("app: unknown mode %q", mode)
	}

	if a.cfg.Server.Enabled {
		srv := server.New(server.Config{
			Port:            a.cfg.Server.Port,
			BridgeToken:     a.cfg.Server.BridgeToken,
			StripUnitSuffix: a.cfg.Swap.StripUnitSuffix,
		}, deps.Trades, deps.Receipts, starter, deps.Registry, a.logger)
		g.Go(func() error { return srv.Run(ctx) })
	}

	return g.Wait()
}

// swapStarter adapts the taker to the control server's offer endpoint.
type swapStarter struct {
	taker *service.Taker
}

// StartSwap posts the RFQ and returns the trade id; settlement proceeds
// asynchronously in the taker.
func (s swapStarter) StartSwap(ctx context.Context, btcSats uint64, usdtAmount string) (string, error) {
	tradeID, _, err := s.taker.StartSwap(ctx, service.SwapRequest{
		BTCSats:    btcSats,
		USDTAmount: usdtAmount,
	})
	return tradeID, err
}

// runArchiver exports and prunes receipts past the retention window once a
// day.
func (a *App) runArchiver(ctx context.Context) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -a.cfg.S3.RetentionDays)
			n, err := a.deps.Archiver.ArchiveReceipts(ctx, cutoff)
			if err != nil {
				a.logger.Error("receipt archival failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.Info("receipts archived", slog.Int64("count", n))
			}
		}
	}
}
