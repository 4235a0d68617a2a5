// Command swapd is the swap coordinator peer. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and runs the
// configured mode. Exit codes: 0 on clean shutdown, 2 on bad arguments or
// configuration, 3 on a fatal runtime error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/intercomswap/swapd/internal/app"
	"github.com/intercomswap/swapd/internal/config"
	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/repair"
)

const (
	exitOK      = 0
	exitBadArgs = 2
	exitFatal   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("swapd", flag.ContinueOnError)
	configPath := fs.String("config", "swapd.toml", "path to configuration file")
	mode := fs.String("mode", "", "override configured mode (service, client, simnet)")
	swapSats := fs.Uint64("swap-sats", 0, "client mode: start a swap selling this many sats at boot")
	swapUSDT := fs.String("swap-usdt", "", "client mode: atomic USDT amount for the boot swap")
	bridgeToken := fs.String("bridge-token", "", "override the control server bridge token")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitBadArgs
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return exitBadArgs
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *bridgeToken != "" {
		cfg.Server.BridgeToken = *bridgeToken
	}
	if *swapSats > 0 {
		// Human-typed amounts ("100", "100.5") are repaired into atomic
		// form before validation.
		coerced := repair.Coerce(*swapUSDT, repair.USDTDecimals,
			repair.Options{StripUnitSuffix: cfg.Swap.StripUnitSuffix})
		if !domain.AtomicValid(coerced) {
			fmt.Fprintln(os.Stderr, "swapd: -swap-usdt must be a USDT amount when -swap-sats is set")
			return exitBadArgs
		}
		*swapUSDT = coerced
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return exitBadArgs
	}

	logger.Info("swapd starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx, app.Options{
		SwapBTCSats:    *swapSats,
		SwapUSDTAmount: *swapUSDT,
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("swapd stopped")
		return exitOK
	default:
		logger.Error("swapd exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitFatal
	}
}
