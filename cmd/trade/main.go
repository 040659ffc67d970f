package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/driftlab/drift-trading/internal/config"
	"github.com/driftlab/drift-trading/internal/engine"
	"github.com/driftlab/drift-trading/internal/engine/engine_v1"
	"github.com/driftlab/drift-trading/internal/executor"
	"github.com/driftlab/drift-trading/internal/feed"
	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/strategy"
	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/internal/version"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// tradeAction runs the mean reversion policy against the live kline
// stream, routing orders to the real exchange or its sandbox depending on
// the configured mode.
func tradeAction(ctx context.Context, cmd *cli.Command) error {
	appLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	if mode := cmd.String("mode"); mode != "" {
		cfg.Mode = config.Mode(mode)
	}

	if symbol := cmd.String("symbol"); symbol != "" {
		cfg.Symbol = symbol
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	credentials := cfg.ExchangeCredentials()

	eng, err := engine_v1.NewEngineV1(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()

	interval := types.Interval(cmd.String("interval"))

	if err := eng.SetFeed(feed.NewBinanceFeed(cfg.Symbol, interval, appLogger)); err != nil {
		return err
	}

	if err := eng.SetPolicy(strategy.NewMeanReversionPolicy(strategy.DefaultMeanReversionConfig(), appLogger)); err != nil {
		return err
	}

	// Sandbox runs fill on paper unless the exchange testnet is asked for.
	var execAdapter executor.ExecutionAdapter

	switch {
	case cfg.Mode == config.ModeSandbox && !cmd.Bool("testnet"):
		execAdapter = executor.NewPaperExecutor(cfg.SlippageRate, 0)
	case cfg.Mode == config.ModeSandbox:
		if credentials.IsZero() {
			return errors.New(errors.ErrCodeInvalidCredentials, "testnet routing requires sandbox credentials")
		}

		execAdapter = executor.NewBinanceExecutor(credentials, true, appLogger)
	default:
		execAdapter = executor.NewBinanceExecutor(credentials, false, appLogger)
	}

	if err := eng.SetExecutor(execAdapter); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("Interrupt received, stopping at the next bar boundary")
		eng.Stop()
	}()

	appLogger.Info("Live trading started",
		zap.String("mode", string(cfg.Mode)),
		zap.String("symbol", cfg.Symbol),
		zap.String("interval", string(interval)),
	)

	if err := eng.Run(ctx, engine.Callbacks{OnBarProcessed: nil}); err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if output := cmd.String("output"); output != "" {
		if err := os.MkdirAll(output, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		if err := eng.WriteResults(output); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "trade",
		Usage:   "Trade live against the exchange or its sandbox",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "mode",
				Aliases:  []string{"m"},
				Usage:    "Trading mode: live or sandbox. Overrides TRADING_MODE.",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "symbol",
				Usage:    "Trading pair symbol. Overrides SYMBOL.",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "interval",
				Aliases:  []string{"i"},
				Usage:    "Candlestick interval",
				Value:    "1m",
				Required: false,
			},
			&cli.BoolFlag{
				Name:     "testnet",
				Usage:    "Route sandbox orders to the exchange testnet instead of paper fills",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Directory for result files written on stop",
				Required: false,
			},
		},
		Action: tradeAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
