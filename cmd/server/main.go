package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/moznion/go-optional"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/driftlab/drift-trading/internal/api"
	"github.com/driftlab/drift-trading/internal/benchmark"
	"github.com/driftlab/drift-trading/internal/config"
	"github.com/driftlab/drift-trading/internal/engine"
	"github.com/driftlab/drift-trading/internal/engine/engine_v1"
	"github.com/driftlab/drift-trading/internal/executor"
	"github.com/driftlab/drift-trading/internal/feed"
	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/strategy"
	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/internal/version"
)

// newBacktestFactory builds the factory behind /backtesting-results. Each
// request gets a fresh engine over the symbol's archive file; benchmarks
// are wired in when a Polygon API key is available.
func newBacktestFactory(dataDir string, polygonKey string, appLogger *logger.Logger) api.BacktestFactory {
	return func(ctx context.Context, symbol string, start optional.Option[time.Time], end optional.Option[time.Time]) (engine.TradingEngine, error) {
		// Request dates win; otherwise START_DATE/END_DATE from the
		// environment apply.
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, err
		}

		cfg.Mode = config.ModeBacktest
		cfg.Symbol = symbol

		if start.IsSome() {
			cfg.StartDate = start
		}

		if end.IsSome() {
			cfg.EndDate = end
		}

		eng, err := engine_v1.NewEngineV1(cfg, appLogger)
		if err != nil {
			return nil, err
		}

		archive, err := feed.NewArchiveFeed(archivePath(dataDir, symbol), cfg.StartDate, cfg.EndDate, appLogger)
		if err != nil {
			eng.Close()

			return nil, err
		}

		if err := eng.SetFeed(archive); err != nil {
			eng.Close()

			return nil, err
		}

		if err := eng.SetPolicy(strategy.NewMeanReversionPolicy(strategy.DefaultMeanReversionConfig(), appLogger)); err != nil {
			eng.Close()

			return nil, err
		}

		if err := eng.SetExecutor(executor.NewBacktestExecutor(cfg.SlippageRate)); err != nil {
			eng.Close()

			return nil, err
		}

		btc := benchmark.NewBTCSource("BTCUSDT", appLogger)

		if polygonKey != "" {
			sp500, err := benchmark.NewSP500Source(polygonKey, appLogger)
			if err != nil {
				eng.Close()

				return nil, err
			}

			eng.SetBenchmarks(btc, sp500)
		} else {
			eng.SetBenchmarks(btc, nil)
		}

		if err := eng.Run(ctx, engine.Callbacks{OnBarProcessed: nil}); err != nil {
			eng.Close()

			return nil, err
		}

		return eng, nil
	}
}

func archivePath(dataDir string, symbol string) string {
	return filepath.Join(dataDir, strings.ToLower(symbol)+".parquet")
}

// newLiveEngine wires one live-stream engine: Binance klines in, the mean
// reversion policy, and the given execution adapter.
func newLiveEngine(cfg config.RunConfiguration, execAdapter executor.ExecutionAdapter, interval types.Interval, appLogger *logger.Logger) (engine.TradingEngine, error) {
	eng, err := engine_v1.NewEngineV1(cfg, appLogger)
	if err != nil {
		return nil, err
	}

	if err := eng.SetFeed(feed.NewBinanceFeed(cfg.Symbol, interval, appLogger)); err != nil {
		eng.Close()

		return nil, err
	}

	if err := eng.SetPolicy(strategy.NewMeanReversionPolicy(strategy.DefaultMeanReversionConfig(), appLogger)); err != nil {
		eng.Close()

		return nil, err
	}

	if err := eng.SetExecutor(execAdapter); err != nil {
		eng.Close()

		return nil, err
	}

	return eng, nil
}

// startLiveEngines starts the runs behind /live-trading-results: a paper
// "virtual" run always, and an "actual" run against the exchange when live
// credentials are configured. Returned engines are stopped and closed by
// the caller on shutdown.
func startLiveEngines(ctx context.Context, server *api.Server, interval types.Interval, appLogger *logger.Logger) ([]engine.TradingEngine, error) {
	baseCfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	engines := make([]engine.TradingEngine, 0, 2)

	virtualCfg := baseCfg
	virtualCfg.Mode = config.ModeSandbox

	virtual, err := newLiveEngine(virtualCfg, executor.NewPaperExecutor(virtualCfg.SlippageRate, 0), interval, appLogger)
	if err != nil {
		return nil, err
	}

	server.RegisterLiveEngine("virtual", virtual)
	engines = append(engines, virtual)

	if !baseCfg.LiveCredentials.IsZero() {
		actualCfg := baseCfg
		actualCfg.Mode = config.ModeLive

		actual, err := newLiveEngine(actualCfg, executor.NewBinanceExecutor(actualCfg.LiveCredentials, false, appLogger), interval, appLogger)
		if err != nil {
			virtual.Close()

			return nil, err
		}

		server.RegisterLiveEngine("actual", actual)
		engines = append(engines, actual)
	} else {
		appLogger.Info("No live credentials configured, actual run not started")
	}

	for _, eng := range engines {
		go func(eng engine.TradingEngine) {
			if err := eng.Run(ctx, engine.Callbacks{OnBarProcessed: nil}); err != nil {
				appLogger.Error("Live run ended", zap.Error(err))
			}
		}(eng)
	}

	return engines, nil
}

func serverAction(ctx context.Context, cmd *cli.Command) error {
	level := zapcore.InfoLevel
	if cmd.Bool("verbose") {
		level = zapcore.DebugLevel
	}

	appLogger, err := logger.NewLoggerWithLevel(level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	symbols := strings.Split(cmd.String("symbols"), ",")
	for i := range symbols {
		symbols[i] = strings.TrimSpace(symbols[i])
	}

	factory := newBacktestFactory(cmd.String("data"), os.Getenv("POLYGON_API_KEY"), appLogger)
	server := api.NewServer(cmd.String("addr"), symbols, factory, appLogger)

	liveEngines, err := startLiveEngines(ctx, server, types.Interval(cmd.String("interval")), appLogger)
	if err != nil {
		return err
	}

	defer func() {
		for _, eng := range liveEngines {
			eng.Close()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("Interrupt received, shutting down")

		for _, eng := range liveEngines {
			eng.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Shutdown failed", zap.Error(err))
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "server",
		Usage:   "Serve backtest and live trading results over HTTP",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "addr",
				Aliases:  []string{"a"},
				Usage:    "Listen address",
				Value:    ":8080",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Directory holding per-symbol price archives",
				Value:    "data",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "symbols",
				Usage:    "Comma-separated list of symbols to serve",
				Value:    "BTCUSDT,ETHUSDT,SOLUSDT",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "interval",
				Aliases:  []string{"i"},
				Usage:    "Candlestick interval for the live runs",
				Value:    "1m",
				Required: false,
			},
			&cli.BoolFlag{
				Name:     "verbose",
				Aliases:  []string{"v"},
				Usage:    "Log at debug level",
				Required: false,
			},
		},
		Action: serverAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
