package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/driftlab/drift-trading/internal/config"
	"github.com/driftlab/drift-trading/internal/engine"
	"github.com/driftlab/drift-trading/internal/engine/engine_v1"
	"github.com/driftlab/drift-trading/internal/executor"
	"github.com/driftlab/drift-trading/internal/feed"
	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/strategy"
	"github.com/driftlab/drift-trading/internal/version"
)

// backtestAction wires an archive feed, the mean reversion policy and the
// simulated executor into one engine run, then writes results to disk.
func backtestAction(ctx context.Context, cmd *cli.Command) error {
	dataPath := cmd.String("data")
	symbol := cmd.String("symbol")
	outputPath := cmd.String("output")
	capital := cmd.Float64("capital")

	appLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cfg := config.DefaultConfiguration()
	cfg.Mode = config.ModeBacktest
	cfg.Symbol = symbol
	cfg.InitialCapital = capital

	if start := cmd.Timestamp("start"); !start.IsZero() {
		cfg.StartDate = optional.Some(start)
	}

	if end := cmd.Timestamp("end"); !end.IsZero() {
		cfg.EndDate = optional.Some(end)
	}

	eng, err := engine_v1.NewEngineV1(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()

	archive, err := feed.NewArchiveFeed(dataPath, cfg.StartDate, cfg.EndDate, appLogger)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", dataPath, err)
	}

	count, err := archive.Count()
	if err != nil {
		return fmt.Errorf("failed to count bars: %w", err)
	}

	if err := eng.SetFeed(archive); err != nil {
		return err
	}

	if err := eng.SetPolicy(strategy.NewMeanReversionPolicy(strategy.DefaultMeanReversionConfig(), appLogger)); err != nil {
		return err
	}

	if err := eng.SetExecutor(executor.NewBacktestExecutor(cfg.SlippageRate)); err != nil {
		return err
	}

	eng.SetTotalBars(count)

	bar := progressbar.Default(int64(count))
	bar.Describe(fmt.Sprintf("Backtesting %s", symbol))

	onBar := engine.OnBarProcessedCallback(func(processed int, total int) error {
		return bar.Add(1)
	})

	if err := eng.Run(ctx, engine.Callbacks{OnBarProcessed: &onBar}); err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := eng.WriteResults(outputPath); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	history, err := eng.TradeHistory()
	if err != nil {
		return err
	}

	fmt.Printf("\nTrades: %d  Win rate: %.2f%%  Max drawdown: %.2f%%\n",
		history.Summary.TotalTrades, history.Summary.WinRate, history.Summary.MaxDrawdown)
	fmt.Printf("Results written to %s\n", outputPath)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "backtest",
		Usage:   "Run a backtest over archived price data",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Path to a Parquet or CSV price archive",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "symbol",
				Usage:   "Trading pair symbol",
				Value:   "BTCUSDT",
				Required: false,
			},
			&cli.TimestampFlag{
				Name:    "start",
				Aliases: []string{"s"},
				Usage:   "Start date in `YYYY-MM-DD` format",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
				Required: false,
			},
			&cli.TimestampFlag{
				Name:    "end",
				Aliases: []string{"e"},
				Usage:   "End date in `YYYY-MM-DD` format. Defaults to today.",
				Value:   time.Now(),
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
				Required: false,
			},
			&cli.Float64Flag{
				Name:     "capital",
				Usage:    "Initial capital in quote currency",
				Value:    100000,
				Required: false,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Directory for result files",
				Value:    "results",
				Required: false,
			},
		},
		Action: backtestAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
