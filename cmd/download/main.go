package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/internal/version"
	"github.com/driftlab/drift-trading/pkg/marketdata"
)

// downloadAction fetches historical bars and writes a Parquet archive the
// backtest feed can replay.
func downloadAction(ctx context.Context, cmd *cli.Command) error {
	client, err := marketdata.NewClient(marketdata.ClientConfig{
		ProviderType:  marketdata.ProviderType(cmd.String("provider")),
		DataPath:      cmd.String("data"),
		Interval:      types.Interval(cmd.String("interval")),
		PolygonAPIKey: os.Getenv("POLYGON_API_KEY"),
	})
	if err != nil {
		return fmt.Errorf("failed to create market data client: %w", err)
	}

	symbol := cmd.String("symbol")
	start := cmd.Timestamp("start")
	end := cmd.Timestamp("end")

	bar := progressbar.Default(-1)
	bar.Describe(fmt.Sprintf("Downloading %s", symbol))

	onProgress := func(written int, message string) {
		bar.Describe(message)
		_ = bar.Set(written)
	}

	outputPath, err := client.Download(ctx, symbol, start, end, onProgress)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	fmt.Printf("\nArchive written to %s\n", outputPath)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "download",
		Usage:   "Download historical price bars into an archive file",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "symbol",
				Aliases:  []string{"t"},
				Usage:    "Trading pair or ticker symbol",
				Required: true,
			},
			&cli.TimestampFlag{
				Name:    "start",
				Aliases: []string{"s"},
				Usage:   "Start date in `YYYY-MM-DD` format",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
				Required: true,
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
			&cli.StringFlag{
				Name:     "provider",
				Aliases:  []string{"p"},
				Usage:    fmt.Sprintf("Data provider (%s, %s)", marketdata.ProviderBinance, marketdata.ProviderPolygon),
				Value:    string(marketdata.ProviderBinance),
				Required: false,
			},
			&cli.StringFlag{
				Name:     "interval",
				Aliases:  []string{"i"},
				Usage:    "Candle interval, e.g. 1m, 1h, 1d",
				Value:    "1d",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Directory for the archive file",
				Value:    "data",
				Required: false,
			},
		},
		Action: downloadAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
