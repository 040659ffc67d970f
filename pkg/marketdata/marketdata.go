// Package marketdata downloads historical price bars from an exchange or
// data vendor and writes them to archive files the backtest feed can read.
package marketdata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// ProviderType selects the upstream data source.
type ProviderType string

const (
	ProviderBinance ProviderType = "binance"
	ProviderPolygon ProviderType = "polygon"
)

// OnProgress reports download progress. Written is the number of bars
// persisted so far.
type OnProgress func(written int, message string)

// Provider fetches bars for one symbol and range and streams them into
// the writer.
type Provider interface {
	Download(ctx context.Context, symbol string, start time.Time, end time.Time, w Writer, onProgress OnProgress) (int, error)
}

// Writer persists downloaded bars. Finalize commits and returns the path
// of the produced archive.
type Writer interface {
	Initialize() error
	Write(bar types.PriceBar) error
	Finalize() (string, error)
	Close() error
}

// ClientConfig holds the download client configuration.
type ClientConfig struct {
	ProviderType  ProviderType   `validate:"required,oneof=binance polygon"`
	DataPath      string         `validate:"required"`
	Interval      types.Interval `validate:"required"`
	PolygonAPIKey string         `validate:"required_if=ProviderType polygon"`
}

// Client downloads market data from a provider into archive files.
type Client struct {
	provider Provider
	config   ClientConfig
	validate *validator.Validate
}

// NewClient creates a download client for the configured provider.
func NewClient(config ClientConfig) (*Client, error) {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid client configuration", err)
	}

	var provider Provider

	switch config.ProviderType {
	case ProviderBinance:
		provider = NewBinanceProvider(config.Interval)
	case ProviderPolygon:
		var err error

		provider, err = NewPolygonProvider(config.PolygonAPIKey, config.Interval)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported provider type: %s", config.ProviderType)
	}

	return &Client{
		provider: provider,
		config:   config,
		validate: validate,
	}, nil
}

// Download fetches bars for the symbol and range and writes one archive
// file named SYMBOL_START_END_INTERVAL.parquet under the data path.
func (c *Client) Download(ctx context.Context, symbol string, start time.Time, end time.Time, onProgress OnProgress) (string, error) {
	if symbol == "" {
		return "", errors.New(errors.ErrCodeInvalidParameter, "symbol is required")
	}

	if !end.After(start) {
		return "", errors.Newf(errors.ErrCodeInvalidRange, "start %s is not before end %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	if err := os.MkdirAll(c.config.DataPath, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidParameter, "failed to create data directory", err)
	}

	fileName := fmt.Sprintf("%s_%s_%s_%s.parquet",
		strings.ToLower(symbol),
		start.Format("2006-01-02"),
		end.Format("2006-01-02"),
		c.config.Interval)
	outputPath := filepath.Join(c.config.DataPath, fileName)

	archiveWriter := NewDuckDBWriter(outputPath)
	if err := archiveWriter.Initialize(); err != nil {
		return "", err
	}

	defer archiveWriter.Close()

	if _, err := c.provider.Download(ctx, symbol, start, end, archiveWriter, onProgress); err != nil {
		return "", err
	}

	return archiveWriter.Finalize()
}
