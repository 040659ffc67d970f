// Package benchmark fetches daily reference series the results are
// compared against: BTC spot and the S&P 500 index.
package benchmark

import (
	"context"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"go.uber.org/zap"

	"github.com/driftlab/drift-trading/internal/analytics"
	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// SP500Ticker is the Polygon ticker for the S&P 500 index.
const SP500Ticker = "I:SPX"

// Source provides one benchmark's daily closing series over a date range.
type Source interface {
	DailySeries(ctx context.Context, start time.Time, end time.Time) ([]analytics.BenchmarkPoint, error)
}

// klinesFetcher is the slice of the Binance API the BTC source needs.
type klinesFetcher interface {
	Klines(ctx context.Context, symbol string, interval string, startMillis int64, endMillis int64) ([]*binance.Kline, error)
}

type realKlinesFetcher struct {
	client *binance.Client
}

func (r *realKlinesFetcher) Klines(ctx context.Context, symbol string, interval string, startMillis int64, endMillis int64) ([]*binance.Kline, error) {
	return r.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(startMillis).
		EndTime(endMillis).
		Do(ctx)
}

// BTCSource reads daily BTC closes from the Binance klines endpoint.
// Kline data is public; no credentials are required.
type BTCSource struct {
	fetcher klinesFetcher
	symbol  string
	logger  *logger.Logger
}

// NewBTCSource creates a BTC benchmark source for the given quote symbol,
// typically BTCUSDT.
func NewBTCSource(symbol string, logger *logger.Logger) *BTCSource {
	return &BTCSource{
		fetcher: &realKlinesFetcher{client: binance.NewClient("", "")},
		symbol:  symbol,
		logger:  logger,
	}
}

// DailySeries implements Source with paginated kline fetches. Binance caps
// each response at 500 klines.
func (s *BTCSource) DailySeries(ctx context.Context, start time.Time, end time.Time) ([]analytics.BenchmarkPoint, error) {
	const pageSize = 500

	var points []analytics.BenchmarkPoint

	currentStart := start.UnixMilli()
	endMillis := end.UnixMilli()

	for {
		klines, err := s.fetcher.Klines(ctx, s.symbol, "1d", currentStart, endMillis)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeBenchmarkFetchFailed, err, "failed to fetch %s klines", s.symbol)
		}

		for _, kline := range klines {
			closePrice, err := strconv.ParseFloat(kline.Close, 64)
			if err != nil {
				return nil, errors.Wrapf(errors.ErrCodeBenchmarkParseFailed, err, "invalid close price %q", kline.Close)
			}

			points = append(points, analytics.BenchmarkPoint{
				Time:  time.UnixMilli(kline.OpenTime),
				Value: closePrice,
			})
		}

		if len(klines) < pageSize {
			break
		}

		currentStart = klines[len(klines)-1].CloseTime + 1
		if currentStart >= endMillis {
			break
		}
	}

	s.logger.Debug("Fetched BTC benchmark series",
		zap.String("symbol", s.symbol),
		zap.Int("points", len(points)),
	)

	return points, nil
}

// SP500Source reads daily S&P 500 closes from Polygon aggregates.
type SP500Source struct {
	client *polygon.Client
	ticker string
	logger *logger.Logger
}

// NewSP500Source creates an S&P 500 benchmark source. The API key is
// required; without one the benchmark is simply omitted from results.
func NewSP500Source(apiKey string, logger *logger.Logger) (*SP500Source, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidCredentials, "polygon api key is required")
	}

	return &SP500Source{
		client: polygon.New(apiKey),
		ticker: SP500Ticker,
		logger: logger,
	}, nil
}

// DailySeries implements Source.
func (s *SP500Source) DailySeries(ctx context.Context, start time.Time, end time.Time) ([]analytics.BenchmarkPoint, error) {
	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     s.ticker,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(start),
		To:         models.Millis(end),
	}.WithLimit(50000)

	iter := s.client.ListAggs(ctx, params)

	var points []analytics.BenchmarkPoint

	for iter.Next() {
		agg := iter.Item()
		points = append(points, analytics.BenchmarkPoint{
			Time:  time.Time(agg.Timestamp),
			Value: agg.Close,
		})
	}

	if iter.Err() != nil {
		return nil, errors.Wrapf(errors.ErrCodeBenchmarkFetchFailed, iter.Err(), "failed to fetch %s aggregates", s.ticker)
	}

	s.logger.Debug("Fetched S&P 500 benchmark series",
		zap.String("ticker", s.ticker),
		zap.Int("points", len(points)),
	)

	return points, nil
}

var (
	_ Source = (*BTCSource)(nil)
	_ Source = (*SP500Source)(nil)
)
