package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// binancePageSize is the kline page limit; fewer rows means the last page.
const binancePageSize = 1000

type klinesFetcher interface {
	Klines(ctx context.Context, symbol string, interval string, startMillis int64, endMillis int64) ([]*binance.Kline, error)
}

type realKlinesFetcher struct {
	client *binance.Client
}

func (f *realKlinesFetcher) Klines(ctx context.Context, symbol string, interval string, startMillis int64, endMillis int64) ([]*binance.Kline, error) {
	return f.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(startMillis).
		EndTime(endMillis).
		Limit(binancePageSize).
		Do(ctx)
}

// BinanceProvider downloads klines from the public Binance API. No
// credentials are needed for historical data.
type BinanceProvider struct {
	fetcher  klinesFetcher
	interval types.Interval
}

// NewBinanceProvider creates a provider for the given candle interval.
func NewBinanceProvider(interval types.Interval) *BinanceProvider {
	return &BinanceProvider{
		fetcher:  &realKlinesFetcher{client: binance.NewClient("", "")},
		interval: interval,
	}
}

// Download implements Provider with close-time pagination: each page
// resumes one millisecond after the previous page's last close.
func (p *BinanceProvider) Download(ctx context.Context, symbol string, start time.Time, end time.Time, w Writer, onProgress OnProgress) (int, error) {
	endMillis := end.UnixMilli()
	currentStart := start.UnixMilli()
	written := 0

	for currentStart < endMillis {
		klines, err := p.fetcher.Klines(ctx, symbol, string(p.interval), currentStart, endMillis)
		if err != nil {
			return written, errors.Wrapf(errors.ErrCodeFeedUnavailable, err, "failed to fetch %s klines", symbol)
		}

		if len(klines) == 0 {
			break
		}

		for _, kline := range klines {
			bar, err := klineToBar(symbol, kline)
			if err != nil {
				return written, err
			}

			if err := w.Write(bar); err != nil {
				return written, err
			}

			written++
		}

		if onProgress != nil {
			onProgress(written, fmt.Sprintf("Downloading %s klines", symbol))
		}

		if len(klines) < binancePageSize {
			break
		}

		currentStart = klines[len(klines)-1].CloseTime + 1
	}

	return written, nil
}

func klineToBar(symbol string, kline *binance.Kline) (types.PriceBar, error) {
	fields := map[string]string{
		"open":   kline.Open,
		"high":   kline.High,
		"low":    kline.Low,
		"close":  kline.Close,
		"volume": kline.Volume,
	}

	parsed := make(map[string]float64, len(fields))

	for name, raw := range fields {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return types.PriceBar{}, errors.Wrapf(errors.ErrCodeFeedUnavailable, err, "malformed kline %s value %q", name, raw)
		}

		parsed[name] = value
	}

	return types.PriceBar{
		Symbol: symbol,
		Time:   time.UnixMilli(kline.OpenTime).UTC(),
		Open:   parsed["open"],
		High:   parsed["high"],
		Low:    parsed["low"],
		Close:  parsed["close"],
		Volume: parsed["volume"],
	}, nil
}

var _ Provider = (*BinanceProvider)(nil)
