package feed

import (
	"context"
	"iter"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// BinanceFeed streams closed klines from the Binance WebSocket API. Only
// final bars are yielded so the sequence stays strictly ordered by time.
type BinanceFeed struct {
	symbol   string
	interval types.Interval
	logger   *logger.Logger
}

// NewBinanceFeed creates a live feed for one symbol and interval. Market
// data streams are public, so no credentials are needed.
func NewBinanceFeed(symbol string, interval types.Interval, logger *logger.Logger) *BinanceFeed {
	return &BinanceFeed{
		symbol:   symbol,
		interval: interval,
		logger:   logger,
	}
}

// Bars implements PriceFeed. The iteration runs until the context is
// canceled or the WebSocket connection fails; a connection failure is
// yielded as the final element.
func (f *BinanceFeed) Bars(ctx context.Context) iter.Seq2[types.PriceBar, error] {
	return func(yield func(types.PriceBar, error) bool) {
		barCh := make(chan types.PriceBar, 16)
		errCh := make(chan error, 1)

		wsHandler := func(event *binance.WsKlineEvent) {
			if !event.Kline.IsFinal {
				return
			}

			bar, err := klineEventToBar(event)
			if err != nil {
				select {
				case errCh <- err:
				default:
				}

				return
			}

			select {
			case barCh <- bar:
			case <-ctx.Done():
			}
		}

		wsErrHandler := func(err error) {
			select {
			case errCh <- errors.Wrap(errors.ErrCodeFeedUnavailable, "binance kline stream error", err):
			default:
			}
		}

		doneC, stopC, err := binance.WsKlineServe(f.symbol, string(f.interval), wsHandler, wsErrHandler)
		if err != nil {
			yield(types.PriceBar{}, errors.Wrap(errors.ErrCodeFeedUnavailable, "failed to open binance kline stream", err))

			return
		}

		f.logger.Info("Connected to binance kline stream",
			zap.String("symbol", f.symbol),
			zap.String("interval", string(f.interval)),
		)

		defer close(stopC)

		for {
			select {
			case <-ctx.Done():
				return
			case <-doneC:
				yield(types.PriceBar{}, errors.New(errors.ErrCodeFeedClosed, "binance kline stream closed"))

				return
			case err := <-errCh:
				yield(types.PriceBar{}, err)

				return
			case bar := <-barCh:
				if !yield(bar, nil) {
					return
				}
			}
		}
	}
}

// Close implements PriceFeed. The stream itself is stopped by canceling
// the Bars context.
func (f *BinanceFeed) Close() error {
	return nil
}

func klineEventToBar(event *binance.WsKlineEvent) (types.PriceBar, error) {
	kline := event.Kline

	open, err := strconv.ParseFloat(kline.Open, 64)
	if err != nil {
		return types.PriceBar{}, errors.Wrapf(errors.ErrCodeFeedUnavailable, err, "invalid open price %q", kline.Open)
	}

	high, err := strconv.ParseFloat(kline.High, 64)
	if err != nil {
		return types.PriceBar{}, errors.Wrapf(errors.ErrCodeFeedUnavailable, err, "invalid high price %q", kline.High)
	}

	low, err := strconv.ParseFloat(kline.Low, 64)
	if err != nil {
		return types.PriceBar{}, errors.Wrapf(errors.ErrCodeFeedUnavailable, err, "invalid low price %q", kline.Low)
	}

	closePrice, err := strconv.ParseFloat(kline.Close, 64)
	if err != nil {
		return types.PriceBar{}, errors.Wrapf(errors.ErrCodeFeedUnavailable, err, "invalid close price %q", kline.Close)
	}

	volume, err := strconv.ParseFloat(kline.Volume, 64)
	if err != nil {
		return types.PriceBar{}, errors.Wrapf(errors.ErrCodeFeedUnavailable, err, "invalid volume %q", kline.Volume)
	}

	return types.PriceBar{
		Symbol: event.Symbol,
		Time:   time.UnixMilli(kline.StartTime),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}
