// Package feed provides price bar sources for backtest and live runs.
// All feeds yield bars strictly ordered by time through the same iterator
// contract, so the engine never knows which kind of feed it is driving.
package feed

import (
	"context"
	"iter"

	"github.com/driftlab/drift-trading/internal/types"
)

// PriceFeed is an ordered source of OHLCV bars.
type PriceFeed interface {
	// Bars returns an iterator that yields bars in strictly increasing
	// time order. Cancel the context to stop the iteration early; a feed
	// error ends the sequence after yielding it.
	Bars(ctx context.Context) iter.Seq2[types.PriceBar, error]
	// Close releases the feed's resources. Bars must not be consumed
	// after Close.
	Close() error
}

// MemoryFeed serves a fixed slice of bars. It backs unit tests and small
// backtests that already hold their data in memory.
type MemoryFeed struct {
	bars []types.PriceBar
}

// NewMemoryFeed creates a feed over the given bars. The slice must already
// be sorted by time.
func NewMemoryFeed(bars []types.PriceBar) *MemoryFeed {
	return &MemoryFeed{bars: bars}
}

// Bars implements PriceFeed.
func (f *MemoryFeed) Bars(ctx context.Context) iter.Seq2[types.PriceBar, error] {
	return func(yield func(types.PriceBar, error) bool) {
		for _, bar := range f.bars {
			if ctx.Err() != nil {
				return
			}

			if !yield(bar, nil) {
				return
			}
		}
	}
}

// Close implements PriceFeed.
func (f *MemoryFeed) Close() error {
	return nil
}
