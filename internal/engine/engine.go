// Package engine defines the trading engine contract shared by backtest
// and live runs.
package engine

import (
	"context"

	"github.com/driftlab/drift-trading/internal/benchmark"
	"github.com/driftlab/drift-trading/internal/executor"
	"github.com/driftlab/drift-trading/internal/feed"
	"github.com/driftlab/drift-trading/internal/strategy"
	"github.com/driftlab/drift-trading/internal/types"
)

// State is the engine lifecycle state. Transitions are one-directional:
// Idle to Running, then Running to Stopped or Faulted. A finished engine
// never runs again; a new run needs a new engine instance.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFaulted State = "faulted"
)

// OnBarProcessedCallback is called after each fully processed bar.
// Returning an error stops the run at the bar boundary.
type OnBarProcessedCallback func(processed int, total int) error

// Callbacks holds the optional run lifecycle callbacks. Nil fields are
// not invoked.
type Callbacks struct {
	OnBarProcessed *OnBarProcessedCallback
}

// TradingEngine drives one run: it pulls bars from the feed, consults the
// policy, executes through the adapter, and keeps the ledger. Results stay
// readable after the run ends, including after a fault.
type TradingEngine interface {
	// SetPolicy sets the strategy policy. Must be called before Run.
	SetPolicy(policy strategy.Policy) error
	// SetFeed sets the price feed. Must be called before Run.
	SetFeed(feed feed.PriceFeed) error
	// SetExecutor sets the execution adapter. Must be called before Run.
	SetExecutor(executor executor.ExecutionAdapter) error
	// SetBenchmarks wires optional benchmark sources into results. A nil
	// source omits that benchmark.
	SetBenchmarks(btc benchmark.Source, sp500 benchmark.Source)
	// SetTotalBars tells the progress callback how many bars to expect.
	// Zero means unknown, as in live runs.
	SetTotalBars(total int)
	// Run processes bars until the feed ends, Stop is requested, or a
	// fault occurs. It can be called exactly once.
	Run(ctx context.Context, callbacks Callbacks) error
	// Stop requests a graceful stop at the next bar boundary. Safe to
	// call from any goroutine.
	Stop()
	// State reports the current lifecycle state.
	State() State
	// Results returns the value-series results accumulated so far.
	Results(ctx context.Context) (types.BacktestResults, error)
	// TradeHistory returns the trade log and summary statistics.
	TradeHistory() (types.TradeHistory, error)
	// WriteResults exports the ledger and summary to the given directory.
	WriteResults(path string) error
	// Close releases the engine's resources.
	Close() error
}
