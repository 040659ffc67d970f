// Package engine_v1 is the first trading engine implementation. One
// instance drives exactly one run; backtest and live runs differ only in
// the feed and executor wired in.
package engine_v1

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/driftlab/drift-trading/internal/analytics"
	"github.com/driftlab/drift-trading/internal/benchmark"
	"github.com/driftlab/drift-trading/internal/config"
	"github.com/driftlab/drift-trading/internal/engine"
	"github.com/driftlab/drift-trading/internal/executor"
	"github.com/driftlab/drift-trading/internal/feed"
	"github.com/driftlab/drift-trading/internal/ledger"
	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/strategy"
	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// EngineV1 implements engine.TradingEngine with a strict per-bar pipeline:
// policy decision, execution, ledger apply, snapshot, in that order, each
// exactly once per bar.
type EngineV1 struct {
	config config.RunConfiguration
	logger *logger.Logger
	ledger *ledger.Ledger

	policy    strategy.Policy
	priceFeed feed.PriceFeed
	execution executor.ExecutionAdapter

	btcBenchmark   benchmark.Source
	sp500Benchmark benchmark.Source

	stateMu sync.RWMutex
	state   engine.State

	stopRequested atomic.Bool
	totalBars     int

	history    []types.PriceBar
	firstBar   time.Time
	lastBar    time.Time
	barsSeen   bool
	historyCap int
}

// maxHistoryBars bounds the in-memory bar window handed to the policy.
const maxHistoryBars = 500

// NewEngineV1 creates an engine for the given run configuration. The
// configuration is validated here; a backtest range with start after end
// fails before any bar is read.
func NewEngineV1(cfg config.RunConfiguration, log *logger.Logger) (*EngineV1, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runLedger, err := ledger.NewLedger(log, cfg.Symbol, cfg.InitialCapital, cfg.FeeRate, cfg.SlippageRate)
	if err != nil {
		return nil, err
	}

	if err := runLedger.Initialize(); err != nil {
		runLedger.Close()

		return nil, err
	}

	return &EngineV1{
		config:     cfg,
		logger:     log,
		ledger:     runLedger,
		state:      engine.StateIdle,
		historyCap: maxHistoryBars,
	}, nil
}

// SetPolicy implements engine.TradingEngine.
func (e *EngineV1) SetPolicy(policy strategy.Policy) error {
	if policy == nil {
		return errors.New(errors.ErrCodeMissingComponent, "policy is nil")
	}

	e.policy = policy

	return nil
}

// SetFeed implements engine.TradingEngine.
func (e *EngineV1) SetFeed(priceFeed feed.PriceFeed) error {
	if priceFeed == nil {
		return errors.New(errors.ErrCodeMissingComponent, "feed is nil")
	}

	e.priceFeed = priceFeed

	return nil
}

// SetExecutor implements engine.TradingEngine.
func (e *EngineV1) SetExecutor(execution executor.ExecutionAdapter) error {
	if execution == nil {
		return errors.New(errors.ErrCodeMissingComponent, "executor is nil")
	}

	e.execution = execution

	return nil
}

// SetBenchmarks implements engine.TradingEngine.
func (e *EngineV1) SetBenchmarks(btc benchmark.Source, sp500 benchmark.Source) {
	e.btcBenchmark = btc
	e.sp500Benchmark = sp500
}

// SetTotalBars implements engine.TradingEngine.
func (e *EngineV1) SetTotalBars(total int) {
	e.totalBars = total
}

// State implements engine.TradingEngine.
func (e *EngineV1) State() engine.State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.state
}

func (e *EngineV1) setState(state engine.State) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	e.state = state
}

// Stop implements engine.TradingEngine. The run finishes the bar in
// flight and stops at the boundary; no partial bar is ever processed.
func (e *EngineV1) Stop() {
	e.stopRequested.Store(true)
}

// Run implements engine.TradingEngine.
func (e *EngineV1) Run(ctx context.Context, callbacks engine.Callbacks) error {
	if state := e.State(); state != engine.StateIdle {
		if state == engine.StateFaulted {
			return errors.New(errors.ErrCodeEngineFaulted, "engine faulted; a new run needs a fresh instance")
		}

		return errors.Newf(errors.ErrCodeEngineNotIdle, "engine already ran, state is %s", state)
	}

	if e.policy == nil || e.priceFeed == nil || e.execution == nil {
		return errors.New(errors.ErrCodeMissingComponent, "policy, feed and executor must be set before Run")
	}

	e.setState(engine.StateRunning)
	e.logger.Info("Run started",
		zap.String("mode", string(e.config.Mode)),
		zap.String("symbol", e.config.Symbol),
		zap.String("policy", e.policy.Name()),
	)

	processed := 0

	for bar, err := range e.priceFeed.Bars(ctx) {
		if err != nil {
			e.setState(engine.StateFaulted)
			e.logger.Error("Feed failed", zap.Error(err))

			return err
		}

		if err := e.processBar(ctx, bar); err != nil {
			e.setState(engine.StateFaulted)
			e.logger.Error("Run faulted",
				zap.Time("bar", bar.Time),
				zap.Error(err),
			)

			return err
		}

		processed++

		if callbacks.OnBarProcessed != nil {
			if err := (*callbacks.OnBarProcessed)(processed, e.totalBars); err != nil {
				e.stopRequested.Store(true)
			}
		}

		if e.stopRequested.Load() || ctx.Err() != nil {
			break
		}
	}

	e.setState(engine.StateStopped)
	e.logger.Info("Run stopped",
		zap.Int("bars_processed", processed),
		zap.Float64("final_cash", e.ledger.Cash()),
		zap.Float64("final_quantity", e.ledger.Position().Quantity),
	)

	return nil
}

// processBar runs the per-bar pipeline. Rejected, pending and
// ledger-refused orders are normal outcomes; only storage and transport
// failures propagate and fault the run.
func (e *EngineV1) processBar(ctx context.Context, bar types.PriceBar) error {
	if !e.barsSeen {
		e.firstBar = bar.Time
		e.barsSeen = true
	}

	e.lastBar = bar.Time

	e.history = append(e.history, bar)
	if len(e.history) > e.historyCap {
		e.history = e.history[len(e.history)-e.historyCap:]
	}

	intent := e.policy.Decide(e.history, e.ledger.Position())

	maybeOrder, err := e.ledger.SizeIntent(intent, bar)
	if err != nil {
		// A malformed intent skips the bar's trade, not the run.
		e.logger.Warn("Intent rejected", zap.Time("bar", bar.Time), zap.Error(err))
	} else if maybeOrder.IsSome() {
		order := maybeOrder.Unwrap()

		fill, err := e.execution.Execute(ctx, order)
		if err != nil {
			return err
		}

		switch fill.Status {
		case types.FillStatusFilled:
			if _, err := e.ledger.ApplyFill(order, fill); err != nil {
				if errors.HasCode(err, errors.ErrCodeInsufficientFunds) || errors.HasCode(err, errors.ErrCodeInsufficientPosition) {
					e.logger.Warn("Fill refused by ledger",
						zap.String("order_id", order.ID),
						zap.Error(err),
					)
				} else {
					return err
				}
			}
		case types.FillStatusRejected:
			e.logger.Warn("Order rejected",
				zap.String("order_id", order.ID),
				zap.String("reason", fill.Reason),
			)
		case types.FillStatusPending:
			// An unconfirmed order is discarded, never retried into the
			// next bar.
			e.logger.Warn("Order still pending at bar boundary, discarded",
				zap.String("order_id", order.ID),
				zap.String("reason", fill.Reason),
			)
		}
	}

	if _, err := e.ledger.RecordSnapshot(bar.Time, bar.Close); err != nil {
		return err
	}

	return nil
}

// Results implements engine.TradingEngine. Results reflect whatever the
// run produced so far; a faulted run still serves everything up to the
// fault.
func (e *EngineV1) Results(ctx context.Context) (types.BacktestResults, error) {
	snapshots, err := e.ledger.ValueSeries()
	if err != nil {
		return types.BacktestResults{}, err
	}

	var btcPoints, sp500Points []analytics.BenchmarkPoint

	if e.barsSeen {
		if e.btcBenchmark != nil {
			btcPoints, err = e.btcBenchmark.DailySeries(ctx, e.firstBar.AddDate(0, 0, -1), e.lastBar)
			if err != nil {
				e.logger.Warn("BTC benchmark unavailable, omitting", zap.Error(err))

				btcPoints = nil
			}
		}

		if e.sp500Benchmark != nil {
			sp500Points, err = e.sp500Benchmark.DailySeries(ctx, e.firstBar.AddDate(0, 0, -7), e.lastBar)
			if err != nil {
				e.logger.Warn("S&P 500 benchmark unavailable, omitting", zap.Error(err))

				sp500Points = nil
			}
		}
	}

	return analytics.BuildBacktestResults(snapshots, btcPoints, sp500Points), nil
}

// TradeHistory implements engine.TradingEngine.
func (e *EngineV1) TradeHistory() (types.TradeHistory, error) {
	trades, err := e.ledger.TradeLog()
	if err != nil {
		return types.TradeHistory{}, err
	}

	snapshots, err := e.ledger.ValueSeries()
	if err != nil {
		return types.TradeHistory{}, err
	}

	values := make([]float64, 0, len(snapshots))
	for _, snapshot := range snapshots {
		values = append(values, snapshot.TotalValue)
	}

	return analytics.BuildTradeHistory(trades, values), nil
}

// WriteResults implements engine.TradingEngine.
func (e *EngineV1) WriteResults(path string) error {
	if err := e.ledger.Write(path); err != nil {
		return err
	}

	history, err := e.TradeHistory()
	if err != nil {
		return err
	}

	return types.WriteSummary(path+"/summary.yaml", history.Summary)
}

// Close implements engine.TradingEngine.
func (e *EngineV1) Close() error {
	if e.priceFeed != nil {
		if err := e.priceFeed.Close(); err != nil {
			e.logger.Warn("Failed to close feed", zap.Error(err))
		}
	}

	return e.ledger.Close()
}

var _ engine.TradingEngine = (*EngineV1)(nil)
