// Package analytics derives performance results from the ledger's trade
// log and value series. Everything here is recomputable; nothing is
// persisted independently.
package analytics

import (
	"math"
	"time"

	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// BenchmarkPoint is one observation of a benchmark series.
type BenchmarkPoint struct {
	Time  time.Time
	Value float64
}

// round2 keeps percentages at two decimal places in served results.
func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// NormalizeSeries rebases a series so its first element is 100. An empty
// series normalizes to an empty series; a zero first element cannot be a
// baseline and yields nil.
func NormalizeSeries(values []float64) []float64 {
	if len(values) == 0 {
		return []float64{}
	}

	baseline := values[0]
	if baseline == 0 {
		return nil
	}

	normalized := make([]float64, len(values))
	for i, value := range values {
		normalized[i] = value / baseline * 100
	}

	return normalized
}

// AlignNearestPrior samples a benchmark series at the given timestamps.
// Each timestamp takes the value of the latest benchmark point at or
// before it; a benchmark value from the future is never used. A timestamp
// earlier than the whole benchmark series cannot be aligned and fails the
// alignment.
func AlignNearestPrior(points []BenchmarkPoint, timestamps []time.Time) ([]float64, error) {
	if len(points) == 0 {
		return nil, errors.New(errors.ErrCodeDataNotFound, "benchmark series is empty")
	}

	aligned := make([]float64, 0, len(timestamps))

	// Both inputs are chronological, so a single cursor suffices.
	cursor := 0

	for _, ts := range timestamps {
		if points[0].Time.After(ts) {
			return nil, errors.Newf(errors.ErrCodeDataNotFound,
				"no benchmark value at or before %s", ts.Format(time.RFC3339))
		}

		for cursor+1 < len(points) && !points[cursor+1].Time.After(ts) {
			cursor++
		}

		aligned = append(aligned, points[cursor].Value)
	}

	return aligned, nil
}

// MaxDrawdown returns the largest peak-to-trough decline of the series as
// a percentage of the peak, rounded to two decimals.
func MaxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	peak := values[0]
	maxDrawdown := 0.0

	for _, value := range values[1:] {
		if value > peak {
			peak = value

			continue
		}

		if peak > 0 {
			drawdown := (peak - value) / peak * 100
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return round2(maxDrawdown)
}

// Summary computes trade statistics over the closed trades in the log.
// Only Sell records carry realized P/L; Buy records open positions and are
// not counted. No trades means every rate is zero, not a division error.
func Summary(trades []types.TradeRecord, valueSeries []float64) types.SummaryStatistics {
	stats := types.SummaryStatistics{
		TotalTrades:   0,
		WinningTrades: 0,
		LosingTrades:  0,
		WinRate:       0,
		AvgTrade:      0,
		MaxDrawdown:   MaxDrawdown(valueSeries),
	}

	totalPnl := 0.0

	for _, trade := range trades {
		if trade.ProfitLossPercent.IsNone() {
			continue
		}

		pnl := trade.ProfitLossPercent.Unwrap()
		stats.TotalTrades++
		totalPnl += pnl

		if pnl > 0 {
			stats.WinningTrades++
		} else if pnl < 0 {
			stats.LosingTrades++
		}
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = round2(float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100)
		stats.AvgTrade = round2(totalPnl / float64(stats.TotalTrades))
	}

	return stats
}

// BuildTradeHistory converts the raw trade log into the served trade
// history shape.
func BuildTradeHistory(trades []types.TradeRecord, valueSeries []float64) types.TradeHistory {
	entries := make([]types.TradeEntry, 0, len(trades))

	for _, trade := range trades {
		entries = append(entries, types.TradeEntry{
			Date:       trade.Timestamp.Format("2006-01-02"),
			Type:       trade.Side,
			Price:      trade.Price,
			Size:       trade.Size,
			ProfitLoss: round2(trade.ProfitLossPercent.TakeOr(0)),
		})
	}

	return types.TradeHistory{
		Summary: Summary(trades, valueSeries),
		Trades:  entries,
	}
}

// BuildBacktestResults assembles the served value-series results. The
// benchmark series are aligned to the snapshot timestamps and normalized
// to the same 100 baseline; a benchmark that cannot be aligned is omitted
// rather than interpolated.
func BuildBacktestResults(snapshots []types.PortfolioSnapshot, btc []BenchmarkPoint, sp500 []BenchmarkPoint) types.BacktestResults {
	dates := make([]string, 0, len(snapshots))
	values := make([]float64, 0, len(snapshots))
	timestamps := make([]time.Time, 0, len(snapshots))

	for _, snapshot := range snapshots {
		dates = append(dates, snapshot.Timestamp.Format("2006-01-02"))
		values = append(values, snapshot.TotalValue)
		timestamps = append(timestamps, snapshot.Timestamp)
	}

	results := types.BacktestResults{
		Dates:               dates,
		Values:              values,
		PortfolioNormalized: NormalizeSeries(values),
		BTCNormalized:       nil,
		SP500Normalized:     nil,
	}

	if aligned, err := AlignNearestPrior(btc, timestamps); err == nil {
		results.BTCNormalized = NormalizeSeries(aligned)
	}

	if aligned, err := AlignNearestPrior(sp500, timestamps); err == nil {
		results.SP500Normalized = NormalizeSeries(aligned)
	}

	return results
}
