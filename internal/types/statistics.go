package types

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SummaryStatistics is derived from the trade log and value series. It is
// never persisted independently; it can be recomputed at any time.
type SummaryStatistics struct {
	// Count of all closed (Sell) trades.
	TotalTrades int `yaml:"total_trades" json:"total_trades"`
	// Count of closed trades with positive realized P/L.
	WinningTrades int `yaml:"winning_trades" json:"winning_trades"`
	// Count of closed trades with negative realized P/L.
	LosingTrades int `yaml:"losing_trades" json:"losing_trades"`
	// WinRate is winning/total, 0 when there are no trades.
	WinRate float64 `yaml:"win_rate" json:"win_rate"`
	// AvgTrade is the mean realized P/L percent across closed trades.
	AvgTrade float64 `yaml:"avg_trade" json:"avg_trade"`
	// MaxDrawdown is the largest peak-to-trough percentage decline of the
	// portfolio value series, observed at any point in the run.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
}

// TradeEntry is one row of the externally served trade history.
type TradeEntry struct {
	Date  string  `yaml:"date" json:"date"`
	Type  Side    `yaml:"type" json:"type"`
	Price float64 `yaml:"price" json:"price"`
	Size  float64 `yaml:"size" json:"size"`
	// ProfitLoss is the realized P/L percent; zero for Buy entries.
	ProfitLoss float64 `yaml:"profit_loss" json:"profit_loss"`
}

// TradeHistory is the trade-history shape of the results contract.
type TradeHistory struct {
	Summary SummaryStatistics `yaml:"summary" json:"summary"`
	Trades  []TradeEntry      `yaml:"trades" json:"trades"`
}

// BacktestResults is the value-series shape of the results contract.
// Benchmark series are omitted when the benchmark data was unavailable.
type BacktestResults struct {
	Dates               []string  `yaml:"dates" json:"dates"`
	Values              []float64 `yaml:"values" json:"values"`
	PortfolioNormalized []float64 `yaml:"portfolio_normalized" json:"portfolio_normalized"`
	BTCNormalized       []float64 `yaml:"btc_normalized,omitempty" json:"btc_normalized,omitempty"`
	SP500Normalized     []float64 `yaml:"sp500_normalized,omitempty" json:"sp500_normalized,omitempty"`
}

// WriteSummary writes summary statistics to a YAML file.
func WriteSummary(path string, stats SummaryStatistics) error {
	data, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal summary statistics to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary statistics to file: %w", err)
	}

	return nil
}
