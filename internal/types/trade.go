package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/driftlab/drift-trading/pkg/errors"
)

// Side is the direction of a trade intent.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideHold Side = "HOLD"
)

// TradeIntent is the decision emitted by a strategy policy for one bar.
// SizeFraction is interpreted as a fraction of available cash (Buy) or of the
// held quantity (Sell); the ledger clamps it to [0, 1].
type TradeIntent struct {
	Side         Side    `yaml:"side" json:"side" validate:"required,oneof=BUY SELL HOLD"`
	SizeFraction float64 `yaml:"size_fraction" json:"size_fraction" validate:"gte=0"`
	// Reason describes why the policy decided this way, e.g. "stop_loss".
	Reason string `yaml:"reason" json:"reason"`
	// TargetPrice and StopPrice are the exit levels a Buy intent attaches to
	// the position it opens. Zero means no level.
	TargetPrice float64 `yaml:"target_price" json:"target_price" validate:"gte=0"`
	StopPrice   float64 `yaml:"stop_price" json:"stop_price" validate:"gte=0"`
}

// Hold is the intent a policy returns when it cannot or does not want to act.
func Hold() TradeIntent {
	return TradeIntent{Side: SideHold, SizeFraction: 0, Reason: ""}
}

// Validate validates the TradeIntent struct.
func (t *TradeIntent) Validate() error {
	validate := validator.New()
	if err := validate.Struct(t); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidIntent, "invalid trade intent", err)
	}

	return nil
}

// Order is a sized trade ready for execution, produced by the engine from a
// TradeIntent and the current bar.
type Order struct {
	ID        string    `yaml:"id" json:"id" csv:"id" validate:"required,uuid"`
	Symbol    string    `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Side      Side      `yaml:"side" json:"side" csv:"side" validate:"required,oneof=BUY SELL"`
	Quantity  float64   `yaml:"quantity" json:"quantity" csv:"quantity" validate:"required,gt=0"`
	Price     float64   `yaml:"price" json:"price" csv:"price" validate:"required,gt=0"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp" csv:"timestamp" validate:"required"`
	Reason    string    `yaml:"reason" json:"reason" csv:"reason"`
	// TargetPrice and StopPrice carry the intent's exit levels through to the
	// ledger; the executor ignores them.
	TargetPrice float64 `yaml:"target_price" json:"target_price" csv:"target_price" validate:"gte=0"`
	StopPrice   float64 `yaml:"stop_price" json:"stop_price" csv:"stop_price" validate:"gte=0"`
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid order", err)
	}

	return nil
}

// FillStatus is the outcome of one execution attempt.
type FillStatus string

const (
	FillStatusFilled   FillStatus = "FILLED"
	FillStatusRejected FillStatus = "REJECTED"
	FillStatusPending  FillStatus = "PENDING"
)

// FillResult is the shared result contract across all execution adapter
// variants. Only a Filled result may be applied to the portfolio ledger.
type FillResult struct {
	Status    FillStatus `yaml:"status" json:"status"`
	FillPrice float64    `yaml:"fill_price" json:"fill_price"`
	FillSize  float64    `yaml:"fill_size" json:"fill_size"`
	// Reason carries the rejection reason (exchange-side reasons verbatim)
	// or the pending cause. Empty on a clean fill.
	Reason string `yaml:"reason" json:"reason"`
}

// Position represents current holdings of an asset. Quantity is never
// negative; zero quantity means flat.
type Position struct {
	Symbol       string  `csv:"symbol" json:"symbol"`
	Quantity     float64 `csv:"quantity" json:"quantity"`
	AvgCostBasis float64 `csv:"avg_cost_basis" json:"avg_cost_basis"`
	// TargetPrice and StopPrice are the exit levels attached by the entry
	// that opened the position. Cleared when the position goes flat.
	TargetPrice float64 `csv:"target_price" json:"target_price"`
	StopPrice   float64 `csv:"stop_price" json:"stop_price"`
}

// IsFlat reports whether the position holds nothing.
func (p Position) IsFlat() bool {
	return p.Quantity == 0
}

// MarketValue returns the position value at the given price.
func (p Position) MarketValue(price float64) float64 {
	value, _ := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(price)).Float64()

	return value
}

// TradeRecord is the immutable record of one applied fill. Records are
// appended to the trade log in chronological order and never reordered.
type TradeRecord struct {
	ID        string    `csv:"id" json:"id"`
	Timestamp time.Time `csv:"timestamp" json:"timestamp"`
	Side      Side      `csv:"side" json:"side"`
	Price     float64   `csv:"price" json:"price"`
	Size      float64   `csv:"size" json:"size"`
	Fee       float64   `csv:"fee" json:"fee"`
	// ProfitLossPercent is the realized P/L of this trade relative to the
	// average cost basis. Present only on Sell records; a Buy opens a
	// position rather than closing one.
	ProfitLossPercent optional.Option[float64] `csv:"profit_loss_percent" json:"profit_loss_percent"`
	ResultingCash     float64                  `csv:"resulting_cash" json:"resulting_cash"`
	ResultingPosition Position                 `csv:"resulting_position" json:"resulting_position"`
}

// PortfolioSnapshot is the total portfolio value observed at one bar:
// cash plus position quantity times the bar's price. One snapshot is
// produced per processed bar and never mutated afterwards.
type PortfolioSnapshot struct {
	Timestamp  time.Time `csv:"timestamp" json:"timestamp"`
	TotalValue float64   `csv:"total_value" json:"total_value"`
}
