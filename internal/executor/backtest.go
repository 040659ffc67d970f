package executor

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// BacktestExecutor fills every order instantly at the order price shifted
// against the trade by the configured slippage rate. It never rejects and
// never leaves an order pending.
type BacktestExecutor struct {
	slippageRate float64
}

// NewBacktestExecutor creates a simulated executor with the given slippage
// rate. A zero rate fills exactly at the order price.
func NewBacktestExecutor(slippageRate float64) *BacktestExecutor {
	return &BacktestExecutor{slippageRate: slippageRate}
}

// Execute implements ExecutionAdapter.
func (e *BacktestExecutor) Execute(ctx context.Context, order types.Order) (types.FillResult, error) {
	if err := ctx.Err(); err != nil {
		return types.FillResult{}, errors.Wrap(errors.ErrCodeTransportFailure, "execution canceled", err)
	}

	if err := order.Validate(); err != nil {
		return types.FillResult{}, err
	}

	priceDec := decimal.NewFromFloat(order.Price)
	slipDec := decimal.NewFromFloat(e.slippageRate)

	// Slippage always moves the price against the trade.
	var fillPrice float64

	switch order.Side {
	case types.SideBuy:
		fillPrice, _ = priceDec.Mul(decimal.NewFromInt(1).Add(slipDec)).Float64()
	case types.SideSell:
		fillPrice, _ = priceDec.Mul(decimal.NewFromInt(1).Sub(slipDec)).Float64()
	default:
		return types.FillResult{}, errors.Newf(errors.ErrCodeInvalidParameter, "cannot execute side %s", order.Side)
	}

	return types.FillResult{
		Status:    types.FillStatusFilled,
		FillPrice: fillPrice,
		FillSize:  order.Quantity,
		Reason:    "",
	}, nil
}

var _ ExecutionAdapter = (*BacktestExecutor)(nil)
