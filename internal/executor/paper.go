package executor

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// PaperExecutor simulates live fills without touching an exchange. Fills
// carry the configured slippage; orders whose notional exceeds the
// liquidity cap are rejected the way a thin book would reject them.
type PaperExecutor struct {
	slippageRate float64
	maxNotional  float64
}

// NewPaperExecutor creates a paper executor. A zero maxNotional disables
// the liquidity cap.
func NewPaperExecutor(slippageRate float64, maxNotional float64) *PaperExecutor {
	return &PaperExecutor{
		slippageRate: slippageRate,
		maxNotional:  maxNotional,
	}
}

// Execute implements ExecutionAdapter.
func (e *PaperExecutor) Execute(ctx context.Context, order types.Order) (types.FillResult, error) {
	if err := ctx.Err(); err != nil {
		return types.FillResult{}, errors.Wrap(errors.ErrCodeTransportFailure, "execution canceled", err)
	}

	if err := order.Validate(); err != nil {
		return types.FillResult{}, err
	}

	notional, _ := decimal.NewFromFloat(order.Quantity).Mul(decimal.NewFromFloat(order.Price)).Float64()
	if e.maxNotional > 0 && notional > e.maxNotional {
		return types.FillResult{
			Status:    types.FillStatusRejected,
			FillPrice: 0,
			FillSize:  0,
			Reason:    "simulated liquidity cap exceeded",
		}, nil
	}

	priceDec := decimal.NewFromFloat(order.Price)
	slipDec := decimal.NewFromFloat(e.slippageRate)

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

var _ ExecutionAdapter = (*PaperExecutor)(nil)
