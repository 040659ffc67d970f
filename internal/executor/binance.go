package executor

import (
	"context"
	goerrors "errors"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftlab/drift-trading/internal/config"
	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

const (
	// binanceQuantityPrecision is the quantity precision used for order
	// submission. Satoshi-level precision covers BTC-like assets.
	binanceQuantityPrecision = 8

	defaultMaxRetries   = 4
	defaultPendingPolls = 5
	defaultPollInterval = 2 * time.Second
)

// ExchangeClient is the slice of the Binance API the executor needs.
// The interface exists so tests can run against a scripted exchange.
type ExchangeClient interface {
	CreateMarketOrder(ctx context.Context, symbol string, side binance.SideType, quantity string) (*binance.CreateOrderResponse, error)
	QueryOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error)
}

type realExchangeClient struct {
	client *binance.Client
}

func (r *realExchangeClient) CreateMarketOrder(ctx context.Context, symbol string, side binance.SideType, quantity string) (*binance.CreateOrderResponse, error) {
	return r.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(quantity).
		Do(ctx)
}

func (r *realExchangeClient) QueryOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error) {
	return r.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
}

// BinanceExecutor places market orders on Binance. Sandbox runs use the
// testnet with the sandbox credential set; the adapter behavior is
// identical in both modes.
//
// Transient transport failures are retried with exponential backoff up to
// a bounded budget; exchange-side rejections are never retried. An order
// the exchange accepts but does not confirm is re-polled a bounded number
// of times and reported Pending when the budget runs out.
type BinanceExecutor struct {
	client ExchangeClient
	logger *logger.Logger

	maxRetries   uint64
	pendingPolls int
	pollInterval time.Duration
}

// NewBinanceExecutor creates an executor bound to one credential set.
// Sandbox mode targets the Binance testnet.
func NewBinanceExecutor(credentials config.Credentials, sandbox bool, logger *logger.Logger) *BinanceExecutor {
	if sandbox {
		binance.UseTestnet = true
	}

	client := binance.NewClient(credentials.APIKey, credentials.APISecret)

	return newBinanceExecutorWithClient(&realExchangeClient{client: client}, logger)
}

// newBinanceExecutorWithClient wires a custom exchange client, used by
// tests.
func newBinanceExecutorWithClient(client ExchangeClient, logger *logger.Logger) *BinanceExecutor {
	return &BinanceExecutor{
		client:       client,
		logger:       logger,
		maxRetries:   defaultMaxRetries,
		pendingPolls: defaultPendingPolls,
		pollInterval: defaultPollInterval,
	}
}

// Execute implements ExecutionAdapter.
func (e *BinanceExecutor) Execute(ctx context.Context, order types.Order) (types.FillResult, error) {
	if err := order.Validate(); err != nil {
		return types.FillResult{}, err
	}

	var side binance.SideType

	switch order.Side {
	case types.SideBuy:
		side = binance.SideTypeBuy
	case types.SideSell:
		side = binance.SideTypeSell
	default:
		return types.FillResult{}, errors.Newf(errors.ErrCodeInvalidParameter, "cannot execute side %s", order.Side)
	}

	quantity := strconv.FormatFloat(order.Quantity, 'f', binanceQuantityPrecision, 64)

	var (
		response *binance.CreateOrderResponse
		rejected *types.FillResult
	)

	operation := func() error {
		resp, err := e.client.CreateMarketOrder(ctx, order.Symbol, side, quantity)
		if err != nil {
			var apiErr *common.APIError
			if goerrors.As(err, &apiErr) {
				// The exchange answered; this order will never fill.
				rejected = &types.FillResult{
					Status:    types.FillStatusRejected,
					FillPrice: 0,
					FillSize:  0,
					Reason:    apiErr.Message,
				}

				return nil
			}

			e.logger.Warn("Order submission failed, retrying",
				zap.String("order_id", order.ID),
				zap.Error(err),
			)

			return err
		}

		response = resp

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return types.FillResult{}, errors.Wrapf(errors.ErrCodeRetryExhausted, err,
			"order %s submission failed after retries", order.ID)
	}

	if rejected != nil {
		e.logger.Warn("Order rejected by exchange",
			zap.String("order_id", order.ID),
			zap.String("reason", rejected.Reason),
		)

		return *rejected, nil
	}

	switch response.Status {
	case binance.OrderStatusTypeFilled:
		return fillFromCreateResponse(order, response), nil
	case binance.OrderStatusTypeRejected:
		return types.FillResult{
			Status:    types.FillStatusRejected,
			FillPrice: 0,
			FillSize:  0,
			Reason:    "order rejected by exchange",
		}, nil
	default:
		return e.pollPendingOrder(ctx, order, response.OrderID)
	}
}

// pollPendingOrder re-polls an accepted but unconfirmed order. After the
// poll budget the order is reported Pending and the caller discards it.
func (e *BinanceExecutor) pollPendingOrder(ctx context.Context, order types.Order, orderID int64) (types.FillResult, error) {
	for attempt := 0; attempt < e.pendingPolls; attempt++ {
		select {
		case <-ctx.Done():
			return types.FillResult{}, errors.Wrap(errors.ErrCodeTransportFailure, "execution canceled while pending", ctx.Err())
		case <-time.After(e.pollInterval):
		}

		status, err := e.client.QueryOrder(ctx, order.Symbol, orderID)
		if err != nil {
			e.logger.Warn("Pending order poll failed",
				zap.String("order_id", order.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)

			continue
		}

		switch status.Status {
		case binance.OrderStatusTypeFilled:
			return fillFromOrderStatus(order, status), nil
		case binance.OrderStatusTypeRejected, binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
			return types.FillResult{
				Status:    types.FillStatusRejected,
				FillPrice: 0,
				FillSize:  0,
				Reason:    string(status.Status),
			}, nil
		}
	}

	return types.FillResult{
		Status:    types.FillStatusPending,
		FillPrice: 0,
		FillSize:  0,
		Reason:    "unconfirmed after poll budget",
	}, nil
}

// fillFromCreateResponse derives the average fill price from the create
// response. The per-fill breakdown is preferred; the cumulative quote
// amount is the fallback.
func fillFromCreateResponse(order types.Order, resp *binance.CreateOrderResponse) types.FillResult {
	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	if executedQty <= 0 {
		executedQty = order.Quantity
	}

	if len(resp.Fills) > 0 {
		notional := decimal.Zero
		quantity := decimal.Zero

		for _, fill := range resp.Fills {
			price, _ := strconv.ParseFloat(fill.Price, 64)
			qty, _ := strconv.ParseFloat(fill.Quantity, 64)
			notional = notional.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty)))
			quantity = quantity.Add(decimal.NewFromFloat(qty))
		}

		if quantity.IsPositive() {
			avgPrice, _ := notional.Div(quantity).Float64()

			return types.FillResult{
				Status:    types.FillStatusFilled,
				FillPrice: avgPrice,
				FillSize:  executedQty,
				Reason:    "",
			}
		}
	}

	return types.FillResult{
		Status:    types.FillStatusFilled,
		FillPrice: averagePrice(resp.CummulativeQuoteQuantity, executedQty, order.Price),
		FillSize:  executedQty,
		Reason:    "",
	}
}

func fillFromOrderStatus(order types.Order, status *binance.Order) types.FillResult {
	executedQty, _ := strconv.ParseFloat(status.ExecutedQuantity, 64)
	if executedQty <= 0 {
		executedQty = order.Quantity
	}

	return types.FillResult{
		Status:    types.FillStatusFilled,
		FillPrice: averagePrice(status.CummulativeQuoteQuantity, executedQty, order.Price),
		FillSize:  executedQty,
		Reason:    "",
	}
}

func averagePrice(cumulativeQuote string, executedQty float64, fallback float64) float64 {
	quote, _ := strconv.ParseFloat(cumulativeQuote, 64)
	if quote <= 0 || executedQty <= 0 {
		return fallback
	}

	avg, _ := decimal.NewFromFloat(quote).Div(decimal.NewFromFloat(executedQty)).Float64()

	return avg
}

var _ ExecutionAdapter = (*BinanceExecutor)(nil)
