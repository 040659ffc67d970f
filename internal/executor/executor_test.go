package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// scriptedExchangeClient replays canned responses for each call.
type scriptedExchangeClient struct {
	createResponses []func() (*binance.CreateOrderResponse, error)
	queryResponses  []func() (*binance.Order, error)
	createCalls     int
	queryCalls      int
}

func (s *scriptedExchangeClient) CreateMarketOrder(ctx context.Context, symbol string, side binance.SideType, quantity string) (*binance.CreateOrderResponse, error) {
	if s.createCalls >= len(s.createResponses) {
		return nil, fmt.Errorf("unexpected create call %d", s.createCalls)
	}

	resp := s.createResponses[s.createCalls]
	s.createCalls++

	return resp()
}

func (s *scriptedExchangeClient) QueryOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error) {
	if s.queryCalls >= len(s.queryResponses) {
		return nil, fmt.Errorf("unexpected query call %d", s.queryCalls)
	}

	resp := s.queryResponses[s.queryCalls]
	s.queryCalls++

	return resp()
}

type ExecutorTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}

func (suite *ExecutorTestSuite) SetupSuite() {
	suite.logger = logger.NewNopLogger()
}

func (suite *ExecutorTestSuite) sampleOrder(side types.Side) types.Order {
	return types.Order{
		ID:        uuid.New().String(),
		Symbol:    "BTCUSDT",
		Side:      side,
		Quantity:  2.0,
		Price:     100.0,
		Timestamp: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		Reason:    "entry",
	}
}

func (suite *ExecutorTestSuite) newExecutor(client ExchangeClient) *BinanceExecutor {
	exec := newBinanceExecutorWithClient(client, suite.logger)
	exec.pollInterval = time.Millisecond
	exec.pendingPolls = 3

	return exec
}

func (suite *ExecutorTestSuite) TestBacktestExecutorAppliesSlippage() {
	exec := NewBacktestExecutor(0.001)

	fill, err := exec.Execute(context.Background(), suite.sampleOrder(types.SideBuy))
	suite.Require().NoError(err)
	suite.Equal(types.FillStatusFilled, fill.Status)
	suite.InDelta(100.1, fill.FillPrice, 1e-9)
	suite.InDelta(2.0, fill.FillSize, 1e-9)

	fill, err = exec.Execute(context.Background(), suite.sampleOrder(types.SideSell))
	suite.Require().NoError(err)
	suite.InDelta(99.9, fill.FillPrice, 1e-9)
}

func (suite *ExecutorTestSuite) TestBacktestExecutorZeroSlippage() {
	exec := NewBacktestExecutor(0)

	fill, err := exec.Execute(context.Background(), suite.sampleOrder(types.SideBuy))
	suite.Require().NoError(err)
	suite.InDelta(100.0, fill.FillPrice, 1e-9)
}

func (suite *ExecutorTestSuite) TestPaperExecutorFillsWithSlippage() {
	exec := NewPaperExecutor(0.001, 0)

	fill, err := exec.Execute(context.Background(), suite.sampleOrder(types.SideBuy))
	suite.Require().NoError(err)
	suite.Equal(types.FillStatusFilled, fill.Status)
	suite.InDelta(100.1, fill.FillPrice, 1e-9)

	fill, err = exec.Execute(context.Background(), suite.sampleOrder(types.SideSell))
	suite.Require().NoError(err)
	suite.InDelta(99.9, fill.FillPrice, 1e-9)
}

func (suite *ExecutorTestSuite) TestPaperExecutorLiquidityCap() {
	exec := NewPaperExecutor(0, 150)

	// 2.0 quantity at 100.0 is a 200 notional, over the cap.
	fill, err := exec.Execute(context.Background(), suite.sampleOrder(types.SideBuy))
	suite.Require().NoError(err)
	suite.Equal(types.FillStatusRejected, fill.Status)
	suite.Equal("simulated liquidity cap exceeded", fill.Reason)

	small := suite.sampleOrder(types.SideBuy)
	small.Quantity = 1.0

	fill, err = exec.Execute(context.Background(), small)
	suite.Require().NoError(err)
	suite.Equal(types.FillStatusFilled, fill.Status)
}

func (suite *ExecutorTestSuite) TestBinanceExecutorFilled() {
	client := &scriptedExchangeClient{
		createResponses: []func() (*binance.CreateOrderResponse, error){
			func() (*binance.CreateOrderResponse, error) {
				return &binance.CreateOrderResponse{
					OrderID:          1,
					Status:           binance.OrderStatusTypeFilled,
					ExecutedQuantity: "2.0",
					Fills: []*binance.Fill{
						{Price: "100.0", Quantity: "1.0"},
						{Price: "101.0", Quantity: "1.0"},
					},
				}, nil
			},
		},
	}

	fill, err := suite.newExecutor(client).Execute(context.Background(), suite.sampleOrder(types.SideBuy))
	suite.Require().NoError(err)
	suite.Equal(types.FillStatusFilled, fill.Status)
	suite.InDelta(100.5, fill.FillPrice, 1e-9)
	suite.InDelta(2.0, fill.FillSize, 1e-9)
}

func (suite *ExecutorTestSuite) TestBinanceExecutorRejection() {
	client := &scriptedExchangeClient{
		createResponses: []func() (*binance.CreateOrderResponse, error){
			func() (*binance.CreateOrderResponse, error) {
				return nil, &common.APIError{Code: -2010, Message: "Account has insufficient balance"}
			},
		},
	}

	fill, err := suite.newExecutor(client).Execute(context.Background(), suite.sampleOrder(types.SideBuy))
	suite.Require().NoError(err)
	suite.Equal(types.FillStatusRejected, fill.Status)
	suite.Equal("Account has insufficient balance", fill.Reason)
	// Rejections are permanent; no retry happens.
	suite.Equal(1, client.createCalls)
}

func (suite *ExecutorTestSuite) TestBinanceExecutorRetriesTransientFailure() {
	client := &scriptedExchangeClient{
		createResponses: []func() (*binance.CreateOrderResponse, error){
			func() (*binance.CreateOrderResponse, error) {
				return nil, fmt.Errorf("connection reset")
			},
			func() (*binance.CreateOrderResponse, error) {
				return &binance.CreateOrderResponse{
					OrderID:                  2,
					Status:                   binance.OrderStatusTypeFilled,
					ExecutedQuantity:         "2.0",
					CummulativeQuoteQuantity: "200.0",
				}, nil
			},
		},
	}

	fill, err := suite.newExecutor(client).Execute(context.Background(), suite.sampleOrder(types.SideBuy))
	suite.Require().NoError(err)
	suite.Equal(types.FillStatusFilled, fill.Status)
	suite.InDelta(100.0, fill.FillPrice, 1e-9)
	suite.Equal(2, client.createCalls)
}

func (suite *ExecutorTestSuite) TestBinanceExecutorRetryExhausted() {
	responses := make([]func() (*binance.CreateOrderResponse, error), 0, defaultMaxRetries+1)
	for i := 0; i <= defaultMaxRetries; i++ {
		responses = append(responses, func() (*binance.CreateOrderResponse, error) {
			return nil, fmt.Errorf("connection reset")
		})
	}

	client := &scriptedExchangeClient{createResponses: responses}

	_, err := suite.newExecutor(client).Execute(context.Background(), suite.sampleOrder(types.SideBuy))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeRetryExhausted))
	suite.Equal(defaultMaxRetries+1, client.createCalls)
}

func (suite *ExecutorTestSuite) TestBinanceExecutorPendingThenFilled() {
	client := &scriptedExchangeClient{
		createResponses: []func() (*binance.CreateOrderResponse, error){
			func() (*binance.CreateOrderResponse, error) {
				return &binance.CreateOrderResponse{
					OrderID: 3,
					Status:  binance.OrderStatusTypeNew,
				}, nil
			},
		},
		queryResponses: []func() (*binance.Order, error){
			func() (*binance.Order, error) {
				return &binance.Order{Status: binance.OrderStatusTypeNew}, nil
			},
			func() (*binance.Order, error) {
				return &binance.Order{
					Status:                   binance.OrderStatusTypeFilled,
					ExecutedQuantity:         "2.0",
					CummulativeQuoteQuantity: "201.0",
				}, nil
			},
		},
	}

	fill, err := suite.newExecutor(client).Execute(context.Background(), suite.sampleOrder(types.SideBuy))
	suite.Require().NoError(err)
	suite.Equal(types.FillStatusFilled, fill.Status)
	suite.InDelta(100.5, fill.FillPrice, 1e-9)
}

func (suite *ExecutorTestSuite) TestBinanceExecutorPendingBudgetExhausted() {
	pendingQuery := func() (*binance.Order, error) {
		return &binance.Order{Status: binance.OrderStatusTypeNew}, nil
	}

	client := &scriptedExchangeClient{
		createResponses: []func() (*binance.CreateOrderResponse, error){
			func() (*binance.CreateOrderResponse, error) {
				return &binance.CreateOrderResponse{
					OrderID: 4,
					Status:  binance.OrderStatusTypeNew,
				}, nil
			},
		},
		queryResponses: []func() (*binance.Order, error){pendingQuery, pendingQuery, pendingQuery},
	}

	fill, err := suite.newExecutor(client).Execute(context.Background(), suite.sampleOrder(types.SideBuy))
	suite.Require().NoError(err)
	suite.Equal(types.FillStatusPending, fill.Status)
	suite.Equal(3, client.queryCalls)
}
