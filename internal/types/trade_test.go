package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/driftlab/drift-trading/pkg/errors"
)

type TradeTypesTestSuite struct {
	suite.Suite
}

func TestTradeTypesSuite(t *testing.T) {
	suite.Run(t, new(TradeTypesTestSuite))
}

func (suite *TradeTypesTestSuite) TestHoldIntent() {
	intent := Hold()
	suite.Equal(SideHold, intent.Side)
	suite.Zero(intent.SizeFraction)
	suite.NoError(intent.Validate())
}

func (suite *TradeTypesTestSuite) TestTradeIntentValidate() {
	intent := TradeIntent{Side: SideBuy, SizeFraction: 0.5, Reason: "entry"}
	suite.NoError(intent.Validate())

	bad := TradeIntent{Side: "SHORT", SizeFraction: 0.5, Reason: ""}
	err := bad.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidIntent))

	negative := TradeIntent{Side: SideSell, SizeFraction: -0.1, Reason: ""}
	suite.Error(negative.Validate())
}

func (suite *TradeTypesTestSuite) TestOrderValidate() {
	order := Order{
		ID:        uuid.New().String(),
		Symbol:    "BTCUSDT",
		Side:      SideBuy,
		Quantity:  1.5,
		Price:     100.0,
		Timestamp: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		Reason:    "strategy",
	}
	suite.NoError(order.Validate())

	order.Quantity = 0
	suite.Error(order.Validate())
}

func (suite *TradeTypesTestSuite) TestPositionHelpers() {
	flat := Position{Symbol: "BTCUSDT", Quantity: 0, AvgCostBasis: 0}
	suite.True(flat.IsFlat())
	suite.Zero(flat.MarketValue(50000))

	open := Position{Symbol: "BTCUSDT", Quantity: 2, AvgCostBasis: 100}
	suite.False(open.IsFlat())
	suite.InDelta(240.0, open.MarketValue(120), 1e-9)
}
