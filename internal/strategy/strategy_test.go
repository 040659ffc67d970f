package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/types"
)

type StrategyTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestStrategySuite(t *testing.T) {
	suite.Run(t, new(StrategyTestSuite))
}

func (suite *StrategyTestSuite) SetupSuite() {
	suite.logger = logger.NewNopLogger()
}

// quietHistory builds a calm oscillating series around 100 with steady
// volume, long enough for every indicator warmup.
func (suite *StrategyTestSuite) quietHistory(count int) []types.PriceBar {
	bars := make([]types.PriceBar, 0, count)

	for i := 0; i < count; i++ {
		price := 100.0
		if i%2 == 0 {
			price = 101.0
		} else {
			price = 99.0
		}

		bars = append(bars, types.PriceBar{
			Symbol: "BTCUSDT",
			Time:   time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			Open:   price,
			High:   price + 0.5,
			Low:    price - 0.5,
			Close:  price,
			Volume: 1000,
		})
	}

	return bars
}

func (suite *StrategyTestSuite) flatPosition() types.Position {
	return types.Position{Symbol: "BTCUSDT", Quantity: 0, AvgCostBasis: 0}
}

func (suite *StrategyTestSuite) openPosition() types.Position {
	return types.Position{
		Symbol:       "BTCUSDT",
		Quantity:     10,
		AvgCostBasis: 100,
		TargetPrice:  105,
		StopPrice:    95,
	}
}

func (suite *StrategyTestSuite) TestHoldPolicyAlwaysHolds() {
	policy := NewHoldPolicy()
	suite.Equal("hold", policy.Name())

	intent := policy.Decide(suite.quietHistory(100), suite.flatPosition())
	suite.Equal(types.SideHold, intent.Side)

	intent = policy.Decide(nil, suite.openPosition())
	suite.Equal(types.SideHold, intent.Side)
}

func (suite *StrategyTestSuite) TestMeanReversionHoldsOnShortHistory() {
	policy := NewMeanReversionPolicy(DefaultMeanReversionConfig(), suite.logger)

	intent := policy.Decide(suite.quietHistory(10), suite.flatPosition())
	suite.Equal(types.SideHold, intent.Side)
}

func (suite *StrategyTestSuite) TestMeanReversionEntersQuietMarket() {
	policy := NewMeanReversionPolicy(DefaultMeanReversionConfig(), suite.logger)

	intent := policy.Decide(suite.quietHistory(100), suite.flatPosition())
	suite.Equal(types.SideBuy, intent.Side)
	suite.Greater(intent.SizeFraction, 0.0)
	suite.LessOrEqual(intent.SizeFraction, DefaultMeanReversionConfig().MaxPositionFraction)
	suite.Equal("mean_reversion_entry", intent.Reason)
	suite.Greater(intent.TargetPrice, 0.0)
	suite.Greater(intent.StopPrice, 0.0)
	suite.Less(intent.StopPrice, 100.0)
}

func (suite *StrategyTestSuite) TestMeanReversionExitsOnTarget() {
	policy := NewMeanReversionPolicy(DefaultMeanReversionConfig(), suite.logger)

	history := suite.quietHistory(100)
	history[len(history)-1].Close = 106

	intent := policy.Decide(history, suite.openPosition())
	suite.Equal(types.SideSell, intent.Side)
	suite.InDelta(1.0, intent.SizeFraction, 1e-9)
	suite.Equal("target", intent.Reason)
}

func (suite *StrategyTestSuite) TestMeanReversionExitsOnStopLoss() {
	policy := NewMeanReversionPolicy(DefaultMeanReversionConfig(), suite.logger)

	history := suite.quietHistory(100)
	history[len(history)-1].Close = 94

	intent := policy.Decide(history, suite.openPosition())
	suite.Equal(types.SideSell, intent.Side)
	suite.Equal("stop_loss", intent.Reason)
}

func (suite *StrategyTestSuite) TestMeanReversionHoldsBetweenLevels() {
	policy := NewMeanReversionPolicy(DefaultMeanReversionConfig(), suite.logger)

	intent := policy.Decide(suite.quietHistory(100), suite.openPosition())
	suite.Equal(types.SideHold, intent.Side)
}

func (suite *StrategyTestSuite) TestMeanReversionHoldsWithoutLevels() {
	policy := NewMeanReversionPolicy(DefaultMeanReversionConfig(), suite.logger)

	// A position carrying no exit levels is never force-closed.
	position := suite.openPosition()
	position.TargetPrice = 0
	position.StopPrice = 0

	history := suite.quietHistory(100)
	history[len(history)-1].Close = 94

	intent := policy.Decide(history, position)
	suite.Equal(types.SideHold, intent.Side)
}

func (suite *StrategyTestSuite) TestMeanReversionDecideIsDeterministic() {
	policy := NewMeanReversionPolicy(DefaultMeanReversionConfig(), suite.logger)
	history := suite.quietHistory(100)

	// Repeated calls over the same inputs yield the same intent; deciding
	// never changes what the policy will decide next.
	first := policy.Decide(history, suite.flatPosition())
	second := policy.Decide(history, suite.flatPosition())
	suite.Equal(first, second)

	exitFirst := policy.Decide(history, suite.openPosition())
	exitSecond := policy.Decide(history, suite.openPosition())
	suite.Equal(exitFirst, exitSecond)
}
