package feed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/types"
)

type FeedTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestFeedSuite(t *testing.T) {
	suite.Run(t, new(FeedTestSuite))
}

func (suite *FeedTestSuite) SetupSuite() {
	suite.logger = logger.NewNopLogger()
}

func (suite *FeedTestSuite) sampleBars(count int) []types.PriceBar {
	bars := make([]types.PriceBar, 0, count)
	for i := 0; i < count; i++ {
		price := 100.0 + float64(i)
		bars = append(bars, types.PriceBar{
			Symbol: "BTCUSDT",
			Time:   time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: 1000,
		})
	}

	return bars
}

func (suite *FeedTestSuite) writeArchiveCSV(bars []types.PriceBar) string {
	path := filepath.Join(suite.T().TempDir(), "bars.csv")

	content := "time,symbol,open,high,low,close,volume\n"
	for _, bar := range bars {
		content += fmt.Sprintf("%s,%s,%f,%f,%f,%f,%f\n",
			bar.Time.Format(time.RFC3339), bar.Symbol,
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}

	suite.Require().NoError(os.WriteFile(path, []byte(content), 0644))

	return path
}

func (suite *FeedTestSuite) TestMemoryFeedYieldsInOrder() {
	memFeed := NewMemoryFeed(suite.sampleBars(5))

	var got []types.PriceBar

	for bar, err := range memFeed.Bars(context.Background()) {
		suite.Require().NoError(err)

		got = append(got, bar)
	}

	suite.Require().Len(got, 5)

	for i := 1; i < len(got); i++ {
		suite.True(got[i].Time.After(got[i-1].Time))
	}

	suite.NoError(memFeed.Close())
}

func (suite *FeedTestSuite) TestMemoryFeedStopsOnCancel() {
	memFeed := NewMemoryFeed(suite.sampleBars(100))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	count := 0

	for _, err := range memFeed.Bars(ctx) {
		suite.Require().NoError(err)

		count++
		if count == 3 {
			cancel()
		}
	}

	suite.Equal(3, count)
}

func (suite *FeedTestSuite) TestArchiveFeedReadsCSV() {
	bars := suite.sampleBars(10)
	path := suite.writeArchiveCSV(bars)

	archive, err := NewArchiveFeed(path, optional.None[time.Time](), optional.None[time.Time](), suite.logger)
	suite.Require().NoError(err)

	defer archive.Close()

	count, err := archive.Count()
	suite.Require().NoError(err)
	suite.Equal(10, count)

	var got []types.PriceBar

	for bar, err := range archive.Bars(context.Background()) {
		suite.Require().NoError(err)

		got = append(got, bar)
	}

	suite.Require().Len(got, 10)
	suite.Equal("BTCUSDT", got[0].Symbol)
	suite.InDelta(100.0, got[0].Close, 1e-9)

	for i := 1; i < len(got); i++ {
		suite.True(got[i].Time.After(got[i-1].Time))
	}
}

func (suite *FeedTestSuite) TestArchiveFeedRangeFilter() {
	bars := suite.sampleBars(10)
	path := suite.writeArchiveCSV(bars)

	start := optional.Some(bars[2].Time)
	end := optional.Some(bars[6].Time)

	archive, err := NewArchiveFeed(path, start, end, suite.logger)
	suite.Require().NoError(err)

	defer archive.Close()

	count, err := archive.Count()
	suite.Require().NoError(err)
	suite.Equal(5, count)

	var got []types.PriceBar

	for bar, err := range archive.Bars(context.Background()) {
		suite.Require().NoError(err)

		got = append(got, bar)
	}

	suite.Require().Len(got, 5)
	suite.True(got[0].Time.Equal(bars[2].Time))
	suite.True(got[4].Time.Equal(bars[6].Time))
}

func (suite *FeedTestSuite) TestArchiveFeedRejectsUnknownFormat() {
	path := filepath.Join(suite.T().TempDir(), "bars.txt")
	suite.Require().NoError(os.WriteFile(path, []byte("nope"), 0644))

	_, err := NewArchiveFeed(path, optional.None[time.Time](), optional.None[time.Time](), suite.logger)
	suite.Error(err)
}

func (suite *FeedTestSuite) TestKlineEventToBar() {
	event := &binance.WsKlineEvent{
		Symbol: "BTCUSDT",
		Kline: binance.WsKline{
			StartTime: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
			Open:      "100.5",
			High:      "101.0",
			Low:       "99.5",
			Close:     "100.8",
			Volume:    "1234.5",
			IsFinal:   true,
		},
	}

	bar, err := klineEventToBar(event)
	suite.Require().NoError(err)
	suite.Equal("BTCUSDT", bar.Symbol)
	suite.InDelta(100.8, bar.Close, 1e-9)
	suite.Equal(2023, bar.Time.UTC().Year())

	event.Kline.Close = "not-a-number"
	_, err = klineEventToBar(event)
	suite.Error(err)
}
