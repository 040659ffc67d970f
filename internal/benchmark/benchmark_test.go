package benchmark

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/suite"

	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// scriptedKlinesFetcher replays canned kline pages per call.
type scriptedKlinesFetcher struct {
	pages [][]*binance.Kline
	err   error
	calls int
}

func (s *scriptedKlinesFetcher) Klines(ctx context.Context, symbol string, interval string, startMillis int64, endMillis int64) ([]*binance.Kline, error) {
	if s.err != nil {
		return nil, s.err
	}

	if s.calls >= len(s.pages) {
		return nil, nil
	}

	page := s.pages[s.calls]
	s.calls++

	return page, nil
}

type BenchmarkTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestBenchmarkSuite(t *testing.T) {
	suite.Run(t, new(BenchmarkTestSuite))
}

func (suite *BenchmarkTestSuite) SetupSuite() {
	suite.logger = logger.NewNopLogger()
}

func klinesPage(startDay int, count int, basePrice float64) []*binance.Kline {
	klines := make([]*binance.Kline, 0, count)

	for i := 0; i < count; i++ {
		open := time.Date(2023, 6, startDay, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		klines = append(klines, &binance.Kline{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(24*time.Hour - time.Millisecond).UnixMilli(),
			Close:     strconv.FormatFloat(basePrice+float64(i), 'f', 2, 64),
		})
	}

	return klines
}

func (suite *BenchmarkTestSuite) TestBTCSourceSinglePage() {
	source := &BTCSource{
		fetcher: &scriptedKlinesFetcher{pages: [][]*binance.Kline{klinesPage(1, 5, 30000)}},
		symbol:  "BTCUSDT",
		logger:  suite.logger,
	}

	points, err := source.DailySeries(context.Background(),
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC))
	suite.Require().NoError(err)
	suite.Require().Len(points, 5)
	suite.InDelta(30000.0, points[0].Value, 1e-9)
	suite.InDelta(30004.0, points[4].Value, 1e-9)

	for i := 1; i < len(points); i++ {
		suite.True(points[i].Time.After(points[i-1].Time))
	}
}

func (suite *BenchmarkTestSuite) TestBTCSourcePaginates() {
	fetcher := &scriptedKlinesFetcher{pages: [][]*binance.Kline{
		klinesPage(1, 500, 30000),
		klinesPage(1, 3, 31000),
	}}
	source := &BTCSource{fetcher: fetcher, symbol: "BTCUSDT", logger: suite.logger}

	points, err := source.DailySeries(context.Background(),
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	suite.Require().NoError(err)
	suite.Len(points, 503)
	suite.Equal(2, fetcher.calls)
}

func (suite *BenchmarkTestSuite) TestBTCSourceFetchFailure() {
	source := &BTCSource{
		fetcher: &scriptedKlinesFetcher{err: fmt.Errorf("network down")},
		symbol:  "BTCUSDT",
		logger:  suite.logger,
	}

	_, err := source.DailySeries(context.Background(), time.Now().AddDate(0, -1, 0), time.Now())
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeBenchmarkFetchFailed))
}

func (suite *BenchmarkTestSuite) TestBTCSourceParseFailure() {
	page := klinesPage(1, 1, 30000)
	page[0].Close = "not-a-price"

	source := &BTCSource{
		fetcher: &scriptedKlinesFetcher{pages: [][]*binance.Kline{page}},
		symbol:  "BTCUSDT",
		logger:  suite.logger,
	}

	_, err := source.DailySeries(context.Background(), time.Now().AddDate(0, -1, 0), time.Now())
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeBenchmarkParseFailed))
}

func (suite *BenchmarkTestSuite) TestSP500SourceRequiresAPIKey() {
	_, err := NewSP500Source("", suite.logger)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidCredentials))

	source, err := NewSP500Source("test-key", suite.logger)
	suite.Require().NoError(err)
	suite.Equal(SP500Ticker, source.ticker)
}
