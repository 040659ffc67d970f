package marketdata

import (
	"context"
	"fmt"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// PolygonProvider downloads aggregate bars from the Polygon REST API.
type PolygonProvider struct {
	client     *polygon.Client
	multiplier int
	timespan   models.Timespan
}

// NewPolygonProvider creates a provider for the given candle interval.
// Polygon aggregates support minute, hour and day timespans here.
func NewPolygonProvider(apiKey string, interval types.Interval) (*PolygonProvider, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidCredentials, "polygon api key is required")
	}

	multiplier, timespan, err := intervalToAggParams(interval)
	if err != nil {
		return nil, err
	}

	return &PolygonProvider{
		client:     polygon.New(apiKey),
		multiplier: multiplier,
		timespan:   timespan,
	}, nil
}

func intervalToAggParams(interval types.Interval) (int, models.Timespan, error) {
	var (
		multiplier int
		unit       byte
	)

	if _, err := fmt.Sscanf(string(interval), "%d%c", &multiplier, &unit); err != nil {
		return 0, "", errors.Newf(errors.ErrCodeInvalidParameter, "unsupported interval: %s", interval)
	}

	switch unit {
	case 'm':
		return multiplier, models.Minute, nil
	case 'h':
		return multiplier, models.Hour, nil
	case 'd':
		return multiplier, models.Day, nil
	default:
		return 0, "", errors.Newf(errors.ErrCodeInvalidParameter, "unsupported interval: %s", interval)
	}
}

// Download implements Provider.
func (p *PolygonProvider) Download(ctx context.Context, symbol string, start time.Time, end time.Time, w Writer, onProgress OnProgress) (int, error) {
	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: p.multiplier,
		Timespan:   p.timespan,
		From:       models.Millis(start),
		To:         models.Millis(end),
	}.WithLimit(50000)

	iter := p.client.ListAggs(ctx, params)
	written := 0

	for iter.Next() {
		agg := iter.Item()

		bar := types.PriceBar{
			Symbol: symbol,
			Time:   time.Time(agg.Timestamp).UTC(),
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: agg.Volume,
		}

		if err := w.Write(bar); err != nil {
			return written, err
		}

		written++

		if onProgress != nil && written%binancePageSize == 0 {
			onProgress(written, fmt.Sprintf("Downloading %s aggregates", symbol))
		}
	}

	if iter.Err() != nil {
		return written, errors.Wrapf(errors.ErrCodeFeedUnavailable, iter.Err(), "failed to fetch %s aggregates", symbol)
	}

	if onProgress != nil {
		onProgress(written, fmt.Sprintf("Downloaded %s aggregates", symbol))
	}

	return written, nil
}

var _ Provider = (*PolygonProvider)(nil)
