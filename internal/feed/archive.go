package feed

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// ArchiveFeed reads historical bars from a Parquet or CSV archive through
// DuckDB. The optional start and end bounds restrict the replayed range.
type ArchiveFeed struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
	start  optional.Option[time.Time]
	end    optional.Option[time.Time]
}

// NewArchiveFeed opens an in-memory DuckDB instance and exposes the archive
// file at path as a bar source.
func NewArchiveFeed(path string, start optional.Option[time.Time], end optional.Option[time.Time], logger *logger.Logger) (*ArchiveFeed, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFeedUnavailable, "failed to open archive database", err)
	}

	feed := &ArchiveFeed{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		start:  start,
		end:    end,
	}

	if err := feed.initialize(path); err != nil {
		db.Close()

		return nil, err
	}

	return feed, nil
}

// initialize creates a view over the archive file. Parquet and CSV archives
// are both supported, keyed on file extension.
func (f *ArchiveFeed) initialize(path string) error {
	f.logger.Debug("Initializing archive feed", zap.String("path", path))

	var reader string

	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		reader = fmt.Sprintf(`read_parquet('%s')`, path)
	case ".csv":
		reader = fmt.Sprintf(`read_csv_auto('%s')`, path)
	default:
		return errors.Newf(errors.ErrCodeInvalidParameter, "unsupported archive format: %s", path)
	}

	query := fmt.Sprintf(`
		CREATE VIEW price_bars AS
		SELECT * FROM %s;
	`, reader)

	if _, err := f.db.Exec(query); err != nil {
		return errors.Wrapf(errors.ErrCodeFeedUnavailable, err, "failed to load archive %s", path)
	}

	return nil
}

// rangeConditions appends the configured time bounds to a query.
func (f *ArchiveFeed) rangeConditions(query string) (string, []interface{}) {
	var conditions []string

	var params []interface{}

	if f.start.IsSome() {
		conditions = append(conditions, fmt.Sprintf("time >= $%d", len(params)+1))
		params = append(params, f.start.Unwrap())
	}

	if f.end.IsSome() {
		conditions = append(conditions, fmt.Sprintf("time <= $%d", len(params)+1))
		params = append(params, f.end.Unwrap())
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	return query, params
}

// Count returns the number of bars the feed will yield.
func (f *ArchiveFeed) Count() (int, error) {
	query, params := f.rangeConditions("SELECT COUNT(*) FROM price_bars")

	var count int
	if err := f.db.QueryRow(query, params...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count bars", err)
	}

	return count, nil
}

// Bars implements PriceFeed with batched row reads.
func (f *ArchiveFeed) Bars(ctx context.Context) iter.Seq2[types.PriceBar, error] {
	const batchSize = 1000

	return func(yield func(types.PriceBar, error) bool) {
		query, params := f.rangeConditions(`
			SELECT time, symbol, open, high, low, close, volume
			FROM price_bars
		`)
		query += " ORDER BY time ASC"

		stmt, err := f.db.Prepare(query)
		if err != nil {
			yield(types.PriceBar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to prepare bar query", err))

			return
		}
		defer stmt.Close()

		rows, err := stmt.Query(params...)
		if err != nil {
			yield(types.PriceBar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err))

			return
		}
		defer rows.Close()

		batch := make([]types.PriceBar, 0, batchSize)

		flush := func() bool {
			for _, bar := range batch {
				if ctx.Err() != nil {
					return false
				}

				if !yield(bar, nil) {
					return false
				}
			}

			batch = batch[:0]

			return true
		}

		for rows.Next() {
			var bar types.PriceBar

			err := rows.Scan(&bar.Time, &bar.Symbol, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume)
			if err != nil {
				yield(types.PriceBar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan bar", err))

				return
			}

			batch = append(batch, bar)

			if len(batch) >= batchSize {
				if !flush() {
					return
				}
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.PriceBar{}, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating bars", err))

			return
		}

		flush()
	}
}

// Close implements PriceFeed.
func (f *ArchiveFeed) Close() error {
	if f.db != nil {
		return f.db.Close()
	}

	return nil
}
