package marketdata

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// DuckDBWriter buffers bars in an in-memory DuckDB table and exports them
// in one COPY on Finalize. The archive format follows the output path
// extension: .parquet or .csv.
type DuckDBWriter struct {
	db         *sql.DB
	tx         *sql.Tx
	stmt       *sql.Stmt
	outputPath string
}

// NewDuckDBWriter creates a writer targeting the given archive path.
func NewDuckDBWriter(outputPath string) *DuckDBWriter {
	return &DuckDBWriter{
		outputPath: outputPath,
	}
}

// Initialize opens the database, creates the bar table and prepares the
// insert statement inside one transaction.
func (w *DuckDBWriter) Initialize() error {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to open writer database", err)
	}

	w.db = db

	_, err = w.db.Exec(`
		CREATE TABLE IF NOT EXISTS price_bars (
			time TIMESTAMP,
			symbol TEXT,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE
		)
	`)
	if err != nil {
		w.db.Close()

		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to create bar table", err)
	}

	w.tx, err = w.db.Begin()
	if err != nil {
		w.db.Close()

		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to begin transaction", err)
	}

	w.stmt, err = w.tx.Prepare(`
		INSERT INTO price_bars (time, symbol, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		w.tx.Rollback()
		w.db.Close()

		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to prepare insert", err)
	}

	return nil
}

// Write persists one bar inside the open transaction.
func (w *DuckDBWriter) Write(bar types.PriceBar) error {
	if w.stmt == nil {
		return errors.New(errors.ErrCodeLedgerStorage, "writer is not initialized")
	}

	_, err := w.stmt.Exec(
		bar.Time,
		bar.Symbol,
		bar.Open,
		bar.High,
		bar.Low,
		bar.Close,
		bar.Volume,
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to insert bar", err)
	}

	return nil
}

// Finalize commits the transaction and exports the table to the archive
// file, sorted by time so the feed replays in order.
func (w *DuckDBWriter) Finalize() (string, error) {
	if w.tx == nil {
		return "", errors.New(errors.ErrCodeLedgerStorage, "writer has no open transaction")
	}

	if err := w.tx.Commit(); err != nil {
		w.tx.Rollback()

		return "", errors.Wrap(errors.ErrCodeLedgerStorage, "failed to commit bars", err)
	}

	w.tx = nil

	var format string

	switch strings.ToLower(filepath.Ext(w.outputPath)) {
	case ".parquet":
		format = "FORMAT PARQUET"
	case ".csv":
		format = "FORMAT CSV, HEADER"
	default:
		return "", errors.Newf(errors.ErrCodeInvalidParameter, "unsupported archive format: %s", w.outputPath)
	}

	query := fmt.Sprintf(`COPY (SELECT * FROM price_bars ORDER BY time ASC) TO '%s' (%s)`, w.outputPath, format)
	if _, err := w.db.Exec(query); err != nil {
		return "", errors.Wrapf(errors.ErrCodeLedgerStorage, err, "failed to export archive %s", w.outputPath)
	}

	return w.outputPath, nil
}

// Close releases the writer's resources, rolling back any uncommitted
// transaction.
func (w *DuckDBWriter) Close() error {
	if w.stmt != nil {
		w.stmt.Close()
		w.stmt = nil
	}

	if w.tx != nil {
		w.tx.Rollback()
		w.tx = nil
	}

	if w.db != nil {
		err := w.db.Close()
		w.db = nil

		if err != nil {
			return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to close writer database", err)
		}
	}

	return nil
}

var _ Writer = (*DuckDBWriter)(nil)
