package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/types"
	"github.com/driftlab/drift-trading/pkg/errors"
)

// quantityEpsilon absorbs float drift when comparing quantities and cash.
const quantityEpsilon = 1e-9

// Ledger is the authoritative record of cash, position, trade log and
// portfolio value series for one run. Cash and position live in memory;
// every applied fill and every snapshot is also written to DuckDB so the
// log can be queried and exported.
type Ledger struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType

	symbol       string
	feeRate      float64
	slippageRate float64
	cash         float64
	position     types.Position
}

// NewLedger opens an in-memory DuckDB store seeded with the initial cash
// balance and a flat position. The fee and slippage rates are the worst-case
// fill costs reserved when sizing a buy.
func NewLedger(logger *logger.Logger, symbol string, initialCapital float64, feeRate float64, slippageRate float64) (*Ledger, error) {
	if initialCapital <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "initial capital must be positive, got %f", initialCapital)
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerStorage, "failed to open ledger database", err)
	}

	return &Ledger{
		db:           db,
		logger:       logger,
		sq:           squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		symbol:       symbol,
		feeRate:      feeRate,
		slippageRate: slippageRate,
		cash:         initialCapital,
		position: types.Position{
			Symbol:       symbol,
			Quantity:     0,
			AvgCostBasis: 0,
		},
	}, nil
}

// Initialize creates the trade log and snapshot tables.
func (l *Ledger) Initialize() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP,
			side TEXT,
			price DOUBLE,
			size DOUBLE,
			fee DOUBLE,
			pnl_percent DOUBLE,
			has_pnl BOOLEAN,
			resulting_cash DOUBLE,
			resulting_quantity DOUBLE,
			resulting_cost_basis DOUBLE,
			resulting_target DOUBLE,
			resulting_stop DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to create trades table", err)
	}

	_, err = l.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			timestamp TIMESTAMP,
			total_value DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to create snapshots table", err)
	}

	return nil
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 {
	return l.cash
}

// Position returns the current position.
func (l *Ledger) Position() types.Position {
	return l.position
}

// TotalValue returns cash plus the position valued at the given price.
func (l *Ledger) TotalValue(price float64) float64 {
	total, _ := decimal.NewFromFloat(l.cash).
		Add(decimal.NewFromFloat(l.position.Quantity).Mul(decimal.NewFromFloat(price))).
		Float64()

	return total
}

// SizeIntent converts a trade intent into an executable order at the bar's
// close price. The size fraction is clamped to [0, 1]; Buy sizing reserves
// room for the fee and for worst-case slippage so a full-fraction buy still
// applies when the fill comes back at the slipped price. Hold intents and
// intents that size to nothing return None.
func (l *Ledger) SizeIntent(intent types.TradeIntent, bar types.PriceBar) (optional.Option[types.Order], error) {
	if intent.Side == types.SideHold {
		return optional.None[types.Order](), nil
	}

	if err := intent.Validate(); err != nil {
		return optional.None[types.Order](), err
	}

	fraction := intent.SizeFraction
	if fraction < 0 {
		fraction = 0
	}

	if fraction > 1 {
		fraction = 1
	}

	price := bar.Close
	if price <= 0 {
		return optional.None[types.Order](), errors.Newf(errors.ErrCodeInvalidParameter, "bar close price must be positive, got %f", price)
	}

	var quantity float64

	switch intent.Side {
	case types.SideBuy:
		budget := decimal.NewFromFloat(l.cash).Mul(decimal.NewFromFloat(fraction))
		unitCost := decimal.NewFromFloat(price).
			Mul(decimal.NewFromFloat(1 + l.slippageRate)).
			Mul(decimal.NewFromFloat(1 + l.feeRate))
		quantity, _ = budget.Div(unitCost).Float64()
	case types.SideSell:
		quantity, _ = decimal.NewFromFloat(l.position.Quantity).Mul(decimal.NewFromFloat(fraction)).Float64()
	}

	if quantity <= quantityEpsilon {
		return optional.None[types.Order](), nil
	}

	order := types.Order{
		ID:          uuid.New().String(),
		Symbol:      l.symbol,
		Side:        intent.Side,
		Quantity:    quantity,
		Price:       price,
		Timestamp:   bar.Time,
		Reason:      intent.Reason,
		TargetPrice: intent.TargetPrice,
		StopPrice:   intent.StopPrice,
	}

	return optional.Some(order), nil
}

// ApplyFill applies a filled execution result to the ledger: it validates
// the fill against current cash and position, appends an immutable trade
// record, and updates cash and position. A failed apply leaves the ledger
// exactly as it was.
func (l *Ledger) ApplyFill(order types.Order, fill types.FillResult) (types.TradeRecord, error) {
	switch fill.Status {
	case types.FillStatusFilled:
	case types.FillStatusRejected:
		return types.TradeRecord{}, errors.Newf(errors.ErrCodeOrderRejected, "rejected order cannot be applied: %s", fill.Reason)
	case types.FillStatusPending:
		return types.TradeRecord{}, errors.Newf(errors.ErrCodePendingExpired, "unconfirmed order cannot be applied: %s", fill.Reason)
	default:
		return types.TradeRecord{}, errors.Newf(errors.ErrCodeInvalidParameter, "unknown fill status %s", fill.Status)
	}

	if fill.FillSize <= 0 || fill.FillPrice <= 0 {
		return types.TradeRecord{}, errors.Newf(errors.ErrCodeInvalidParameter, "fill must have positive size and price, got size=%f price=%f", fill.FillSize, fill.FillPrice)
	}

	sizeDec := decimal.NewFromFloat(fill.FillSize)
	priceDec := decimal.NewFromFloat(fill.FillPrice)
	notionalDec := sizeDec.Mul(priceDec)
	feeDec := notionalDec.Mul(decimal.NewFromFloat(l.feeRate))
	fee, _ := feeDec.Float64()

	newCash := l.cash
	newPosition := l.position
	pnlPercent := optional.None[float64]()

	switch order.Side {
	case types.SideBuy:
		cost, _ := notionalDec.Add(feeDec).Float64()
		if cost > l.cash+quantityEpsilon {
			return types.TradeRecord{}, errors.Newf(errors.ErrCodeInsufficientFunds,
				"buy cost %f exceeds cash %f", cost, l.cash)
		}

		newCash, _ = decimal.NewFromFloat(l.cash).Sub(notionalDec).Sub(feeDec).Float64()

		oldQtyDec := decimal.NewFromFloat(l.position.Quantity)
		oldCostDec := oldQtyDec.Mul(decimal.NewFromFloat(l.position.AvgCostBasis))
		newQtyDec := oldQtyDec.Add(sizeDec)
		newPosition.Quantity, _ = newQtyDec.Float64()
		newPosition.AvgCostBasis, _ = oldCostDec.Add(notionalDec).Div(newQtyDec).Float64()

		// The entry's exit levels ride on the position until it closes.
		if order.TargetPrice > 0 {
			newPosition.TargetPrice = order.TargetPrice
		}

		if order.StopPrice > 0 {
			newPosition.StopPrice = order.StopPrice
		}
	case types.SideSell:
		if fill.FillSize > l.position.Quantity+quantityEpsilon {
			return types.TradeRecord{}, errors.Newf(errors.ErrCodeInsufficientPosition,
				"sell size %f exceeds held quantity %f", fill.FillSize, l.position.Quantity)
		}

		newCash, _ = decimal.NewFromFloat(l.cash).Add(notionalDec).Sub(feeDec).Float64()

		basisDec := decimal.NewFromFloat(l.position.AvgCostBasis)
		if basisDec.IsPositive() {
			pnl, _ := priceDec.Sub(basisDec).Div(basisDec).Mul(decimal.NewFromInt(100)).Float64()
			pnlPercent = optional.Some(pnl)
		}

		remaining, _ := decimal.NewFromFloat(l.position.Quantity).Sub(sizeDec).Float64()
		if remaining <= quantityEpsilon {
			newPosition.Quantity = 0
			newPosition.AvgCostBasis = 0
			newPosition.TargetPrice = 0
			newPosition.StopPrice = 0
		} else {
			newPosition.Quantity = remaining
		}
	default:
		return types.TradeRecord{}, errors.Newf(errors.ErrCodeInvalidParameter, "cannot apply fill for side %s", order.Side)
	}

	record := types.TradeRecord{
		ID:                order.ID,
		Timestamp:         order.Timestamp,
		Side:              order.Side,
		Price:             fill.FillPrice,
		Size:              fill.FillSize,
		Fee:               fee,
		ProfitLossPercent: pnlPercent,
		ResultingCash:     newCash,
		ResultingPosition: newPosition,
	}

	tx, err := l.db.Begin()
	if err != nil {
		return types.TradeRecord{}, errors.Wrap(errors.ErrCodeLedgerStorage, "failed to begin transaction", err)
	}

	insertQuery := l.sq.
		Insert("trades").
		Columns(
			"id", "timestamp", "side", "price", "size", "fee",
			"pnl_percent", "has_pnl", "resulting_cash", "resulting_quantity", "resulting_cost_basis",
			"resulting_target", "resulting_stop",
		).
		Values(
			record.ID, record.Timestamp, record.Side, record.Price, record.Size, record.Fee,
			pnlPercent.TakeOr(0), pnlPercent.IsSome(), record.ResultingCash,
			newPosition.Quantity, newPosition.AvgCostBasis,
			newPosition.TargetPrice, newPosition.StopPrice,
		).
		RunWith(tx)

	if _, err := insertQuery.Exec(); err != nil {
		tx.Rollback()

		return types.TradeRecord{}, errors.Wrap(errors.ErrCodeLedgerStorage, "failed to insert trade", err)
	}

	if err := tx.Commit(); err != nil {
		return types.TradeRecord{}, errors.Wrap(errors.ErrCodeLedgerStorage, "failed to commit trade", err)
	}

	l.cash = newCash
	l.position = newPosition

	l.logger.Debug("Applied fill",
		zap.String("side", string(order.Side)),
		zap.Float64("price", fill.FillPrice),
		zap.Float64("size", fill.FillSize),
		zap.Float64("cash", l.cash),
		zap.Float64("quantity", l.position.Quantity),
	)

	return record, nil
}

// RecordSnapshot appends one portfolio value observation for the bar.
// Snapshots are never mutated after they are written.
func (l *Ledger) RecordSnapshot(timestamp time.Time, price float64) (types.PortfolioSnapshot, error) {
	snapshot := types.PortfolioSnapshot{
		Timestamp:  timestamp,
		TotalValue: l.TotalValue(price),
	}

	insertQuery := l.sq.
		Insert("snapshots").
		Columns("timestamp", "total_value").
		Values(snapshot.Timestamp, snapshot.TotalValue).
		RunWith(l.db)

	if _, err := insertQuery.Exec(); err != nil {
		return types.PortfolioSnapshot{}, errors.Wrap(errors.ErrCodeLedgerStorage, "failed to insert snapshot", err)
	}

	return snapshot, nil
}

// TradeLog returns every applied trade in chronological order.
func (l *Ledger) TradeLog() ([]types.TradeRecord, error) {
	selectQuery := l.sq.
		Select(
			"id", "timestamp", "side", "price", "size", "fee",
			"pnl_percent", "has_pnl", "resulting_cash", "resulting_quantity", "resulting_cost_basis",
			"resulting_target", "resulting_stop",
		).
		From("trades").
		OrderBy("timestamp ASC").
		RunWith(l.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerStorage, "failed to query trades", err)
	}
	defer rows.Close()

	var records []types.TradeRecord

	for rows.Next() {
		var (
			record     types.TradeRecord
			pnlPercent float64
			hasPnl     bool
		)

		err := rows.Scan(
			&record.ID,
			&record.Timestamp,
			&record.Side,
			&record.Price,
			&record.Size,
			&record.Fee,
			&pnlPercent,
			&hasPnl,
			&record.ResultingCash,
			&record.ResultingPosition.Quantity,
			&record.ResultingPosition.AvgCostBasis,
			&record.ResultingPosition.TargetPrice,
			&record.ResultingPosition.StopPrice,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeLedgerStorage, "failed to scan trade", err)
		}

		record.ResultingPosition.Symbol = l.symbol
		record.ProfitLossPercent = optional.None[float64]()

		if hasPnl {
			record.ProfitLossPercent = optional.Some(pnlPercent)
		}

		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerStorage, "error iterating trades", err)
	}

	return records, nil
}

// ValueSeries returns every snapshot in chronological order.
func (l *Ledger) ValueSeries() ([]types.PortfolioSnapshot, error) {
	selectQuery := l.sq.
		Select("timestamp", "total_value").
		From("snapshots").
		OrderBy("timestamp ASC").
		RunWith(l.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerStorage, "failed to query snapshots", err)
	}
	defer rows.Close()

	var snapshots []types.PortfolioSnapshot

	for rows.Next() {
		var snapshot types.PortfolioSnapshot
		if err := rows.Scan(&snapshot.Timestamp, &snapshot.TotalValue); err != nil {
			return nil, errors.Wrap(errors.ErrCodeLedgerStorage, "failed to scan snapshot", err)
		}

		snapshots = append(snapshots, snapshot)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerStorage, "error iterating snapshots", err)
	}

	return snapshots, nil
}

// Write exports the trade log and snapshots to Parquet files in the given
// directory.
func (l *Ledger) Write(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to create results directory", err)
	}

	tradesPath := filepath.Join(path, "trades.parquet")
	if _, err := l.db.Exec(fmt.Sprintf(`COPY trades TO '%s' (FORMAT PARQUET)`, tradesPath)); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to export trades to Parquet", err)
	}

	snapshotsPath := filepath.Join(path, "snapshots.parquet")
	if _, err := l.db.Exec(fmt.Sprintf(`COPY snapshots TO '%s' (FORMAT PARQUET)`, snapshotsPath)); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to export snapshots to Parquet", err)
	}

	l.logger.Info("Exported ledger to Parquet files",
		zap.String("trades", tradesPath),
		zap.String("snapshots", snapshotsPath),
	)

	return nil
}

// Cleanup drops and recreates the ledger tables.
func (l *Ledger) Cleanup() error {
	_, err := l.db.Exec(`
		DROP TABLE IF EXISTS trades;
		DROP TABLE IF EXISTS snapshots;
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerStorage, "failed to drop ledger tables", err)
	}

	return l.Initialize()
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
