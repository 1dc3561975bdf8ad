// Package store archives the run's orders, fills, trades and equity curve in
// DuckDB, queryable while the run is in flight and exportable to Parquet
// afterwards.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

type Store struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// SymbolSummary is the per-symbol aggregate computed in SQL over the trades
// table.
type SymbolSummary struct {
	Symbol         string
	NumberOfTrades int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	NetPnL         float64
	TotalFees      float64
}

// NewStore opens an in-memory DuckDB database. Pass a file path to persist
// across restarts.
func NewStore(dsn string, log *logger.Logger) (*Store, error) {
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, "failed to open database", err)
	}

	store := &Store{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := store.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			symbol TEXT,
			side TEXT,
			order_type TEXT,
			quantity DOUBLE,
			limit_price DOUBLE,
			state TEXT,
			filled_quantity DOUBLE,
			avg_fill_price DOUBLE,
			fee DOUBLE,
			reason TEXT,
			message TEXT,
			strategy_name TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to create orders table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			exec_id TEXT PRIMARY KEY,
			order_id TEXT,
			symbol TEXT,
			side TEXT,
			quantity DOUBLE,
			price DOUBLE,
			commission DOUBLE,
			time TIMESTAMP,
			simulated BOOLEAN
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to create fills table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			symbol TEXT,
			direction TEXT,
			quantity DOUBLE,
			entry_time TIMESTAMP,
			exit_time TIMESTAMP,
			avg_entry_price DOUBLE,
			avg_exit_price DOUBLE,
			gross_pnl DOUBLE,
			commission DOUBLE,
			net_pnl DOUBLE,
			strategy_name TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to create trades table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS equity (
			time TIMESTAMP,
			equity DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to create equity table", err)
	}

	return nil
}

// RecordOrder upserts the current lifecycle state of an order. Called on every
// order update, so the table always holds the latest state.
func (s *Store) RecordOrder(order types.Order) error {
	limitPrice := sql.NullFloat64{}
	if order.LimitPrice.IsSome() {
		limitPrice = sql.NullFloat64{Float64: order.LimitPrice.Unwrap(), Valid: true}
	}

	query := s.sq.
		Insert("orders").
		Options("OR REPLACE").
		Columns(
			"order_id", "symbol", "side", "order_type", "quantity", "limit_price",
			"state", "filled_quantity", "avg_fill_price", "fee",
			"reason", "message", "strategy_name", "created_at", "updated_at",
		).
		Values(
			order.ID, order.Symbol, order.Side, order.Type, order.Quantity, limitPrice,
			order.State, order.FilledQuantity, order.AvgFillPrice, order.Fee,
			order.Reason.Reason, order.Reason.Message, order.StrategyName, order.CreatedAt, order.UpdatedAt,
		).
		RunWith(s.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to record order", err)
	}

	return nil
}

// RecordFill archives one execution. Fills are immutable; a duplicate exec id
// is an error here because the lifecycle layers deduplicate before archiving.
func (s *Store) RecordFill(fill types.Fill) error {
	query := s.sq.
		Insert("fills").
		Columns("exec_id", "order_id", "symbol", "side", "quantity", "price", "commission", "time", "simulated").
		Values(fill.ExecID, fill.OrderID, fill.Symbol, fill.Side, fill.Quantity, fill.Price, fill.Commission, fill.Time, fill.Simulated).
		RunWith(s.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to record fill", err)
	}

	return nil
}

// RecordTrade archives one closed round-trip.
func (s *Store) RecordTrade(trade types.Trade) error {
	query := s.sq.
		Insert("trades").
		Columns(
			"symbol", "direction", "quantity", "entry_time", "exit_time",
			"avg_entry_price", "avg_exit_price", "gross_pnl", "commission", "net_pnl", "strategy_name",
		).
		Values(
			trade.Symbol, trade.Direction, trade.Quantity, trade.EntryTime, trade.ExitTime,
			trade.AvgEntryPrice, trade.AvgExitPrice, trade.GrossPnL, trade.Commission, trade.NetPnL, trade.StrategyName,
		).
		RunWith(s.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to record trade", err)
	}

	return nil
}

// RecordEquity archives one equity curve sample.
func (s *Store) RecordEquity(point types.EquityPoint) error {
	query := s.sq.
		Insert("equity").
		Columns("time", "equity").
		Values(point.Time, point.Equity).
		RunWith(s.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to record equity point", err)
	}

	return nil
}

// Trades returns all archived trades in exit-time order.
func (s *Store) Trades() ([]types.Trade, error) {
	query := s.sq.
		Select(
			"symbol", "direction", "quantity", "entry_time", "exit_time",
			"avg_entry_price", "avg_exit_price", "gross_pnl", "commission", "net_pnl", "strategy_name",
		).
		From("trades").
		OrderBy("exit_time").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.Trade

	for rows.Next() {
		var trade types.Trade

		err := rows.Scan(
			&trade.Symbol, &trade.Direction, &trade.Quantity, &trade.EntryTime, &trade.ExitTime,
			&trade.AvgEntryPrice, &trade.AvgExitPrice, &trade.GrossPnL, &trade.Commission, &trade.NetPnL, &trade.StrategyName,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreFailed, "failed to scan trade", err)
		}

		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, "error iterating trades", err)
	}

	return trades, nil
}

// Fills returns all archived fills in time order.
func (s *Store) Fills() ([]types.Fill, error) {
	query := s.sq.
		Select("exec_id", "order_id", "symbol", "side", "quantity", "price", "commission", "time", "simulated").
		From("fills").
		OrderBy("time").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, "failed to query fills", err)
	}
	defer rows.Close()

	var fills []types.Fill

	for rows.Next() {
		var fill types.Fill

		err := rows.Scan(
			&fill.ExecID, &fill.OrderID, &fill.Symbol, &fill.Side,
			&fill.Quantity, &fill.Price, &fill.Commission, &fill.Time, &fill.Simulated,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreFailed, "failed to scan fill", err)
		}

		fills = append(fills, fill)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, "error iterating fills", err)
	}

	return fills, nil
}

// OrderCount returns the number of archived orders.
func (s *Store) OrderCount() (int, error) {
	var count int

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeStoreFailed, "failed to count orders", err)
	}

	return count, nil
}

// Summary aggregates trades per symbol in SQL.
func (s *Store) Summary(symbol string) (SymbolSummary, error) {
	query := `
		SELECT
			COUNT(*) AS total_trades,
			SUM(CASE WHEN net_pnl > 0 THEN 1 ELSE 0 END) AS winning_trades,
			SUM(CASE WHEN net_pnl <= 0 THEN 1 ELSE 0 END) AS losing_trades,
			CASE WHEN COUNT(*) > 0
				THEN CAST(SUM(CASE WHEN net_pnl > 0 THEN 1 ELSE 0 END) AS DOUBLE) / COUNT(*)
				ELSE 0 END AS win_rate,
			COALESCE(SUM(net_pnl), 0) AS net_pnl,
			COALESCE(SUM(commission), 0) AS total_fees
		FROM trades
		WHERE symbol = ?
	`

	summary := SymbolSummary{Symbol: symbol}

	err := s.db.QueryRow(query, symbol).Scan(
		&summary.NumberOfTrades,
		&summary.WinningTrades,
		&summary.LosingTrades,
		&summary.WinRate,
		&summary.NetPnL,
		&summary.TotalFees,
	)
	if err != nil {
		return SymbolSummary{}, errors.Wrap(errors.ErrCodeStoreFailed, "failed to compute summary", err)
	}

	return summary, nil
}

// Export writes every table to Parquet files under the given directory.
func (s *Store) Export(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to create export directory", err)
	}

	for _, table := range []string{"orders", "fills", "trades", "equity"} {
		target := filepath.Join(path, table+".parquet")

		// COPY has no placeholder support in DuckDB.
		if _, err := s.db.Exec(fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, target)); err != nil {
			return errors.Wrapf(errors.ErrCodeStoreFailed, err, "failed to export %s", table)
		}
	}

	s.log.Info("Exported run archive", zap.String("path", path))

	return nil
}

// Cleanup drops and recreates all tables.
func (s *Store) Cleanup() error {
	_, err := s.db.Exec(`
		DROP TABLE IF EXISTS orders;
		DROP TABLE IF EXISTS fills;
		DROP TABLE IF EXISTS trades;
		DROP TABLE IF EXISTS equity;
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to drop tables", err)
	}

	return s.initialize()
}

func (s *Store) Close() error {
	return s.db.Close()
}
