package datasource

import (
	"database/sql"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// DuckDBSource streams bars from a Parquet or CSV file through an in-memory
// DuckDB view. The file must carry time, symbol, open, high, low, close and
// volume columns.
type DuckDBSource struct {
	db  *sql.DB
	log *logger.Logger
}

var _ BarSource = (*DuckDBSource)(nil)

// NewDuckDBSource opens the file and exposes it as an ordered bar stream.
func NewDuckDBSource(path string, log *logger.Logger) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to open database", err)
	}

	var reader string

	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		reader = "read_parquet"
	case ".csv":
		reader = "read_csv_auto"
	default:
		db.Close()

		return nil, errors.Newf(errors.ErrCodeInvalidProvider, "unsupported data file %s", path)
	}

	// CREATE VIEW has no placeholder support.
	if _, err := db.Exec(fmt.Sprintf(`CREATE VIEW bars AS SELECT * FROM %s('%s')`, reader, path)); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "failed to read data file", err)
	}

	log.Debug("Opened bar source", zap.String("path", path))

	return &DuckDBSource{db: db, log: log}, nil
}

func (s *DuckDBSource) ReadAll(start, end optional.Option[time.Time]) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		query := `SELECT time, symbol, open, high, low, close, volume FROM bars`
		where, params := rangeConditions(start, end)
		query += where + ` ORDER BY time ASC`

		rows, err := s.db.Query(query, params...)
		if err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "bar query failed", err))

			return
		}
		defer rows.Close()

		for rows.Next() {
			var bar types.Bar

			err := rows.Scan(&bar.Time, &bar.Symbol, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume)
			if err != nil {
				yield(types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "bar scan failed", err))

				return
			}

			if !yield(bar, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "bar iteration failed", err))
		}
	}
}

func (s *DuckDBSource) Count(start, end optional.Option[time.Time]) (int, error) {
	query := `SELECT COUNT(*) FROM bars`
	where, params := rangeConditions(start, end)
	query += where

	var count int
	if err := s.db.QueryRow(query, params...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "count query failed", err)
	}

	return count, nil
}

func (s *DuckDBSource) Symbols() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "symbol query failed", err)
	}
	defer rows.Close()

	var symbols []string

	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "symbol scan failed", err)
		}

		symbols = append(symbols, symbol)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "symbol iteration failed", err)
	}

	return symbols, nil
}

func (s *DuckDBSource) Close() error {
	return s.db.Close()
}

func rangeConditions(start, end optional.Option[time.Time]) (string, []any) {
	var conditions []string

	var params []any

	if start.IsSome() {
		conditions = append(conditions, fmt.Sprintf("time >= $%d", len(params)+1))
		params = append(params, start.Unwrap())
	}

	if end.IsSome() {
		conditions = append(conditions, fmt.Sprintf("time <= $%d", len(params)+1))
		params = append(params, end.Unwrap())
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), params
}
