package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"
)

const candlesTable = "candles"

// DuckDBStorage stores candles in a DuckDB database. Inserts go through the
// DuckDB Appender API.
type DuckDBStorage struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewDuckDBStorage opens a DuckDB database. dbPath may be ":memory:" for an
// in-memory database.
func NewDuckDBStorage(dbPath string, logger *slog.Logger) (*DuckDBStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// single writer; an in-memory database also lives only as long as its
	// one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStorage{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("component", "duckdb_storage"),
	}, nil
}

// Initialize creates the candles table.
func (d *DuckDBStorage) Initialize(ctx context.Context) error {
	db, err := d.conn()
	if err != nil {
		return NewStorageError("initialize", candlesTable, "", err)
	}

	d.logger.Info("initializing DuckDB storage", "db_path", d.dbPath)

	query := `
	CREATE TABLE IF NOT EXISTS candles (
		timestamp TIMESTAMP NOT NULL, -- UTC
		open DOUBLE NOT NULL,
		high DOUBLE NOT NULL,
		low DOUBLE NOT NULL,
		close DOUBLE NOT NULL,
		volume DOUBLE NOT NULL,
		pair VARCHAR NOT NULL,
		interval_seconds BIGINT NOT NULL,
		created_at TIMESTAMP,
		CONSTRAINT candles_pk PRIMARY KEY (pair, interval_seconds, timestamp),
		CONSTRAINT candles_volume_non_negative CHECK (volume >= 0)
	)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return NewStorageError("initialize", candlesTable, query, fmt.Errorf("failed to create candles table: %w", err))
	}

	index := "CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON candles (timestamp)"
	if _, err := db.ExecContext(ctx, index); err != nil {
		return NewStorageError("initialize", candlesTable, index, fmt.Errorf("failed to create index: %w", err))
	}

	return nil
}

func (d *DuckDBStorage) conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrClosed
	}
	return d.db, nil
}

// Store upserts candles: rows already present for the same pair, interval and
// timestamp are deleted, then the batch is appended.
func (d *DuckDBStorage) Store(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	start := time.Now()

	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return NewInsertError(candlesTable, fmt.Errorf("invalid candle at index %d: %w", i, err))
		}
	}
	candles = dedupe(candles)

	db, err := d.conn()
	if err != nil {
		return NewInsertError(candlesTable, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return NewInsertError(candlesTable, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	if err := deleteExisting(ctx, conn, candles); err != nil {
		return NewInsertError(candlesTable, err)
	}

	var driverConn *duckdb.Conn
	err = conn.Raw(func(dc interface{}) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return NewInsertError(candlesTable, fmt.Errorf("failed to get DuckDB connection: %w", err))
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", candlesTable)
	if err != nil {
		return NewInsertError(candlesTable, fmt.Errorf("failed to create appender: %w", err))
	}
	defer appender.Close()

	createdAt := time.Now().UTC()
	for _, candle := range candles {
		if err := appendCandle(appender, candle, createdAt); err != nil {
			return NewInsertError(candlesTable, fmt.Errorf("failed to append candle %s: %w", candle.String(), err))
		}
	}

	if err := appender.Flush(); err != nil {
		return NewInsertError(candlesTable, fmt.Errorf("failed to flush appender: %w", err))
	}

	d.logger.Debug("stored candles batch", "count", len(candles), "duration", time.Since(start))
	return nil
}

// dedupe keeps the last candle for every pair, interval and timestamp.
func dedupe(candles []models.Candle) []models.Candle {
	type key struct {
		pair     string
		interval int
		ts       int64
	}
	index := make(map[key]int, len(candles))
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		k := key{c.Pair, c.Interval, c.Timestamp.Unix()}
		if i, ok := index[k]; ok {
			out[i] = c
			continue
		}
		index[k] = len(out)
		out = append(out, c)
	}
	return out
}

func deleteExisting(ctx context.Context, conn *sql.Conn, candles []models.Candle) error {
	stmt, err := conn.PrepareContext(ctx, "DELETE FROM candles WHERE pair = ? AND interval_seconds = ? AND timestamp = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Pair, int64(c.Interval), c.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to replace candle %s: %w", c.String(), err)
		}
	}
	return nil
}

func appendCandle(appender *duckdb.Appender, candle models.Candle, createdAt time.Time) error {
	values := make([]float64, 0, 5)
	for _, field := range []struct{ name, value string }{
		{"open", candle.Open},
		{"high", candle.High},
		{"low", candle.Low},
		{"close", candle.Close},
		{"volume", candle.Volume},
	} {
		v, err := decimal.NewFromString(field.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
		f, _ := v.Float64()
		values = append(values, f)
	}

	if err := appender.AppendRow(
		candle.Timestamp.UTC(),
		values[0],
		values[1],
		values[2],
		values[3],
		values[4],
		candle.Pair,
		int64(candle.Interval),
		createdAt,
	); err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}
	return nil
}

// Query implements CandleReader.
func (d *DuckDBStorage) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewQueryError(candlesTable, "", err)
	}

	db, err := d.conn()
	if err != nil {
		return nil, NewQueryError(candlesTable, "", err)
	}

	where, args := buildWhere(req)

	countQuery := "SELECT COUNT(*) FROM candles" + where
	var total int
	if err := db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, NewQueryError(candlesTable, countQuery, fmt.Errorf("failed to count candles: %w", err))
	}

	query := "SELECT timestamp, open, high, low, close, volume, pair, interval_seconds FROM candles" +
		where + " ORDER BY timestamp ASC"
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", req.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError(candlesTable, query, fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		candle, err := scanCandle(rows)
		if err != nil {
			return nil, NewQueryError(candlesTable, query, err)
		}
		candles = append(candles, candle)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(candlesTable, query, fmt.Errorf("row iteration failed: %w", err))
	}

	next := req.Offset + len(candles)
	return &QueryResponse{
		Candles:    candles,
		Total:      total,
		HasMore:    next < total,
		NextOffset: next,
	}, nil
}

func buildWhere(req QueryRequest) (string, []interface{}) {
	conditions := []string{"pair = ?", "interval_seconds = ?"}
	args := []interface{}{req.Pair, int64(req.Interval)}

	if !req.Start.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, req.Start.UTC())
	}
	if !req.End.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, req.End.UTC())
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCandle(row rowScanner) (models.Candle, error) {
	var (
		candle                         models.Candle
		open, high, low, close, volume float64
		interval                       int64
	)
	if err := row.Scan(&candle.Timestamp, &open, &high, &low, &close, &volume, &candle.Pair, &interval); err != nil {
		return models.Candle{}, fmt.Errorf("failed to scan candle: %w", err)
	}

	candle.Timestamp = candle.Timestamp.UTC()
	candle.Interval = int(interval)
	candle.Open = decimal.NewFromFloat(open).String()
	candle.High = decimal.NewFromFloat(high).String()
	candle.Low = decimal.NewFromFloat(low).String()
	candle.Close = decimal.NewFromFloat(close).String()
	candle.Volume = decimal.NewFromFloat(volume).String()
	return candle, nil
}

// GetLatest implements CandleReader.
func (d *DuckDBStorage) GetLatest(ctx context.Context, pair string, interval int) (*models.Candle, error) {
	db, err := d.conn()
	if err != nil {
		return nil, NewQueryError(candlesTable, "", err)
	}

	query := `
		SELECT timestamp, open, high, low, close, volume, pair, interval_seconds
		FROM candles
		WHERE pair = ? AND interval_seconds = ?
		ORDER BY timestamp DESC
		LIMIT 1`

	candle, err := scanCandle(db.QueryRowContext(ctx, query, pair, int64(interval)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, NewQueryError(candlesTable, query, fmt.Errorf("failed to get latest candle: %w", err))
	}
	return &candle, nil
}

// LoadSeries implements models.SeriesLoader.
func (d *DuckDBStorage) LoadSeries(ctx context.Context, pair string, interval int) (*models.Series, error) {
	return loadSeries(ctx, d, pair, interval)
}

// Pairs implements CandleReader.
func (d *DuckDBStorage) Pairs(ctx context.Context, interval int) ([]string, error) {
	db, err := d.conn()
	if err != nil {
		return nil, NewQueryError(candlesTable, "", err)
	}

	query := "SELECT DISTINCT pair FROM candles WHERE interval_seconds = ?"
	rows, err := db.QueryContext(ctx, query, int64(interval))
	if err != nil {
		return nil, NewQueryError(candlesTable, query, err)
	}
	defer rows.Close()

	var pairs []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, NewQueryError(candlesTable, query, err)
		}
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	return pairs, rows.Err()
}

// GetStats implements StorageManager.
func (d *DuckDBStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	db, err := d.conn()
	if err != nil {
		return nil, NewQueryError(candlesTable, "", err)
	}

	stats := &StorageStats{}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*), COUNT(DISTINCT pair) FROM candles").
		Scan(&stats.TotalCandles, &stats.TotalPairs); err != nil {
		return nil, NewQueryError(candlesTable, "", fmt.Errorf("failed to count candles: %w", err))
	}

	if stats.TotalCandles > 0 {
		if err := db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM candles").
			Scan(&stats.EarliestData, &stats.LatestData); err != nil {
			return nil, NewQueryError(candlesTable, "", fmt.Errorf("failed to get time range: %w", err))
		}
		stats.EarliestData = stats.EarliestData.UTC()
		stats.LatestData = stats.LatestData.UTC()
	}

	return stats, nil
}

// HealthCheck runs a trivial query against the database.
func (d *DuckDBStorage) HealthCheck(ctx context.Context) error {
	db, err := d.conn()
	if err != nil {
		return NewStorageError("health_check", "", "", fmt.Errorf("database health check failed: %w", err))
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("database health check failed: %w", err))
	}
	if result != 1 {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("unexpected health check result: %d", result))
	}
	return nil
}

// Close implements StorageManager.
func (d *DuckDBStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		d.logger.Info("closing DuckDB storage")
		if err := d.db.Close(); err != nil {
			return NewStorageError("close", "", "", fmt.Errorf("failed to close database: %w", err))
		}
		d.db = nil
	}
	return nil
}

var _ CandleStore = (*DuckDBStorage)(nil)
