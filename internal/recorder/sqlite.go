package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder stores analysis runs in the analysis_runs table.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *slog.Logger) (*SQLiteRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create recorder directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps ":memory:" databases alive and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Debug("sqlite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			id                 TEXT PRIMARY KEY,
			created_at         INTEGER NOT NULL,
			pair               TEXT NOT NULL,
			interval_seconds   INTEGER NOT NULL,
			records            INTEGER,
			start_from         INTEGER,
			remove_last        INTEGER,
			price_tolerance    REAL,
			volume_tolerance   REAL,
			threshold          INTEGER,
			investment         REAL,
			runs               INTEGER,
			final_balance      REAL,
			total_profit       REAL,
			avg_return_per_year REAL,
			cagr_percent       REAL,
			elapsed_years      REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_pair_ts ON analysis_runs(pair, created_at)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordAnalysis inserts one run.
func (r *SQLiteRecorder) RecordAnalysis(ctx context.Context, rec *AnalysisRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO analysis_runs
		(id, created_at, pair, interval_seconds, records, start_from, remove_last,
		 price_tolerance, volume_tolerance, threshold, investment,
		 runs, final_balance, total_profit, avg_return_per_year, cagr_percent, elapsed_years)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.CreatedAt.Unix(), rec.Pair, rec.Interval, rec.Records, rec.StartFrom, rec.RemoveLast,
		rec.PriceTolerance, rec.VolumeTolerance, rec.Threshold, rec.Investment,
		rec.Runs, rec.FinalBalance, rec.TotalProfit, rec.AvgReturnPerYear, rec.CAGRPercent, rec.ElapsedYears,
	)
	if err != nil {
		return fmt.Errorf("insert analysis run: %w", err)
	}
	return nil
}

// History returns the newest runs for pair, or for every pair when pair is
// empty. limit <= 0 returns all rows.
func (r *SQLiteRecorder) History(ctx context.Context, pair string, limit int) ([]AnalysisRecord, error) {
	query := `SELECT id, created_at, pair, interval_seconds, records, start_from, remove_last,
		price_tolerance, volume_tolerance, threshold, investment,
		runs, final_balance, total_profit, avg_return_per_year, cagr_percent, elapsed_years
		FROM analysis_runs`
	var args []interface{}
	if pair != "" {
		query += " WHERE pair = ?"
		args = append(args, pair)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analysis runs: %w", err)
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		var rec AnalysisRecord
		var created int64
		if err := rows.Scan(&rec.ID, &created, &rec.Pair, &rec.Interval, &rec.Records, &rec.StartFrom, &rec.RemoveLast,
			&rec.PriceTolerance, &rec.VolumeTolerance, &rec.Threshold, &rec.Investment,
			&rec.Runs, &rec.FinalBalance, &rec.TotalProfit, &rec.AvgReturnPerYear, &rec.CAGRPercent, &rec.ElapsedYears); err != nil {
			return nil, fmt.Errorf("scan analysis run: %w", err)
		}
		rec.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
