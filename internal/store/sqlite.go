package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"stratbench/internal/domain"
	"stratbench/internal/stats"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// migrations are applied in order; the index of the last applied one is
// kept in PRAGMA user_version.
var migrations = []string{
	`CREATE TABLE runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at  INTEGER NOT NULL,
		ticker      TEXT NOT NULL,
		start_date  TEXT NOT NULL,
		end_date    TEXT NOT NULL,
		interval    TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		params      TEXT NOT NULL
	);
	CREATE INDEX runs_strategy ON runs(strategy, created_at);
	CREATE TABLE run_metrics (
		run_id  INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		name    TEXT NOT NULL,
		value   REAL,
		PRIMARY KEY (run_id, name)
	);
	CREATE TABLE run_trades (
		run_id       INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		size         REAL NOT NULL,
		entry_bar    INTEGER NOT NULL,
		exit_bar     INTEGER NOT NULL,
		entry_price  REAL NOT NULL,
		exit_price   REAL NOT NULL,
		entry_time   INTEGER NOT NULL,
		exit_time    INTEGER NOT NULL,
		pl           REAL NOT NULL,
		return_pct   REAL NOT NULL,
		commission   REAL NOT NULL,
		exit_reason  TEXT NOT NULL,
		tag          TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	);`,
	`ALTER TABLE runs ADD COLUMN auto_adjust INTEGER NOT NULL DEFAULT 1;`,
}

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, brings its
// schema up to date and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return err
	}
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run and its metrics in one transaction. NaN and
// infinite metric values are stored as NULL.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) (int64, error) {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return 0, fmt.Errorf("encoding params: %w", err)
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (created_at, ticker, start_date, end_date, interval, auto_adjust, strategy, params)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		created.UnixMilli(), run.Data.Ticker, run.Data.StartDate, run.Data.EndDate,
		string(run.Data.Interval), run.Data.AutoAdjust, run.Strategy, string(params))
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for name, v := range run.Metrics {
		var value any
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			value = v
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_metrics (run_id, name, value) VALUES (?, ?, ?)`, id, name, value); err != nil {
			return 0, fmt.Errorf("inserting metric %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	run.ID = id
	run.CreatedAt = created
	return id, nil
}

// SaveTrades appends the trades of a run.
func (s *SQLiteStore) SaveTrades(ctx context.Context, runID int64, trades []stats.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_trades (run_id, seq, size, entry_bar, exit_bar, entry_price, exit_price,
			entry_time, exit_time, pl, return_pct, commission, exit_reason, tag)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range trades {
		if _, err := stmt.ExecContext(ctx, runID, i, t.Size, t.EntryBar, t.ExitBar, t.EntryPrice, t.ExitPrice,
			t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(), t.PL, t.ReturnPct, t.Commission, t.ExitReason, t.Tag); err != nil {
			return fmt.Errorf("inserting trade %d of run %d: %w", i, runID, err)
		}
	}
	return tx.Commit()
}

// GetRun retrieves a single run with its metrics.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadMetrics(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, strategy string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		selectRuns+` WHERE (? = '' OR strategy = ?) ORDER BY created_at DESC, id DESC LIMIT ?`,
		strategy, strategy, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range runs {
		if err := s.loadMetrics(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// ListTrades returns the stored trades of a run.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID int64) ([]stats.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT size, entry_bar, exit_bar, entry_price, exit_price, entry_time, exit_time,
			pl, return_pct, commission, exit_reason, tag
		 FROM run_trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []stats.Trade
	for rows.Next() {
		var t stats.Trade
		var entry, exit int64
		if err := rows.Scan(&t.Size, &t.EntryBar, &t.ExitBar, &t.EntryPrice, &t.ExitPrice, &entry, &exit,
			&t.PL, &t.ReturnPct, &t.Commission, &t.ExitReason, &t.Tag); err != nil {
			return nil, err
		}
		t.EntryTime = time.UnixMilli(entry).UTC()
		t.ExitTime = time.UnixMilli(exit).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const selectRuns = `SELECT id, created_at, ticker, start_date, end_date, interval, auto_adjust, strategy, params FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var (
		run      RunRecord
		created  int64
		interval string
		params   string
	)
	if err := sc.Scan(&run.ID, &created, &run.Data.Ticker, &run.Data.StartDate, &run.Data.EndDate,
		&interval, &run.Data.AutoAdjust, &run.Strategy, &params); err != nil {
		return nil, err
	}
	run.CreatedAt = time.UnixMilli(created).UTC()
	run.Data.Interval = domain.Interval(interval)
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("decoding params of run %d: %w", run.ID, err)
	}
	return &run, nil
}

func (s *SQLiteStore) loadMetrics(ctx context.Context, run *RunRecord) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM run_metrics WHERE run_id = ?`, run.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	run.Metrics = make(map[string]float64)
	for rows.Next() {
		var name string
		var value sql.NullFloat64
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		if value.Valid {
			run.Metrics[name] = value.Float64
		} else {
			run.Metrics[name] = math.NaN()
		}
	}
	return rows.Err()
}
