package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/san-kum/biosim/internal/output"
)

//go:embed schema.sql
var schemaSQL string

// SQLite stores runs in dir/runs.db.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(dir string) (*SQLite, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "runs.db"))
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Save(ctx context.Context, run Run, series output.Series) (string, error) {
	run = prepare(run)
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return "", fmt.Errorf("storage: save: %w", err)
	}
	names, err := json.Marshal(series.Names)
	if err != nil {
		return "", fmt.Errorf("storage: save: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("storage: save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, model, timestamp, seed, run, method, time_limit, print_interval, end_time,
		 row_count, events_fired, degraded_steps, canceled, constraint_violated, metrics, names)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Model,
		run.Timestamp.Format(time.RFC3339Nano),
		run.Seed,
		run.Run,
		run.Method,
		run.TimeLimit,
		run.PrintInterval,
		run.EndTime,
		run.Rows,
		run.EventsFired,
		run.DegradedSteps,
		run.Canceled,
		run.ConstraintViolated,
		string(metrics),
		string(names),
	)
	if err != nil {
		return "", fmt.Errorf("storage: save %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (run_id, idx, t, vals) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("storage: save %s: %w", run.ID, err)
	}
	defer stmt.Close()

	for i, t := range series.Times {
		if _, err := stmt.ExecContext(ctx, run.ID, i, t, encodeRow(series.Values[i])); err != nil {
			return "", fmt.Errorf("storage: save %s row %d: %w", run.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("storage: save %s: %w", run.ID, err)
	}
	return run.ID, nil
}

const runColumns = `id, model, timestamp, seed, run, method, time_limit, print_interval, end_time,
	row_count, events_fired, degraded_steps, canceled, constraint_violated, metrics`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r       Run
		ts      string
		metrics string
	)
	err := row.Scan(&r.ID, &r.Model, &ts, &r.Seed, &r.Run, &r.Method, &r.TimeLimit, &r.PrintInterval,
		&r.EndTime, &r.Rows, &r.EventsFired, &r.DegradedSteps, &r.Canceled, &r.ConstraintViolated, &metrics)
	if err != nil {
		return nil, err
	}
	if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, fmt.Errorf("storage: run %s: timestamp: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
		return nil, fmt.Errorf("storage: run %s: metrics: %w", r.ID, err)
	}
	return &r, nil
}

func (s *SQLite) List(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *SQLite) Load(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

func (s *SQLite) LoadSeries(ctx context.Context, id string) (output.Series, error) {
	var names string
	err := s.db.QueryRowContext(ctx, `SELECT names FROM runs WHERE id = ?`, id).Scan(&names)
	if errors.Is(err, sql.ErrNoRows) {
		return output.Series{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return output.Series{}, fmt.Errorf("storage: load %s: %w", id, err)
	}

	var series output.Series
	if err := json.Unmarshal([]byte(names), &series.Names); err != nil {
		return output.Series{}, fmt.Errorf("storage: load %s: names: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT t, vals FROM samples WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return output.Series{}, fmt.Errorf("storage: load %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t    float64
			vals string
		)
		if err := rows.Scan(&t, &vals); err != nil {
			return output.Series{}, err
		}
		row, err := decodeRow(vals)
		if err != nil {
			return output.Series{}, fmt.Errorf("storage: load %s: %w", id, err)
		}
		series.Times = append(series.Times, t)
		series.Values = append(series.Values, row)
	}
	return series, rows.Err()
}

// Rows are stored as space separated floats so NaN and Inf survive.
func encodeRow(values []float64) string {
	fields := make([]string, len(values))
	for i, v := range values {
		fields[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(fields, " ")
}

func decodeRow(s string) ([]float64, error) {
	fields := strings.Fields(s)
	row := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q", f)
		}
		row[i] = v
	}
	return row, nil
}
