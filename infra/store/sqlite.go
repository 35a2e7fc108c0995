// Package store persists fitted parameters and validation reports in SQLite
// so benchmark runs can be compared against golden records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/sohbench/core/benchmark"
	"github.com/kilianp07/sohbench/core/model"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("store: not found")

// SQLiteStore persists parameters and reports in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS params (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    fitted_at INTEGER NOT NULL,
    record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    params_id TEXT NOT NULL,
    dataset TEXT NOT NULL,
    scope TEXT NOT NULL,
    fold INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_run ON reports(run_id);
CREATE TABLE IF NOT EXISTS missing_cells (
    run_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    dataset TEXT NOT NULL,
    scope TEXT NOT NULL,
    fold INTEGER NOT NULL,
    error_kind TEXT NOT NULL,
    reason TEXT NOT NULL
);`

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// SaveParams inserts or replaces a parameter set. Parameter IDs are derived
// from the training data, so saving the same fit twice is a no-op.
func (s *SQLiteStore) SaveParams(ctx context.Context, p model.ModelParameters) error {
	return saveParams(ctx, s.db, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveParams(ctx context.Context, db execer, p model.ModelParameters) error {
	if p.ID == "" {
		return fmt.Errorf("store: parameters without id")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO params (id, model, fitted_at, record) VALUES (?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET fitted_at = excluded.fitted_at, record = excluded.record`,
		p.ID, p.Model, p.FittedAt.UnixNano(), string(b))
	return err
}

// LoadParams returns the parameter set with the given id.
func (s *SQLiteStore) LoadParams(ctx context.Context, id string) (model.ModelParameters, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM params WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ModelParameters{}, fmt.Errorf("params %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ModelParameters{}, err
	}
	var p model.ModelParameters
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return model.ModelParameters{}, fmt.Errorf("unmarshal params: %w", err)
	}
	return p, nil
}

// LatestParams returns the most recently fitted parameter set of a model.
func (s *SQLiteStore) LatestParams(ctx context.Context, modelName string) (model.ModelParameters, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM params WHERE model = ? ORDER BY fitted_at DESC LIMIT 1`, modelName).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ModelParameters{}, fmt.Errorf("params for %s: %w", modelName, ErrNotFound)
	}
	if err != nil {
		return model.ModelParameters{}, err
	}
	return s.LoadParams(ctx, id)
}

// SaveReport appends a validation report under runID.
func (s *SQLiteStore) SaveReport(ctx context.Context, runID string, rep model.ValidationReport) error {
	return saveReport(ctx, s.db, runID, rep)
}

func saveReport(ctx context.Context, db execer, runID string, rep model.ValidationReport) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO reports (run_id, model_id, params_id, dataset, scope, fold, created_at, record)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rep.ModelID, rep.ParamsID, rep.Dataset, rep.Scope, rep.Fold, rep.CreatedAt.UnixNano(), string(b))
	return err
}

// SaveTable stores every completed cell's parameters and report, and the
// reason of every missing cell, in one transaction.
func (s *SQLiteStore) SaveTable(ctx context.Context, t benchmark.Table) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, c := range t.Cells {
		if c.Status != benchmark.StatusOK {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO missing_cells (run_id, model_id, dataset, scope, fold, error_kind, reason)
                VALUES (?, ?, ?, ?, ?, ?, ?)`,
				t.RunID, c.Model, c.Dataset, c.Scope, c.Fold, string(c.ErrorKind), c.Reason); err != nil {
				return err
			}
			continue
		}
		if c.Params != nil {
			if err = saveParams(ctx, tx, *c.Params); err != nil {
				return err
			}
		}
		if c.Report != nil {
			if err = saveReport(ctx, tx, t.RunID, *c.Report); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ReportQuery filters Reports. Empty fields match everything.
type ReportQuery struct {
	RunID   string
	ModelID string
	Dataset string
}

// Reports returns the reports matching q in insertion order.
func (s *SQLiteStore) Reports(ctx context.Context, q ReportQuery) ([]model.ValidationReport, error) {
	var args []any
	query := `SELECT record FROM reports WHERE 1=1`
	if q.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, q.RunID)
	}
	if q.ModelID != "" {
		query += ` AND model_id = ?`
		args = append(args, q.ModelID)
	}
	if q.Dataset != "" {
		query += ` AND dataset = ?`
		args = append(args, q.Dataset)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.ValidationReport
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r model.ValidationReport
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// MissingCell is a stored benchmark cell without result.
type MissingCell struct {
	Model     string
	Dataset   string
	Scope     string
	Fold      int
	ErrorKind model.ErrorKind
	Reason    string
}

// Missing returns the missing cells of a run.
func (s *SQLiteStore) Missing(ctx context.Context, runID string) ([]MissingCell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, dataset, scope, fold, error_kind, reason FROM missing_cells WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []MissingCell
	for rows.Next() {
		var c MissingCell
		var kind string
		if err := rows.Scan(&c.Model, &c.Dataset, &c.Scope, &c.Fold, &kind, &c.Reason); err != nil {
			return nil, err
		}
		c.ErrorKind = model.ErrorKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
