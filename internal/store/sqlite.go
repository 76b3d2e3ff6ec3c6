package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	target     TEXT NOT NULL DEFAULT '',
	request    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_samples (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx    INTEGER NOT NULL,
	log_l  REAL NOT NULL,
	weight REAL NOT NULL,
	params TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, req model.FitRequest) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal request")
	}

	err = resilience.Do(ctx, retryConfig("create_run"), func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, target, request, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, req.Target, string(reqJSON), string(model.RunStatusQueued), now, now,
		)
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Request:   req,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return s.exec(ctx, "update_run_status", runID,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
}

func (s *SQLiteStore) SaveReport(ctx context.Context, runID string, report *model.PosteriorReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	return s.exec(ctx, "save_report", runID,
		`UPDATE runs SET report = ?, status = ?, error = NULL, updated_at = ? WHERE id = ?`,
		string(reportJSON), string(reportStatus(report)), time.Now().UTC(), runID,
	)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, msg string) error {
	return s.exec(ctx, "fail_run", runID,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), msg, time.Now().UTC(), runID,
	)
}

// SaveSamples replaces the run's samples in a single transaction.
func (s *SQLiteStore) SaveSamples(ctx context.Context, runID string, samples []model.Sample) (int64, error) {
	rows := make([]string, len(samples))
	for i, smp := range samples {
		b, err := json.Marshal(smp.Params)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal sample %d", i)
		}
		rows[i] = string(b)
	}

	err := resilience.Do(ctx, retryConfig("save_samples"), func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return eris.Wrapf(ErrNotFound, "run %s", runID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_samples WHERE run_id = ?`, runID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_samples (run_id, idx, log_l, weight, params) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck
		for i, smp := range samples {
			if _, err := stmt.ExecContext(ctx, runID, smp.Index, smp.LogL, smp.Weight, rows[i]); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: save samples for run %s", runID)
	}
	return int64(len(samples)), nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, request, status, report, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) GetSamples(ctx context.Context, runID string) ([]model.Sample, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, log_l, weight, params FROM run_samples WHERE run_id = ? ORDER BY idx`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get samples")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Sample
	for rows.Next() {
		var smp model.Sample
		var params string
		if err := rows.Scan(&smp.Index, &smp.LogL, &smp.Weight, &params); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sample")
		}
		if err := json.Unmarshal([]byte(params), &smp.Params); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sample params")
		}
		out = append(out, smp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate samples")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, request, status, report, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Target != "" {
		query += ` AND target = ?`
		args = append(args, filter.Target)
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// exec runs a single-row update with retry and reports a missing run as
// ErrNotFound.
func (s *SQLiteStore) exec(ctx context.Context, op, runID, query string, args ...any) error {
	res, err := resilience.DoVal(ctx, retryConfig(op), func(ctx context.Context) (sql.Result, error) {
		return s.db.ExecContext(ctx, query, args...)
	})
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s %s", op, runID)
	}
	return checkRowsAffected(res, runID)
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var reqJSON string
	var reportJSON, errMsg sql.NullString

	err := row.Scan(&r.ID, &reqJSON, &r.Status, &reportJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := decodeRun(&r, []byte(reqJSON), nullBytes(reportJSON), errMsg.String); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullBytes(s sql.NullString) []byte {
	if !s.Valid {
		return nil
	}
	return []byte(s.String)
}

// decodeRun fills the JSON-encoded columns shared by both backends.
func decodeRun(r *model.Run, reqJSON, reportJSON []byte, errMsg string) error {
	if err := json.Unmarshal(reqJSON, &r.Request); err != nil {
		return eris.Wrap(err, "store: unmarshal request")
	}
	if len(reportJSON) > 0 {
		r.Report = &model.PosteriorReport{}
		if err := json.Unmarshal(reportJSON, r.Report); err != nil {
			return eris.Wrap(err, "store: unmarshal report")
		}
	}
	r.Error = errMsg
	return nil
}
