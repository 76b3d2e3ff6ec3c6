package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/exowatch/transit-cli/internal/db"
	"github.com/exowatch/transit-cli/internal/model"
	"github.com/exowatch/transit-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlInsertRun    = `INSERT INTO runs (id, target, request, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`
	sqlUpdateStatus = `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`
	sqlSaveReport   = `UPDATE runs SET report = $1, status = $2, error = NULL, updated_at = $3 WHERE id = $4`
	sqlFailRun      = `UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`
	sqlGetRun       = `SELECT id, request, status, report, error, created_at, updated_at FROM runs WHERE id = $1`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":        sqlInsertRun,
	"update_run_status": sqlUpdateStatus,
	"save_report":       sqlSaveReport,
	"fail_run":          sqlFailRun,
	"get_run":           sqlGetRun,
}

var sampleColumns = []string{"run_id", "idx", "log_l", "weight", "params"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	target     TEXT NOT NULL DEFAULT '',
	request    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_samples (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx    INTEGER NOT NULL,
	log_l  DOUBLE PRECISION NOT NULL,
	weight DOUBLE PRECISION NOT NULL,
	params JSONB NOT NULL,
	PRIMARY KEY (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, req model.FitRequest) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal request")
	}

	err = resilience.Do(ctx, retryConfig("create_run"), func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, sqlInsertRun, id, req.Target, reqJSON, string(model.RunStatusQueued), now, now)
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Request:   req,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return s.exec(ctx, "update_run_status", runID, sqlUpdateStatus, string(status), time.Now().UTC(), runID)
}

func (s *PostgresStore) SaveReport(ctx context.Context, runID string, report *model.PosteriorReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	return s.exec(ctx, "save_report", runID, sqlSaveReport,
		reportJSON, string(reportStatus(report)), time.Now().UTC(), runID)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, msg string) error {
	return s.exec(ctx, "fail_run", runID, sqlFailRun,
		string(model.RunStatusFailed), msg, time.Now().UTC(), runID)
}

// SaveSamples replaces the run's samples, loading the new set with COPY
// inside one transaction.
func (s *PostgresStore) SaveSamples(ctx context.Context, runID string, samples []model.Sample) (int64, error) {
	params := make([][]byte, len(samples))
	for i, smp := range samples {
		b, err := json.Marshal(smp.Params)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal sample %d", i)
		}
		params[i] = b
	}

	n, err := resilience.DoVal(ctx, retryConfig("save_samples"), func(ctx context.Context) (int64, error) {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return 0, err
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		tag, err := tx.Exec(ctx, `UPDATE runs SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), runID)
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 0 {
			return 0, eris.Wrapf(ErrNotFound, "run %s", runID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM run_samples WHERE run_id = $1`, runID); err != nil {
			return 0, err
		}
		n, err := db.CopyFrom(ctx, tx, "run_samples", sampleColumns, len(samples), func(i int) ([]any, error) {
			smp := samples[i]
			return []any{runID, smp.Index, smp.LogL, smp.Weight, params[i]}, nil
		})
		if err != nil {
			return 0, err
		}
		return n, tx.Commit(ctx)
	})
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: save samples for run %s", runID)
	}
	return n, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, sqlGetRun, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) GetSamples(ctx context.Context, runID string) ([]model.Sample, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT idx, log_l, weight, params FROM run_samples WHERE run_id = $1 ORDER BY idx`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get samples")
	}
	defer rows.Close()

	var out []model.Sample
	for rows.Next() {
		var smp model.Sample
		var params []byte
		if err := rows.Scan(&smp.Index, &smp.LogL, &smp.Weight, &params); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sample")
		}
		if err := json.Unmarshal(params, &smp.Params); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sample params")
		}
		out = append(out, smp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate samples")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, request, status, report, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Target != "" {
		query += ` AND target = ` + arg(filter.Target)
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) exec(ctx context.Context, op, runID, query string, args ...any) error {
	tag, err := resilience.DoVal(ctx, retryConfig(op), func(ctx context.Context) (pgconn.CommandTag, error) {
		return s.pool.Exec(ctx, query, args...)
	})
	if err != nil {
		return eris.Wrapf(err, "postgres: %s %s", op, runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var reqJSON, reportJSON []byte
	var errMsg *string

	if err := row.Scan(&r.ID, &reqJSON, &r.Status, &reportJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	msg := ""
	if errMsg != nil {
		msg = *errMsg
	}
	if err := decodeRun(&r, reqJSON, reportJSON, msg); err != nil {
		return nil, err
	}
	return &r, nil
}
