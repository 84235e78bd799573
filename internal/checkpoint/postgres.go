package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/verdant-group/greenwash-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries prepared on each new
// connection.
var preparedStatements = map[string]string{
	"get_job": `SELECT id, company, period, stage, artifacts, last_error, created_at, updated_at
	            FROM jobs WHERE company_code = $1 AND period = $2 AND archived = false`,
	"advance_stage": `UPDATE jobs SET stage = $1, company = $2, artifacts = $3, last_error = '', updated_at = $4
	                  WHERE company_code = $5 AND period = $6 AND archived = false AND stage = $7`,
	"record_failure": `UPDATE jobs SET last_error = $1, updated_at = $2
	                   WHERE company_code = $3 AND period = $4 AND archived = false`,
}

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
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_code TEXT NOT NULL,
	period       TEXT NOT NULL,
	company      JSONB NOT NULL,
	stage        TEXT NOT NULL DEFAULT 'fetching',
	artifacts    JSONB NOT NULL DEFAULT '{}',
	last_error   TEXT NOT NULL DEFAULT '',
	archived     BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active
	ON jobs(company_code, period) WHERE archived = false;
CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage);

CREATE TABLE IF NOT EXISTS assessments (
	company_code  TEXT NOT NULL,
	period        TEXT NOT NULL,
	company       JSONB NOT NULL,
	report_url    TEXT NOT NULL DEFAULT '',
	wordcloud_ref TEXT NOT NULL DEFAULT '',
	claims        JSONB NOT NULL,
	committed_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (company_code, period)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, company model.Company, period string) (*model.AnalysisJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	companyJSON, err := json.Marshal(company)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal company")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, company_code, period, company, stage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, company.Code, period, companyJSON, string(model.StageFetching), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert job %s-%s", period, company.Code)
	}

	return &model.AnalysisJob{
		ID:        id,
		Company:   company,
		Period:    period,
		Stage:     model.StageFetching,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, key model.JobKey) (*model.AnalysisJob, error) {
	var j model.AnalysisJob
	var companyJSON, artifactsJSON []byte
	var stage string

	err := s.pool.QueryRow(ctx,
		`SELECT id, company, period, stage, artifacts, last_error, created_at, updated_at
		 FROM jobs WHERE company_code = $1 AND period = $2 AND archived = false`,
		key.CompanyCode, key.Period,
	).Scan(&j.ID, &companyJSON, &j.Period, &stage, &artifactsJSON, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", key)
	}

	j.Stage, err = model.ParseStage(stage)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stored stage")
	}
	if err := json.Unmarshal(companyJSON, &j.Company); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal company")
	}
	if err := json.Unmarshal(artifactsJSON, &j.Artifacts); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal artifacts")
	}
	return &j, nil
}

func (s *PostgresStore) AdvanceStage(ctx context.Context, job *model.AnalysisJob, to model.Stage) error {
	companyJSON, err := json.Marshal(job.Company)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal company")
	}
	artifactsJSON, err := json.Marshal(job.Artifacts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal artifacts")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET stage = $1, company = $2, artifacts = $3, last_error = '', updated_at = $4
		 WHERE company_code = $5 AND period = $6 AND archived = false AND stage = $7`,
		string(to), companyJSON, artifactsJSON, time.Now().UTC(),
		job.Company.Code, job.Period, string(job.Stage),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: advance %s", job.Key())
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrCheckpointConflict, "%s: expected stage %s", job.Key(), job.Stage)
	}
	job.Stage = to
	return nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, key model.JobKey, msg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET last_error = $1, updated_at = $2
		 WHERE company_code = $3 AND period = $4 AND archived = false`,
		msg, time.Now().UTC(), key.CompanyCode, key.Period,
	)
	return eris.Wrapf(err, "postgres: record failure %s", key)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.AnalysisJob, error) {
	query := `SELECT id, company, period, stage, artifacts, last_error, created_at, updated_at
	          FROM jobs WHERE archived = $1`
	args := []any{filter.Archived}
	argIdx := 2

	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	if filter.CompanyCode != "" {
		query += fmt.Sprintf(` AND company_code = $%d`, argIdx)
		args = append(args, filter.CompanyCode)
		argIdx++
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.AnalysisJob
	for rows.Next() {
		var j model.AnalysisJob
		var companyJSON, artifactsJSON []byte
		var stage string

		if err := rows.Scan(&j.ID, &companyJSON, &j.Period, &stage, &artifactsJSON, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		j.Stage, err = model.ParseStage(stage)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: stored stage")
		}
		if err := json.Unmarshal(companyJSON, &j.Company); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal company")
		}
		if err := json.Unmarshal(artifactsJSON, &j.Artifacts); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal artifacts")
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) CommitBundle(ctx context.Context, b *model.Bundle) error {
	companyJSON, err := json.Marshal(b.Company)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal company")
	}
	claimsJSON, err := json.Marshal(b.Claims)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal claims")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO assessments (company_code, period, company, report_url, wordcloud_ref, claims, committed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (company_code, period) DO UPDATE SET
		   company = $3, report_url = $4, wordcloud_ref = $5, claims = $6, committed_at = $7`,
		b.Company.Code, b.Period, companyJSON, b.ReportURL, b.WordCloudRef, claimsJSON, b.CommittedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: commit bundle %s-%s", b.Period, b.Company.Code)
}

func (s *PostgresStore) GetBundle(ctx context.Context, key model.JobKey) (*model.Bundle, error) {
	var b model.Bundle
	var companyJSON, claimsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT company, period, report_url, wordcloud_ref, claims, committed_at
		 FROM assessments WHERE company_code = $1 AND period = $2`,
		key.CompanyCode, key.Period,
	).Scan(&companyJSON, &b.Period, &b.ReportURL, &b.WordCloudRef, &claimsJSON, &b.CommittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get bundle")
	}
	if err := json.Unmarshal(companyJSON, &b.Company); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal company")
	}
	if err := json.Unmarshal(claimsJSON, &b.Claims); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal claims")
	}
	return &b, nil
}

func (s *PostgresStore) ArchiveJob(ctx context.Context, key model.JobKey) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET archived = true, updated_at = $1
		 WHERE company_code = $2 AND period = $3 AND archived = false`,
		time.Now().UTC(), key.CompanyCode, key.Period,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: archive %s", key)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", key)
	}
	return nil
}
