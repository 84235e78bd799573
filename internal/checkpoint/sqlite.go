package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/verdant-group/greenwash-cli/internal/model"
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	company_code TEXT NOT NULL,
	period       TEXT NOT NULL,
	company      TEXT NOT NULL,
	stage        TEXT NOT NULL DEFAULT 'fetching',
	artifacts    TEXT NOT NULL DEFAULT '{}',
	last_error   TEXT NOT NULL DEFAULT '',
	archived     INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active
	ON jobs(company_code, period) WHERE archived = 0;
CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage);

CREATE TABLE IF NOT EXISTS assessments (
	company_code  TEXT NOT NULL,
	period        TEXT NOT NULL,
	company       TEXT NOT NULL,
	report_url    TEXT NOT NULL DEFAULT '',
	wordcloud_ref TEXT NOT NULL DEFAULT '',
	claims        TEXT NOT NULL,
	committed_at  DATETIME NOT NULL,
	PRIMARY KEY (company_code, period)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, company model.Company, period string) (*model.AnalysisJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	companyJSON, err := json.Marshal(company)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal company")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, company_code, period, company, stage, artifacts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, '{}', ?, ?)`,
		id, company.Code, period, string(companyJSON), string(model.StageFetching), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert job %s-%s", period, company.Code)
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

func (s *SQLiteStore) GetJob(ctx context.Context, key model.JobKey) (*model.AnalysisJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company, period, stage, artifacts, last_error, created_at, updated_at
		 FROM jobs WHERE company_code = ? AND period = ? AND archived = 0`,
		key.CompanyCode, key.Period,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStore) AdvanceStage(ctx context.Context, job *model.AnalysisJob, to model.Stage) error {
	companyJSON, err := json.Marshal(job.Company)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal company")
	}
	artifactsJSON, err := json.Marshal(job.Artifacts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal artifacts")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET stage = ?, company = ?, artifacts = ?, last_error = '', updated_at = ?
		 WHERE company_code = ? AND period = ? AND archived = 0 AND stage = ?`,
		string(to), string(companyJSON), string(artifactsJSON), time.Now().UTC(),
		job.Company.Code, job.Period, string(job.Stage),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance %s", job.Key())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrCheckpointConflict, "%s: expected stage %s", job.Key(), job.Stage)
	}
	job.Stage = to
	return nil
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, key model.JobKey, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_error = ?, updated_at = ?
		 WHERE company_code = ? AND period = ? AND archived = 0`,
		msg, time.Now().UTC(), key.CompanyCode, key.Period,
	)
	return eris.Wrapf(err, "sqlite: record failure %s", key)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.AnalysisJob, error) {
	query := `SELECT id, company, period, stage, artifacts, last_error, created_at, updated_at
	          FROM jobs WHERE archived = ?`
	args := []any{boolToInt(filter.Archived)}

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.CompanyCode != "" {
		query += ` AND company_code = ?`
		args = append(args, filter.CompanyCode)
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.AnalysisJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) CommitBundle(ctx context.Context, b *model.Bundle) error {
	companyJSON, err := json.Marshal(b.Company)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal company")
	}
	claimsJSON, err := json.Marshal(b.Claims)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal claims")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (company_code, period, company, report_url, wordcloud_ref, claims, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_code, period) DO UPDATE SET
		   company = excluded.company, report_url = excluded.report_url,
		   wordcloud_ref = excluded.wordcloud_ref, claims = excluded.claims,
		   committed_at = excluded.committed_at`,
		b.Company.Code, b.Period, string(companyJSON), b.ReportURL, b.WordCloudRef,
		string(claimsJSON), b.CommittedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: commit bundle %s-%s", b.Period, b.Company.Code)
}

func (s *SQLiteStore) GetBundle(ctx context.Context, key model.JobKey) (*model.Bundle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT company, period, report_url, wordcloud_ref, claims, committed_at
		 FROM assessments WHERE company_code = ? AND period = ?`,
		key.CompanyCode, key.Period,
	)

	var b model.Bundle
	var companyJSON, claimsJSON string
	err := row.Scan(&companyJSON, &b.Period, &b.ReportURL, &b.WordCloudRef, &claimsJSON, &b.CommittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get bundle")
	}
	if err := json.Unmarshal([]byte(companyJSON), &b.Company); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal company")
	}
	if err := json.Unmarshal([]byte(claimsJSON), &b.Claims); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal claims")
	}
	return &b, nil
}

func (s *SQLiteStore) ArchiveJob(ctx context.Context, key model.JobKey) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET archived = 1, updated_at = ?
		 WHERE company_code = ? AND period = ? AND archived = 0`,
		time.Now().UTC(), key.CompanyCode, key.Period,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: archive %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("job not found: %s", key)
	}
	return nil
}

// helpers

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.AnalysisJob, error) {
	var j model.AnalysisJob
	var companyJSON, artifactsJSON, stage string

	err := row.Scan(&j.ID, &companyJSON, &j.Period, &stage, &artifactsJSON, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	j.Stage, err = model.ParseStage(stage)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stored stage")
	}
	if err := json.Unmarshal([]byte(companyJSON), &j.Company); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal company")
	}
	if err := json.Unmarshal([]byte(artifactsJSON), &j.Artifacts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal artifacts")
	}
	return &j, nil
}
