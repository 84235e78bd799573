package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-group/greenwash-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testCompany() model.Company {
	return model.Company{Code: "1101", Name: "Taiwan Cement", Industry: "Cement", Domain: "taiwancement.com"}
}

func TestSQLiteStore_JobLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, testCompany(), "2024")
	require.NoError(t, err)
	assert.Equal(t, model.StageFetching, job.Stage)
	assert.NotEmpty(t, job.ID)

	got, err := s.GetJob(ctx, job.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "Taiwan Cement", got.Company.Name)

	// Advance with artifacts; the checkpoint carries them forward.
	job.Artifacts.DocumentRef = "/tmp/2024_1101_report.pdf"
	job.Artifacts.ReportURL = "https://example.com/2024_1101.pdf"
	require.NoError(t, s.AdvanceStage(ctx, job, model.StageClaimExtraction))
	assert.Equal(t, model.StageClaimExtraction, job.Stage)

	got, err = s.GetJob(ctx, job.Key())
	require.NoError(t, err)
	assert.Equal(t, model.StageClaimExtraction, got.Stage)
	assert.Equal(t, "/tmp/2024_1101_report.pdf", got.Artifacts.DocumentRef)
}

func TestSQLiteStore_GetJob_Missing(t *testing.T) {
	s := newTestSQLite(t)

	job, err := s.GetJob(context.Background(), model.JobKey{CompanyCode: "9999", Period: "2024"})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSQLiteStore_CreateJob_DuplicateActive(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.CreateJob(ctx, testCompany(), "2024")
	require.NoError(t, err)

	_, err = s.CreateJob(ctx, testCompany(), "2024")
	assert.Error(t, err, "one active job per company and period")

	// A different period is fine.
	_, err = s.CreateJob(ctx, testCompany(), "2023")
	assert.NoError(t, err)
}

func TestSQLiteStore_AdvanceStage_StaleSnapshotConflicts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, testCompany(), "2024")
	require.NoError(t, err)

	// Two workers hold the same snapshot; only one transition applies.
	stale := *job
	require.NoError(t, s.AdvanceStage(ctx, job, model.StageClaimExtraction))

	err = s.AdvanceStage(ctx, &stale, model.StageClaimExtraction)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrCheckpointConflict))

	got, err := s.GetJob(ctx, job.Key())
	require.NoError(t, err)
	assert.Equal(t, model.StageClaimExtraction, got.Stage, "exactly one advance applied")
}

func TestSQLiteStore_RecordFailure_KeepsStage(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, testCompany(), "2024")
	require.NoError(t, err)

	require.NoError(t, s.RecordFailure(ctx, job.Key(), "scoring oracle unavailable"))

	got, err := s.GetJob(ctx, job.Key())
	require.NoError(t, err)
	assert.Equal(t, model.StageFetching, got.Stage)
	assert.Equal(t, "scoring oracle unavailable", got.LastError)

	// A successful advance clears the recorded failure.
	require.NoError(t, s.AdvanceStage(ctx, got, model.StageClaimExtraction))
	got, err = s.GetJob(ctx, job.Key())
	require.NoError(t, err)
	assert.Empty(t, got.LastError)
}

func TestSQLiteStore_CommitBundle_Idempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	b := &model.Bundle{
		Company:     testCompany(),
		Period:      "2024",
		ReportURL:   "https://example.com/2024_1101.pdf",
		Claims:      []model.Claim{{ID: "c1", Topic: "GHG Emissions", Category: model.CategoryEnvironmental, RiskScore: 2}},
		CommittedAt: time.Now(),
	}
	require.NoError(t, s.CommitBundle(ctx, b))
	require.NoError(t, s.CommitBundle(ctx, b), "re-commit after a crash must not fail")

	got, err := s.GetBundle(ctx, model.JobKey{CompanyCode: "1101", Period: "2024"})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Claims, 1)
	assert.Equal(t, "GHG Emissions", got.Claims[0].Topic)
}

func TestSQLiteStore_ArchiveAllowsFreshJob(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, testCompany(), "2024")
	require.NoError(t, err)
	require.NoError(t, s.ArchiveJob(ctx, job.Key()))

	got, err := s.GetJob(ctx, job.Key())
	require.NoError(t, err)
	assert.Nil(t, got, "archived jobs are invisible to GetJob")

	_, err = s.CreateJob(ctx, testCompany(), "2024")
	assert.NoError(t, err, "archive frees the slot for a re-analysis")
}

func TestSQLiteStore_ListJobs(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.CreateJob(ctx, testCompany(), "2024")
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, model.Company{Code: "2330", Name: "TSMC"}, "2024")
	require.NoError(t, err)
	require.NoError(t, s.AdvanceStage(ctx, a, model.StageClaimExtraction))

	all, err := s.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byStage, err := s.ListJobs(ctx, JobFilter{Stage: model.StageClaimExtraction})
	require.NoError(t, err)
	require.Len(t, byStage, 1)
	assert.Equal(t, "1101", byStage[0].Company.Code)

	byCompany, err := s.ListJobs(ctx, JobFilter{CompanyCode: "2330"})
	require.NoError(t, err)
	require.Len(t, byCompany, 1)
	assert.Equal(t, model.StageFetching, byCompany[0].Stage)
}
