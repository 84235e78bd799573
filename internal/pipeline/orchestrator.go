// Package pipeline sequences the analysis stages for a job: fetch the
// report, extract claims, collect news, cross-check, validate evidence, and
// persist the finished assessment. Every stage transition is checkpointed,
// so an interrupted job resumes at the stage it was in, never earlier.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verdant-group/greenwash-cli/internal/checkpoint"
	"github.com/verdant-group/greenwash-cli/internal/model"
	"github.com/verdant-group/greenwash-cli/internal/oracle"
	"github.com/verdant-group/greenwash-cli/pkg/reports"
)

// ReportSource fetches a company's sustainability report for a period.
type ReportSource interface {
	Fetch(ctx context.Context, companyCode, period string) (*reports.Report, error)
}

// Analyzer runs the model-backed analysis calls.
type Analyzer interface {
	ExtractClaims(ctx context.Context, in oracle.ExtractInput) ([]model.Claim, error)
	CrossCheck(ctx context.Context, in oracle.CrossCheckInput) ([]model.Claim, error)
}

// NewsCollector gathers coverage for every topic, best effort.
type NewsCollector interface {
	FetchAll(ctx context.Context, topics []model.Topic) map[string]model.TopicOutcome
}

// EvidenceValidator settles evidence liveness across a claim set.
type EvidenceValidator interface {
	ValidateAll(ctx context.Context, company model.Company, period string, claims []model.Claim) []model.Claim
}

// SideArtifact produces the word-frequency artifact from report text.
type SideArtifact interface {
	Generate(ctx context.Context, key model.JobKey, text string) (string, error)
}

// TextExtractor turns the fetched document bytes into analyzable text.
type TextExtractor interface {
	Extract(data []byte) (string, error)
}

// WeightSource supplies the framework topic weights for an industry.
type WeightSource interface {
	PromptJSON(industry string) (string, error)
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Store     checkpoint.Store
	Reports   ReportSource
	Analyzer  Analyzer
	News      NewsCollector
	Validator EvidenceValidator
	WordCloud SideArtifact
	Extractor TextExtractor
	Weights   WeightSource
}

// Config tunes the orchestrator.
type Config struct {
	DataDir string
}

// Orchestrator owns job progression. All stage work flows through Advance,
// guarded per job key so no two invocations drive the same job at once.
type Orchestrator struct {
	deps Deps
	cfg  Config

	mu       sync.Mutex
	inflight map[model.JobKey]bool
}

func New(deps Deps, cfg Config) *Orchestrator {
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		inflight: make(map[model.JobKey]bool),
	}
}

// Start returns the active job for the company and period, creating one at
// the fetching stage when none exists. An existing job is returned as-is,
// which is how a repeated request coalesces onto the in-flight analysis.
func (o *Orchestrator) Start(ctx context.Context, companyCode, period string) (*model.AnalysisJob, error) {
	key := model.JobKey{CompanyCode: companyCode, Period: period}
	job, err := o.deps.Store.GetJob(ctx, key)
	if err != nil {
		return nil, err
	}
	if job != nil {
		return job, nil
	}
	return o.deps.Store.CreateJob(ctx, model.Company{Code: companyCode}, period)
}

// Lookup returns the active job for the key, or (nil, nil) when none exists.
func (o *Orchestrator) Lookup(ctx context.Context, key model.JobKey) (*model.AnalysisJob, error) {
	return o.deps.Store.GetJob(ctx, key)
}

// Bundle returns the committed assessment for the key, or (nil, nil).
func (o *Orchestrator) Bundle(ctx context.Context, key model.JobKey) (*model.Bundle, error) {
	return o.deps.Store.GetBundle(ctx, key)
}

// Advance executes exactly one stage of the job and checkpoints the
// transition. On failure the job stays at its stage with the error
// recorded, so a retry re-enters the same stage. A job already being
// driven by another invocation is rejected with ErrJobInFlight.
func (o *Orchestrator) Advance(ctx context.Context, key model.JobKey) (*model.AnalysisJob, error) {
	if !o.acquire(key) {
		return nil, eris.Wrapf(model.ErrJobInFlight, "job %s", key)
	}
	defer o.release(key)
	return o.advanceLocked(ctx, key)
}

// Run drives the job until it is archived or a stage fails. The in-flight
// guard is held for the whole run.
func (o *Orchestrator) Run(ctx context.Context, key model.JobKey) (*model.AnalysisJob, error) {
	if !o.acquire(key) {
		return nil, eris.Wrapf(model.ErrJobInFlight, "job %s", key)
	}
	defer o.release(key)

	for {
		job, err := o.advanceLocked(ctx, key)
		if err != nil || job == nil {
			return job, err
		}
		if err := ctx.Err(); err != nil {
			return job, eris.Wrapf(err, "job %s", key)
		}
	}
}

// advanceLocked loads a fresh snapshot and executes its current stage. The
// caller holds the in-flight guard. A nil job with nil error means the job
// finished and was archived.
func (o *Orchestrator) advanceLocked(ctx context.Context, key model.JobKey) (*model.AnalysisJob, error) {
	job, err := o.deps.Store.GetJob(ctx, key)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	from := job.Stage
	if err := o.step(ctx, job); err != nil {
		// A lost CAS race must leave no trace; everything else is noted on
		// the job for the status endpoint.
		if !errors.Is(err, model.ErrCheckpointConflict) {
			if rerr := o.deps.Store.RecordFailure(context.WithoutCancel(ctx), key, err.Error()); rerr != nil {
				zap.L().Error("recording stage failure", zap.String("job", key.String()), zap.Error(rerr))
			}
		}
		zap.L().Warn("stage failed",
			zap.String("job", key.String()),
			zap.String("stage", string(from)),
			zap.Error(err),
		)
		return job, err
	}

	zap.L().Info("stage complete",
		zap.String("job", key.String()),
		zap.String("from", string(from)),
		zap.String("to", string(job.Stage)),
	)

	if job.Stage == model.StagePersisted && from == model.StagePersisted {
		// The terminal step archived the job.
		return nil, nil
	}
	return job, nil
}

func (o *Orchestrator) step(ctx context.Context, job *model.AnalysisJob) error {
	switch job.Stage {
	case model.StageFetching:
		return o.runFetch(ctx, job)
	case model.StageClaimExtraction:
		return o.runExtraction(ctx, job)
	case model.StageNewsCrossCheck:
		return o.runNewsFetch(ctx, job)
	case model.StageExternalVerification:
		return o.runVerification(ctx, job)
	case model.StageSourceValidation:
		return o.runValidation(ctx, job)
	case model.StagePersisted:
		return o.runArchive(ctx, job)
	}
	return eris.Errorf("job %s: unknown stage %q", job.Key(), job.Stage)
}

// runFetch downloads the report, enriches the company from the registry
// listing, and stores the document on disk.
func (o *Orchestrator) runFetch(ctx context.Context, job *model.AnalysisJob) error {
	rep, err := o.deps.Reports.Fetch(ctx, job.Company.Code, job.Period)
	if err != nil {
		if errors.Is(err, reports.ErrNotFound) {
			return eris.Wrapf(model.ErrReportNotFound, "company %s period %s", job.Company.Code, job.Period)
		}
		return eris.Wrapf(err, "fetch report for %s", job.Key())
	}

	if job.Company.Name == "" {
		job.Company.Name = rep.CompanyName
	}
	if job.Company.Industry == "" {
		job.Company.Industry = rep.Industry
	}

	if err := os.MkdirAll(o.cfg.DataDir, 0o755); err != nil {
		return eris.Wrap(err, "create data dir")
	}
	path := filepath.Join(o.cfg.DataDir, job.Key().String()+"_report.bin")
	if err := os.WriteFile(path, rep.Data, 0o644); err != nil {
		return eris.Wrapf(err, "write report for %s", job.Key())
	}

	job.Artifacts.DocumentRef = path
	job.Artifacts.ReportURL = rep.SourceURL
	return o.deps.Store.AdvanceStage(ctx, job, model.StageClaimExtraction)
}

// runExtraction runs claim extraction and word-cloud generation as sibling
// branches behind a barrier. The word-cloud branch failing is logged and
// retried during the final stage; extraction failing fails the stage.
func (o *Orchestrator) runExtraction(ctx context.Context, job *model.AnalysisJob) error {
	text, err := o.reportText(job)
	if err != nil {
		return err
	}
	weights, err := o.deps.Weights.PromptJSON(job.Company.Industry)
	if err != nil {
		return eris.Wrapf(err, "framework weights for %s", job.Key())
	}

	var claims []model.Claim
	var cloudRef string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		claims, err = o.deps.Analyzer.ExtractClaims(gctx, oracle.ExtractInput{
			Company:    job.Company,
			Period:     job.Period,
			ReportText: text,
			Framework:  weights,
		})
		return err
	})
	g.Go(func() error {
		ref, err := o.deps.WordCloud.Generate(gctx, job.Key(), text)
		if err != nil {
			zap.L().Warn("wordcloud generation failed, will retry before persist",
				zap.String("job", job.Key().String()),
				zap.Error(err),
			)
			return nil
		}
		cloudRef = ref
		return nil
	})
	if err := g.Wait(); err != nil {
		return eris.Wrapf(err, "extract claims for %s", job.Key())
	}

	job.Artifacts.Claims = claims
	job.Artifacts.WordCloudRef = cloudRef
	return o.deps.Store.AdvanceStage(ctx, job, model.StageNewsCrossCheck)
}

// runNewsFetch collects coverage for every non-omission claim. Per-topic
// failures and empty results are recorded in the outcome map, never fatal.
func (o *Orchestrator) runNewsFetch(ctx context.Context, job *model.AnalysisJob) error {
	var topics []model.Topic
	for _, c := range job.Artifacts.Claims {
		if c.Omission {
			continue
		}
		topics = append(topics, model.Topic{
			ClaimID:  c.ID,
			Company:  job.Company.Name,
			Industry: job.Company.Industry,
			Name:     c.Topic,
			Keywords: c.Keywords,
			Period:   job.Period,
		})
	}

	job.Artifacts.Topics = o.deps.News.FetchAll(ctx, topics)
	return o.deps.Store.AdvanceStage(ctx, job, model.StageExternalVerification)
}

// runVerification cross-checks claims that have coverage and attaches the
// cited evidence.
func (o *Orchestrator) runVerification(ctx context.Context, job *model.AnalysisJob) error {
	coverage := make(map[string][]model.NewsItem)
	for claimID, outcome := range job.Artifacts.Topics {
		if len(outcome.Items) > 0 {
			coverage[claimID] = outcome.Items
		}
	}

	claims, err := o.deps.Analyzer.CrossCheck(ctx, oracle.CrossCheckInput{
		Company:  job.Company,
		Period:   job.Period,
		Claims:   job.Artifacts.Claims,
		Coverage: coverage,
	})
	if err != nil {
		return eris.Wrapf(err, "cross-check for %s", job.Key())
	}

	job.Artifacts.Claims = claims
	return o.deps.Store.AdvanceStage(ctx, job, model.StageSourceValidation)
}

// runValidation settles evidence liveness, retries a missing word cloud
// once, commits the bundle, and advances to the terminal stage. The commit
// is an idempotent upsert, so a crash between commit and advance re-commits
// harmlessly on resume.
func (o *Orchestrator) runValidation(ctx context.Context, job *model.AnalysisJob) error {
	job.Artifacts.Claims = o.deps.Validator.ValidateAll(ctx, job.Company, job.Period, job.Artifacts.Claims)

	if job.Artifacts.WordCloudRef == "" {
		if text, err := o.reportText(job); err == nil {
			ref, err := o.deps.WordCloud.Generate(ctx, job.Key(), text)
			if err != nil {
				zap.L().Warn("wordcloud retry failed, persisting without it",
					zap.String("job", job.Key().String()),
					zap.Error(err),
				)
			} else {
				job.Artifacts.WordCloudRef = ref
			}
		}
	}

	bundle := &model.Bundle{
		Company:      job.Company,
		Period:       job.Period,
		ReportURL:    job.Artifacts.ReportURL,
		WordCloudRef: job.Artifacts.WordCloudRef,
		Claims:       job.Artifacts.Claims,
		CommittedAt:  time.Now().UTC(),
	}
	if err := o.deps.Store.CommitBundle(ctx, bundle); err != nil {
		return eris.Wrapf(err, "commit bundle for %s", job.Key())
	}

	return o.deps.Store.AdvanceStage(ctx, job, model.StagePersisted)
}

// runArchive retires a terminal job and removes the fetched document. Kept
// as its own step so a crash between persist and archive heals on the next
// advance.
func (o *Orchestrator) runArchive(ctx context.Context, job *model.AnalysisJob) error {
	if err := o.deps.Store.ArchiveJob(ctx, job.Key()); err != nil {
		return eris.Wrapf(err, "archive %s", job.Key())
	}
	if job.Artifacts.DocumentRef != "" {
		if err := os.Remove(job.Artifacts.DocumentRef); err != nil && !os.IsNotExist(err) {
			zap.L().Warn("removing fetched report",
				zap.String("path", job.Artifacts.DocumentRef),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (o *Orchestrator) reportText(job *model.AnalysisJob) (string, error) {
	if job.Artifacts.DocumentRef == "" {
		return "", eris.Errorf("job %s has no fetched document", job.Key())
	}
	data, err := os.ReadFile(job.Artifacts.DocumentRef)
	if err != nil {
		return "", eris.Wrapf(err, "read report for %s", job.Key())
	}
	text, err := o.deps.Extractor.Extract(data)
	if err != nil {
		return "", eris.Wrapf(err, "extract text for %s", job.Key())
	}
	return text, nil
}

func (o *Orchestrator) acquire(key model.JobKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[key] {
		return false
	}
	o.inflight[key] = true
	return true
}

func (o *Orchestrator) release(key model.JobKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, key)
}
