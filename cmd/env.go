package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verdant-group/greenwash-cli/internal/checkpoint"
	"github.com/verdant-group/greenwash-cli/internal/fetch"
	"github.com/verdant-group/greenwash-cli/internal/framework"
	"github.com/verdant-group/greenwash-cli/internal/oracle"
	"github.com/verdant-group/greenwash-cli/internal/pipeline"
	"github.com/verdant-group/greenwash-cli/internal/resilience"
	"github.com/verdant-group/greenwash-cli/internal/validate"
	"github.com/verdant-group/greenwash-cli/internal/wordcloud"
	"github.com/verdant-group/greenwash-cli/pkg/news"
	oracleapi "github.com/verdant-group/greenwash-cli/pkg/oracle"
	"github.com/verdant-group/greenwash-cli/pkg/perplexity"
	"github.com/verdant-group/greenwash-cli/pkg/reports"
)

// pipelineEnv holds the wired pipeline and its store.
type pipelineEnv struct {
	Store checkpoint.Store
	Orch  *pipeline.Orchestrator
}

func (e *pipelineEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("closing checkpoint store", zap.Error(err))
	}
}

// initEnv builds the full pipeline from configuration.
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, eris.Wrap(err, "migrate checkpoint store")
	}

	table, err := framework.Load(cfg.Framework.Path)
	if err != nil {
		store.Close()
		return nil, err
	}

	var reportOpts []reports.Option
	if cfg.Registry.BaseURL != "" {
		reportOpts = append(reportOpts, reports.WithBaseURL(cfg.Registry.BaseURL))
	}
	if cfg.Registry.TimeoutSecs > 0 {
		reportOpts = append(reportOpts, reports.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Registry.TimeoutSecs) * time.Second,
		}))
	}

	var newsOpts []news.Option
	if cfg.News.BaseURL != "" {
		newsOpts = append(newsOpts, news.WithBaseURL(cfg.News.BaseURL))
	}
	coordinator := fetch.New(fetch.NewNewsSearcher(news.NewClient(cfg.News.Key, newsOpts...)), fetch.Config{
		Workers:     cfg.Fetch.Workers,
		TaskTimeout: time.Duration(cfg.Fetch.TaskTimeoutSecs) * time.Second,
		SearchRate:  cfg.Fetch.SearchRatePerSec,
	})

	invoker := oracle.NewInvoker(oracleapi.NewClient(cfg.Oracle.Key), oracle.Config{
		Model:         cfg.Oracle.Model,
		FallbackModel: cfg.Oracle.FallbackModel,
		MaxTokens:     int64(cfg.Oracle.MaxTokens),
		Temperature:   cfg.Oracle.Temperature,
		RatePerMinute: cfg.Oracle.RatePerMinute,
		Retry:         retryPolicy(cfg.Oracle.MaxAttempts),
		TripAfter:     cfg.Oracle.BreakerTripAfter,
		Cooldown:      time.Duration(cfg.Oracle.BreakerCooldownSecs) * time.Second,
	})

	var perplexityOpts []perplexity.Option
	if cfg.Perplexity.BaseURL != "" {
		perplexityOpts = append(perplexityOpts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
	}
	if cfg.Perplexity.Model != "" {
		perplexityOpts = append(perplexityOpts, perplexity.WithModel(cfg.Perplexity.Model))
	}
	validateTimeout := time.Duration(cfg.Validate.TimeoutSecs) * time.Second
	validator := validate.New(
		validate.NewHTTPChecker(validateTimeout),
		validate.NewPerplexityRepairer(perplexity.NewClient(cfg.Perplexity.Key, perplexityOpts...)),
		validate.Config{Workers: cfg.Validate.Workers, Timeout: validateTimeout},
	)

	orch := pipeline.New(pipeline.Deps{
		Store:     store,
		Reports:   reports.NewClient(reportOpts...),
		Analyzer:  invoker,
		News:      coordinator,
		Validator: validator,
		WordCloud: wordcloud.New(wordcloud.Config{DataDir: cfg.Pipeline.DataDir, TopN: cfg.Pipeline.WordCloudTopN}),
		Extractor: pipeline.PlainTextExtractor{},
		Weights:   table,
	}, pipeline.Config{DataDir: cfg.Pipeline.DataDir})

	return &pipelineEnv{Store: store, Orch: orch}, nil
}

func openStore(ctx context.Context) (checkpoint.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return checkpoint.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return checkpoint.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func retryPolicy(attempts int) resilience.Policy {
	p := resilience.DefaultPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	return p
}
