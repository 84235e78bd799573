// Package fetch collects news coverage for every claim topic concurrently.
// Collection is best effort: a topic that fails or comes up empty records
// that outcome instead of failing the stage.
package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/verdant-group/greenwash-cli/internal/model"
	"github.com/verdant-group/greenwash-cli/internal/planner"
	"github.com/verdant-group/greenwash-cli/internal/resilience"
)

// Config tunes the coordinator.
type Config struct {
	// Workers bounds concurrent topic fetches. Default: 5.
	Workers int
	// TaskTimeout bounds one topic's whole query ladder. Default: 45s.
	TaskTimeout time.Duration
	// SearchRate is the provider-wide queries-per-second budget shared by
	// all workers. Default: 2.
	SearchRate float64
	// Retry is the per-query retry policy.
	Retry resilience.Policy
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 45 * time.Second
	}
	if c.SearchRate <= 0 {
		c.SearchRate = 2
	}
	return c
}

// Coordinator fans topic searches out over a bounded worker pool.
type Coordinator struct {
	searcher Searcher
	planner  *planner.Planner
	limiter  *rate.Limiter
	cfg      Config
}

func New(searcher Searcher, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		searcher: searcher,
		planner:  planner.New(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.SearchRate), 1),
		cfg:      cfg,
	}
}

// FetchAll collects coverage for every topic and returns an outcome per
// claim ID. It always returns a complete map: failed topics carry their
// error, exhausted ladders are marked NoEvidence.
func (c *Coordinator) FetchAll(ctx context.Context, topics []model.Topic) map[string]model.TopicOutcome {
	results := make([]model.TopicOutcome, len(topics))

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)
	for i, topic := range topics {
		g.Go(func() error {
			results[i] = c.fetchTopic(ctx, topic)
			return nil
		})
	}
	g.Wait()

	outcomes := make(map[string]model.TopicOutcome, len(topics))
	for i, topic := range topics {
		outcomes[topic.ClaimID] = results[i]
	}
	return outcomes
}

// fetchTopic walks the topic's query ladder, stopping at the first tier
// that yields results.
func (c *Coordinator) fetchTopic(ctx context.Context, topic model.Topic) model.TopicOutcome {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()

	outcome := model.TopicOutcome{Topic: topic.Name}
	for _, q := range c.planner.Plan(topic) {
		if err := c.limiter.Wait(tctx); err != nil {
			outcome.Error = err.Error()
			return outcome
		}

		items, err := resilience.DoValue(tctx, c.retryPolicy(topic), func(ctx context.Context) ([]model.NewsItem, error) {
			return c.searcher.Search(ctx, q.Text)
		})
		if err != nil {
			zap.L().Warn("topic fetch failed",
				zap.String("topic", topic.Name),
				zap.Int("tier", q.Tier),
				zap.Error(err),
			)
			outcome.Error = err.Error()
			return outcome
		}
		if len(items) > 0 {
			outcome.Tier = q.Tier
			outcome.Items = items
			return outcome
		}

		zap.L().Debug("tier exhausted, widening",
			zap.String("topic", topic.Name),
			zap.Int("tier", q.Tier),
		)
	}

	outcome.NoEvidence = true
	return outcome
}

func (c *Coordinator) retryPolicy(topic model.Topic) resilience.Policy {
	p := c.cfg.Retry
	if p.OnRetry == nil {
		p.OnRetry = resilience.LogRetries("news", "search "+topic.Name)
	}
	return p
}
