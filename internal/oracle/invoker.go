// Package oracle invokes the analysis model for claim extraction and
// cross-checking, with retries, a circuit breaker, and strict validation of
// everything the model returns.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/verdant-group/greenwash-cli/internal/model"
	"github.com/verdant-group/greenwash-cli/internal/resilience"
	"github.com/verdant-group/greenwash-cli/pkg/oracle"
)

// Config tunes the invoker.
type Config struct {
	Model         string
	FallbackModel string
	MaxTokens     int64
	Temperature   float64
	RatePerMinute int
	Retry         resilience.Policy
	TripAfter     int
	Cooldown      time.Duration
}

// ExtractInput carries everything claim extraction needs.
type ExtractInput struct {
	Company    model.Company
	Period     string
	ReportText string
	Framework  string // topic-weight table for the industry, as JSON
}

// CrossCheckInput carries the claims and their collected news coverage.
type CrossCheckInput struct {
	Company  model.Company
	Period   string
	Claims   []model.Claim
	Coverage map[string][]model.NewsItem // claim ID → items
}

// attempt is one extraction configuration. Later attempts shake a looping
// model loose with a different temperature, then a different model.
type attempt struct {
	model       string
	temperature float64
}

// Invoker runs analysis calls through the shared rate limiter, circuit
// breaker, and retry policy.
type Invoker struct {
	client  oracle.Client
	breaker *resilience.Breaker
	limiter *rate.Limiter
	cfg     Config
}

// NewInvoker creates an invoker with defaults applied.
func NewInvoker(client oracle.Client, cfg Config) *Invoker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 30
	}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		TripAfter: cfg.TripAfter,
		Cooldown:  cfg.Cooldown,
		OnStateChange: func(from, to resilience.BreakerState) {
			zap.L().Warn("oracle breaker state change",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return &Invoker{
		client:  client,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60), 1),
		cfg:     cfg,
	}
}

// BreakerState exposes the circuit state for health reporting.
func (inv *Invoker) BreakerState() resilience.BreakerState {
	return inv.breaker.State()
}

// ExtractClaims asks the model for the report's claims. A structurally valid
// but looping reply (or a malformed one) is retried with the alternate
// attempt configurations; the smallest looping reply is kept as a last
// resort rather than failing the job.
func (inv *Invoker) ExtractClaims(ctx context.Context, in ExtractInput) ([]model.Claim, error) {
	prompt := extractPrompt(in)

	var fallback []claimPayload
	var lastErr error
	for _, att := range inv.attempts() {
		raw, err := inv.invoke(ctx, "extract_claims", att, extractSystem, prompt)
		if err != nil {
			return nil, err
		}

		payloads, err := parseClaims(raw)
		if err != nil {
			zap.L().Warn("extraction reply rejected",
				zap.String("model", att.model),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		if abnormal(payloads) {
			zap.L().Warn("extraction reply looks repetitive, retrying",
				zap.String("model", att.model),
				zap.Int("claims", len(payloads)),
			)
			if fallback == nil || len(payloads) < len(fallback) {
				fallback = payloads
			}
			continue
		}

		return inv.toClaims(payloads), nil
	}

	if fallback != nil {
		zap.L().Warn("using smallest repetitive extraction after exhausting attempts",
			zap.Int("claims", len(fallback)))
		return inv.toClaims(fallback), nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, eris.Wrap(model.ErrMalformedOutput, "no extraction attempts ran")
}

// CrossCheck verifies the claims against their coverage and returns the
// claims with adjustments and unchecked evidence attached. Claims without
// coverage pass through untouched.
func (inv *Invoker) CrossCheck(ctx context.Context, in CrossCheckInput) ([]model.Claim, error) {
	checkable := make([]model.Claim, 0, len(in.Claims))
	for _, c := range in.Claims {
		if len(in.Coverage[c.ID]) > 0 {
			checkable = append(checkable, c)
		}
	}
	if len(checkable) == 0 {
		return in.Claims, nil
	}

	sub := in
	sub.Claims = checkable
	raw, err := inv.invoke(ctx, "cross_check",
		attempt{model: inv.cfg.Model, temperature: inv.cfg.Temperature},
		crossCheckSystem, crossCheckPrompt(sub))
	if err != nil {
		return nil, err
	}

	claimIDs := make(map[string]bool, len(checkable))
	for _, c := range checkable {
		claimIDs[c.ID] = true
	}
	verdicts, err := parseVerdicts(raw, claimIDs)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]verdictPayload, len(verdicts))
	for _, v := range verdicts {
		byID[v.ClaimID] = v
	}

	// Legal citation URLs are exactly those the coverage supplied.
	known := make(map[string]model.NewsItem)
	for claimID, items := range in.Coverage {
		for _, it := range items {
			known[claimID+"\x00"+it.URL] = it
		}
	}

	out := make([]model.Claim, len(in.Claims))
	for i, c := range in.Claims {
		v, ok := byID[c.ID]
		if !ok {
			out[i] = c
			continue
		}
		c.Adjustment = v.Adjustment
		c.Consistent = v.Consistent
		if v.Factor != "" {
			c.Factor = v.Factor
		}
		for _, ev := range v.Evidence {
			item, ok := known[c.ID+"\x00"+ev.URL]
			if !ok {
				zap.L().Warn("dropping hallucinated citation",
					zap.String("claim_id", c.ID),
					zap.String("url", ev.URL),
				)
				continue
			}
			c.Evidence = append(c.Evidence, model.Evidence{
				ID:       uuid.New().String(),
				ClaimID:  c.ID,
				Title:    item.Title,
				URL:      ev.URL,
				Snippet:  item.Snippet,
				Stance:   ev.Stance,
				Liveness: model.LivenessUnchecked,
			})
		}
		out[i] = c
	}
	return out, nil
}

func (inv *Invoker) attempts() []attempt {
	atts := []attempt{
		{model: inv.cfg.Model, temperature: inv.cfg.Temperature},
		{model: inv.cfg.Model, temperature: 0.7},
	}
	if inv.cfg.FallbackModel != "" {
		atts = append(atts, attempt{model: inv.cfg.FallbackModel, temperature: inv.cfg.Temperature})
	}
	return atts
}

// invoke runs one completion through limiter, breaker, and retry, mapping
// failures onto the pipeline error taxonomy.
func (inv *Invoker) invoke(ctx context.Context, operation string, att attempt, system, prompt string) (string, error) {
	if err := inv.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "oracle: rate limit wait")
	}

	retry := inv.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetries("oracle", operation)
	}

	comp, err := resilience.Call(ctx, inv.breaker, func(ctx context.Context) (*oracle.Completion, error) {
		return resilience.DoValue(ctx, retry, func(ctx context.Context) (*oracle.Completion, error) {
			temp := att.temperature
			comp, err := inv.client.Complete(ctx, oracle.CompletionRequest{
				Model:       att.model,
				System:      system,
				Prompt:      prompt,
				MaxTokens:   inv.cfg.MaxTokens,
				Temperature: &temp,
			})
			if err != nil {
				return nil, classify(err)
			}
			return comp, nil
		})
	})
	if err != nil {
		if errors.Is(err, resilience.ErrBreakerOpen) || resilience.IsTransient(err) {
			return "", eris.Wrap(model.ErrOracleUnavailable, err.Error())
		}
		return "", err
	}

	comp.Usage.Log(att.model, operation)
	return comp.Text, nil
}

// classify maps SDK errors onto the retry taxonomy.
func classify(err error) error {
	code := oracle.StatusCode(err)
	switch {
	case code == 429:
		return resilience.Transient(eris.Wrap(model.ErrRateLimited, "oracle"), code)
	case resilience.RetryableStatus(code):
		return resilience.Transient(err, code)
	default:
		return err
	}
}

// toClaims converts validated payloads into model claims with fresh IDs.
func (inv *Invoker) toClaims(payloads []claimPayload) []model.Claim {
	payloads = dedupeByTopic(payloads)
	claims := make([]model.Claim, len(payloads))
	for i, p := range payloads {
		claims[i] = model.Claim{
			ID:        uuid.New().String(),
			Topic:     p.Topic,
			Category:  model.Category(p.Category),
			Text:      p.Claim,
			Page:      p.Page,
			Omission:  p.Omission,
			RiskScore: p.RiskScore,
			Factor:    p.Factor,
			Keywords:  p.Keywords,
		}
	}
	return claims
}
