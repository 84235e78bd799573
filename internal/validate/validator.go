package validate

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verdant-group/greenwash-cli/internal/model"
	"github.com/verdant-group/greenwash-cli/internal/resilience"
	"github.com/verdant-group/greenwash-cli/pkg/perplexity"
)

// RepairRequest describes a dead evidence item for the repair search.
type RepairRequest struct {
	Company model.Company
	Period  string
	Summary string
}

// Repairer finds a replacement URL for a dead link, or "" when the search
// comes up empty.
type Repairer interface {
	Repair(ctx context.Context, req RepairRequest) (string, error)
}

// PerplexityRepairer backs Repairer with the Perplexity search client.
type PerplexityRepairer struct {
	client *perplexity.Client
}

func NewPerplexityRepairer(client *perplexity.Client) *PerplexityRepairer {
	return &PerplexityRepairer{client: client}
}

func (r *PerplexityRepairer) Repair(ctx context.Context, req RepairRequest) (string, error) {
	replacement, err := r.client.FindReplacement(ctx, perplexity.SearchRequest{
		Company:       req.Company.Name,
		Period:        req.Period,
		Summary:       req.Summary,
		ExcludeDomain: req.Company.Domain,
	})
	if err != nil {
		var se *perplexity.StatusError
		if errors.As(err, &se) && resilience.RetryableStatus(se.Code) {
			return "", resilience.Transient(err, se.Code)
		}
		return "", err
	}
	return replacement, nil
}

// Config tunes the validator.
type Config struct {
	Workers int           // concurrent probes, default 8
	Timeout time.Duration // per evidence item, default 20s
	Retry   resilience.Policy
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	return c
}

// Validator resolves evidence liveness across a claim set.
type Validator struct {
	checker  Checker
	repairer Repairer
	cfg      Config
}

func New(checker Checker, repairer Repairer, cfg Config) *Validator {
	return &Validator{checker: checker, repairer: repairer, cfg: cfg.withDefaults()}
}

// ValidateAll probes every evidence link across the claims, repairs dead
// ones via the repair search, and drops the unrepairable. Already live
// items are left untouched, so re-running after a crash is a no-op for
// them. Per-item failures never fail the call.
func (v *Validator) ValidateAll(ctx context.Context, company model.Company, period string, claims []model.Claim) []model.Claim {
	type ref struct{ claim, ev int }
	var refs []ref
	for i := range claims {
		for j := range claims[i].Evidence {
			refs = append(refs, ref{claim: i, ev: j})
		}
	}
	if len(refs) == 0 {
		return claims
	}

	// Each goroutine settles exactly one evidence slot, so results merge
	// without shared writes.
	resolved := make([]struct {
		item model.Evidence
		keep bool
	}, len(refs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Workers)
	for i, r := range refs {
		item := claims[r.claim].Evidence[r.ev]
		summary := item.Title
		if summary == "" {
			summary = item.Snippet
		}
		if summary == "" {
			summary = claims[r.claim].Text
		}
		g.Go(func() error {
			item, keep := v.settle(ctx, company, period, summary, item)
			resolved[i].item = item
			resolved[i].keep = keep
			return nil
		})
	}
	g.Wait()

	out := make([]model.Claim, len(claims))
	copy(out, claims)
	for i := range out {
		out[i].Evidence = nil
	}
	for i, r := range refs {
		if resolved[i].keep {
			out[r.claim].Evidence = append(out[r.claim].Evidence, resolved[i].item)
		}
	}
	return out
}

// settle resolves one evidence item to a live URL or reports it dropped.
func (v *Validator) settle(ctx context.Context, company model.Company, period, summary string, item model.Evidence) (model.Evidence, bool) {
	if item.Liveness == model.LivenessLive {
		return item, true
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	res, err := v.checker.Check(ctx, item.URL)
	if err != nil {
		zap.L().Warn("evidence probe failed",
			zap.String("url", item.URL),
			zap.Error(err),
		)
	}
	if err == nil && res.Alive {
		item.Liveness = model.LivenessLive
		if item.Title == "" {
			item.Title = res.Title
		}
		return item, true
	}

	return v.repair(ctx, company, period, summary, item)
}

// repair replaces a dead link through the repair search. The replacement
// must itself be live and must not point at the company's own site.
func (v *Validator) repair(ctx context.Context, company model.Company, period, summary string, item model.Evidence) (model.Evidence, bool) {
	drop := func(err error) (model.Evidence, bool) {
		zap.L().Info("dropping unrepairable evidence",
			zap.String("claim_id", item.ClaimID),
			zap.String("url", item.URL),
			zap.Error(eris.Wrap(model.ErrValidationRepairFailed, err.Error())),
		)
		return model.Evidence{}, false
	}

	if v.repairer == nil {
		return drop(eris.New("no repairer configured"))
	}

	replacement, err := resilience.DoValue(ctx, v.cfg.Retry, func(ctx context.Context) (string, error) {
		return v.repairer.Repair(ctx, RepairRequest{Company: company, Period: period, Summary: summary})
	})
	if err != nil {
		return drop(err)
	}
	if replacement == "" {
		return drop(eris.New("repair search returned no result"))
	}
	if selfReferential(replacement, company.Domain) {
		return drop(eris.Errorf("replacement %s points at the company's own site", replacement))
	}

	res, err := v.checker.Check(ctx, replacement)
	if err != nil || !res.Alive {
		return drop(eris.Errorf("replacement %s is not reachable", replacement))
	}

	item.OriginalURL = item.URL
	item.URL = replacement
	item.Repaired = true
	item.Liveness = model.LivenessLive
	if res.Title != "" {
		item.Title = res.Title
	}
	zap.L().Info("repaired evidence link",
		zap.String("claim_id", item.ClaimID),
		zap.String("from", item.OriginalURL),
		zap.String("to", item.URL),
	)
	return item, true
}

// selfReferential reports whether raw lives on domain or a subdomain of it.
func selfReferential(raw, domain string) bool {
	if domain == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
