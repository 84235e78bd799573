package validate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-group/greenwash-cli/internal/model"
	"github.com/verdant-group/greenwash-cli/internal/resilience"
)

type stubChecker struct {
	mu      sync.Mutex
	results map[string]CheckResult
	errs    map[string]error
	probed  []string
}

func (s *stubChecker) Check(_ context.Context, url string) (CheckResult, error) {
	s.mu.Lock()
	s.probed = append(s.probed, url)
	s.mu.Unlock()
	if err, ok := s.errs[url]; ok {
		return CheckResult{}, err
	}
	return s.results[url], nil
}

type stubRepairer struct {
	mu          sync.Mutex
	replacement string
	err         error
	requests    []RepairRequest
}

func (s *stubRepairer) Repair(_ context.Context, req RepairRequest) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.replacement, s.err
}

func testCompany() model.Company {
	return model.Company{Code: "1101", Name: "Taiwan Cement", Industry: "Cement", Domain: "taiwancement.com"}
}

func claimWith(evidence ...model.Evidence) []model.Claim {
	return []model.Claim{{
		ID:       "c1",
		Topic:    "GHG Emissions",
		Category: model.CategoryEnvironmental,
		Text:     "Cut scope 1 by 12%",
		Evidence: evidence,
	}}
}

func fastConfig() Config {
	return Config{Workers: 2, Retry: resilience.Policy{Attempts: 1}}
}

func TestValidateAllLiveLink(t *testing.T) {
	checker := &stubChecker{results: map[string]CheckResult{
		"https://news.example/a": {Alive: true, Title: "Emissions rose"},
	}}
	v := New(checker, &stubRepairer{}, fastConfig())

	out := v.ValidateAll(context.Background(), testCompany(), "2024", claimWith(model.Evidence{
		ID: "e1", ClaimID: "c1", URL: "https://news.example/a", Liveness: model.LivenessUnchecked,
	}))

	require.Len(t, out[0].Evidence, 1)
	ev := out[0].Evidence[0]
	assert.Equal(t, model.LivenessLive, ev.Liveness)
	assert.Equal(t, "Emissions rose", ev.Title)
	assert.False(t, ev.Repaired)
}

func TestValidateAllSkipsAlreadyLive(t *testing.T) {
	checker := &stubChecker{}
	v := New(checker, &stubRepairer{}, fastConfig())

	in := claimWith(model.Evidence{
		ID: "e1", ClaimID: "c1", URL: "https://news.example/a",
		Title: "kept", Liveness: model.LivenessLive,
	})
	out := v.ValidateAll(context.Background(), testCompany(), "2024", in)

	require.Len(t, out[0].Evidence, 1)
	assert.Equal(t, in[0].Evidence[0], out[0].Evidence[0])
	assert.Empty(t, checker.probed)
}

func TestValidateAllRepairsDeadLink(t *testing.T) {
	checker := &stubChecker{results: map[string]CheckResult{
		"https://news.example/gone":  {Alive: false},
		"https://other.example/live": {Alive: true, Title: "Found again"},
	}}
	repairer := &stubRepairer{replacement: "https://other.example/live"}
	v := New(checker, repairer, fastConfig())

	out := v.ValidateAll(context.Background(), testCompany(), "2024", claimWith(model.Evidence{
		ID: "e1", ClaimID: "c1", URL: "https://news.example/gone",
		Title: "Old headline", Liveness: model.LivenessUnchecked,
	}))

	require.Len(t, out[0].Evidence, 1)
	ev := out[0].Evidence[0]
	assert.Equal(t, "https://other.example/live", ev.URL)
	assert.Equal(t, "https://news.example/gone", ev.OriginalURL)
	assert.True(t, ev.Repaired)
	assert.Equal(t, model.LivenessLive, ev.Liveness)
	assert.Equal(t, "Found again", ev.Title)

	require.Len(t, repairer.requests, 1)
	assert.Equal(t, "Old headline", repairer.requests[0].Summary)
	assert.Equal(t, "taiwancement.com", repairer.requests[0].Company.Domain)
}

func TestValidateAllDropsUnrepairable(t *testing.T) {
	checker := &stubChecker{results: map[string]CheckResult{
		"https://news.example/gone": {Alive: false},
	}}
	repairer := &stubRepairer{replacement: ""}
	v := New(checker, repairer, fastConfig())

	out := v.ValidateAll(context.Background(), testCompany(), "2024", claimWith(model.Evidence{
		ID: "e1", ClaimID: "c1", URL: "https://news.example/gone", Liveness: model.LivenessUnchecked,
	}))

	assert.Empty(t, out[0].Evidence)
}

func TestValidateAllRejectsSelfReferentialRepair(t *testing.T) {
	checker := &stubChecker{results: map[string]CheckResult{
		"https://news.example/gone": {Alive: false},
	}}
	repairer := &stubRepairer{replacement: "https://esg.taiwancement.com/press/1"}
	v := New(checker, repairer, fastConfig())

	out := v.ValidateAll(context.Background(), testCompany(), "2024", claimWith(model.Evidence{
		ID: "e1", ClaimID: "c1", URL: "https://news.example/gone", Liveness: model.LivenessUnchecked,
	}))

	assert.Empty(t, out[0].Evidence)
	// The replacement was rejected before any probe.
	assert.NotContains(t, checker.probed, "https://esg.taiwancement.com/press/1")
}

func TestValidateAllDropsDeadReplacement(t *testing.T) {
	checker := &stubChecker{results: map[string]CheckResult{
		"https://news.example/gone":  {Alive: false},
		"https://other.example/gone": {Alive: false},
	}}
	repairer := &stubRepairer{replacement: "https://other.example/gone"}
	v := New(checker, repairer, fastConfig())

	out := v.ValidateAll(context.Background(), testCompany(), "2024", claimWith(model.Evidence{
		ID: "e1", ClaimID: "c1", URL: "https://news.example/gone", Liveness: model.LivenessUnchecked,
	}))

	assert.Empty(t, out[0].Evidence)
}

func TestValidateAllContainsPerItemFailures(t *testing.T) {
	checker := &stubChecker{results: map[string]CheckResult{
		"https://news.example/a": {Alive: true},
		"https://news.example/b": {Alive: false},
	}}
	v := New(checker, &stubRepairer{}, fastConfig())

	out := v.ValidateAll(context.Background(), testCompany(), "2024", claimWith(
		model.Evidence{ID: "e1", ClaimID: "c1", URL: "https://news.example/a", Liveness: model.LivenessUnchecked},
		model.Evidence{ID: "e2", ClaimID: "c1", URL: "https://news.example/b", Liveness: model.LivenessUnchecked},
	))

	require.Len(t, out[0].Evidence, 1)
	assert.Equal(t, "e1", out[0].Evidence[0].ID)
}

func TestSelfReferential(t *testing.T) {
	assert.True(t, selfReferential("https://taiwancement.com/x", "taiwancement.com"))
	assert.True(t, selfReferential("https://esg.taiwancement.com/x", "taiwancement.com"))
	assert.False(t, selfReferential("https://nottaiwancement.com/x", "taiwancement.com"))
	assert.False(t, selfReferential("https://news.example/x", "taiwancement.com"))
	assert.False(t, selfReferential("https://news.example/x", ""))
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live":
			w.Write([]byte("<html><head><TITLE> Emissions up 4% </TITLE></head></html>"))
		case "/blocked":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	hc := NewHTTPChecker(0)

	res, err := hc.Check(context.Background(), srv.URL+"/live")
	require.NoError(t, err)
	assert.True(t, res.Alive)
	assert.Equal(t, "Emissions up 4%", res.Title)

	res, err = hc.Check(context.Background(), srv.URL+"/blocked")
	require.NoError(t, err)
	assert.True(t, res.Alive)

	res, err = hc.Check(context.Background(), srv.URL+"/gone")
	require.NoError(t, err)
	assert.False(t, res.Alive)
}
