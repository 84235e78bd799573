package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-group/greenwash-cli/internal/model"
	"github.com/verdant-group/greenwash-cli/internal/resilience"
	"github.com/verdant-group/greenwash-cli/pkg/oracle"
)

// scriptedClient replays canned replies in order and records every request.
type scriptedClient struct {
	replies  []string
	err      error
	requests []oracle.CompletionRequest
}

func (s *scriptedClient) Complete(_ context.Context, req oracle.CompletionRequest) (*oracle.Completion, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.requests) > len(s.replies) {
		return nil, errors.New("scripted client ran out of replies")
	}
	return &oracle.Completion{Text: s.replies[len(s.requests)-1]}, nil
}

func testConfig() Config {
	return Config{
		Model:         "primary-model",
		FallbackModel: "fallback-model",
		MaxTokens:     4096,
		Temperature:   0.2,
		RatePerMinute: 6000,
		Retry:         resilience.Policy{Attempts: 1},
		TripAfter:     3,
		Cooldown:      time.Minute,
	}
}

func extractInput() ExtractInput {
	return ExtractInput{
		Company:    model.Company{Code: "1101", Name: "Taiwan Cement", Industry: "Cement"},
		Period:     "2024",
		ReportText: "We cut scope 1 emissions by 12% against the 2020 baseline.",
		Framework:  `{"GHG Emissions": 2}`,
	}
}

func TestExtractClaims(t *testing.T) {
	client := &scriptedClient{replies: []string{`[
  {"topic": "GHG Emissions", "category": "E", "claim": "Cut scope 1 by 12%", "page": "14",
   "risk_score": 1, "factor": "specific target", "keywords": "scope 1 reduction"}
]`}}
	inv := NewInvoker(client, testConfig())

	claims, err := inv.ExtractClaims(context.Background(), extractInput())
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.NotEmpty(t, claims[0].ID)
	assert.Equal(t, "GHG Emissions", claims[0].Topic)
	assert.Equal(t, model.CategoryEnvironmental, claims[0].Category)
	assert.Equal(t, 1, claims[0].RiskScore)
	assert.Equal(t, "scope 1 reduction", claims[0].Keywords)

	require.Len(t, client.requests, 1)
	assert.Equal(t, "primary-model", client.requests[0].Model)
	assert.Contains(t, client.requests[0].Prompt, "Taiwan Cement")
	assert.Contains(t, client.requests[0].Prompt, "2024")
}

func TestExtractClaimsRetriesRepetitiveReply(t *testing.T) {
	looping := `[
  {"topic": "GHG Emissions", "category": "E", "claim": "a", "risk_score": 1},
  {"topic": "GHG Emissions", "category": "E", "claim": "b", "risk_score": 1},
  {"topic": "GHG Emissions", "category": "E", "claim": "c", "risk_score": 1}
]`
	clean := `[{"topic": "GHG Emissions", "category": "E", "claim": "Cut scope 1 by 12%", "risk_score": 1}]`
	client := &scriptedClient{replies: []string{looping, clean}}
	inv := NewInvoker(client, testConfig())

	claims, err := inv.ExtractClaims(context.Background(), extractInput())
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "Cut scope 1 by 12%", claims[0].Text)

	// The retry shakes things up with a higher temperature on the same model.
	require.Len(t, client.requests, 2)
	assert.Equal(t, "primary-model", client.requests[1].Model)
	require.NotNil(t, client.requests[1].Temperature)
	assert.InDelta(t, 0.7, *client.requests[1].Temperature, 0.001)
}

func TestExtractClaimsKeepsSmallestRepetitiveReply(t *testing.T) {
	big := `[
  {"topic": "T", "category": "E", "claim": "a", "risk_score": 1},
  {"topic": "T", "category": "E", "claim": "b", "risk_score": 3},
  {"topic": "T", "category": "E", "claim": "c", "risk_score": 1},
  {"topic": "T", "category": "E", "claim": "d", "risk_score": 1}
]`
	small := `[
  {"topic": "T", "category": "E", "claim": "x", "risk_score": 2},
  {"topic": "T", "category": "E", "claim": "y", "risk_score": 0},
  {"topic": "T", "category": "E", "claim": "z", "risk_score": 1}
]`
	client := &scriptedClient{replies: []string{big, small, big}}
	inv := NewInvoker(client, testConfig())

	claims, err := inv.ExtractClaims(context.Background(), extractInput())
	require.NoError(t, err)
	require.Len(t, client.requests, 3)
	assert.Equal(t, "fallback-model", client.requests[2].Model)

	// Deduped down to one claim per topic, highest risk kept.
	require.Len(t, claims, 1)
	assert.Equal(t, "x", claims[0].Text)
	assert.Equal(t, 2, claims[0].RiskScore)
}

func TestExtractClaimsMalformedEveryAttempt(t *testing.T) {
	client := &scriptedClient{replies: []string{"nope", "still nope", "nope again"}}
	inv := NewInvoker(client, testConfig())

	_, err := inv.ExtractClaims(context.Background(), extractInput())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrMalformedOutput))
	assert.Len(t, client.requests, 3)
}

func TestInvokeOpenBreaker(t *testing.T) {
	client := &scriptedClient{err: errors.New("upstream down")}
	cfg := testConfig()
	cfg.TripAfter = 1
	inv := NewInvoker(client, cfg)

	_, err := inv.ExtractClaims(context.Background(), extractInput())
	require.Error(t, err)
	assert.False(t, errors.Is(err, model.ErrOracleUnavailable))

	// Breaker is now open, so the next run is rejected without a call.
	calls := len(client.requests)
	_, err = inv.ExtractClaims(context.Background(), extractInput())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrOracleUnavailable))
	assert.Len(t, client.requests, calls)
}

func TestCrossCheck(t *testing.T) {
	claims := []model.Claim{
		{ID: "c1", Topic: "GHG Emissions", Category: "E", Text: "Cut scope 1 by 12%", RiskScore: 1},
		{ID: "c2", Topic: "Water Management", Category: "E", Text: "Closed-loop cooling", RiskScore: 2},
	}
	coverage := map[string][]model.NewsItem{
		"c1": {{Title: "Emissions rose", URL: "https://news.example/a", Snippet: "up 4%"}},
	}
	client := &scriptedClient{replies: []string{`[
  {"claim_id": "c1", "adjustment": 2, "consistent": false, "factor": "contradicted by coverage",
   "evidence": [
     {"url": "https://news.example/a", "stance": "contradicts"},
     {"url": "https://made-up.example/b", "stance": "supports"}
   ]}
]`}}
	inv := NewInvoker(client, testConfig())

	out, err := inv.CrossCheck(context.Background(), CrossCheckInput{
		Company:  model.Company{Code: "1101", Name: "Taiwan Cement"},
		Period:   "2024",
		Claims:   claims,
		Coverage: coverage,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	c1 := out[0]
	assert.Equal(t, 2, c1.Adjustment)
	assert.False(t, c1.Consistent)
	assert.Equal(t, "contradicted by coverage", c1.Factor)
	assert.Equal(t, 3, c1.FinalScore())

	// The fabricated URL is dropped; the real one carries the coverage
	// metadata and starts unchecked.
	require.Len(t, c1.Evidence, 1)
	ev := c1.Evidence[0]
	assert.Equal(t, "https://news.example/a", ev.URL)
	assert.Equal(t, "Emissions rose", ev.Title)
	assert.Equal(t, "up 4%", ev.Snippet)
	assert.Equal(t, model.LivenessUnchecked, ev.Liveness)
	assert.Equal(t, "c1", ev.ClaimID)
	assert.NotEmpty(t, ev.ID)

	// The claim without coverage passes through untouched.
	assert.Equal(t, claims[1], out[1])

	// Only the covered claim went to the model.
	require.Len(t, client.requests, 1)
	assert.Contains(t, client.requests[0].Prompt, "c1")
	assert.NotContains(t, client.requests[0].Prompt, "Closed-loop cooling")
}

func TestCrossCheckNothingToCheck(t *testing.T) {
	claims := []model.Claim{{ID: "c1", Topic: "T", Category: "E", Text: "x", RiskScore: 1}}
	client := &scriptedClient{}
	inv := NewInvoker(client, testConfig())

	out, err := inv.CrossCheck(context.Background(), CrossCheckInput{
		Claims:   claims,
		Coverage: map[string][]model.NewsItem{},
	})
	require.NoError(t, err)
	assert.Equal(t, claims, out)
	assert.Empty(t, client.requests)
}
