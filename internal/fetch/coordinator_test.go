package fetch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-group/greenwash-cli/internal/model"
	"github.com/verdant-group/greenwash-cli/internal/resilience"
)

// stubSearcher maps query substrings to canned results and records every
// query it sees.
type stubSearcher struct {
	mu      sync.Mutex
	queries []string
	respond func(query string) ([]model.NewsItem, error)

	inFlight    int
	maxInFlight int
}

func (s *stubSearcher) Search(ctx context.Context, query string) ([]model.NewsItem, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()

	time.Sleep(time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if s.respond == nil {
		return nil, nil
	}
	return s.respond(query)
}

func (s *stubSearcher) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func topicFor(claimID, keywords string) model.Topic {
	return model.Topic{
		ClaimID:  claimID,
		Company:  "Taiwan Cement",
		Industry: "Cement",
		Name:     "GHG Emissions",
		Keywords: keywords,
		Period:   "2024",
	}
}

func fastConfig() Config {
	return Config{
		Workers:     4,
		TaskTimeout: 5 * time.Second,
		SearchRate:  1000,
		Retry:       resilience.Policy{Attempts: 2, BaseDelay: time.Millisecond, Jitter: 0},
	}
}

func TestFetchAllStopsAtFirstProductiveTier(t *testing.T) {
	searcher := &stubSearcher{
		respond: func(query string) ([]model.NewsItem, error) {
			if strings.HasPrefix(query, `"`) {
				return []model.NewsItem{{Title: "hit", URL: "https://news.example.com/1"}}, nil
			}
			return nil, nil
		},
	}

	c := New(searcher, fastConfig())
	outcomes := c.FetchAll(context.Background(), []model.Topic{topicFor("c1", "carbon capture")})

	out := outcomes["c1"]
	assert.Equal(t, 1, out.Tier)
	require.Len(t, out.Items, 1)
	assert.Len(t, searcher.seen(), 1, "broader tiers never ran")
}

func TestFetchAllWidensThenMarksNoEvidence(t *testing.T) {
	searcher := &stubSearcher{} // every tier comes up empty

	c := New(searcher, fastConfig())
	outcomes := c.FetchAll(context.Background(), []model.Topic{topicFor("c1", "carbon capture")})

	out := outcomes["c1"]
	assert.True(t, out.NoEvidence)
	assert.Empty(t, out.Error)
	assert.Zero(t, out.Tier)

	queries := searcher.seen()
	require.Len(t, queries, 3, "all three tiers tried in order")
	assert.Equal(t, `"carbon capture" 2024`, queries[0])
	assert.Equal(t, "Cement GHG Emissions 2024", queries[1])
	assert.Equal(t, "Taiwan Cement", queries[2])
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	searcher := &stubSearcher{
		respond: func(query string) ([]model.NewsItem, error) {
			if strings.Contains(query, "failing") {
				return nil, assertAnError
			}
			return []model.NewsItem{{Title: "hit", URL: "https://news.example.com/1"}}, nil
		},
	}

	c := New(searcher, fastConfig())
	outcomes := c.FetchAll(context.Background(), []model.Topic{
		topicFor("good", "solar build-out"),
		topicFor("bad", "failing keywords"),
	})

	require.Len(t, outcomes, 2, "every topic gets an outcome")
	assert.NotEmpty(t, outcomes["good"].Items)
	assert.NotEmpty(t, outcomes["bad"].Error)
	assert.False(t, outcomes["bad"].NoEvidence, "an error is not the same as no evidence")
}

var assertAnError = &stubError{}

type stubError struct{}

func (*stubError) Error() string { return "provider exploded" }

func TestFetchAllRetriesTransientErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	searcher := &stubSearcher{
		respond: func(query string) ([]model.NewsItem, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return nil, resilience.Transient(assertAnError, 503)
			}
			return []model.NewsItem{{Title: "hit", URL: "https://news.example.com/1"}}, nil
		},
	}

	c := New(searcher, fastConfig())
	outcomes := c.FetchAll(context.Background(), []model.Topic{topicFor("c1", "carbon capture")})

	assert.NotEmpty(t, outcomes["c1"].Items, "transient failure recovered on retry")
	assert.Equal(t, 2, calls)
}

func TestFetchAllBoundsConcurrency(t *testing.T) {
	searcher := &stubSearcher{
		respond: func(string) ([]model.NewsItem, error) {
			return []model.NewsItem{{Title: "hit", URL: "https://news.example.com/1"}}, nil
		},
	}

	cfg := fastConfig()
	cfg.Workers = 2
	c := New(searcher, cfg)

	topics := make([]model.Topic, 10)
	for i := range topics {
		topics[i] = topicFor(string(rune('a'+i)), "keywords")
	}
	outcomes := c.FetchAll(context.Background(), topics)

	assert.Len(t, outcomes, 10)
	assert.LessOrEqual(t, searcher.maxInFlight, 2, "worker pool is bounded")
}
