package fetch

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/verdant-group/greenwash-cli/internal/model"
	"github.com/verdant-group/greenwash-cli/internal/resilience"
	"github.com/verdant-group/greenwash-cli/pkg/news"
)

// Searcher runs one query against a news source.
type Searcher interface {
	Search(ctx context.Context, query string) ([]model.NewsItem, error)
}

// NewsSearcher adapts the news provider client to the coordinator, mapping
// provider rate limits and outages onto the retry taxonomy.
type NewsSearcher struct {
	client *news.Client
}

func NewNewsSearcher(client *news.Client) *NewsSearcher {
	return &NewsSearcher{client: client}
}

func (s *NewsSearcher) Search(ctx context.Context, query string) ([]model.NewsItem, error) {
	articles, err := s.client.Search(ctx, query)
	if err != nil {
		var se *news.StatusError
		if errors.As(err, &se) {
			if se.Code == 429 {
				return nil, resilience.Transient(eris.Wrap(model.ErrRateLimited, "news search"), se.Code)
			}
			if resilience.RetryableStatus(se.Code) {
				return nil, resilience.Transient(err, se.Code)
			}
		}
		return nil, err
	}

	items := make([]model.NewsItem, 0, len(articles))
	for _, a := range articles {
		if a.URL == "" {
			continue
		}
		items = append(items, model.NewsItem{
			Title:       a.Title,
			URL:         a.URL,
			Snippet:     a.Description,
			PublishedAt: a.PublishedAt,
		})
	}
	return items, nil
}
