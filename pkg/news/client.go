// Package news wraps the news search provider used to cross-check report
// claims against independent coverage.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://newsapi.org"

// StatusError is returned for non-200 responses. A 429 signals the caller's
// retry policy to back off.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("news: unexpected status %d: %s", e.Code, e.Body)
}

// Article is one search hit.
type Article struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Description string     `json:"description"`
	PublishedAt *time.Time `json:"publishedAt"`
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client queries the everything endpoint of the news provider.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a news search client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchResponse struct {
	Status   string    `json:"status"`
	Articles []Article `json:"articles"`
}

// Search runs one query and returns matching articles, newest first. An
// empty result is not an error.
func (c *Client) Search(ctx context.Context, query string) ([]Article, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", "20")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v2/everything?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "news: create request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "news: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "news: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "news: unmarshal response")
	}
	if result.Status != "ok" {
		return nil, eris.Errorf("news: provider status %q", result.Status)
	}
	return result.Articles, nil
}
