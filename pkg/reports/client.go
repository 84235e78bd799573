// Package reports fetches published sustainability reports from the exchange
// disclosure registry.
package reports

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

const defaultBaseURL = "https://mops.twse.com.tw"

// ErrNotFound means the registry lists no report for the company and period.
var ErrNotFound = eris.New("reports: no report listed")

// StatusError is returned for unexpected registry responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reports: unexpected status %d: %s", e.Code, e.Body)
}

// Report is the downloaded document plus the registry metadata that rides
// along with it.
type Report struct {
	Data        []byte
	CompanyName string
	Industry    string
	SourceURL   string
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default registry base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to the disclosure registry.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a registry client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second, // reports run to hundreds of pages
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type listing struct {
	CompanyName string `json:"company_name"`
	Industry    string `json:"industry"`
	FileURL     string `json:"file_url"`
}

// Fetch looks up the report listing for a company and period, then downloads
// the document. Returns ErrNotFound when the registry has no entry.
func (c *Client) Fetch(ctx context.Context, companyCode, period string) (*Report, error) {
	q := url.Values{}
	q.Set("co_id", companyCode)
	q.Set("year", period)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/esg_report?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "reports: create listing request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "reports: query listing")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "reports: read listing")
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "%s period %s", companyCode, period)
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, eris.Wrap(err, "reports: unmarshal listing")
	}
	if l.FileURL == "" {
		return nil, eris.Wrapf(ErrNotFound, "%s period %s", companyCode, period)
	}

	data, err := c.download(ctx, l.FileURL)
	if err != nil {
		return nil, err
	}

	return &Report{
		Data:        data,
		CompanyName: l.CompanyName,
		Industry:    l.Industry,
		SourceURL:   l.FileURL,
	}, nil
}

func (c *Client) download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "reports: create download request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "reports: download")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "reports: read document")
	}
	if len(data) == 0 {
		return nil, eris.New("reports: empty document")
	}
	return data, nil
}
