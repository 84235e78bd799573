// Package validate resolves the liveness of evidence links and repairs or
// drops the dead ones.
package validate

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// CheckResult is the outcome of probing one URL.
type CheckResult struct {
	Alive bool
	Title string
}

// Checker probes a URL. A transport failure is an error; a reachable URL
// that no longer serves the page comes back with Alive false.
type Checker interface {
	Check(ctx context.Context, url string) (CheckResult, error)
}

// HTTPChecker probes links with a plain GET. A 403 counts as alive since
// news sites routinely block non-browser clients while the article exists.
type HTTPChecker struct {
	client *http.Client
}

// NewHTTPChecker creates a checker with the given per-request timeout.
func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPChecker{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// titleReadLimit bounds how much of a page is read to find its title.
const titleReadLimit = 64 << 10

func (hc *HTTPChecker) Check(ctx context.Context, url string) (CheckResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CheckResult{}, eris.Wrapf(err, "build request for %s", url)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; greenwash-cli)")

	resp, err := hc.client.Do(req)
	if err != nil {
		return CheckResult{}, eris.Wrapf(err, "probe %s", url)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, titleReadLimit))
		return CheckResult{Alive: true, Title: pageTitle(string(body))}, nil
	case resp.StatusCode == http.StatusForbidden:
		return CheckResult{Alive: true}, nil
	default:
		return CheckResult{Alive: false}, nil
	}
}

// pageTitle pulls the <title> text out of an HTML fragment, or "".
func pageTitle(body string) string {
	lower := strings.ToLower(body)
	start := strings.Index(lower, "<title")
	if start < 0 {
		return ""
	}
	open := strings.Index(lower[start:], ">")
	if open < 0 {
		return ""
	}
	start += open + 1
	end := strings.Index(lower[start:], "</title")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(body[start : start+end])
}
