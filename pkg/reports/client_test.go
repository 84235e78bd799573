package reports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/esg_report":
			assert.Equal(t, "1101", r.URL.Query().Get("co_id"))
			assert.Equal(t, "2024", r.URL.Query().Get("year"))
			fmt.Fprintf(w, `{"company_name": "Taiwan Cement", "industry": "Cement", "file_url": "%s/files/2024_1101.pdf"}`, srv.URL)
		case "/files/2024_1101.pdf":
			w.Write([]byte("%PDF-1.7 fake report body"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	rep, err := c.Fetch(context.Background(), "1101", "2024")
	require.NoError(t, err)
	assert.Equal(t, "Taiwan Cement", rep.CompanyName)
	assert.Equal(t, "Cement", rep.Industry)
	assert.Contains(t, rep.SourceURL, "/files/2024_1101.pdf")
	assert.NotEmpty(t, rep.Data)
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Fetch(context.Background(), "9999", "2024")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFetchEmptyListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"company_name": "", "industry": "", "file_url": ""}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Fetch(context.Background(), "1101", "2024")
	assert.True(t, errors.Is(err, ErrNotFound), "listing without a file is not found")
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Fetch(context.Background(), "1101", "2024")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}
