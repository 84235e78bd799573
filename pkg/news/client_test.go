package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/everything", r.URL.Path)
		assert.Equal(t, `"carbon capture pilot" 2024`, r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		w.Write([]byte(`{
			"status": "ok",
			"articles": [
				{"title": "Cement maker trials carbon capture", "url": "https://news.example.com/a1", "description": "pilot plant"},
				{"title": "Capture pilot delayed", "url": "https://news.example.com/a2", "description": ""}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	articles, err := c.Search(context.Background(), `"carbon capture pilot" 2024`)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "https://news.example.com/a1", articles[0].URL)
}

func TestSearchEmptyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok", "articles": []}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	articles, err := c.Search(context.Background(), "obscure topic")
	require.NoError(t, err)
	assert.Empty(t, articles)
}

func TestSearchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "anything")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}
