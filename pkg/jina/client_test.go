package jina

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_ParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"data":[
			{"title":"Acme Corp - About","url":"https://acme.com/about","description":"Acme builds widgets"},
			{"title":"Acme competitors","url":"https://example.com","description":"similar companies"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	results, err := c.Search(context.Background(), "companies like Acme Corp")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Acme Corp - About", results[0].Title)
	assert.Equal(t, "https://acme.com/about", results[0].URL)
}

func TestSearch_NoResultsIs422(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	results, err := c.Search(context.Background(), "zzyzx nonexistent llc employees")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"code":200,"data":[{"title":"t","url":"u","description":"d"}]}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	results, err := c.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearch_SiteFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "linkedin.com", r.URL.Query().Get("site"))
		w.Write([]byte(`{"code":200,"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "acme", WithSiteFilter("linkedin.com"))
	require.NoError(t, err)
}

func TestSearch_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	c := NewClient("bad", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
