// Package signalhire provides a client for the SignalHire people-directory
// API: company identity lookups, candidate ID search, and profile/company
// collection. Every call is billable; callers are expected to cache.
package signalhire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scout/internal/resilience"
)

// MaxSearchIDs is the directory-imposed ceiling on a single ID search.
const MaxSearchIDs = 1000

// Client defines the directory operations used by the pipeline.
type Client interface {
	// ResolveByDomain returns the company matching a homepage domain, or
	// nil when the directory has no match.
	ResolveByDomain(ctx context.Context, domain string) (*CompanyMatch, error)
	// ResolveByName returns an exact or near-exact name match, or nil.
	ResolveByName(ctx context.Context, name string) (*CompanyMatch, error)
	// SuggestNames returns approximate name matches with similarity scores.
	SuggestNames(ctx context.Context, name string, limit int) ([]CompanyMatch, error)
	// SearchIDs runs the cheap identifier-only search, returning up to
	// limit (≤ MaxSearchIDs) opaque candidate identifiers.
	SearchIDs(ctx context.Context, query SearchQuery, limit int) ([]string, error)
	// CollectProfile materializes a full person profile. Expensive.
	CollectProfile(ctx context.Context, id string) (*ProfileRecord, error)
	// CollectCompany materializes a full company record. Expensive.
	CollectCompany(ctx context.Context, id int64) (*CompanyRecord, error)
}

// CompanyMatch is a directory company hit.
type CompanyMatch struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Domain string  `json:"domain,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

// SearchQuery is the boolean filter accepted by the ID search endpoint.
// Candidates match when (employer id ∈ CompanyIDs OR employer name matches
// any of CompanyNames) AND title matches any of TitleKeywords. Location is
// a ranking boost, not a hard filter.
type SearchQuery struct {
	CompanyIDs    []int64  `json:"company_ids,omitempty"`
	CompanyNames  []string `json:"company_names,omitempty"`
	TitleKeywords []string `json:"title_keywords,omitempty"`
	LocationBoost string   `json:"location_boost,omitempty"`
}

// ProfileRecord is a materialized person profile.
type ProfileRecord struct {
	ID         string   `json:"id"`
	FullName   string   `json:"full_name"`
	Title      string   `json:"title,omitempty"`
	Employer   string   `json:"employer,omitempty"`
	Location   string   `json:"location,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	ProfileURL string   `json:"profile_url,omitempty"`
}

// CompanyRecord is a materialized company record.
type CompanyRecord struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Domain    string `json:"domain,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Headcount int    `json:"headcount,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a new SignalHire client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.signalhire.com",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do executes a request with retry on transient failures and decodes the
// JSON response body into out. A 404 returns errNoMatch so lookup callers
// can map it to a nil result.
var errNoMatch = eris.New("signalhire: no match")

func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, reqBody, out any) error {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return eris.Wrap(err, "signalhire: marshal request")
		}
	}

	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		reqURL := c.baseURL + path
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return eris.Wrap(err, "signalhire: create request")
		}
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return eris.Wrap(err, "signalhire: request failed")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "signalhire: read response body")
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return errNoMatch
		case resilience.RetryableStatus(resp.StatusCode):
			return resilience.NewTransientError(
				eris.Errorf("signalhire: status %d: %s", resp.StatusCode, string(respBody)),
				resp.StatusCode,
			)
		case resp.StatusCode != http.StatusOK:
			return eris.Errorf("signalhire: unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "signalhire: unmarshal response")
		}
		return nil
	})
}

func (c *httpClient) ResolveByDomain(ctx context.Context, domain string) (*CompanyMatch, error) {
	var match CompanyMatch
	err := c.do(ctx, http.MethodGet, "/v1/company/by-domain",
		url.Values{"domain": {domain}}, nil, &match)
	if eris.Is(err, errNoMatch) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (c *httpClient) ResolveByName(ctx context.Context, name string) (*CompanyMatch, error) {
	var match CompanyMatch
	err := c.do(ctx, http.MethodGet, "/v1/company/by-name",
		url.Values{"name": {name}}, nil, &match)
	if eris.Is(err, errNoMatch) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (c *httpClient) SuggestNames(ctx context.Context, name string, limit int) ([]CompanyMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	var resp struct {
		Matches []CompanyMatch `json:"matches"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/company/suggest",
		url.Values{"name": {name}, "limit": {fmt.Sprint(limit)}}, nil, &resp)
	if eris.Is(err, errNoMatch) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

func (c *httpClient) SearchIDs(ctx context.Context, query SearchQuery, limit int) ([]string, error) {
	if limit <= 0 || limit > MaxSearchIDs {
		limit = MaxSearchIDs
	}
	var resp struct {
		IDs   []string `json:"ids"`
		Total int      `json:"total"`
	}
	body := struct {
		SearchQuery
		Limit int `json:"limit"`
	}{query, limit}

	if err := c.do(ctx, http.MethodPost, "/v1/candidate/search", nil, body, &resp); err != nil {
		if eris.Is(err, errNoMatch) {
			return nil, nil
		}
		return nil, err
	}
	if len(resp.IDs) > limit {
		resp.IDs = resp.IDs[:limit]
	}
	return resp.IDs, nil
}

func (c *httpClient) CollectProfile(ctx context.Context, id string) (*ProfileRecord, error) {
	var rec ProfileRecord
	err := c.do(ctx, http.MethodGet, "/v1/candidate/"+url.PathEscape(id), nil, nil, &rec)
	if eris.Is(err, errNoMatch) {
		return nil, eris.Errorf("signalhire: profile %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *httpClient) CollectCompany(ctx context.Context, id int64) (*CompanyRecord, error) {
	var rec CompanyRecord
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/company/%d", id), nil, nil, &rec)
	if eris.Is(err, errNoMatch) {
		return nil, eris.Errorf("signalhire: company %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
