package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alihassan-coder/perplexity2-agent/internal/httpkit"
)

const tavilyAPIURL = "https://api.tavily.com/search"

// Tavily implements the Provider interface for the Tavily Search API.
type Tavily struct {
	apiKey     string
	apiURL     string
	maxResults int
	httpClient *http.Client
}

// NewTavily creates a Tavily search provider. maxResults caps the
// result count requested from the API; zero means 8.
func NewTavily(apiKey string, maxResults int) *Tavily {
	if maxResults <= 0 {
		maxResults = 8
	}
	return &Tavily{
		apiKey:     apiKey,
		apiURL:     tavilyAPIURL,
		maxResults: maxResults,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (t *Tavily) Name() string { return "tavily" }

// tavilyRequest is the JSON request body for Tavily's /search endpoint.
type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// tavilyResponse is the JSON response from Tavily's /search endpoint.
type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func (t *Tavily) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 || count > t.maxResults {
		count = t.maxResults
	}

	body, err := json.Marshal(tavilyRequest{
		Query:      query,
		MaxResults: count,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("tavily: HTTP %d: %s", resp.StatusCode, errBody)
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	results := make([]Result, 0, len(tr.Results))
	for _, r := range tr.Results {
		results = append(results, Result{
			URL:     r.URL,
			Title:   r.Title,
			Content: r.Content,
		})
	}
	return results, nil
}
