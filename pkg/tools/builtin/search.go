package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nstogner/chatd/pkg/tools"
)

const exaSearchURL = "https://api.exa.ai/search"

// WebSearch queries the Exa search API.
type WebSearch struct {
	APIKey     string
	Endpoint   string
	NumResults int
	Client     *http.Client
}

var _ tools.Tool = (*WebSearch)(nil)

func (s *WebSearch) Name() string { return "web_search" }

func (s *WebSearch) Description() string {
	return "Search the web for recent news, documentation and other up-to-date information. Returns titles, URLs and page excerpts."
}

func (s *WebSearch) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query."},
		},
		"required": []string{"query"},
	}
}

type exaRequest struct {
	Query      string      `json:"query"`
	Type       string      `json:"type"`
	NumResults int         `json:"numResults"`
	Contents   exaContents `json:"contents"`
}

type exaContents struct {
	Text      exaText `json:"text"`
	Livecrawl string  `json:"livecrawl,omitempty"`
	Summary   bool    `json:"summary"`
}

type exaText struct {
	MaxCharacters int `json:"maxCharacters"`
}

type exaResponse struct {
	Results []SearchResult `json:"results"`
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	PublishedDate string `json:"publishedDate,omitempty"`
	Text          string `json:"text,omitempty"`
	Summary       string `json:"summary,omitempty"`
}

func (s *WebSearch) Execute(ctx context.Context, input map[string]any) (any, error) {
	query, ok := tools.StringArg(input, "query")
	if !ok {
		return nil, fmt.Errorf("query is required")
	}
	n := s.NumResults
	if n <= 0 {
		n = 6
	}
	body, err := json.Marshal(exaRequest{
		Query:      query,
		Type:       "auto",
		NumResults: n,
		Contents: exaContents{
			Text:      exaText{MaxCharacters: 1000},
			Livecrawl: "preferred",
			Summary:   true,
		},
	})
	if err != nil {
		return nil, err
	}
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = exaSearchURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.APIKey)

	resp, err := httpClient(s.Client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed: %s", resp.Status)
	}
	var out exaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	return map[string]any{"query": query, "results": out.Results}, nil
}

const duckDuckGoURL = "https://api.duckduckgo.com/"

// InstantAnswer queries the DuckDuckGo instant answer API.
type InstantAnswer struct {
	Endpoint string
	Client   *http.Client
}

var _ tools.Tool = (*InstantAnswer)(nil)

func (d *InstantAnswer) Name() string { return "instant_answer" }

func (d *InstantAnswer) Description() string {
	return "Look up a short encyclopedic summary for a term using DuckDuckGo instant answers."
}

func (d *InstantAnswer) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The term to look up."},
		},
		"required": []string{"query"},
	}
}

func (d *InstantAnswer) Execute(ctx context.Context, input map[string]any) (any, error) {
	query, ok := tools.StringArg(input, "query")
	if !ok {
		return nil, fmt.Errorf("query is required")
	}
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = duckDuckGoURL
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_redirect", "1")
	q.Set("no_html", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient(d.Client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query failed: %s", resp.Status)
	}
	var data struct {
		Abstract    string `json:"Abstract"`
		AbstractURL string `json:"AbstractURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding answer: %w", err)
	}
	if data.Abstract == "" {
		data.Abstract = "No summary found."
	}
	if data.AbstractURL == "" {
		data.AbstractURL = "https://duckduckgo.com/"
	}
	return map[string]any{"query": query, "abstract": data.Abstract, "source": data.AbstractURL}, nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 20 * time.Second}
}
