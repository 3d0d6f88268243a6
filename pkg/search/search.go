// Package search queries the DuckDuckGo instant-answer API. Agents use it to
// fill gaps the knowledge base does not cover, such as current delays or
// carrier disruptions.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"freightdesk/pkg/config"
)

const (
	defaultBaseURL    = "https://api.duckduckgo.com"
	defaultMaxResults = 5
	maxResponseBytes  = 2 * 1024 * 1024
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type instantAnswer struct {
	Heading        string  `json:"Heading"`
	AbstractText   string  `json:"AbstractText"`
	AbstractURL    string  `json:"AbstractURL"`
	AbstractSource string  `json:"AbstractSource"`
	Answer         string  `json:"Answer"`
	Definition     string  `json:"Definition"`
	DefinitionURL  string  `json:"DefinitionURL"`
	RelatedTopics  []topic `json:"RelatedTopics"`
	Results        []topic `json:"Results"`
}

type topic struct {
	Text     string  `json:"Text"`
	FirstURL string  `json:"FirstURL"`
	Name     string  `json:"Name"`
	Topics   []topic `json:"Topics"`
}

// Client is a web search client.
type Client struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
	log        *slog.Logger
}

// New builds a client from config. httpClient may be nil.
func New(cfg config.SearchConfig, httpClient *http.Client, log *slog.Logger) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if httpClient == nil {
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		maxResults: maxResults,
		httpClient: httpClient,
		log:        log.With("component", "search"),
	}
}

// Search returns up to limit results for query; limit <= 0 uses the
// configured maximum.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is required")
	}
	if limit <= 0 || limit > c.maxResults {
		limit = c.maxResults
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("Search request failed", "query", query, "error", err)
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("search status %d", resp.StatusCode)
	}

	var answer instantAnswer
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := collect(answer, limit)
	c.log.Debug("Search completed", "query", query, "results", len(results), "duration_ms", time.Since(start).Milliseconds())
	return results, nil
}

func collect(answer instantAnswer, limit int) []Result {
	results := make([]Result, 0, limit)
	add := func(r Result) bool {
		if len(results) >= limit {
			return false
		}
		if strings.TrimSpace(r.Snippet) == "" {
			return true
		}
		results = append(results, r)
		return true
	}

	if answer.Answer != "" {
		add(Result{Title: "Answer", Snippet: answer.Answer})
	}
	if answer.AbstractText != "" {
		title := answer.Heading
		if answer.AbstractSource != "" {
			title = strings.TrimSpace(title + " (" + answer.AbstractSource + ")")
		}
		add(Result{Title: title, URL: answer.AbstractURL, Snippet: answer.AbstractText})
	}
	if answer.Definition != "" {
		add(Result{Title: "Definition", URL: answer.DefinitionURL, Snippet: answer.Definition})
	}

	var walk func(topics []topic) bool
	walk = func(topics []topic) bool {
		for _, t := range topics {
			if len(t.Topics) > 0 {
				if !walk(t.Topics) {
					return false
				}
				continue
			}
			if !add(Result{Title: topicTitle(t.Text), URL: t.FirstURL, Snippet: t.Text}) {
				return false
			}
		}
		return true
	}
	if walk(answer.Results) {
		walk(answer.RelatedTopics)
	}

	return results
}

func topicTitle(text string) string {
	if title, _, ok := strings.Cut(text, " - "); ok {
		return strings.TrimSpace(title)
	}
	return ""
}

// Format renders results for an agent prompt.
func Format(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. ", i+1)
		if r.Title != "" {
			sb.WriteString(r.Title + ": ")
		}
		sb.WriteString(r.Snippet)
		if r.URL != "" {
			sb.WriteString(" <" + r.URL + ">")
		}
	}

	return sb.String()
}
