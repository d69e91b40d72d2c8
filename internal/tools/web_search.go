package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// defaultWebSearchTimeout bounds outbound search requests.
const defaultWebSearchTimeout = 10 * time.Second

// defaultWebSearchURL is the fallback search endpoint when not overridden.
const defaultWebSearchURL = "https://duckduckgo.com/html/"

// DefaultBraveSearchURL is the Brave Search web endpoint.
const DefaultBraveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// Brave result caps: news first, then web results.
const (
	braveNewsLimit = 3
	braveWebLimit  = 4
)

var (
	resultLinkPattern    = regexp.MustCompile(`<a[^>]*class=\"result__a\"[^>]*href=\"([^\"]+)\"[^>]*>(.*?)</a>`)
	resultSnippetPattern = regexp.MustCompile(`<a[^>]*class=\"result__snippet\"[^>]*>(.*?)</a>`)
	tagPattern           = regexp.MustCompile(`<[^>]+>`)
)

// WebSearchTool searches the web. With a Brave API key it queries Brave
// Search; otherwise it scrapes a simple HTML or JSON search endpoint.
type WebSearchTool struct {
	// BaseURL is the fallback search endpoint (default DuckDuckGo HTML).
	BaseURL string
	// BraveAPIKey enables Brave Search.
	BraveAPIKey string
	// BraveURL overrides DefaultBraveSearchURL.
	BraveURL string
	// Client overrides the HTTP client.
	Client *http.Client
}

// Name returns the tool identifier used in tool calls.
func (t *WebSearchTool) Name() string {
	return "WebSearch"
}

// Description summarizes the search behavior for the model.
func (t *WebSearchTool) Description() string {
	return "Search the web and return the top results, including recent news when available."
}

// Schema describes the supported WebSearch payload fields.
func (t *WebSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query to execute.",
			},
			"num_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return.",
			},
		},
		"required": []string{"query"},
	}
}

// Run executes the search and returns a text summary of results.
func (t *WebSearchTool) Run(ctx context.Context, input json.RawMessage) (ToolResult, error) {
	var payload struct {
		Query      string `json:"query"`
		NumResults int    `json:"num_results"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	query := strings.TrimSpace(payload.Query)
	if query == "" {
		return ToolResult{IsError: true, Content: "query is required"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultWebSearchTimeout)
	defer cancel()

	if strings.TrimSpace(t.BraveAPIKey) != "" {
		return t.searchBrave(ctx, query)
	}

	limit := payload.NumResults
	if limit <= 0 {
		limit = 5
	}
	return t.searchHTML(ctx, query, limit)
}

func (t *WebSearchTool) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return &http.Client{}
}

func (t *WebSearchTool) searchHTML(ctx context.Context, query string, limit int) (ToolResult, error) {
	baseURL := strings.TrimSpace(t.BaseURL)
	if baseURL == "" {
		baseURL = defaultWebSearchURL
	}
	searchURL, err := buildSearchURL(baseURL, url.Values{"q": {query}})
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("build request: %v", err)}, nil
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	body, contentType, err := t.do(req)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	results, err := parseSearchResults(body, contentType)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if len(results) > limit {
		results = results[:limit]
	}
	blocks := make([]string, 0, len(results))
	for _, result := range results {
		blocks = append(blocks, formatResult("", result))
	}
	return ToolResult{Content: strings.Join(blocks, "\n\n")}, nil
}

// braveResponse is the subset of the Brave Search response that is used.
type braveResponse struct {
	News struct {
		Results []braveResult `json:"results"`
	} `json:"news"`
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func (t *WebSearchTool) searchBrave(ctx context.Context, query string) (ToolResult, error) {
	endpoint := t.BraveURL
	if endpoint == "" {
		endpoint = DefaultBraveSearchURL
	}
	searchURL, err := buildSearchURL(endpoint, url.Values{
		"q":                {query},
		"count":            {"5"},
		"extra_snippets":   {"true"},
		"safesearch":       {"off"},
		"text_decorations": {"false"},
	})
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("build request: %v", err)}, nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.BraveAPIKey)
	body, _, err := t.do(req)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	var data braveResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("decode search response: %v", err)}, nil
	}

	var blocks []string
	for i, result := range data.News.Results {
		if i == braveNewsLimit {
			break
		}
		blocks = append(blocks, formatResult("[NEWS] ", webSearchResult{Title: result.Title, URL: result.URL, Snippet: result.Description}))
	}
	for i, result := range data.Web.Results {
		if i == braveWebLimit {
			break
		}
		blocks = append(blocks, formatResult("", webSearchResult{Title: result.Title, URL: result.URL, Snippet: result.Description}))
	}
	if len(blocks) == 0 {
		return ToolResult{IsError: true, Content: "no search results found"}, nil
	}
	return ToolResult{Content: strings.Join(blocks, "\n\n")}, nil
}

// do performs req and returns the body and content type of a success response.
func (t *WebSearchTool) do(req *http.Request) ([]byte, string, error) {
	resp, err := t.client().Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultWebFetchMaxBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read response: %v", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("search failed: %s", resp.Status)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// webSearchResult captures a single search result entry.
type webSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

func formatResult(prefix string, result webSearchResult) string {
	return fmt.Sprintf("%sTitle: %s\nURL: %s\nDescription: %s", prefix, result.Title, result.URL, result.Snippet)
}

// buildSearchURL merges query parameters into a base URL.
func buildSearchURL(baseURL string, params url.Values) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid search base URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("search base URL must be http or https")
	}
	values := parsed.Query()
	for key, list := range params {
		for _, value := range list {
			values.Set(key, value)
		}
	}
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

// parseSearchResults extracts results from JSON or HTML payloads.
func parseSearchResults(body []byte, contentType string) ([]webSearchResult, error) {
	if strings.Contains(contentType, "application/json") {
		return parseSearchJSON(body)
	}
	if results := parseSearchHTML(string(body)); len(results) > 0 {
		return results, nil
	}
	if results, err := parseSearchJSON(body); err == nil && len(results) > 0 {
		return results, nil
	}
	return nil, errors.New("no search results found")
}

// parseSearchJSON reads a JSON response with a results array.
func parseSearchJSON(body []byte) ([]webSearchResult, error) {
	var payload struct {
		Results []webSearchResult `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload.Results, nil
}

// parseSearchHTML extracts results from a simple HTML page.
func parseSearchHTML(body string) []webSearchResult {
	matches := resultLinkPattern.FindAllStringSubmatch(body, -1)
	snippets := resultSnippetPattern.FindAllStringSubmatch(body, -1)

	results := make([]webSearchResult, 0, len(matches))
	for index, match := range matches {
		entry := webSearchResult{
			Title: stripHTML(match[2]),
			URL:   html.UnescapeString(match[1]),
		}
		if index < len(snippets) {
			entry.Snippet = stripHTML(snippets[index][1])
		}
		results = append(results, entry)
	}
	return results
}

// stripHTML removes HTML tags and unescapes entities.
func stripHTML(fragment string) string {
	plain := tagPattern.ReplaceAllString(fragment, "")
	return strings.TrimSpace(html.UnescapeString(plain))
}
