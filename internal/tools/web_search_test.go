package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestWebSearchToolJSON verifies JSON result parsing via an override URL.
func TestWebSearchToolJSON(testingHandle *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Query().Get("q") != "test" {
			testingHandle.Errorf("unexpected query: %s", request.URL.RawQuery)
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"results":[{"title":"Doc","url":"https://example.com","snippet":"Example"}]}`))
	}))
	defer server.Close()

	tool := &WebSearchTool{BaseURL: server.URL}
	payload, err := json.Marshal(map[string]any{
		"query": "test",
	})
	if err != nil {
		testingHandle.Fatalf("marshal payload: %v", err)
	}

	result, runErr := tool.Run(context.Background(), payload)
	if runErr != nil {
		testingHandle.Fatalf("run tool: %v", runErr)
	}
	if result.IsError {
		testingHandle.Fatalf("unexpected error: %s", result.Content)
	}
	want := "Title: Doc\nURL: https://example.com\nDescription: Example"
	if result.Content != want {
		testingHandle.Fatalf("unexpected search output: %q", result.Content)
	}
}

// TestWebSearchToolHTML verifies HTML scraping and the result limit.
func TestWebSearchToolHTML(testingHandle *testing.T) {
	page := `<div><a class="result__a" href="https://a.example">A &amp; B</a><a class="result__snippet">first <b>hit</b></a></div>
<div><a class="result__a" href="https://c.example">C</a><a class="result__snippet">second</a></div>`
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "text/html")
		_, _ = writer.Write([]byte(page))
	}))
	defer server.Close()

	tool := &WebSearchTool{BaseURL: server.URL}
	result, runErr := tool.Run(context.Background(), json.RawMessage(`{"query":"x","num_results":1}`))
	if runErr != nil {
		testingHandle.Fatalf("run tool: %v", runErr)
	}
	want := "Title: A & B\nURL: https://a.example\nDescription: first hit"
	if result.Content != want {
		testingHandle.Fatalf("unexpected search output: %q", result.Content)
	}
}

// TestWebSearchToolBrave verifies Brave results list news before web results.
func TestWebSearchToolBrave(testingHandle *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("X-Subscription-Token") != "key" {
			testingHandle.Errorf("missing subscription token")
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{
			"news": {"results": [
				{"title": "N1", "url": "https://n/1", "description": "d1"},
				{"title": "N2", "url": "https://n/2", "description": "d2"},
				{"title": "N3", "url": "https://n/3", "description": "d3"},
				{"title": "N4", "url": "https://n/4", "description": "d4"}
			]},
			"web": {"results": [
				{"title": "W1", "url": "https://w/1", "description": "e1"},
				{"title": "W2", "url": "https://w/2", "description": "e2"},
				{"title": "W3", "url": "https://w/3", "description": "e3"},
				{"title": "W4", "url": "https://w/4", "description": "e4"},
				{"title": "W5", "url": "https://w/5", "description": "e5"}
			]}
		}`))
	}))
	defer server.Close()

	tool := &WebSearchTool{BraveAPIKey: "key", BraveURL: server.URL}
	result, runErr := tool.Run(context.Background(), json.RawMessage(`{"query":"go"}`))
	if runErr != nil {
		testingHandle.Fatalf("run tool: %v", runErr)
	}
	if result.IsError {
		testingHandle.Fatalf("unexpected error: %s", result.Content)
	}
	blocks := strings.Split(result.Content, "\n\n")
	if len(blocks) != 7 {
		testingHandle.Fatalf("expected 3 news and 4 web results, got %d:\n%s", len(blocks), result.Content)
	}
	if blocks[0] != "[NEWS] Title: N1\nURL: https://n/1\nDescription: d1" {
		testingHandle.Fatalf("unexpected first block: %q", blocks[0])
	}
	if !strings.HasPrefix(blocks[3], "Title: W1") {
		testingHandle.Fatalf("web results should follow news: %q", blocks[3])
	}
}

// TestWebSearchToolRequiresQuery verifies empty queries are rejected.
func TestWebSearchToolRequiresQuery(testingHandle *testing.T) {
	result, runErr := (&WebSearchTool{}).Run(context.Background(), json.RawMessage(`{"query":"  "}`))
	if runErr != nil {
		testingHandle.Fatalf("run tool: %v", runErr)
	}
	if !result.IsError {
		testingHandle.Fatalf("expected error for empty query")
	}
}
