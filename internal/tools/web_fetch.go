package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultWebFetchTimeout bounds outbound HTTP requests for safety.
const defaultWebFetchTimeout = 10 * time.Second

// defaultWebFetchMaxBytes limits response bodies so tool output stays bounded.
const defaultWebFetchMaxBytes = 1024 * 1024

// DefaultUserAgent is sent when a request sets none.
const DefaultUserAgent = "shellai/1.0"

// WebFetchTool performs an HTTP(S) request described either by fields or by
// a curl command line and returns the response body.
type WebFetchTool struct {
	// Client overrides the HTTP client.
	Client *http.Client
	// UserAgent overrides DefaultUserAgent.
	UserAgent string
}

// Name returns the tool identifier used in tool calls.
func (t *WebFetchTool) Name() string {
	return "WebFetch"
}

// Description summarizes the fetch behavior for the model.
func (t *WebFetchTool) Description() string {
	return "Perform an HTTP(S) request and return the response body. " +
		"Pass either url (with optional method, headers and body) or a full curl command string. " +
		"HTML pages are converted to readable text."
}

// Schema describes the supported WebFetch payload fields.
func (t *WebFetchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch.",
			},
			"curl": map[string]any{
				"type":        "string",
				"description": "Full curl command string (e.g. curl -X POST https://... -H 'Accept: application/json' -d '{}'). Used instead of url.",
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method (default GET, or POST when a body is given).",
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Optional headers to include in the request.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Optional request body.",
			},
			"raw": map[string]any{
				"type":        "boolean",
				"description": "Return HTML unchanged instead of converting it to text.",
			},
			"max_bytes": map[string]any{
				"type":        "integer",
				"description": "Maximum bytes to read from the response body.",
			},
			"timeout_ms": map[string]any{
				"type":        "integer",
				"description": "Request timeout in milliseconds.",
			},
		},
	}
}

// webFetchPayload is the decoded tool input.
type webFetchPayload struct {
	URL       string            `json:"url"`
	Curl      string            `json:"curl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	Raw       bool              `json:"raw"`
	MaxBytes  int64             `json:"max_bytes"`
	TimeoutMS int               `json:"timeout_ms"`
}

// Run validates the payload, performs the request, and returns the response body.
func (t *WebFetchTool) Run(ctx context.Context, input json.RawMessage) (ToolResult, error) {
	var payload webFetchPayload
	if err := json.Unmarshal(input, &payload); err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}

	if strings.TrimSpace(payload.Curl) != "" {
		parsed, err := parseCurl(payload.Curl)
		if err != nil {
			return ToolResult{IsError: true, Content: err.Error()}, nil
		}
		payload.URL = parsed.URL
		payload.Method = parsed.Method
		payload.Body = parsed.Body
		if payload.Headers == nil {
			payload.Headers = map[string]string{}
		}
		for key, value := range parsed.Headers {
			payload.Headers[key] = value
		}
	}
	if strings.TrimSpace(payload.URL) == "" {
		return ToolResult{IsError: true, Content: "url or curl is required"}, nil
	}

	parsed, err := url.Parse(payload.URL)
	if err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("invalid url: %v", err)}, nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ToolResult{IsError: true, Content: "only http and https URLs are supported"}, nil
	}

	method := strings.ToUpper(strings.TrimSpace(payload.Method))
	if method == "" {
		method = http.MethodGet
		if payload.Body != "" {
			method = http.MethodPost
		}
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions:
	default:
		return ToolResult{IsError: true, Content: fmt.Sprintf("unsupported method: %s", method)}, nil
	}

	timeout := defaultWebFetchTimeout
	if payload.TimeoutMS > 0 {
		timeout = time.Duration(payload.TimeoutMS) * time.Millisecond
	}

	maxBytes := int64(defaultWebFetchMaxBytes)
	if payload.MaxBytes > 0 {
		maxBytes = payload.MaxBytes
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload.Body != "" {
		body = strings.NewReader(payload.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), body)
	if err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("build request: %v", err)}, nil
	}
	for key, value := range payload.Headers {
		if key == "" {
			continue
		}
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent())
	}

	client := t.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	text, truncated, readErr := readLimitedBody(resp.Body, maxBytes)
	if readErr != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("read body: %v", readErr)}, nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		message := fmt.Sprintf("request failed: %s", resp.Status)
		if text != "" {
			message = fmt.Sprintf("%s\n%s", message, text)
		}
		return ToolResult{IsError: true, Content: message}, nil
	}

	if containsNullByte(text) {
		return ToolResult{IsError: true, Content: "binary response body is not supported"}, nil
	}
	if !payload.Raw && strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		if converted, err := htmlToText(text); err == nil {
			text = converted
		}
	}
	if truncated {
		text += "\n...[truncated]"
	}

	return ToolResult{Content: text}, nil
}

func (t *WebFetchTool) userAgent() string {
	if t.UserAgent != "" {
		return t.UserAgent
	}
	return DefaultUserAgent
}

// readLimitedBody reads up to maxBytes and reports whether truncation occurred.
func readLimitedBody(reader io.Reader, maxBytes int64) (string, bool, error) {
	if maxBytes <= 0 {
		return "", false, fmt.Errorf("max_bytes must be positive")
	}
	limited := io.LimitReader(reader, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", false, err
	}
	truncated := int64(len(data)) > maxBytes
	if truncated {
		data = data[:maxBytes]
	}
	return string(data), truncated, nil
}

// containsNullByte detects likely binary payloads by scanning for NULs.
func containsNullByte(payload string) bool {
	return strings.ContainsRune(payload, '\x00')
}
