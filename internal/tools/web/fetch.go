// Package web provides the built-in WebFetch tool.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/haasonsaas/agentkit/internal/tools"
)

const maxBodyBytes = 1 << 20

// FetchTool downloads a URL and extracts readable text. When the model
// passes a "prompt" argument, the runtime additionally runs a one-shot
// summarization over the fetched text; the tool itself only fetches.
type FetchTool struct {
	client *http.Client
}

// NewFetchTool creates a WebFetch tool with a 15-second timeout.
func NewFetchTool() *FetchTool {
	return &FetchTool{client: &http.Client{Timeout: 15 * time.Second}}
}

// NewFetchToolWithClient overrides the HTTP client, mainly for tests.
func NewFetchToolWithClient(client *http.Client) *FetchTool {
	return &FetchTool{client: client}
}

func (*FetchTool) Name() string { return "WebFetch" }

func (*FetchTool) Description() string {
	return "Fetch a URL and extract its readable text content. Pass 'prompt' to have the text summarized."
}

func (*FetchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":    map[string]any{"type": "string", "description": "URL to fetch."},
			"prompt": map[string]any{"type": "string", "description": "Optional instruction applied to the page text."},
		},
		"required": []any{"url"},
	}
}

func (t *FetchTool) Run(ctx context.Context, input map[string]any, _ *tools.Context) (any, error) {
	rawURL, err := tools.StringArg(input, "url")
	if err != nil {
		return nil, fmt.Errorf("WebFetch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("WebFetch: invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; agentkit/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("WebFetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("WebFetch: read body: %w", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	text := extractText(string(body), finalURL)
	return map[string]any{
		"url":    finalURL,
		"status": resp.StatusCode,
		"text":   text,
	}, nil
}

func extractText(html, rawURL string) string {
	parsed, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return strings.TrimSpace(article.TextContent)
	}
	return stripTags(html)
}

var (
	tagRx    = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	markupRx = regexp.MustCompile(`<[^>]+>`)
	spaceRx  = regexp.MustCompile(`\s+`)
)

// stripTags is the fallback for pages readability cannot parse.
func stripTags(html string) string {
	out := tagRx.ReplaceAllString(html, " ")
	out = markupRx.ReplaceAllString(out, " ")
	return strings.TrimSpace(spaceRx.ReplaceAllString(out, " "))
}
