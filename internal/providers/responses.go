package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIResponses adapts an OpenAI-compatible /v1/responses endpoint. The
// server threads conversation state: after a turn the runtime may send only
// the new function_call_output items plus previous_response_id. Servers
// that reject previous_response_id trigger the runtime's full-transcript
// fallback.
type OpenAIResponses struct {
	name    string
	baseURL string
	client  *http.Client
	apiKey  string
}

// OpenAIResponsesConfig configures the responses adapter.
type OpenAIResponsesConfig struct {
	// Name overrides the provider name. Default: "openai-responses".
	Name string

	// BaseURL is the API root. Default: "https://api.openai.com/v1".
	BaseURL string

	// APIKey fixes the key at construction. When empty, the per-request
	// APIKey is used instead.
	APIKey string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// NewOpenAIResponses creates a responses-protocol adapter.
func NewOpenAIResponses(config OpenAIResponsesConfig) *OpenAIResponses {
	p := &OpenAIResponses{
		name:    config.Name,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client:  config.HTTPClient,
		apiKey:  config.APIKey,
	}
	if p.name == "" {
		p.name = "openai-responses"
	}
	if p.baseURL == "" {
		p.baseURL = "https://api.openai.com/v1"
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 120 * time.Second}
	}
	return p
}

// Name implements Provider.
func (p *OpenAIResponses) Name() string { return p.name }

func (p *OpenAIResponses) payload(req *ResponsesRequest, stream bool) map[string]any {
	input := make([]map[string]any, 0, len(req.Input))
	for _, item := range req.Input {
		if item.Type != "" {
			entry := map[string]any{"type": item.Type, "call_id": item.CallID}
			if item.Type == "function_call" {
				entry["name"] = item.Name
				entry["arguments"] = item.Arguments
			} else {
				entry["output"] = item.Output
			}
			input = append(input, entry)
			continue
		}
		input = append(input, map[string]any{"role": item.Role, "content": item.Content})
	}

	payload := map[string]any{
		"model": req.Model,
		"input": input,
		"store": req.Store,
	}
	if req.PreviousResponseID != "" {
		payload["previous_response_id"] = req.PreviousResponseID
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, ts := range req.Tools {
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        ts.Name,
				"description": ts.Description,
				"parameters":  ts.Parameters,
			})
		}
		payload["tools"] = tools
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

func (p *OpenAIResponses) post(ctx context.Context, req *ResponsesRequest, stream bool) (*http.Response, error) {
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = p.apiKey
	}
	if apiKey == "" {
		return nil, &Error{Provider: p.name, Kind: "config", Message: "api key is required"}
	}
	body, err := json.Marshal(p.payload(req, stream))
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Provider: p.name, Kind: "transport", Message: err.Error(), Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, p.apiError(resp.StatusCode, data)
	}
	return resp, nil
}

// apiError preserves the server's message so the runtime's recoverable
// error classification (substring match) sees the original text.
func (p *OpenAIResponses) apiError(status int, body []byte) error {
	var obj struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &obj); err == nil && obj.Error.Message != "" {
		message = obj.Error.Message
	}
	return &Error{Provider: p.name, Kind: fmt.Sprintf("http_%d", status), Message: message}
}

type responsesBody struct {
	ID     string `json:"id"`
	Output []struct {
		Type      string `json:"type"`
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		Content   []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage map[string]any `json:"usage"`
}

// CompleteResponses implements ResponsesCompleter.
func (p *OpenAIResponses) CompleteResponses(ctx context.Context, req *ResponsesRequest) (*ModelOutput, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body responsesBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Provider: p.name, Kind: "decode", Message: err.Error(), Cause: err}
	}

	out := &ModelOutput{ResponseID: body.ID, Usage: body.Usage}
	var text strings.Builder
	for _, item := range body.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					text.WriteString(c.Text)
				}
			}
		case "function_call":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ToolUseID: item.CallID,
				Name:      item.Name,
				Arguments: ParseToolArguments(item.Arguments),
			})
		}
	}
	out.AssistantText = text.String()
	return out, nil
}

// StreamResponses implements ResponsesStreamer by consuming the endpoint's
// SSE stream.
func (p *OpenAIResponses) StreamResponses(ctx context.Context, req *ResponsesRequest) (<-chan StreamEvent, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var responseID string
		var usage map[string]any
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}

			var ev struct {
				Type  string `json:"type"`
				Delta string `json:"delta"`
				Item  struct {
					Type      string `json:"type"`
					CallID    string `json:"call_id"`
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"item"`
				Response struct {
					ID    string         `json:"id"`
					Usage map[string]any `json:"usage"`
					Error *struct {
						Message string `json:"message"`
					} `json:"error"`
				} `json:"response"`
			}
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "response.output_text.delta":
				if ev.Delta != "" {
					out <- StreamEvent{Type: StreamTextDelta, Delta: ev.Delta}
				}
			case "response.output_item.done":
				if ev.Item.Type == "function_call" {
					out <- StreamEvent{Type: StreamToolCall, ToolCall: &ToolCall{
						ToolUseID: ev.Item.CallID,
						Name:      ev.Item.Name,
						Arguments: ParseToolArguments(ev.Item.Arguments),
					}}
				}
			case "response.failed":
				message := "response failed"
				if ev.Response.Error != nil {
					message = ev.Response.Error.Message
				}
				out <- StreamEvent{Type: StreamError, Err: &Error{Provider: p.name, Kind: "stream", Message: message}}
				return
			case "response.completed":
				responseID = ev.Response.ID
				usage = ev.Response.Usage
				out <- StreamEvent{Type: StreamDone, ResponseID: responseID, Usage: usage}
				return
			}
		}
		if err := sc.Err(); err != nil {
			out <- StreamEvent{Type: StreamError, Err: &Error{Provider: p.name, Kind: "stream", Message: err.Error(), Cause: err}}
			return
		}
		out <- StreamEvent{Type: StreamDone, ResponseID: responseID, Usage: usage}
	}()
	return out, nil
}
