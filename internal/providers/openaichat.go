package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIChat adapts an OpenAI-compatible chat-completions endpoint to the
// legacy protocol. The full transcript is resent every turn; tool calls
// arrive in the assistant message's tool_calls array.
type OpenAIChat struct {
	name    string
	baseURL string
	client  *openai.Client
}

// OpenAIChatConfig configures the chat adapter.
type OpenAIChatConfig struct {
	// Name overrides the provider name. Default: "openai-chat".
	Name string

	// BaseURL points at an alternate OpenAI-compatible endpoint (optional).
	BaseURL string

	// APIKey fixes the key at construction. When empty, the per-request
	// APIKey is used instead.
	APIKey string
}

// NewOpenAIChat creates a legacy-protocol adapter.
func NewOpenAIChat(config OpenAIChatConfig) *OpenAIChat {
	p := &OpenAIChat{name: config.Name, baseURL: config.BaseURL}
	if p.name == "" {
		p.name = "openai-chat"
	}
	if config.APIKey != "" {
		p.client = p.newClient(config.APIKey)
	}
	return p
}

// Name implements Provider.
func (p *OpenAIChat) Name() string { return p.name }

func (p *OpenAIChat) newClient(apiKey string) *openai.Client {
	if p.baseURL == "" {
		return openai.NewClient(apiKey)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.baseURL
	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAIChat) clientFor(apiKey string) (*openai.Client, error) {
	if p.client != nil {
		return p.client, nil
	}
	if apiKey == "" {
		return nil, &Error{Provider: p.name, Kind: "config", Message: "api key is required"}
	}
	return p.newClient(apiKey), nil
}

// CompleteLegacy implements LegacyCompleter.
func (p *OpenAIChat) CompleteLegacy(ctx context.Context, req *LegacyRequest) (*ModelOutput, error) {
	client, err := p.clientFor(req.APIKey)
	if err != nil {
		return nil, err
	}
	resp, err := client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return &ModelOutput{ResponseID: resp.ID}, nil
	}

	msg := resp.Choices[0].Message
	out := &ModelOutput{
		AssistantText: msg.Content,
		ResponseID:    resp.ID,
		Usage: map[string]any{
			"prompt_tokens":     float64(resp.Usage.PromptTokens),
			"completion_tokens": float64(resp.Usage.CompletionTokens),
			"total_tokens":      float64(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ToolUseID: tc.ID,
			Name:      tc.Function.Name,
			Arguments: ParseToolArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

// StreamLegacy implements LegacyStreamer.
func (p *OpenAIChat) StreamLegacy(ctx context.Context, req *LegacyRequest) (<-chan StreamEvent, error) {
	client, err := p.clientFor(req.APIKey)
	if err != nil {
		return nil, err
	}
	stream, err := client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, p.wrap(err)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer stream.Close()

		// Tool call fragments arrive indexed; accumulate until EOF or a
		// tool_calls finish reason.
		pending := make(map[int]*ToolCall)
		argBuf := make(map[int]string)
		var responseID string

		flush := func() {
			for i := 0; i < len(pending); i++ {
				tc, ok := pending[i]
				if !ok || tc.ToolUseID == "" || tc.Name == "" {
					continue
				}
				tc.Arguments = ParseToolArguments(argBuf[i])
				out <- StreamEvent{Type: StreamToolCall, ToolCall: tc}
			}
			pending = make(map[int]*ToolCall)
			argBuf = make(map[int]string)
		}

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					flush()
					out <- StreamEvent{Type: StreamDone, ResponseID: responseID}
					return
				}
				out <- StreamEvent{Type: StreamError, Err: p.wrap(err)}
				return
			}
			if resp.ID != "" {
				responseID = resp.ID
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				out <- StreamEvent{Type: StreamTextDelta, Delta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				if pending[idx] == nil {
					pending[idx] = &ToolCall{}
				}
				if tc.ID != "" {
					pending[idx].ToolUseID = tc.ID
				}
				if tc.Function.Name != "" {
					pending[idx].Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					argBuf[idx] += tc.Function.Arguments
				}
			}
			if choice.FinishReason == openai.FinishReasonToolCalls {
				flush()
			}
		}
	}()
	return out, nil
}

func (p *OpenAIChat) buildRequest(req *LegacyRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, item := range req.Messages {
		msg := openai.ChatCompletionMessage{Role: item.Role, Content: item.Content}
		if item.Role == "tool" {
			msg.ToolCallID = item.ToolCallID
		}
		for _, tc := range item.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   stream,
	}
	for _, ts := range req.Tools {
		params, err := json.Marshal(ts.Parameters)
		if err != nil {
			params = []byte(`{"type":"object"}`)
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return chatReq
}

func (p *OpenAIChat) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Provider: p.name,
			Kind:     fmt.Sprintf("http_%d", apiErr.HTTPStatusCode),
			Message:  apiErr.Message,
			Cause:    err,
		}
	}
	return &Error{Provider: p.name, Kind: "request", Message: err.Error(), Cause: err}
}
