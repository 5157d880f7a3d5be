package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// Anthropic adapts the Anthropic Messages API to the legacy protocol. The
// Messages API is chat-shaped: the caller resends the transcript each turn,
// tool results travel as user-role tool_result blocks.
type Anthropic struct {
	name      string
	client    anthropic.Client
	hasClient bool
	baseURL   string
	maxTokens int64
}

// AnthropicConfig configures the adapter.
type AnthropicConfig struct {
	// APIKey fixes the key at construction. When empty, the per-request
	// APIKey is used instead.
	APIKey string

	// BaseURL points at an alternate endpoint (optional).
	BaseURL string

	// MaxTokens caps response length. Default: 4096.
	MaxTokens int64
}

// NewAnthropic creates a legacy-protocol adapter for the Messages API.
func NewAnthropic(config AnthropicConfig) *Anthropic {
	p := &Anthropic{
		name:      "anthropic",
		baseURL:   config.BaseURL,
		maxTokens: config.MaxTokens,
	}
	if p.maxTokens <= 0 {
		p.maxTokens = anthropicDefaultMaxTokens
	}
	if config.APIKey != "" {
		p.client = p.newClient(config.APIKey)
		p.hasClient = true
	}
	return p
}

// Name implements Provider.
func (p *Anthropic) Name() string { return p.name }

func (p *Anthropic) newClient(apiKey string) anthropic.Client {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(p.baseURL) != "" {
		options = append(options, option.WithBaseURL(p.baseURL))
	}
	return anthropic.NewClient(options...)
}

func (p *Anthropic) clientFor(apiKey string) (anthropic.Client, error) {
	if p.hasClient {
		return p.client, nil
	}
	if apiKey == "" {
		return anthropic.Client{}, &Error{Provider: p.name, Kind: "config", Message: "api key is required"}
	}
	return p.newClient(apiKey), nil
}

// CompleteLegacy implements LegacyCompleter.
func (p *Anthropic) CompleteLegacy(ctx context.Context, req *LegacyRequest) (*ModelOutput, error) {
	client, err := p.clientFor(req.APIKey)
	if err != nil {
		return nil, err
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, &Error{Provider: p.name, Kind: "request", Message: err.Error(), Cause: err}
	}

	out := &ModelOutput{
		ResponseID: msg.ID,
		Usage: map[string]any{
			"prompt_tokens":     float64(msg.Usage.InputTokens),
			"completion_tokens": float64(msg.Usage.OutputTokens),
			"total_tokens":      float64(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ToolUseID: tu.ID,
				Name:      tu.Name,
				Arguments: ParseToolArguments(string(tu.Input)),
			})
		}
	}
	out.AssistantText = text.String()
	return out, nil
}

// StreamLegacy implements LegacyStreamer.
func (p *Anthropic) StreamLegacy(ctx context.Context, req *LegacyRequest) (<-chan StreamEvent, error) {
	client, err := p.clientFor(req.APIKey)
	if err != nil {
		return nil, err
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := client.Messages.NewStreaming(ctx, params)

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer stream.Close()

		var currentTool *ToolCall
		var toolInput strings.Builder
		var responseID string
		var inputTokens, outputTokens int64

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				responseID = start.Message.ID
				inputTokens = start.Message.Usage.InputTokens

			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					tu := block.AsToolUse()
					currentTool = &ToolCall{ToolUseID: tu.ID, Name: tu.Name}
					toolInput.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						out <- StreamEvent{Type: StreamTextDelta, Delta: delta.Text}
					}
				case "input_json_delta":
					toolInput.WriteString(delta.PartialJSON)
				}

			case "content_block_stop":
				if currentTool != nil {
					currentTool.Arguments = ParseToolArguments(toolInput.String())
					out <- StreamEvent{Type: StreamToolCall, ToolCall: currentTool}
					currentTool = nil
				}

			case "message_delta":
				if u := event.AsMessageDelta().Usage.OutputTokens; u > 0 {
					outputTokens = u
				}

			case "message_stop":
				out <- StreamEvent{
					Type:       StreamDone,
					ResponseID: responseID,
					Usage: map[string]any{
						"prompt_tokens":     float64(inputTokens),
						"completion_tokens": float64(outputTokens),
						"total_tokens":      float64(inputTokens + outputTokens),
					},
				}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamEvent{Type: StreamError, Err: &Error{Provider: p.name, Kind: "stream", Message: err.Error(), Cause: err}}
			return
		}
		out <- StreamEvent{Type: StreamDone, ResponseID: responseID}
	}()
	return out, nil
}

func (p *Anthropic) buildParams(req *LegacyRequest) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: p.maxTokens,
	}

	for _, item := range req.Messages {
		// System turns travel in params.System, not the message list.
		if item.Role == "system" {
			params.System = []anthropic.TextBlockParam{{Type: "text", Text: item.Content}}
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if item.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(item.ToolCallID, item.Content, false))
		} else if item.Content != "" {
			content = append(content, anthropic.NewTextBlock(item.Content))
		}
		for _, tc := range item.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}
		if len(content) == 0 {
			continue
		}
		if item.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
		}
	}

	for _, ts := range req.Tools {
		data, err := json.Marshal(ts.Parameters)
		if err != nil {
			return params, &Error{Provider: p.name, Kind: "schema", Message: "invalid tool schema for " + ts.Name, Cause: err}
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(data, &schema); err != nil {
			return params, &Error{Provider: p.name, Kind: "schema", Message: "invalid tool schema for " + ts.Name, Cause: err}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, ts.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(ts.Description)
		}
		params.Tools = append(params.Tools, tool)
	}
	return params, nil
}
