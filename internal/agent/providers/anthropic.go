// Package providers implements CompletionProvider backends for the
// butler agent.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/noble1911/butler/internal/agent"
)

// maxEmptyStreamEvents bounds consecutive no-op SSE events before the
// stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements agent.CompletionProvider on the
// Anthropic Messages API.
//
// The provider is a stateless adapter: tool schemas supplied by the
// registry pass through to the wire byte-for-byte, only the request
// envelope differs. Transport and decode errors surface on the chunk's
// Err field; retrying is the caller's decision.
//
// Safe for concurrent use; each Complete call creates an independent
// stream and goroutine.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string

	// BaseURL overrides the API base URL when non-empty.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewAnthropicProvider validates the config and builds a provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends the request and streams back completion chunks. The
// channel yields text deltas as they arrive, complete tool calls once
// their input JSON has accumulated, and a final Done chunk.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	stream, err := p.createStream(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()
		p.processStream(ctx, stream, chunks)
	}()
	return chunks, nil
}

// send delivers one chunk unless the request context is gone. It
// reports whether the consumer is still listening; a false return must
// end the stream so the goroutine never blocks on an abandoned channel.
func send(ctx context.Context, chunks chan<- *agent.CompletionChunk, chunk *agent.CompletionChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// processStream converts Anthropic SSE events into completion chunks.
// Tool calls arrive across multiple events: a content_block_start with
// the id and name, input_json_delta fragments, and a content_block_stop
// that finalizes the call. A malformed event is dropped, not the whole
// stream.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk) {
	var currentToolCall *agent.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &agent.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(ctx, chunks, &agent.CompletionChunk{Text: delta.Text}) {
						return
					}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				if !send(ctx, chunks, &agent.CompletionChunk{ToolCall: currentToolCall}) {
					return
				}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_stop":
			send(ctx, chunks, &agent.CompletionChunk{Done: true})
			return

		case "error":
			send(ctx, chunks, &agent.CompletionChunk{Err: errors.New("anthropic: stream error")})
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				send(ctx, chunks, &agent.CompletionChunk{
					Err: fmt.Errorf("anthropic: stream malformed: %d consecutive empty events", emptyEventCount),
				})
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, chunks, &agent.CompletionChunk{Err: fmt.Errorf("anthropic: %w", err)})
	}
}

// convertMessages maps the internal transcript onto Anthropic content
// blocks. Tool results become user-role tool_result blocks tagged with
// their tool_use id, preserving order.
func (p *AnthropicProvider) convertMessages(messages []agent.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID,
				toolResult.Content,
				toolResult.IsError,
			))
		}
		for _, toolCall := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(toolCall.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(toolCall.ID, input, toolCall.Name))
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// User and tool roles both map to user messages.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

// convertTools wraps registry tools in the Anthropic envelope. The JSON
// Schema itself is unmarshalled straight into the wire struct; no field
// is rewritten.
func (p *AnthropicProvider) convertTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func maxTokens(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
