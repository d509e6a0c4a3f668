// Package agent implements the butler's conversation engine: the LLM
// provider contract, the tool registry, and the multi-round tool-use
// orchestrator that drives every chat and voice turn.
package agent

import (
	"context"
	"encoding/json"
)

// CompletionProvider is the interface to a Large Language Model backend.
//
// Implementations must be safe for concurrent use; each Complete call
// creates an independent stream. Transport and decode errors are
// delivered on the chunk's Err field and are retryable at the caller's
// discretion — providers do not retry internally.
type CompletionProvider interface {
	// Complete sends a completion request and returns a streaming
	// response. The channel yields zero or more text chunks, any tool
	// calls the model requested, and a final chunk with Done set.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier used in logs.
	Name() string
}

// CompletionRequest contains all parameters for one LLM completion round.
type CompletionRequest struct {
	// Model overrides the provider's default model when non-empty.
	Model string `json:"model,omitempty"`

	// System is the system prompt, handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []Message `json:"messages"`

	// Tools the model may request. Schemas pass through byte-for-byte.
	Tools []Tool `json:"-"`

	// MaxTokens limits the response length. 0 means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Message is a single conversation entry. Tool results must immediately
// follow the assistant message whose tool calls they answer, in the same
// order the tool_use blocks appeared.
type Message struct {
	// Role is "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content; may be empty on tool-result messages.
	Content string `json:"content,omitempty"`

	// ToolCalls holds tool execution requests on assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults holds executed-tool outputs on tool messages.
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	// ID is the opaque correlation token linking call and result.
	ID string `json:"id"`

	// Name is the requested tool.
	Name string `json:"name"`

	// Input is the arbitrary JSON argument object.
	Input json.RawMessage `json:"input"`
}

// ToolResult answers exactly one ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CompletionChunk is one element of a streaming completion.
type CompletionChunk struct {
	// Text is a partial response delta.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool invocation request.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Done marks successful end of stream.
	Done bool `json:"done,omitempty"`

	// Err terminates the stream with a transport or protocol failure.
	Err error `json:"-"`
}

// Tool is an executable capability offered to the model.
//
// Execute must be idempotent-safe to retry at the caller's discretion;
// the orchestrator never retries it automatically.
type Tool interface {
	// Name returns the function-calling identifier.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with arguments matching Schema.
	Execute(ctx context.Context, params json.RawMessage) (string, error)
}
