package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noble1911/butler/internal/audit"
	"github.com/noble1911/butler/internal/metrics"
)

// RoundBudgetMessage is emitted when a run exhausts its round budget.
// The budget is backpressure, not an error: a model stuck alternating
// tool calls must not hang the request indefinitely.
const RoundBudgetMessage = "I'm sorry — I wasn't able to finish that request. Please try asking again."

// ProviderFailureMessage is emitted instead of a raw provider fault.
const ProviderFailureMessage = "I'm having trouble reaching my language model right now. Please try again in a moment."

// EventType tags the structured events yielded by event-mode runs.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
)

// Event is one element of a structured event stream.
type Event struct {
	Type EventType `json:"type"`
	Text string    `json:"text,omitempty"`
	Tool string    `json:"tool,omitempty"`
}

// Config configures the orchestrator.
type Config struct {
	// MaxRounds caps tool-use iterations per run. Default: 5.
	MaxRounds int

	// MaxTokens is passed through to every completion round.
	MaxTokens int

	// Model overrides the provider default when non-empty.
	Model string
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{MaxRounds: 5, MaxTokens: 4096}
}

// Request is one chat or voice turn to orchestrate.
type Request struct {
	// System is the resolved system prompt for this turn.
	System string

	// History is the prior conversation, oldest first.
	History []Message

	// UserMessage is the new inbound text.
	UserMessage string

	// UserID and Channel tag audit records.
	UserID  string
	Channel string
}

// Orchestrator drives the multi-round tool-use loop:
//
//	AwaitingCompletion ──▶ HasToolUse ──▶ AwaitingCompletion
//	        │                                  (results fed back)
//	        └──▶ Done (completion with no tool calls)
//
// Tools execute sequentially in the order the model emitted them. Tool
// side effects may be order-dependent and the transcript must reflect a
// deterministic causal order, so calls are never fanned out.
type Orchestrator struct {
	provider CompletionProvider
	registry *Registry
	audit    audit.Recorder
	logger   *slog.Logger
	config   Config
}

// New creates an orchestrator. A nil registry gets an empty one; a nil
// recorder discards audit entries.
func New(provider CompletionProvider, registry *Registry, rec audit.Recorder, logger *slog.Logger, config Config) *Orchestrator {
	if registry == nil {
		registry = NewRegistry()
	}
	if rec == nil {
		rec = audit.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxRounds <= 0 {
		config.MaxRounds = DefaultConfig().MaxRounds
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultConfig().MaxTokens
	}
	return &Orchestrator{
		provider: provider,
		registry: registry,
		audit:    rec,
		logger:   logger.With("component", "orchestrator"),
		config:   config,
	}
}

// Respond runs the loop hidden and returns the concatenated text.
func (o *Orchestrator) Respond(ctx context.Context, req *Request) (string, error) {
	var text strings.Builder
	err := o.run(ctx, req, func(ev Event) bool {
		if ev.Type == EventTextDelta {
			text.WriteString(ev.Text)
		}
		return true
	})
	if err != nil {
		return "", err
	}
	return text.String(), nil
}

// Stream runs the loop and yields text deltas from every completion
// round; tool lifecycle is not surfaced. The channel is closed when the
// run finishes or the context is cancelled.
func (o *Orchestrator) Stream(ctx context.Context, req *Request) (<-chan Event, error) {
	return o.eventChannel(ctx, req, func(ev Event) bool { return ev.Type == EventTextDelta })
}

// Events runs the loop and yields text deltas plus tool start/end
// markers as typed events, letting a caller render tool activity live.
func (o *Orchestrator) Events(ctx context.Context, req *Request) (<-chan Event, error) {
	return o.eventChannel(ctx, req, func(Event) bool { return true })
}

func (o *Orchestrator) eventChannel(ctx context.Context, req *Request, keep func(Event) bool) (<-chan Event, error) {
	if o.provider == nil {
		return nil, ErrNoProvider
	}
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		err := o.run(ctx, req, func(ev Event) bool {
			if !keep(ev) {
				return true
			}
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil {
			o.logger.Warn("run aborted", "error", err)
		}
	}()
	return events, nil
}

// run executes the shared state machine, reporting progress through
// emit. emit returning false aborts the run (the consumer is gone);
// buffered-so-far state stays with the caller.
func (o *Orchestrator) run(ctx context.Context, req *Request, emit func(Event) bool) error {
	if o.provider == nil {
		return ErrNoProvider
	}

	messages := make([]Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, Message{Role: "user", Content: req.UserMessage})

	for round := 0; round < o.config.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return &RoundError{Round: round, Cause: err}
		}

		assistantText, toolCalls, err := o.completionRound(ctx, req.System, messages, emit)
		if err != nil {
			if ctx.Err() != nil {
				return &RoundError{Round: round, Cause: ctx.Err()}
			}
			// Designed fallback: the client never sees the raw fault.
			o.logger.Error("completion failed", "round", round, "provider", o.provider.Name(), "error", err)
			emit(Event{Type: EventTextDelta, Text: ProviderFailureMessage})
			return nil
		}

		if len(toolCalls) == 0 {
			return nil
		}

		results := o.executeTools(ctx, req, toolCalls, emit)

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   assistantText,
			ToolCalls: toolCalls,
		})
		messages = append(messages, Message{
			Role:        "tool",
			ToolResults: results,
		})
	}

	o.logger.Warn("round budget exhausted", "max_rounds", o.config.MaxRounds, "user_id", req.UserID)
	emit(Event{Type: EventTextDelta, Text: RoundBudgetMessage})
	return nil
}

// completionRound performs one provider call, streaming text deltas as
// they arrive and collecting any tool calls.
func (o *Orchestrator) completionRound(ctx context.Context, system string, messages []Message, emit func(Event) bool) (string, []ToolCall, error) {
	chunks, err := o.provider.Complete(ctx, &CompletionRequest{
		Model:     o.config.Model,
		System:    system,
		Messages:  messages,
		Tools:     o.registry.Tools(),
		MaxTokens: o.config.MaxTokens,
	})
	if err != nil {
		return "", nil, err
	}

	// The provider goroutine owns chunks and blocks on every send. Drain
	// whatever is left on early returns so it can run to completion
	// instead of leaking on a client disconnect.
	defer func() {
		for range chunks {
		}
	}()

	var text strings.Builder
	var toolCalls []ToolCall
	for chunk := range chunks {
		if chunk.Err != nil {
			return text.String(), nil, chunk.Err
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if !emit(Event{Type: EventTextDelta, Text: chunk.Text}) {
				return text.String(), nil, ctx.Err()
			}
		}
		if chunk.ToolCall != nil {
			tc := *chunk.ToolCall
			if tc.ID == "" {
				tc.ID = uuid.NewString()
			}
			toolCalls = append(toolCalls, tc)
		}
	}
	return text.String(), toolCalls, nil
}

// executeTools runs requested tools sequentially, in emission order,
// producing exactly one result per call. A failing tool is converted
// into an error result so the model can react; it never aborts the
// round.
func (o *Orchestrator) executeTools(ctx context.Context, req *Request, toolCalls []ToolCall, emit func(Event) bool) []ToolResult {
	results := make([]ToolResult, 0, len(toolCalls))
	for _, tc := range toolCalls {
		emit(Event{Type: EventToolStart, Tool: tc.Name})

		start := time.Now()
		content, err := o.safeExecute(ctx, tc)
		duration := time.Since(start)

		o.audit.RecordToolExecution(ctx, audit.Entry{
			Tool:     tc.Name,
			Channel:  req.Channel,
			UserID:   req.UserID,
			Input:    tc.Input,
			Result:   content,
			Duration: duration,
			Err:      err,
		})

		result := ToolResult{ToolCallID: tc.ID, Content: content}
		outcome := "ok"
		if err != nil {
			result.Content = fmt.Sprintf("tool %s failed: %v", tc.Name, err)
			result.IsError = true
			outcome = "error"
		}
		metrics.ToolExecutions.WithLabelValues(tc.Name, outcome).Inc()
		results = append(results, result)

		emit(Event{Type: EventToolEnd, Tool: tc.Name})
	}
	return results
}

// safeExecute shields the round from panicking tools.
func (o *Orchestrator) safeExecute(ctx context.Context, tc ToolCall) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			content = ""
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return o.registry.Execute(ctx, tc.Name, tc.Input)
}
