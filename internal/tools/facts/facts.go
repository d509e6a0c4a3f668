// Package facts gives the agent long-term memory: remembering,
// recalling, and forgetting small facts about the user, keyed by a
// short label.
package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/store"
)

// Store is the persistence the fact tools need.
type Store interface {
	UpsertFact(ctx context.Context, userID, key, value string) error
	Fact(ctx context.Context, userID, key string) (string, bool, error)
	FactsForUser(ctx context.Context, userID string) ([]*store.Fact, error)
	DeleteFact(ctx context.Context, userID, key string) error
}

func userID(ctx context.Context) (string, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("no user in request context")
	}
	return user.ID, nil
}

// RememberTool stores a fact.
type RememberTool struct {
	store Store
}

func NewRememberTool(s Store) *RememberTool { return &RememberTool{store: s} }

func (t *RememberTool) Name() string { return "remember_fact" }

func (t *RememberTool) Description() string {
	return "Remember a fact about the user for later conversations. Overwrites any previous value for the same key."
}

func (t *RememberTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "key": { "type": "string", "description": "Short label for the fact (e.g., \"coffee_preference\")." },
    "value": { "type": "string", "description": "The fact itself." }
  },
  "required": ["key", "value"]
}`)
}

func (t *RememberTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}

	var input struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Key) == "" || strings.TrimSpace(input.Value) == "" {
		return "", fmt.Errorf("key and value are required")
	}

	if err := t.store.UpsertFact(ctx, uid, input.Key, input.Value); err != nil {
		return "", err
	}
	return fmt.Sprintf("Remembered %q.", input.Key), nil
}

// RecallTool retrieves facts: one by key, or all of them.
type RecallTool struct {
	store Store
}

func NewRecallTool(s Store) *RecallTool { return &RecallTool{store: s} }

func (t *RecallTool) Name() string { return "recall_facts" }

func (t *RecallTool) Description() string {
	return "Recall remembered facts about the user. Pass a key for one fact, or omit it to list everything."
}

func (t *RecallTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "key": { "type": "string", "description": "Optional fact key; omit to list all facts." }
  }
}`)
}

func (t *RecallTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}

	var input struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	if input.Key != "" {
		value, ok, err := t.store.Fact(ctx, uid, input.Key)
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("No fact stored under %q.", input.Key), nil
		}
		return value, nil
	}

	all, err := t.store.FactsForUser(ctx, uid)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "No facts stored yet.", nil
	}

	var sb strings.Builder
	for _, fact := range all {
		fmt.Fprintf(&sb, "%s: %s\n", fact.Key, fact.Value)
	}
	return sb.String(), nil
}

// ForgetTool deletes a fact.
type ForgetTool struct {
	store Store
}

func NewForgetTool(s Store) *ForgetTool { return &ForgetTool{store: s} }

func (t *ForgetTool) Name() string { return "forget_fact" }

func (t *ForgetTool) Description() string {
	return "Forget a previously remembered fact by key."
}

func (t *ForgetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "key": { "type": "string", "description": "Key of the fact to forget." }
  },
  "required": ["key"]
}`)
}

func (t *ForgetTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}

	var input struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Key) == "" {
		return "", fmt.Errorf("key is required")
	}

	if err := t.store.DeleteFact(ctx, uid, input.Key); err != nil {
		return "", err
	}
	return fmt.Sprintf("Forgot %q.", input.Key), nil
}
