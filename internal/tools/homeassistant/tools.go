package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CallServiceTool calls Home Assistant services (domain.service).
type CallServiceTool struct {
	client *Client
}

func NewCallServiceTool(client *Client) *CallServiceTool {
	return &CallServiceTool{client: client}
}

func (t *CallServiceTool) Name() string { return "ha_call_service" }

func (t *CallServiceTool) Description() string {
	return "Call a Home Assistant service (domain + service) with optional service_data, e.g. to turn lights on or off."
}

func (t *CallServiceTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "domain": { "type": "string", "description": "Service domain (e.g., light, switch)" },
    "service": { "type": "string", "description": "Service name (e.g., turn_on, turn_off)" },
    "service_data": {
      "type": "object",
      "description": "Service data payload (e.g., {\"entity_id\":\"light.kitchen\"}).",
      "additionalProperties": true
    }
  },
  "required": ["domain", "service"]
}`)
}

func (t *CallServiceTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		Domain      string         `json:"domain"`
		Service     string         `json:"service"`
		ServiceData map[string]any `json:"service_data"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	payload, err := t.client.CallService(ctx, input.Domain, input.Service, input.ServiceData)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// GetStateTool fetches a Home Assistant entity state.
type GetStateTool struct {
	client *Client
}

func NewGetStateTool(client *Client) *GetStateTool {
	return &GetStateTool{client: client}
}

func (t *GetStateTool) Name() string { return "ha_get_state" }

func (t *GetStateTool) Description() string {
	return "Get the current state + attributes for a Home Assistant entity_id."
}

func (t *GetStateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "entity_id": { "type": "string", "description": "Entity ID (e.g., light.kitchen)" }
  },
  "required": ["entity_id"]
}`)
}

func (t *GetStateTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	payload, err := t.client.GetState(ctx, input.EntityID)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// ListEntitiesTool lists entity summaries from /api/states.
type ListEntitiesTool struct {
	client *Client
}

func NewListEntitiesTool(client *Client) *ListEntitiesTool {
	return &ListEntitiesTool{client: client}
}

func (t *ListEntitiesTool) Name() string { return "ha_list_entities" }

func (t *ListEntitiesTool) Description() string {
	return "List Home Assistant entities. Optional domain filter (e.g., \"light\")."
}

func (t *ListEntitiesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "domain": { "type": "string", "description": "Optional domain filter (e.g., light, switch)." },
    "limit": { "type": "integer", "description": "Max entities to return (default 200).", "default": 200 }
  }
}`)
}

func (t *ListEntitiesTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		Domain string `json:"domain"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if input.Limit <= 0 {
		input.Limit = 200
	}

	payload, err := t.client.ListStates(ctx)
	if err != nil {
		return "", err
	}

	var states []map[string]any
	if err := json.Unmarshal(payload, &states); err != nil {
		return "", fmt.Errorf("decode states: %w", err)
	}

	type entitySummary struct {
		EntityID string `json:"entity_id"`
		State    string `json:"state"`
		Name     string `json:"friendly_name,omitempty"`
	}
	summaries := make([]entitySummary, 0, len(states))
	prefix := ""
	if input.Domain != "" {
		prefix = input.Domain + "."
	}
	for _, state := range states {
		entityID, _ := state["entity_id"].(string)
		if prefix != "" && !strings.HasPrefix(entityID, prefix) {
			continue
		}
		summary := entitySummary{EntityID: entityID}
		summary.State, _ = state["state"].(string)
		if attrs, ok := state["attributes"].(map[string]any); ok {
			summary.Name, _ = attrs["friendly_name"].(string)
		}
		summaries = append(summaries, summary)
		if len(summaries) >= input.Limit {
			break
		}
	}

	out, err := json.Marshal(summaries)
	if err != nil {
		return "", fmt.Errorf("encode summaries: %w", err)
	}
	return string(out), nil
}
