package ai

import "encoding/json"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one entry of the model input. An assistant entry either
// carries Content or ToolCalls; a tool entry answers ToolCallID.
type ChatMessage struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

type ToolParam struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

type ToolSpec struct {
	Name        string
	Description string
	Params      []ToolParam
}

// JSONSchema renders the params as an object schema for OpenAI style APIs.
func (t ToolSpec) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(t.Params))
	required := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		props[p.Name] = map[string]interface{}{
			"type":        typ,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

type ChatRequest struct {
	Messages []ChatMessage
	Tools    []ToolSpec
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ArgumentsMap decodes the raw JSON arguments, returning an empty map for
// blank input.
func (c ToolCall) ArgumentsMap() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if c.Arguments == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(c.Arguments), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChatDelta is one increment of a streamed completion. ToolCalls are only
// reported once fully assembled. Reasoning carries thought summaries from
// models that expose them.
type ChatDelta struct {
	Text      string
	Reasoning string
	ToolCalls []ToolCall
}

// ChatStream yields deltas until Recv returns io.EOF. Cancelling the context
// used to open the stream aborts a pending Recv.
type ChatStream interface {
	Recv() (*ChatDelta, error)
	Close() error
}
