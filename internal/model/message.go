package model

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

type ContentType string

const (
	ContentTypeMessage    ContentType = "message"
	ContentTypeToolCall   ContentType = "function_call"
	ContentTypeToolResult ContentType = "function_call_output"
	ContentTypeReasoning  ContentType = "reasoning"
)

// MessageContent is a tagged union; Type selects which fields are set.
type MessageContent struct {
	Type      ContentType `json:"type"`
	Role      MessageRole `json:"role,omitempty"`
	Text      string      `json:"content,omitempty"`
	CallID    string      `json:"call_id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Arguments string      `json:"arguments,omitempty"`
	Output    string      `json:"output,omitempty"`
}

func TextContent(role MessageRole, text string) MessageContent {
	return MessageContent{Type: ContentTypeMessage, Role: role, Text: text}
}

// ReasoningContent holds a model's thought summary. It is shown to the user
// but never replayed to the model.
func ReasoningContent(text string) MessageContent {
	return MessageContent{Type: ContentTypeReasoning, Role: RoleAssistant, Text: text}
}

func ToolCallContent(callID, name, arguments string) MessageContent {
	return MessageContent{Type: ContentTypeToolCall, Role: RoleAssistant, CallID: callID, Name: name, Arguments: arguments}
}

func ToolResultContent(callID, name, output string) MessageContent {
	return MessageContent{Type: ContentTypeToolResult, Role: RoleTool, CallID: callID, Name: name, Output: output}
}

type ChatMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      MessageRole    `json:"role"`
	Content   MessageContent `json:"content"`
	Ctime     int64          `json:"ctime"`
}
