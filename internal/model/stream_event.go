package model

type StreamPhase string

const (
	PhaseStart StreamPhase = "start"
	PhaseChunk StreamPhase = "chunk"
	PhaseEnd   StreamPhase = "end"
)

type StreamKind string

const (
	KindText       StreamKind = "text"
	KindToolCall   StreamKind = "tool_call"
	KindToolResult StreamKind = "tool_result"
	KindReasoning  StreamKind = "reasoning"
	KindError      StreamKind = "error"
)

// StreamEvent is never persisted. Every message id gets exactly one start and
// one end with its chunks in between.
type StreamEvent struct {
	MessageID string      `json:"message_id"`
	Phase     StreamPhase `json:"phase"`
	Kind      StreamKind  `json:"kind,omitempty"`
	Content   string      `json:"content,omitempty"`
	Error     string      `json:"error,omitempty"`
}
