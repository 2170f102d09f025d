package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragchat/internal/ai"
	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
	"github.com/xxxsen/ragchat/internal/pkg/timeutil"
	"github.com/xxxsen/ragchat/internal/service"
)

type State int

const (
	StateIdle State = iota
	StateRetrieving
	StateGenerating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	case StateGenerating:
		return "generating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Retriever interface {
	Retrieve(ctx context.Context, query, ownerID string, topK int) []model.RetrievedChunk
}

type MessageLog interface {
	Append(ctx context.Context, msg *model.ChatMessage) error
	ListBySession(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
}

// Sender delivers one event to the client of a session.
type Sender func(ctx context.Context, event model.StreamEvent) error

type Config struct {
	SystemPrompt  string
	TopK          int
	TurnTimeout   time.Duration
	MaxToolRounds int
	MaxInputChars int
}

type Engine struct {
	completer ai.ICompleter
	retriever Retriever
	log       MessageLog
	tools     *ToolRegistry
	cfg       Config
}

// NewEngine builds the turn engine. tools may be nil to disable tool use.
func NewEngine(completer ai.ICompleter, retriever Retriever, log MessageLog, tools *ToolRegistry, cfg Config) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = service.DefaultTopK
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 4
	}
	return &Engine{completer: completer, retriever: retriever, log: log, tools: tools, cfg: cfg}
}

// Session is the per-connection conversation state machine. Turns must be
// fed sequentially.
type Session struct {
	engine    *Engine
	userID    string
	sessionID string
	send      Sender

	mu    sync.Mutex
	state State
}

func (e *Engine) NewSession(userID, sessionID string, send Sender) *Session {
	return &Session{engine: e, userID: userID, sessionID: sessionID, send: send, state: StateIdle}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = st
}

// Close moves the session to Closed. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// HandleTurn answers one user message. ctx is the connection context:
// cancelling it aborts the turn without further events. A non-nil error
// means the connection is unusable; model and storage failures are reported
// to the client as error events and leave the session open.
func (s *Session) HandleTurn(ctx context.Context, text string) error {
	if s.State() == StateClosed {
		return appErr.ErrConnectionClosed
	}
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", s.userID), zap.String("session_id", s.sessionID))
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	cfg := s.engine.cfg
	if cfg.MaxInputChars > 0 && len([]rune(text)) > cfg.MaxInputChars {
		return s.transportOnly(s.sendFailure(ctx, uuid.NewString(), fmt.Errorf("message exceeds %d characters", cfg.MaxInputChars)))
	}

	turnCtx := ctx
	if cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, cfg.TurnTimeout)
		defer cancel()
	}

	userMsg := s.newMessage(model.RoleUser, model.TextContent(model.RoleUser, text))
	if err := s.engine.log.Append(turnCtx, userMsg); err != nil {
		logger.Error("persist user message failed", zap.Error(err))
		if ctx.Err() != nil {
			return s.closed(ctx)
		}
		return s.transportOnly(s.sendFailure(ctx, uuid.NewString(), fmt.Errorf("store message: %w", err)))
	}

	s.setState(StateRetrieving)
	contextText := service.RenderContext(s.engine.retriever.Retrieve(turnCtx, text, s.userID, cfg.TopK))
	if ctx.Err() != nil {
		return s.closed(ctx)
	}

	s.setState(StateGenerating)
	err := s.generate(ctx, turnCtx, userMsg, contextText)
	if ctx.Err() != nil {
		logger.Info("turn aborted by disconnect")
		return s.closed(ctx)
	}
	if err := s.transportOnly(err); err != nil {
		return err
	}
	if err != nil {
		logger.Warn("turn failed", zap.Error(err))
	}
	s.setState(StateIdle)
	return nil
}

// transportOnly keeps err only when it is a transport failure, closing the
// session in that case.
func (s *Session) transportOnly(err error) error {
	if err != nil && appErr.IsTransport(err) {
		s.Close()
		return err
	}
	return nil
}

func (s *Session) closed(ctx context.Context) error {
	s.Close()
	if err := ctx.Err(); err != nil {
		return err
	}
	return appErr.ErrConnectionClosed
}

// generate runs the completion, including tool rounds. Errors that reach the
// client as events are returned only for logging.
func (s *Session) generate(ctx, turnCtx context.Context, userMsg *model.ChatMessage, contextText string) error {
	req, err := s.buildRequest(turnCtx, userMsg, contextText)
	if err != nil {
		return s.sendFailure(ctx, uuid.NewString(), err)
	}
	cfg := s.engine.cfg
	for round := 0; ; round++ {
		if round < cfg.MaxToolRounds {
			req.Tools = s.engine.tools.Specs()
		} else {
			req.Tools = nil
		}
		calls, text, err := s.streamOnce(ctx, turnCtx, req)
		if err != nil {
			return err
		}
		// Calls are ignored once tools were withheld from the request.
		if len(calls) == 0 || len(req.Tools) == 0 {
			return nil
		}
		req.Messages = append(req.Messages, ai.ChatMessage{Role: ai.RoleAssistant, Content: text, ToolCalls: calls})
		for _, call := range calls {
			output, err := s.runTool(ctx, turnCtx, call)
			if err != nil {
				return err
			}
			req.Messages = append(req.Messages, ai.ChatMessage{Role: ai.RoleTool, Content: output, ToolCallID: call.ID, ToolName: call.Name})
		}
	}
}

// streamOnce forwards one completion stream. Reasoning and answer text are
// each bracketed as their own message and persisted after their end event;
// tool calls are returned to the caller.
func (s *Session) streamOnce(ctx, turnCtx context.Context, req *ai.ChatRequest) ([]ai.ToolCall, string, error) {
	stream, err := s.engine.completer.Stream(turnCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", s.sendFailure(ctx, uuid.NewString(), err)
	}
	defer func() { _ = stream.Close() }()

	var (
		reasoning *streamingMessage
		answer    *streamingMessage
		calls     []ai.ToolCall
	)
	for {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			return nil, "", s.abortMessages(ctx, &appErr.GenerationError{Cause: err}, reasoning, answer)
		}
		if delta.Reasoning != "" {
			if reasoning == nil {
				if reasoning, err = s.openMessage(ctx, model.KindReasoning); err != nil {
					return nil, "", err
				}
			}
			if err := s.appendChunk(ctx, reasoning, delta.Reasoning); err != nil {
				return nil, "", err
			}
		}
		if delta.Text != "" || len(delta.ToolCalls) > 0 {
			if err := s.finishMessage(ctx, turnCtx, reasoning); err != nil {
				return nil, "", err
			}
			reasoning = nil
		}
		if delta.Text != "" {
			if answer == nil {
				if answer, err = s.openMessage(ctx, model.KindText); err != nil {
					return nil, "", err
				}
			}
			if err := s.appendChunk(ctx, answer, delta.Text); err != nil {
				return nil, "", err
			}
		}
		calls = append(calls, delta.ToolCalls...)
	}
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}
	if err := s.finishMessage(ctx, turnCtx, reasoning); err != nil {
		return nil, "", err
	}
	if err := s.finishMessage(ctx, turnCtx, answer); err != nil {
		return nil, "", err
	}
	text := ""
	if answer != nil {
		text = answer.text.String()
	}
	return calls, text, nil
}

// streamingMessage is a message relayed chunk by chunk.
type streamingMessage struct {
	id   string
	kind model.StreamKind
	text strings.Builder
}

func (s *Session) openMessage(ctx context.Context, kind model.StreamKind) (*streamingMessage, error) {
	m := &streamingMessage{id: uuid.NewString(), kind: kind}
	if err := s.emit(ctx, model.StreamEvent{MessageID: m.id, Phase: model.PhaseStart, Kind: kind}); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Session) appendChunk(ctx context.Context, m *streamingMessage, chunk string) error {
	m.text.WriteString(chunk)
	return s.emit(ctx, model.StreamEvent{MessageID: m.id, Phase: model.PhaseChunk, Kind: m.kind, Content: chunk})
}

// finishMessage ends m and appends it to the log. A nil m does nothing.
func (s *Session) finishMessage(ctx, turnCtx context.Context, m *streamingMessage) error {
	if m == nil {
		return nil
	}
	if err := s.emit(ctx, model.StreamEvent{MessageID: m.id, Phase: model.PhaseEnd, Kind: m.kind}); err != nil {
		return err
	}
	content := model.TextContent(model.RoleAssistant, m.text.String())
	if m.kind == model.KindReasoning {
		content = model.ReasoningContent(m.text.String())
	}
	msg := s.newMessage(model.RoleAssistant, content)
	msg.ID = m.id
	if err := s.engine.log.Append(context.WithoutCancel(turnCtx), msg); err != nil {
		logutil.GetLogger(ctx).Error("persist assistant message failed", zap.String("message_id", m.id), zap.Error(err))
	}
	return nil
}

// abortMessages ends the open messages with cause, or reports cause as its
// own error message when nothing was open. Partial text is not persisted.
func (s *Session) abortMessages(ctx context.Context, cause error, open ...*streamingMessage) error {
	ended := false
	for _, m := range open {
		if m == nil {
			continue
		}
		ended = true
		if err := s.emit(ctx, model.StreamEvent{MessageID: m.id, Phase: model.PhaseEnd, Kind: m.kind, Error: cause.Error()}); err != nil {
			return err
		}
	}
	if !ended {
		return s.sendFailure(ctx, uuid.NewString(), cause)
	}
	return cause
}

// runTool persists and relays the call and its result, both as bracketed
// messages, and returns the output for the next model round.
func (s *Session) runTool(ctx, turnCtx context.Context, call ai.ToolCall) (string, error) {
	callMsg := s.newMessage(model.RoleAssistant, model.ToolCallContent(call.ID, call.Name, call.Arguments))
	if err := s.engine.log.Append(turnCtx, callMsg); err != nil {
		return "", s.sendFailure(ctx, uuid.NewString(), fmt.Errorf("store tool call: %w", err))
	}
	payload, _ := json.Marshal(map[string]string{"name": call.Name, "arguments": call.Arguments})
	if err := s.emitMessage(ctx, callMsg.ID, model.KindToolCall, string(payload)); err != nil {
		return "", err
	}

	output := s.engine.tools.Call(turnCtx, s.userID, call)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	resultMsg := s.newMessage(model.RoleTool, model.ToolResultContent(call.ID, call.Name, output))
	if err := s.engine.log.Append(turnCtx, resultMsg); err != nil {
		return "", s.sendFailure(ctx, uuid.NewString(), fmt.Errorf("store tool result: %w", err))
	}
	if err := s.emitMessage(ctx, resultMsg.ID, model.KindToolResult, output); err != nil {
		return "", err
	}
	return output, nil
}

// buildRequest replays the stored log in front of the new user message. The
// retrieved context goes in as a system message right before it, and only
// when something was found.
func (s *Session) buildRequest(ctx context.Context, userMsg *model.ChatMessage, contextText string) (*ai.ChatRequest, error) {
	history, err := s.engine.log.ListBySession(ctx, s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs := make([]ai.ChatMessage, 0, len(history)+3)
	if prompt := strings.TrimSpace(s.engine.cfg.SystemPrompt); prompt != "" {
		msgs = append(msgs, ai.ChatMessage{Role: ai.RoleSystem, Content: prompt})
	}
	for _, m := range history {
		if m.ID == userMsg.ID {
			continue
		}
		msgs = appendReplay(msgs, m)
	}
	if contextText != "" {
		msgs = append(msgs, ai.ChatMessage{Role: ai.RoleSystem, Content: "Relevant passages from the user's files:\n\n" + contextText})
	}
	msgs = append(msgs, ai.ChatMessage{Role: ai.RoleUser, Content: userMsg.Content.Text})
	return &ai.ChatRequest{Messages: msgs}, nil
}

// appendReplay converts one logged message. Consecutive tool calls fold into
// a single assistant entry as the APIs expect.
func appendReplay(msgs []ai.ChatMessage, m model.ChatMessage) []ai.ChatMessage {
	c := m.Content
	switch c.Type {
	case model.ContentTypeToolCall:
		call := ai.ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments}
		if n := len(msgs); n > 0 && msgs[n-1].Role == ai.RoleAssistant && len(msgs[n-1].ToolCalls) > 0 {
			msgs[n-1].ToolCalls = append(msgs[n-1].ToolCalls, call)
			return msgs
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == ai.RoleAssistant && msgs[n-1].Content != "" {
			msgs[n-1].ToolCalls = []ai.ToolCall{call}
			return msgs
		}
		return append(msgs, ai.ChatMessage{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{call}})
	case model.ContentTypeToolResult:
		return append(msgs, ai.ChatMessage{Role: ai.RoleTool, Content: c.Output, ToolCallID: c.CallID, ToolName: c.Name})
	case model.ContentTypeReasoning:
		return msgs
	default:
		role := ai.RoleUser
		if m.Role == model.RoleAssistant {
			role = ai.RoleAssistant
		}
		return append(msgs, ai.ChatMessage{Role: role, Content: c.Text})
	}
}

func (s *Session) newMessage(role model.MessageRole, content model.MessageContent) *model.ChatMessage {
	return &model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: s.sessionID,
		Role:      role,
		Content:   content,
		Ctime:     timeutil.NowUnixMilli(),
	}
}

func (s *Session) emit(ctx context.Context, ev model.StreamEvent) error {
	if s.State() == StateClosed {
		return appErr.ErrConnectionClosed
	}
	if err := s.send(ctx, ev); err != nil {
		if appErr.IsTransport(err) {
			return err
		}
		return &appErr.TransportError{Cause: err}
	}
	return nil
}

// emitMessage sends a complete message as start, one chunk and end.
func (s *Session) emitMessage(ctx context.Context, id string, kind model.StreamKind, content string) error {
	for _, ev := range []model.StreamEvent{
		{MessageID: id, Phase: model.PhaseStart, Kind: kind},
		{MessageID: id, Phase: model.PhaseChunk, Kind: kind, Content: content},
		{MessageID: id, Phase: model.PhaseEnd, Kind: kind},
	} {
		if err := s.emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// sendFailure reports cause as its own bracketed error message. It returns
// cause unless the send itself failed.
func (s *Session) sendFailure(ctx context.Context, id string, cause error) error {
	if err := s.emit(ctx, model.StreamEvent{MessageID: id, Phase: model.PhaseStart, Kind: model.KindError}); err != nil {
		return err
	}
	if err := s.emit(ctx, model.StreamEvent{MessageID: id, Phase: model.PhaseEnd, Kind: model.KindError, Error: cause.Error()}); err != nil {
		return err
	}
	return cause
}
