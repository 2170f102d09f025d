package chat

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/xxxsen/ragchat/internal/ai"
	"github.com/xxxsen/ragchat/internal/model"
)

// script is one completion: deltas then an optional terminal error. block
// makes the stream wait for cancellation after the deltas.
type script struct {
	deltas  []*ai.ChatDelta
	err     error
	openErr error
	block   bool
}

type fakeCompleter struct {
	mu       sync.Mutex
	scripts  []script
	requests []ai.ChatRequest
}

func (f *fakeCompleter) Stream(ctx context.Context, req *ai.ChatRequest) (ai.ChatStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *req
	cp.Messages = append([]ai.ChatMessage(nil), req.Messages...)
	cp.Tools = append([]ai.ToolSpec(nil), req.Tools...)
	f.requests = append(f.requests, cp)
	if len(f.scripts) == 0 {
		return nil, errors.New("no script")
	}
	sc := f.scripts[0]
	if len(f.scripts) > 1 {
		f.scripts = f.scripts[1:]
	}
	if sc.openErr != nil {
		return nil, sc.openErr
	}
	return &fakeStream{ctx: ctx, sc: sc}, nil
}

func (f *fakeCompleter) ModelName() string { return "fake" }

type fakeStream struct {
	ctx context.Context
	sc  script
	pos int
}

func (s *fakeStream) Recv() (*ai.ChatDelta, error) {
	if s.pos < len(s.sc.deltas) {
		d := s.sc.deltas[s.pos]
		s.pos++
		return d, nil
	}
	if s.sc.block {
		<-s.ctx.Done()
		return nil, s.ctx.Err()
	}
	if s.sc.err != nil {
		return nil, s.sc.err
	}
	return nil, io.EOF
}

func (s *fakeStream) Close() error { return nil }

type fakeRetriever struct {
	chunks  []model.RetrievedChunk
	queries []string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query, ownerID string, topK int) []model.RetrievedChunk {
	f.queries = append(f.queries, query)
	return f.chunks
}

type memLog struct {
	mu        sync.Mutex
	items     []model.ChatMessage
	appendErr error
}

func (m *memLog) Append(ctx context.Context, msg *model.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.items = append(m.items, *msg)
	return nil
}

func (m *memLog) ListBySession(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ChatMessage
	for _, msg := range m.items {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memLog) all() []model.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ChatMessage(nil), m.items...)
}

type recorder struct {
	mu     sync.Mutex
	events []model.StreamEvent
	onSend func(model.StreamEvent) error
}

func (r *recorder) send(ctx context.Context, ev model.StreamEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.onSend
	r.mu.Unlock()
	if hook != nil {
		return hook(ev)
	}
	return nil
}

func (r *recorder) all() []model.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.StreamEvent(nil), r.events...)
}

func toolCall(name, args string) ai.ToolCall {
	return ai.ToolCall{ID: "c", Name: name, Arguments: args}
}
