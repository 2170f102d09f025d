package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
)

type fakeConn struct {
	mu      sync.Mutex
	events  []model.StreamEvent
	closes  []int
	sendErr error
}

func (c *fakeConn) Send(ctx context.Context, ev model.StreamEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes = append(c.closes, code)
	return nil
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	h := r.Connect(conn, "alice", "s1")
	require.Equal(t, 1, r.Len())
	require.Equal(t, 1, r.CountForSession("s1"))

	ctx := context.Background()
	require.NoError(t, r.Send(ctx, h, model.StreamEvent{MessageID: "m", Phase: model.PhaseStart}))
	require.Len(t, conn.events, 1)

	r.Disconnect(h, CloseNormal, "bye")
	r.Disconnect(h, CloseNormal, "bye")
	require.Equal(t, []int{CloseNormal}, conn.closes)
	require.Zero(t, r.Len())

	require.NoError(t, r.Send(ctx, h, model.StreamEvent{MessageID: "m", Phase: model.PhaseEnd}))
	require.Len(t, conn.events, 1)
	r.Disconnect(Handle("never-connected"), CloseNormal, "")
}

func TestRegistrySendError(t *testing.T) {
	r := NewRegistry()
	h := r.Connect(&fakeConn{sendErr: errors.New("broken pipe")}, "alice", "s1")
	err := r.Send(context.Background(), h, model.StreamEvent{})
	var te *appErr.TransportError
	require.ErrorAs(t, err, &te)
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := &fakeConn{}
			h := r.Connect(conn, "u", "s")
			for j := 0; j < 10; j++ {
				_ = r.Send(context.Background(), h, model.StreamEvent{Phase: model.PhaseChunk})
			}
			r.Disconnect(h, CloseNormal, "")
			r.Disconnect(h, CloseNormal, "")
		}()
	}
	wg.Wait()
	require.Zero(t, r.Len())
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeConn{}, &fakeConn{}
	r.Connect(a, "u1", "s1")
	r.Connect(b, "u2", "s2")
	r.CloseAll(CloseGoingAway, "shutdown")
	require.Zero(t, r.Len())
	require.Equal(t, []int{CloseGoingAway}, a.closes)
	require.Equal(t, []int{CloseGoingAway}, b.closes)
}

func TestToolRegistryCall(t *testing.T) {
	retriever := &fakeRetriever{}
	reg := NewToolRegistry(NewSearchFilesTool(retriever, 3))
	require.Len(t, reg.Specs(), 1)
	require.Equal(t, "search_files", reg.Specs()[0].Name)

	ctx := context.Background()
	require.Equal(t, noPassagesFound, reg.Call(ctx, "alice", toolCall("search_files", `{"query":"x"}`)))
	require.Contains(t, reg.Call(ctx, "alice", toolCall("delete_everything", `{}`)), "unknown tool")
	require.Contains(t, reg.Call(ctx, "alice", toolCall("search_files", `not json`)), "invalid arguments")
	require.Contains(t, reg.Call(ctx, "alice", toolCall("search_files", `{}`)), "query is required")

	var nilReg *ToolRegistry
	require.Nil(t, nilReg.Specs())
}
