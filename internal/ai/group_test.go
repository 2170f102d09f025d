package ai

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	err   error
	calls int
}

func (s *stubCompleter) Stream(ctx context.Context, req *ChatRequest) (ChatStream, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &sliceStream{deltas: []*ChatDelta{{Text: "ok"}}}, nil
}

func (s *stubCompleter) ModelName() string { return "stub" }

type sliceStream struct {
	deltas []*ChatDelta
	pos    int
}

func (s *sliceStream) Recv() (*ChatDelta, error) {
	if s.pos >= len(s.deltas) {
		return nil, io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, nil
}

func (s *sliceStream) Close() error { return nil }

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return s.vec, s.err
}

func (s *stubEmbedder) ModelName() string { return "stub" }

func TestGroupCompleter_FailsOver(t *testing.T) {
	bad := &stubCompleter{err: errors.New("down")}
	good := &stubCompleter{}
	g := NewGroupCompleter([]CompleterEntry{{Name: "a", Completer: bad}, {Name: "b", Completer: good}})

	stream, err := g.Stream(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	d, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "ok", d.Text)
	require.Equal(t, 1, bad.calls)
	require.Equal(t, 1, good.calls)
	require.Equal(t, "a|b", g.ModelName())
}

func TestGroupCompleter_AllFail(t *testing.T) {
	g := NewGroupCompleter([]CompleterEntry{
		{Name: "a", Completer: &stubCompleter{err: errors.New("a down")}},
		{Name: "b", Completer: &stubCompleter{err: errors.New("b down")}},
	})
	_, err := g.Stream(context.Background(), &ChatRequest{})
	require.EqualError(t, err, "b down")
}

func TestGroupEmbedder(t *testing.T) {
	g := NewGroupEmbedder([]EmbedderEntry{
		{Name: "a", Embedder: &stubEmbedder{err: errors.New("down")}},
		{Name: "b", Embedder: &stubEmbedder{vec: []float32{1}}},
	})
	vec, err := g.Embed(context.Background(), "t", TaskRetrievalDocument)
	require.NoError(t, err)
	require.Equal(t, []float32{1}, vec)
	require.Nil(t, NewGroupEmbedder(nil))
}
