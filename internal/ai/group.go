package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type CompleterEntry struct {
	Name      string
	Completer ICompleter
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

type groupCompleter struct {
	items []CompleterEntry
}

// NewGroupCompleter fails over between entries while opening a stream. Once a
// stream is handed out, errors during Recv are not retried elsewhere.
func NewGroupCompleter(items []CompleterEntry) ICompleter {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return items[0].Completer
	}
	return &groupCompleter{items: items}
}

func (g *groupCompleter) Stream(ctx context.Context, req *ChatRequest) (ChatStream, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Completer == nil {
			continue
		}
		stream, err := item.Completer.Stream(ctx, req)
		if err == nil {
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("completer failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("completer not configured")
	}
	return nil, lastErr
}

func (g *groupCompleter) ModelName() string {
	return joinNames(len(g.items), func(i int) string { return g.items[i].Name })
}

type groupEmbedder struct {
	items []EmbedderEntry
}

// NewGroupEmbedder tries entries in order. Entries must produce vectors of the
// same dimension, otherwise stored chunks and queries stop being comparable.
func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return items[0].Embedder
	}
	return &groupEmbedder{items: items}
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		res, err := item.Embedder.Embed(ctx, text, taskType)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	return nil, lastErr
}

func (g *groupEmbedder) ModelName() string {
	return joinNames(len(g.items), func(i int) string { return g.items[i].Name })
}

func joinNames(n int, name func(int) string) string {
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if v := name(i); v != "" {
			names = append(names, v)
		}
	}
	return strings.Join(names, "|")
}
