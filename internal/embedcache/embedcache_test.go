package embedcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/ragchat/internal/model"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string { return "m" }

type memStore struct {
	items  map[string][]float32
	getErr error
}

func (m *memStore) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.items[modelName+taskType+contentHash]
	return v, ok, nil
}

func (m *memStore) Save(ctx context.Context, item *model.EmbeddingCache) error {
	m.items[item.ModelName+item.TaskType+item.ContentHash] = item.Embedding
	return nil
}

func TestLRUCache(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 10, time.Minute)
	ctx := context.Background()

	a, err := e.Embed(ctx, "hello", "q")
	require.NoError(t, err)
	a[0] = 99
	b, err := e.Embed(ctx, "hello", "q")
	require.NoError(t, err)
	require.Equal(t, float32(5), b[0])
	require.Equal(t, 1, next.calls)

	_, err = e.Embed(ctx, "hello", "d")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
	require.Equal(t, "m", e.ModelName())
}

func TestLRUCacheDisabled(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, next, WrapLruCacheToEmbedder(next, 0, time.Minute))
}

func TestDBCache(t *testing.T) {
	next := &countingEmbedder{}
	store := &memStore{items: map[string][]float32{}}
	e := WrapDBCacheToEmbedder(next, store)
	ctx := context.Background()

	_, err := e.Embed(ctx, "abc", "d")
	require.NoError(t, err)
	v, err := e.Embed(ctx, "abc", "d")
	require.NoError(t, err)
	require.Equal(t, []float32{3, 1}, v)
	require.Equal(t, 1, next.calls)
	require.Len(t, store.items, 1)
}

func TestDBCacheLookupFailureFallsThrough(t *testing.T) {
	next := &countingEmbedder{}
	store := &memStore{items: map[string][]float32{}, getErr: errors.New("db down")}
	e := WrapDBCacheToEmbedder(next, store)
	v, err := e.Embed(context.Background(), "abc", "d")
	require.NoError(t, err)
	require.Equal(t, []float32{3, 1}, v)
}

func TestDBCacheEmbedError(t *testing.T) {
	next := &countingEmbedder{err: errors.New("boom")}
	e := WrapDBCacheToEmbedder(next, &memStore{items: map[string][]float32{}})
	_, err := e.Embed(context.Background(), "abc", "d")
	require.Error(t, err)
}
