package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
)

func linesOf(n int) []byte {
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	return []byte(strings.Join(lines, "\n"))
}

func newIndexFixture(batch int) (*IndexingService, *memFiles, *memVectors, *fakeEmbedder, *model.File) {
	file := &model.File{ID: "f1", UserID: "u1", Name: "notes.txt", ContentType: lineContentType}
	files := newMemFiles(file)
	vectors := newMemVectors()
	emb := &fakeEmbedder{}
	return NewIndexingService(files, vectors, emb, batch), files, vectors, emb, file
}

func TestIndexBatchesUpserts(t *testing.T) {
	svc, files, vectors, emb, file := newIndexFixture(100)
	n, err := svc.Index(context.Background(), file, linesOf(250))
	require.NoError(t, err)
	require.Equal(t, 250, n)
	require.Equal(t, []int{100, 100, 50}, vectors.upsertSizes)
	require.Len(t, emb.calls, 250)
	require.Equal(t, "embed: line 0", emb.calls[0])
	require.True(t, files.indexed("f1"))
	require.Equal(t, []bool{false, true}, files.states)

	rec := vectors.records["f1_249"]
	require.Equal(t, "line 249", rec.Document)
	require.Equal(t, "u1", rec.Metadata[metaUserID])
	require.Equal(t, "notes.txt", rec.Metadata[metaFileName])
	require.Equal(t, "249", rec.Metadata[metaSequence])
}

func TestIndexExactBatchMultiple(t *testing.T) {
	svc, _, vectors, _, file := newIndexFixture(100)
	_, err := svc.Index(context.Background(), file, linesOf(200))
	require.NoError(t, err)
	require.Equal(t, []int{100, 100}, vectors.upsertSizes)
}

func TestIndexIsIdempotent(t *testing.T) {
	svc, _, vectors, _, file := newIndexFixture(100)
	_, err := svc.Index(context.Background(), file, linesOf(120))
	require.NoError(t, err)
	first := vectors.ids()
	_, err = svc.Index(context.Background(), file, linesOf(120))
	require.NoError(t, err)
	require.Equal(t, first, vectors.ids())
	require.Len(t, first, 120)
}

func TestIndexShrinkingFileDropsStaleChunks(t *testing.T) {
	svc, _, vectors, _, file := newIndexFixture(100)
	_, err := svc.Index(context.Background(), file, linesOf(10))
	require.NoError(t, err)
	_, err = svc.Index(context.Background(), file, linesOf(4))
	require.NoError(t, err)
	require.Equal(t, []string{"f1_0", "f1_1", "f1_2", "f1_3"}, vectors.ids())
}

func TestIndexUpsertFailureLeavesFileUnindexed(t *testing.T) {
	svc, files, vectors, _, file := newIndexFixture(100)
	vectors.failUpsert = 3
	_, err := svc.Index(context.Background(), file, linesOf(250))
	var ie *appErr.IndexError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, "f1", ie.FileID)
	require.False(t, files.indexed("f1"))
	require.Len(t, vectors.ids(), 200)
	f, _ := files.Get(context.Background(), "f1")
	require.Contains(t, f.IndexError, "vector store unavailable")

	vectors.failUpsert = 0
	n, err := svc.Index(context.Background(), file, linesOf(250))
	require.NoError(t, err)
	require.Equal(t, 250, n)
	require.True(t, files.indexed("f1"))
	require.Len(t, vectors.ids(), 250)
}

func TestIndexEmbedFailure(t *testing.T) {
	svc, files, vectors, emb, file := newIndexFixture(100)
	emb.err = errors.New("quota")
	emb.failOn = 5
	_, err := svc.Index(context.Background(), file, linesOf(10))
	var ie *appErr.IndexError
	require.ErrorAs(t, err, &ie)
	require.False(t, files.indexed("f1"))
	require.Empty(t, vectors.upsertSizes)
	require.Len(t, emb.calls, 5)
}

func TestIndexUnsupportedContentType(t *testing.T) {
	svc, files, vectors, emb, file := newIndexFixture(100)
	file.ContentType = "image/png"
	_, err := svc.Index(context.Background(), file, []byte("x"))
	require.ErrorIs(t, err, appErr.ErrUnsupportedContentType)
	require.Empty(t, emb.calls)
	require.Empty(t, vectors.upsertSizes)
	require.Empty(t, vectors.deletes)
	require.False(t, files.indexed("f1"))
}

func TestIndexEmptyExtraction(t *testing.T) {
	svc, files, vectors, _, file := newIndexFixture(100)
	n, err := svc.Index(context.Background(), file, []byte("\n\n"))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, vectors.upsertSizes)
	require.True(t, files.indexed("f1"))
}

func TestIndexCarriesPageNumbers(t *testing.T) {
	svc, _, vectors, _, file := newIndexFixture(100)
	_, err := svc.Index(context.Background(), file, []byte("p:3 budget overview\np:4 appendix"))
	require.NoError(t, err)
	require.Equal(t, "3", vectors.records["f1_0"].Metadata[metaPage])
	require.Equal(t, "budget overview", vectors.records["f1_0"].Document)
	require.Equal(t, "4", vectors.records["f1_1"].Metadata[metaPage])
}

// gatedEmbedder blocks its first call until release is closed.
type gatedEmbedder struct {
	*fakeEmbedder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedEmbedder(inner *fakeEmbedder) *gatedEmbedder {
	return &gatedEmbedder{fakeEmbedder: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.fakeEmbedder.Embed(ctx, text, taskType)
}

func (l *fileLocks) refs(fileID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if item, ok := l.items[fileID]; ok {
		return item.refs
	}
	return 0
}

func TestIndexRunsOfSameFileAreSerialized(t *testing.T) {
	file := &model.File{ID: "f1", UserID: "u1", Name: "notes.txt", ContentType: lineContentType}
	files := newMemFiles(file)
	vectors := newMemVectors()
	// The third embed call is the first one of the second run.
	emb := newGatedEmbedder(&fakeEmbedder{failOn: 3, err: errors.New("quota exceeded")})
	svc := NewIndexingService(files, vectors, emb, 1)
	ctx := context.Background()
	raw := linesOf(2)

	first := make(chan error, 1)
	go func() {
		_, err := svc.Index(ctx, file, raw)
		first <- err
	}()
	<-emb.entered

	second := make(chan error, 1)
	go func() {
		_, err := svc.Index(ctx, file, raw)
		second <- err
	}()
	require.Eventually(t, func() bool { return svc.locks.refs("f1") == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, vectors.deleteCount())

	close(emb.release)
	require.NoError(t, <-first)
	require.Error(t, <-second)

	require.False(t, files.indexed("f1"))
	require.Empty(t, vectors.ids())
	require.Equal(t, 2, vectors.deleteCount())
	require.Equal(t, 0, svc.locks.refs("f1"))
}

func TestIndexWaitHonoursContext(t *testing.T) {
	svc, files, _, _, file := newIndexFixture(10)
	unlock, err := svc.locks.lock(context.Background(), file.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Index(ctx, file, linesOf(1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, files.states)
	require.Equal(t, 1, svc.locks.refs(file.ID))
}
