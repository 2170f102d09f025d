package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragchat/internal/filestore"
	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
)

func newFileFixture(t *testing.T, maxSize int64) (*FileService, *memFiles, *memVectors) {
	t.Helper()
	files := newMemFiles()
	vectors := newMemVectors()
	indexer := NewIndexingService(files, vectors, &fakeEmbedder{}, 100)
	return NewFileService(files, filestore.NewLocal(t.TempDir()), vectors, indexer, maxSize), files, vectors
}

func TestUploadIndexesInBackground(t *testing.T) {
	svc, files, vectors := newFileFixture(t, 1<<20)
	ctx := context.Background()
	raw := []byte("first\nsecond\nthird")
	f, err := svc.Upload(ctx, "u1", "notes.lines", lineContentType, bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	require.False(t, f.Indexed)
	svc.Wait()

	require.True(t, files.indexed(f.ID))
	require.Len(t, vectors.ids(), 3)

	got, err := svc.Get(ctx, "u1", f.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.ChunkCount)
	_, err = svc.Get(ctx, "u2", f.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestUploadRejections(t *testing.T) {
	svc, _, _ := newFileFixture(t, 4)
	ctx := context.Background()
	_, err := svc.Upload(ctx, "u1", "a.txt", "text/plain", bytes.NewReader([]byte("too long")), 8)
	require.ErrorIs(t, err, appErr.ErrFileTooLarge)
	_, err = svc.Upload(ctx, "u1", "", "text/plain", bytes.NewReader([]byte("x")), 1)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestUploadKeepsUnsupportedFiles(t *testing.T) {
	svc, _, vectors := newFileFixture(t, 1<<20)
	ctx := context.Background()
	f, err := svc.Upload(ctx, "u1", "a.png", "image/png", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(ctx, "u1", f.ID)
	require.NoError(t, err)
	require.False(t, got.Indexed)
	require.Equal(t, appErr.ErrUnsupportedContentType.Error(), got.IndexError)
	require.Empty(t, vectors.ids())

	n, err := svc.IndexPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestDeleteWaitsForRunningIndex(t *testing.T) {
	svc, files, vectors := newFileFixture(t, 0)
	ctx := context.Background()
	raw := []byte("a\nb")
	f, err := svc.Upload(ctx, "u1", "x.lines", lineContentType, bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	svc.Wait()

	unlock, err := svc.indexer.locks.lock(ctx, f.ID)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- svc.Delete(ctx, "u1", f.ID) }()
	require.Eventually(t, func() bool { return svc.indexer.locks.refs(f.ID) == 2 }, time.Second, 5*time.Millisecond)
	require.Len(t, vectors.ids(), 2)
	unlock()

	require.NoError(t, <-done)
	require.Empty(t, vectors.ids())
	_, err = files.Get(ctx, f.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestDeleteRemovesChunks(t *testing.T) {
	svc, files, vectors := newFileFixture(t, 0)
	ctx := context.Background()
	raw := []byte("a\nb")
	f, err := svc.Upload(ctx, "u1", "x.lines", lineContentType, bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	svc.Wait()
	require.Len(t, vectors.ids(), 2)

	require.ErrorIs(t, svc.Delete(ctx, "u2", f.ID), appErr.ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "u1", f.ID))
	require.Empty(t, vectors.ids())
	_, err = files.Get(ctx, f.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestIndexPendingRetriesFailedFiles(t *testing.T) {
	svc, files, vectors := newFileFixture(t, 0)
	ctx := context.Background()
	vectors.failUpsert = 1
	raw := []byte("a\nb")
	f, err := svc.Upload(ctx, "u1", "x.lines", lineContentType, bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	svc.Wait()
	require.False(t, files.indexed(f.ID))

	vectors.failUpsert = 0
	n, err := svc.IndexPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, files.indexed(f.ID))
}

func TestResolveContentType(t *testing.T) {
	ct, err := resolveContentType("a.md", "", bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, "text/markdown", ct)
	ct, err = resolveContentType("a.bin", "application/octet-stream", bytes.NewReader([]byte("%PDF-1.4 ...")))
	require.NoError(t, err)
	require.Equal(t, "application/pdf", ct)
	ct, err = resolveContentType("a", "Text/Plain; charset=utf-8", nil)
	require.NoError(t, err)
	require.Equal(t, "text/plain; charset=utf-8", ct)
}

type memSessions struct {
	items map[string]*model.ChatSession
}

func (m *memSessions) Create(ctx context.Context, s *model.ChatSession) error {
	m.items[s.ID] = s
	return nil
}

func (m *memSessions) GetByID(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	s, ok := m.items[sessionID]
	if !ok || s.UserID != userID {
		return nil, appErr.ErrNotFound
	}
	return s, nil
}

func (m *memSessions) ListByUser(ctx context.Context, userID string) ([]model.ChatSession, error) {
	var out []model.ChatSession
	for _, s := range m.items {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSessions) Rename(ctx context.Context, userID, sessionID, name string, mtime int64) error {
	s, err := m.GetByID(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	s.Name = name
	s.Mtime = mtime
	return nil
}

func (m *memSessions) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := m.GetByID(ctx, userID, sessionID); err != nil {
		return err
	}
	delete(m.items, sessionID)
	return nil
}

type memMessages struct {
	items []model.ChatMessage
}

func (m *memMessages) Append(ctx context.Context, msg *model.ChatMessage) error {
	m.items = append(m.items, *msg)
	return nil
}

func (m *memMessages) ListBySession(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	for _, msg := range m.items {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func TestSessionService(t *testing.T) {
	msgs := &memMessages{}
	svc := NewSessionService(&memSessions{items: map[string]*model.ChatSession{}}, msgs)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", "  ")
	require.NoError(t, err)
	require.Equal(t, defaultSessionName, s.Name)

	renamed, err := svc.Rename(ctx, "u1", s.ID, "Budget questions")
	require.NoError(t, err)
	require.Equal(t, "Budget questions", renamed.Name)

	msgs.items = append(msgs.items, model.ChatMessage{ID: "m1", SessionID: s.ID, Role: model.RoleUser})
	log, err := svc.Messages(ctx, "u1", s.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	_, err = svc.Messages(ctx, "u2", s.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "u1", s.ID))
	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}
