package service

import (
	"context"

	"github.com/xxxsen/ragchat/internal/model"
)

// FileRepository is the subset of repo.FileRepo the file and indexing
// services need.
type FileRepository interface {
	Create(ctx context.Context, file *model.File) error
	GetByID(ctx context.Context, userID, fileID string) (*model.File, error)
	Get(ctx context.Context, fileID string) (*model.File, error)
	ListByUser(ctx context.Context, userID string) ([]model.File, error)
	ListPending(ctx context.Context, limit uint) ([]model.File, error)
	IndexedSet(ctx context.Context, userID string, ids []string) (map[string]bool, error)
	SetIndexState(ctx context.Context, fileID string, indexed bool, chunkCount int, indexError string, mtime int64) error
	Delete(ctx context.Context, userID, fileID string) error
}

type SessionRepository interface {
	Create(ctx context.Context, s *model.ChatSession) error
	GetByID(ctx context.Context, userID, sessionID string) (*model.ChatSession, error)
	ListByUser(ctx context.Context, userID string) ([]model.ChatSession, error)
	Rename(ctx context.Context, userID, sessionID, name string, mtime int64) error
	Delete(ctx context.Context, userID, sessionID string) error
}

type MessageRepository interface {
	Append(ctx context.Context, msg *model.ChatMessage) error
	ListBySession(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
}
