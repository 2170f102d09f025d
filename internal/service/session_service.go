package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
	"github.com/xxxsen/ragchat/internal/pkg/timeutil"
)

const (
	defaultSessionName = "New chat"
	maxSessionName     = 200
)

type SessionService struct {
	sessions SessionRepository
	messages MessageRepository
}

func NewSessionService(sessions SessionRepository, messages MessageRepository) *SessionService {
	return &SessionService{sessions: sessions, messages: messages}
}

func (s *SessionService) Create(ctx context.Context, userID, name string) (*model.ChatSession, error) {
	name, err := normalizeSessionName(name)
	if err != nil {
		return nil, err
	}
	now := timeutil.NowUnixMilli()
	sess := &model.ChatSession{ID: newID(), UserID: userID, Name: name, Ctime: now, Mtime: now}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SessionService) List(ctx context.Context, userID string) ([]model.ChatSession, error) {
	return s.sessions.ListByUser(ctx, userID)
}

func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	return s.sessions.GetByID(ctx, userID, sessionID)
}

func (s *SessionService) Rename(ctx context.Context, userID, sessionID, name string) (*model.ChatSession, error) {
	name, err := normalizeSessionName(name)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Rename(ctx, userID, sessionID, name, timeutil.NowUnixMilli()); err != nil {
		return nil, err
	}
	return s.sessions.GetByID(ctx, userID, sessionID)
}

func (s *SessionService) Delete(ctx context.Context, userID, sessionID string) error {
	return s.sessions.Delete(ctx, userID, sessionID)
}

// Messages returns the log of a session owned by userID.
func (s *SessionService) Messages(ctx context.Context, userID, sessionID string) ([]model.ChatMessage, error) {
	if _, err := s.sessions.GetByID(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.messages.ListBySession(ctx, sessionID)
}

func normalizeSessionName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultSessionName, nil
	}
	if utf8.RuneCountInString(name) > maxSessionName {
		return "", fmt.Errorf("%w: session name too long", appErr.ErrInvalid)
	}
	return name, nil
}
