package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/ragchat/internal/model"
	"github.com/xxxsen/ragchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
)

// MessageRepo is the append-only conversation log. Rows are never updated.
type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores msg and bumps the session mtime in one transaction.
func (r *MessageRepo) Append(ctx context.Context, msg *model.ChatMessage) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("encode message content: %w", err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	const insert = `INSERT INTO chat_messages (id, session_id, role, content, ctime) VALUES ($1, $2, $3, $4::jsonb, $5)`
	if _, err := tx.ExecContext(ctx, insert, msg.ID, msg.SessionID, string(msg.Role), string(content), msg.Ctime); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	const touch = `UPDATE chat_sessions SET mtime = $1 WHERE id = $2`
	result, err := tx.ExecContext(ctx, touch, msg.Ctime, msg.SessionID)
	if err != nil {
		return err
	}
	if err := dbutil.ExpectAffected(result); err != nil {
		return err
	}
	return tx.Commit()
}

// ListBySession returns the log in append order.
func (r *MessageRepo) ListBySession(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	const query = `SELECT id, session_id, role, content, ctime FROM chat_messages WHERE session_id = $1 ORDER BY seq ASC`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.ChatMessage, 0)
	for rows.Next() {
		var (
			m    model.ChatMessage
			role string
			raw  []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &raw, &m.Ctime); err != nil {
			return nil, err
		}
		m.Role = model.MessageRole(role)
		if err := json.Unmarshal(raw, &m.Content); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", m.ID, err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
