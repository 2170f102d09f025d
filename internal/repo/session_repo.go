package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/ragchat/internal/model"
	"github.com/xxxsen/ragchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
)

var sessionColumns = []string{"id", "user_id", "name", "ctime", "mtime"}

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, s *model.ChatSession) error {
	data := map[string]interface{}{
		"id":      s.ID,
		"user_id": s.UserID,
		"name":    s.Name,
		"ctime":   s.Ctime,
		"mtime":   s.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("chat_sessions", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	items, err := r.list(ctx, map[string]interface{}{"id": sessionID, "user_id": userID, "_limit": []uint{0, 1}})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

// ListByUser returns the most recently active sessions first.
func (r *SessionRepo) ListByUser(ctx context.Context, userID string) ([]model.ChatSession, error) {
	return r.list(ctx, map[string]interface{}{"user_id": userID, "_orderby": "mtime desc"})
}

func (r *SessionRepo) Rename(ctx context.Context, userID, sessionID, name string, mtime int64) error {
	return r.update(ctx, map[string]interface{}{"id": sessionID, "user_id": userID}, map[string]interface{}{"name": name, "mtime": mtime})
}

func (r *SessionRepo) Delete(ctx context.Context, userID, sessionID string) error {
	sqlStr, args, err := builder.BuildDelete("chat_sessions", map[string]interface{}{"id": sessionID, "user_id": userID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	return dbutil.ExpectAffected(result)
}

func (r *SessionRepo) update(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("chat_sessions", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	return dbutil.ExpectAffected(result)
}

func (r *SessionRepo) list(ctx context.Context, where map[string]interface{}) ([]model.ChatSession, error) {
	sqlStr, args, err := builder.BuildSelect("chat_sessions", where, sessionColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.ChatSession, 0)
	for rows.Next() {
		var s model.ChatSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Ctime, &s.Mtime); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
