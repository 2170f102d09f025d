package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/ragchat/internal/model"
	"github.com/xxxsen/ragchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
)

var fileColumns = []string{"id", "user_id", "name", "content_type", "size", "file_key", "indexed", "chunk_count", "index_error", "ctime", "mtime"}

type FileRepo struct {
	db *sql.DB
}

func NewFileRepo(db *sql.DB) *FileRepo {
	return &FileRepo{db: db}
}

func (r *FileRepo) Create(ctx context.Context, file *model.File) error {
	data := map[string]interface{}{
		"id":           file.ID,
		"user_id":      file.UserID,
		"name":         file.Name,
		"content_type": file.ContentType,
		"size":         file.Size,
		"file_key":     file.FileKey,
		"indexed":      file.Indexed,
		"chunk_count":  file.ChunkCount,
		"index_error":  file.IndexError,
		"ctime":        file.Ctime,
		"mtime":        file.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("files", []map[string]interface{}{data})
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

// GetByID is owner scoped; another user's file reads as not found.
func (r *FileRepo) GetByID(ctx context.Context, userID, fileID string) (*model.File, error) {
	return r.getOne(ctx, map[string]interface{}{"id": fileID, "user_id": userID})
}

// Get loads a file regardless of owner. Only background indexing uses it.
func (r *FileRepo) Get(ctx context.Context, fileID string) (*model.File, error) {
	return r.getOne(ctx, map[string]interface{}{"id": fileID})
}

func (r *FileRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.File, error) {
	where["_limit"] = []uint{0, 1}
	items, err := r.list(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

func (r *FileRepo) ListByUser(ctx context.Context, userID string) ([]model.File, error) {
	return r.list(ctx, map[string]interface{}{"user_id": userID, "_orderby": "mtime desc"})
}

// ListPending returns files that were never indexed successfully, oldest
// first. Files already declined for their content type are left out.
func (r *FileRepo) ListPending(ctx context.Context, limit uint) ([]model.File, error) {
	return r.list(ctx, map[string]interface{}{
		"indexed":        false,
		"index_error !=": appErr.ErrUnsupportedContentType.Error(),
		"_orderby": "mtime asc",
		"_limit":   []uint{0, limit},
	})
}

// IndexedSet reports which of ids are owned by userID and currently indexed.
func (r *FileRepo) IndexedSet(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM files WHERE user_id = ? AND indexed = TRUE AND id IN (?)`, userID, ids)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// SetIndexState records the outcome of an indexing run.
func (r *FileRepo) SetIndexState(ctx context.Context, fileID string, indexed bool, chunkCount int, indexError string, mtime int64) error {
	where := map[string]interface{}{"id": fileID}
	update := map[string]interface{}{
		"indexed":     indexed,
		"chunk_count": chunkCount,
		"index_error": indexError,
		"mtime":       mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("files", where, update)
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

func (r *FileRepo) Delete(ctx context.Context, userID, fileID string) error {
	sqlStr, args, err := builder.BuildDelete("files", map[string]interface{}{"id": fileID, "user_id": userID})
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

func (r *FileRepo) list(ctx context.Context, where map[string]interface{}) ([]model.File, error) {
	sqlStr, args, err := builder.BuildSelect("files", where, fileColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.File, 0)
	for rows.Next() {
		var f model.File
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &f.ContentType, &f.Size, &f.FileKey, &f.Indexed, &f.ChunkCount, &f.IndexError, &f.Ctime, &f.Mtime); err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}
