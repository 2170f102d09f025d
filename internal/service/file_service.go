package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragchat/internal/extract"
	"github.com/xxxsen/ragchat/internal/filestore"
	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
	"github.com/xxxsen/ragchat/internal/pkg/timeutil"
	"github.com/xxxsen/ragchat/internal/vectorstore"
)

var extensionTypes = map[string]string{
	".pdf":      "application/pdf",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
}

type FileService struct {
	files   FileRepository
	store   filestore.Store
	vectors vectorstore.Client
	indexer *IndexingService
	maxSize int64

	wg sync.WaitGroup
}

func NewFileService(files FileRepository, store filestore.Store, vectors vectorstore.Client, indexer *IndexingService, maxSize int64) *FileService {
	return &FileService{files: files, store: store, vectors: vectors, indexer: indexer, maxSize: maxSize}
}

// Upload stores the raw bytes, creates the file row and starts indexing in
// the background. The returned file is not indexed yet. Files without an
// extractor are kept; their row records the unsupported type.
func (s *FileService) Upload(ctx context.Context, userID, name, contentType string, r io.ReadSeeker, size int64) (*model.File, error) {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." {
		return nil, fmt.Errorf("%w: file name required", appErr.ErrInvalid)
	}
	if s.maxSize > 0 && size > s.maxSize {
		return nil, appErr.ErrFileTooLarge
	}
	contentType, err := resolveContentType(name, contentType, r)
	if err != nil {
		return nil, err
	}
	now := timeutil.NowUnixMilli()
	file := &model.File{
		ID:          newID(),
		UserID:      userID,
		Name:        name,
		ContentType: contentType,
		Size:        size,
		Ctime:       now,
		Mtime:       now,
	}
	file.FileKey = filestore.ObjectKey(userID, file.ID, name)
	if err := s.store.Save(ctx, file.FileKey, r, size); err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}
	if err := s.files.Create(ctx, file); err != nil {
		if delErr := s.store.Delete(ctx, file.FileKey); delErr != nil {
			logutil.GetLogger(ctx).Warn("remove orphan object failed", zap.String("file_key", file.FileKey), zap.Error(delErr))
		}
		return nil, err
	}
	s.indexAsync(ctx, file)
	return file, nil
}

func (s *FileService) indexAsync(ctx context.Context, file *model.File) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.IndexStored(ctx, file); err != nil {
			logutil.GetLogger(ctx).Warn("background indexing failed", zap.String("file_id", file.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until background indexing started by Upload has finished.
func (s *FileService) Wait() {
	s.wg.Wait()
}

func (s *FileService) List(ctx context.Context, userID string) ([]model.File, error) {
	return s.files.ListByUser(ctx, userID)
}

func (s *FileService) Get(ctx context.Context, userID, fileID string) (*model.File, error) {
	return s.files.GetByID(ctx, userID, fileID)
}

// Delete removes chunks first so retrieval never returns passages of a file
// whose row is gone. It waits for a running index of the file to finish.
func (s *FileService) Delete(ctx context.Context, userID, fileID string) error {
	file, err := s.files.GetByID(ctx, userID, fileID)
	if err != nil {
		return err
	}
	unlock, err := s.indexer.locks.lock(ctx, file.ID)
	if err != nil {
		return err
	}
	defer unlock()
	if err := s.vectors.Delete(ctx, vectorstore.Filter{metaFileID: file.ID}); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.store.Delete(ctx, file.FileKey); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return s.files.Delete(ctx, userID, fileID)
}

func (s *FileService) Reindex(ctx context.Context, userID, fileID string) (int, error) {
	file, err := s.files.GetByID(ctx, userID, fileID)
	if err != nil {
		return 0, err
	}
	return s.IndexStored(ctx, file)
}

// ReindexByID is the operator path; it ignores ownership.
func (s *FileService) ReindexByID(ctx context.Context, fileID string) (int, error) {
	file, err := s.files.Get(ctx, fileID)
	if err != nil {
		return 0, err
	}
	return s.IndexStored(ctx, file)
}

// IndexStored loads the raw bytes of file and runs the indexing pipeline.
func (s *FileService) IndexStored(ctx context.Context, file *model.File) (int, error) {
	rc, err := s.store.Open(ctx, file.FileKey)
	if err != nil {
		return 0, &appErr.IndexError{FileID: file.ID, Cause: fmt.Errorf("open object: %w", err)}
	}
	defer rc.Close()
	reader := io.Reader(rc)
	if s.maxSize > 0 {
		reader = io.LimitReader(rc, s.maxSize+1)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return 0, &appErr.IndexError{FileID: file.ID, Cause: fmt.Errorf("read object: %w", err)}
	}
	if s.maxSize > 0 && int64(len(raw)) > s.maxSize {
		return 0, &appErr.IndexError{FileID: file.ID, Cause: appErr.ErrFileTooLarge}
	}
	return s.indexer.Index(ctx, file, raw)
}

// IndexPending retries files that have no successful run yet. It returns the
// number of files indexed.
func (s *FileService) IndexPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	files, err := s.files.ListPending(ctx, uint(limit))
	if err != nil {
		return 0, err
	}
	done := 0
	for i := range files {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		file := &files[i]
		if !extract.Supported(file.ContentType) {
			continue
		}
		if _, err := s.IndexStored(ctx, file); err != nil {
			if errors.Is(err, appErr.ErrUnsupportedContentType) {
				continue
			}
			logutil.GetLogger(ctx).Warn("pending index failed", zap.String("file_id", file.ID), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// resolveContentType trusts a specific client type, then the file extension,
// then content sniffing.
func resolveContentType(name, contentType string, r io.ReadSeeker) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct != "" && ct != "application/octet-stream" {
		return ct, nil
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t, nil
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
