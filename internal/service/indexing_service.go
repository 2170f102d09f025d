package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragchat/internal/ai"
	"github.com/xxxsen/ragchat/internal/extract"
	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
	"github.com/xxxsen/ragchat/internal/pkg/timeutil"
	"github.com/xxxsen/ragchat/internal/vectorstore"
)

const defaultIndexBatchSize = 100

// Metadata keys written with every chunk.
const (
	metaFileID   = "file_id"
	metaFileName = "file_name"
	metaUserID   = "user_id"
	metaPage     = "page_number"
	metaSequence = "sequence_index"
)

// IndexStateWriter records indexing outcomes on the file row.
type IndexStateWriter interface {
	SetIndexState(ctx context.Context, fileID string, indexed bool, chunkCount int, indexError string, mtime int64) error
}

// IndexingService turns a raw file into embedded chunks in the vector store.
//
// A run clears the indexed flag, removes chunks of any previous run, embeds
// and upserts in batches, and sets the flag only after the last batch is
// stored. Chunk ids are derived from file id and position, so rerunning a
// failed file overwrites whatever the failed run left behind.
type IndexingService struct {
	files     IndexStateWriter
	vectors   vectorstore.Client
	embedder  ai.IEmbedder
	batchSize int
	locks     fileLocks
}

func NewIndexingService(files IndexStateWriter, vectors vectorstore.Client, embedder ai.IEmbedder, batchSize int) *IndexingService {
	if batchSize <= 0 {
		batchSize = defaultIndexBatchSize
	}
	return &IndexingService{files: files, vectors: vectors, embedder: embedder, batchSize: batchSize}
}

// Index returns the number of chunks stored. Extraction yielding nothing is a
// successful run with zero chunks.
//
// Runs of the same file are serialized; a second caller waits for the first to
// finish and then indexes again.
func (s *IndexingService) Index(ctx context.Context, file *model.File, raw []byte) (int, error) {
	unlock, err := s.locks.lock(ctx, file.ID)
	if err != nil {
		return 0, &appErr.IndexError{FileID: file.ID, Cause: err}
	}
	defer unlock()
	return s.index(ctx, file, raw)
}

func (s *IndexingService) index(ctx context.Context, file *model.File, raw []byte) (int, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("file_id", file.ID), zap.String("content_type", file.ContentType))
	ex, ok := extract.Lookup(file.ContentType)
	if !ok {
		s.recordFailure(ctx, file.ID, appErr.ErrUnsupportedContentType)
		return 0, fmt.Errorf("%w: %s", appErr.ErrUnsupportedContentType, file.ContentType)
	}
	if err := s.files.SetIndexState(ctx, file.ID, false, 0, "", timeutil.NowUnixMilli()); err != nil {
		return 0, &appErr.IndexError{FileID: file.ID, Cause: err}
	}
	blocks, err := ex.Extract(ctx, file.Name, raw)
	if err != nil {
		return 0, s.fail(ctx, file.ID, fmt.Errorf("extract: %w", err))
	}
	if err := s.vectors.Delete(ctx, vectorstore.Filter{metaFileID: file.ID}); err != nil {
		return 0, s.fail(ctx, file.ID, fmt.Errorf("clear previous chunks: %w", err))
	}

	batch := make([]vectorstore.Record, 0, s.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.vectors.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("upsert batch ending at %s: %w", batch[len(batch)-1].ID, err)
		}
		batch = batch[:0]
		return nil
	}
	for seq, block := range blocks {
		chunk := model.Chunk{
			ID:            model.ChunkID(file.ID, seq),
			FileID:        file.ID,
			UserID:        file.UserID,
			FileName:      file.Name,
			SequenceIndex: seq,
			PageNumber:    block.Page,
			Text:          block.Content,
			EmbedText:     block.EmbedText,
		}
		if strings.TrimSpace(chunk.EmbedText) == "" {
			chunk.EmbedText = chunk.Text
		}
		vec, err := s.embedder.Embed(ctx, chunk.EmbedText, ai.TaskRetrievalDocument)
		if err != nil {
			return 0, s.fail(ctx, file.ID, fmt.Errorf("embed chunk %d: %w", seq, err))
		}
		chunk.Embedding = vec
		batch = append(batch, chunkRecord(&chunk))
		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				return 0, s.fail(ctx, file.ID, err)
			}
		}
	}
	if err := flush(); err != nil {
		return 0, s.fail(ctx, file.ID, err)
	}
	if err := s.files.SetIndexState(ctx, file.ID, true, len(blocks), "", timeutil.NowUnixMilli()); err != nil {
		return 0, &appErr.IndexError{FileID: file.ID, Cause: err}
	}
	logger.Info("file indexed", zap.Int("chunks", len(blocks)))
	return len(blocks), nil
}

func (s *IndexingService) fail(ctx context.Context, fileID string, cause error) error {
	s.recordFailure(ctx, fileID, cause)
	return &appErr.IndexError{FileID: fileID, Cause: cause}
}

// recordFailure runs detached from ctx so a cancelled run still leaves its
// reason on the row.
func (s *IndexingService) recordFailure(ctx context.Context, fileID string, cause error) {
	if err := s.files.SetIndexState(context.WithoutCancel(ctx), fileID, false, 0, cause.Error(), timeutil.NowUnixMilli()); err != nil {
		logutil.GetLogger(ctx).Warn("record index failure failed", zap.String("file_id", fileID), zap.Error(err))
	}
	logutil.GetLogger(ctx).Error("index file failed", zap.String("file_id", fileID), zap.Error(cause))
}

func chunkRecord(c *model.Chunk) vectorstore.Record {
	return vectorstore.Record{
		ID:       c.ID,
		Vector:   c.Embedding,
		Document: c.Text,
		Metadata: map[string]string{
			metaFileID:   c.FileID,
			metaFileName: c.FileName,
			metaUserID:   c.UserID,
			metaPage:     strconv.Itoa(c.PageNumber),
			metaSequence: strconv.Itoa(c.SequenceIndex),
		},
	}
}

func chunkFromMatch(m vectorstore.Match) model.RetrievedChunk {
	page, _ := strconv.Atoi(m.Metadata[metaPage])
	seq, _ := strconv.Atoi(m.Metadata[metaSequence])
	return model.RetrievedChunk{
		Chunk: model.Chunk{
			ID:            m.ID,
			FileID:        m.Metadata[metaFileID],
			UserID:        m.Metadata[metaUserID],
			FileName:      m.Metadata[metaFileName],
			SequenceIndex: seq,
			PageNumber:    page,
			Text:          m.Document,
		},
		Distance: m.Distance,
	}
}

// fileLocks hands out one lock per file id. Entries are dropped once nobody
// holds or waits on them.
type fileLocks struct {
	mu    sync.Mutex
	items map[string]*fileLock
}

type fileLock struct {
	sem  chan struct{}
	refs int
}

func (l *fileLocks) lock(ctx context.Context, fileID string) (func(), error) {
	l.mu.Lock()
	if l.items == nil {
		l.items = make(map[string]*fileLock)
	}
	item, ok := l.items[fileID]
	if !ok {
		item = &fileLock{sem: make(chan struct{}, 1)}
		l.items[fileID] = item
	}
	item.refs++
	l.mu.Unlock()

	select {
	case item.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(fileID, item)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-item.sem
			l.release(fileID, item)
		})
	}, nil
}

func (l *fileLocks) release(fileID string, item *fileLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item.refs--
	if item.refs == 0 {
		delete(l.items, fileID)
	}
}
