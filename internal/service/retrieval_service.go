package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragchat/internal/ai"
	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
	"github.com/xxxsen/ragchat/internal/vectorstore"
)

const (
	DefaultTopK      = 5
	contextSeparator = "\n---\n"
)

// IndexedLookup reports which files of an owner are currently indexed.
type IndexedLookup interface {
	IndexedSet(ctx context.Context, userID string, ids []string) (map[string]bool, error)
}

// RetrievalService finds the passages of a user's own files closest to a
// query.
type RetrievalService struct {
	vectors  vectorstore.Client
	embedder ai.IEmbedder
	files    IndexedLookup
	timeout  time.Duration
}

func NewRetrievalService(vectors vectorstore.Client, embedder ai.IEmbedder, files IndexedLookup, timeout time.Duration) *RetrievalService {
	return &RetrievalService{vectors: vectors, embedder: embedder, files: files, timeout: timeout}
}

// Retrieve never fails: any error is logged and yields no context, so a
// broken vector store degrades answers instead of failing the turn.
func (s *RetrievalService) Retrieve(ctx context.Context, query, ownerID string, topK int) []model.RetrievedChunk {
	items, err := s.Search(ctx, query, ownerID, topK)
	if err != nil {
		logutil.GetLogger(ctx).Warn("retrieval degraded to empty context",
			zap.String("user_id", ownerID), zap.Error(err))
		return nil
	}
	return items
}

// Search is Retrieve with errors surfaced as *RetrievalError.
func (s *RetrievalService) Search(ctx context.Context, query, ownerID string, topK int) ([]model.RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" || ownerID == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	vec, err := s.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, &appErr.RetrievalError{Cause: fmt.Errorf("embed query: %w", err)}
	}
	matches, err := s.vectors.Query(ctx, vec, topK, vectorstore.Filter{metaUserID: ownerID})
	if err != nil {
		return nil, &appErr.RetrievalError{Cause: fmt.Errorf("query vectors: %w", err)}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		id := m.Metadata[metaFileID]
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	indexed, err := s.files.IndexedSet(ctx, ownerID, ids)
	if err != nil {
		return nil, &appErr.RetrievalError{Cause: fmt.Errorf("check indexed files: %w", err)}
	}
	out := make([]model.RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		if m.Metadata[metaUserID] != ownerID || !indexed[m.Metadata[metaFileID]] {
			continue
		}
		out = append(out, chunkFromMatch(m))
	}
	return out, nil
}

// RenderContext formats retrieved chunks for the model prompt, keeping rank
// order. No chunks renders as the empty string.
func RenderContext(chunks []model.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, fmt.Sprintf("Document: %s\nContent: %s", c.FileName, c.Text))
	}
	return strings.Join(parts, contextSeparator)
}
