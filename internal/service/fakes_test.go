package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xxxsen/ragchat/internal/extract"
	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
	"github.com/xxxsen/ragchat/internal/vectorstore"
)

const lineContentType = "application/x-lines"

// lineExtractor yields one block per non-empty line; a line "p:N text" sets
// the page.
type lineExtractor struct{}

func (lineExtractor) Extract(ctx context.Context, name string, raw []byte) ([]extract.Block, error) {
	var out []extract.Block
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		page := 0
		if strings.HasPrefix(line, "p:") {
			if idx := strings.IndexByte(line, ' '); idx > 2 {
				page, _ = strconv.Atoi(line[2:idx])
				line = line[idx+1:]
			}
		}
		out = append(out, extract.Block{Content: line, EmbedText: "embed: " + line, Page: page})
	}
	return out, nil
}

func init() {
	extract.Register(lineContentType, lineExtractor{})
}

type fakeEmbedder struct {
	mu     sync.Mutex
	calls  []string
	failOn int
	err    error
}

var embedKeywords = []string{"alpha", "beta", "gamma", "budget"}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.err != nil && (f.failOn == 0 || len(f.calls) == f.failOn) {
		return nil, f.err
	}
	vec := make([]float32, len(embedKeywords)+1)
	lower := strings.ToLower(text)
	for i, kw := range embedKeywords {
		vec[i] = float32(strings.Count(lower, kw))
	}
	vec[len(embedKeywords)] = 0.01
	return vec, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake" }

type memVectors struct {
	mu          sync.Mutex
	records     map[string]vectorstore.Record
	upsertSizes []int
	failUpsert  int
	queryErr    error
	deletes     []vectorstore.Filter
}

func newMemVectors() *memVectors {
	return &memVectors{records: map[string]vectorstore.Record{}}
}

func (m *memVectors) Upsert(ctx context.Context, records []vectorstore.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertSizes = append(m.upsertSizes, len(records))
	if m.failUpsert > 0 && len(m.upsertSizes) == m.failUpsert {
		return errors.New("vector store unavailable")
	}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *memVectors) Delete(ctx context.Context, filter vectorstore.Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, filter)
	for id, r := range m.records {
		if matchFilter(r.Metadata, filter) {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *memVectors) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []vectorstore.Match
	for _, r := range m.records {
		if !matchFilter(r.Metadata, filter) {
			continue
		}
		out = append(out, vectorstore.Match{ID: r.ID, Document: r.Document, Metadata: r.Metadata, Distance: cosineDistance(vector, r.Vector)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].ID < out[j].ID
		}
		return out[i].Distance < out[j].Distance
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memVectors) deleteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deletes)
}

func (m *memVectors) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func matchFilter(meta map[string]string, filter vectorstore.Filter) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

type memFiles struct {
	mu    sync.Mutex
	files map[string]*model.File
	// states records the indexed flag of every SetIndexState call.
	states []bool
}

func newMemFiles(files ...*model.File) *memFiles {
	m := &memFiles{files: map[string]*model.File{}}
	for _, f := range files {
		m.files[f.ID] = f
	}
	return m
}

func (m *memFiles) Create(ctx context.Context, file *model.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[file.ID]; ok {
		return appErr.ErrConflict
	}
	cp := *file
	m.files[file.ID] = &cp
	return nil
}

func (m *memFiles) GetByID(ctx context.Context, userID, fileID string) (*model.File, error) {
	f, err := m.Get(ctx, fileID)
	if err != nil || f.UserID != userID {
		return nil, appErr.ErrNotFound
	}
	return f, nil
}

func (m *memFiles) Get(ctx context.Context, fileID string) (*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memFiles) ListByUser(ctx context.Context, userID string) ([]model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.File
	for _, f := range m.files {
		if f.UserID == userID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *memFiles) ListPending(ctx context.Context, limit uint) ([]model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.File
	for _, f := range m.files {
		if !f.Indexed && f.IndexError != appErr.ErrUnsupportedContentType.Error() && uint(len(out)) < limit {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *memFiles) IndexedSet(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, id := range ids {
		if f, ok := m.files[id]; ok && f.UserID == userID && f.Indexed {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memFiles) SetIndexState(ctx context.Context, fileID string, indexed bool, chunkCount int, indexError string, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return appErr.ErrNotFound
	}
	f.Indexed = indexed
	f.ChunkCount = chunkCount
	f.IndexError = indexError
	f.Mtime = mtime
	m.states = append(m.states, indexed)
	return nil
}

func (m *memFiles) Delete(ctx context.Context, userID, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok || f.UserID != userID {
		return appErr.ErrNotFound
	}
	delete(m.files, fileID)
	return nil
}

func (m *memFiles) indexed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	return ok && f.Indexed
}
