package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultChromaURL = "http://localhost:8000"

type chromaConfig struct {
	URL        string `json:"url"`
	Collection string `json:"collection"`
	Timeout    int    `json:"timeout"`
}

// chromaStore talks to the Chroma v1 REST API. The collection id is resolved
// once, on first use.
type chromaStore struct {
	baseURL    string
	collection string
	client     *http.Client

	mu           sync.Mutex
	collectionID string
}

func NewChroma(baseURL, collection string, client *http.Client) Client {
	if baseURL == "" {
		baseURL = defaultChromaURL
	}
	if collection == "" {
		collection = defaultCollection
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &chromaStore{baseURL: strings.TrimRight(baseURL, "/"), collection: collection, client: client}
}

func createChroma(args interface{}, deps Deps) (Client, error) {
	cfg := &chromaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewChroma(strings.TrimSpace(cfg.URL), strings.TrimSpace(cfg.Collection), &http.Client{Timeout: timeout}), nil
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chromaUpsertRequest struct {
	IDs        []string            `json:"ids"`
	Embeddings [][]float32         `json:"embeddings"`
	Documents  []string            `json:"documents"`
	Metadatas  []map[string]string `json:"metadatas"`
}

type chromaDeleteRequest struct {
	Where map[string]interface{} `json:"where"`
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32            `json:"query_embeddings"`
	NResults        int                    `json:"n_results"`
	Where           map[string]interface{} `json:"where,omitempty"`
	Include         []string               `json:"include"`
}

type chromaQueryResponse struct {
	IDs       [][]string                 `json:"ids"`
	Documents [][]*string                `json:"documents"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Distances [][]float64                `json:"distances"`
}

func (s *chromaStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	id, err := s.resolveCollection(ctx)
	if err != nil {
		return err
	}
	req := chromaUpsertRequest{
		IDs:        make([]string, 0, len(records)),
		Embeddings: make([][]float32, 0, len(records)),
		Documents:  make([]string, 0, len(records)),
		Metadatas:  make([]map[string]string, 0, len(records)),
	}
	for _, rec := range records {
		meta := rec.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		req.IDs = append(req.IDs, rec.ID)
		req.Embeddings = append(req.Embeddings, rec.Vector)
		req.Documents = append(req.Documents, rec.Document)
		req.Metadatas = append(req.Metadatas, meta)
	}
	return s.do(ctx, "/api/v1/collections/"+id+"/upsert", req, nil)
}

func (s *chromaStore) Delete(ctx context.Context, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("delete needs a filter")
	}
	id, err := s.resolveCollection(ctx)
	if err != nil {
		return err
	}
	return s.do(ctx, "/api/v1/collections/"+id+"/delete", chromaDeleteRequest{Where: chromaWhere(filter)}, nil)
}

func (s *chromaStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	id, err := s.resolveCollection(ctx)
	if err != nil {
		return nil, err
	}
	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{vector},
		NResults:        topK,
		Where:           chromaWhere(filter),
		Include:         []string{"documents", "metadatas", "distances"},
	}
	var resp chromaQueryResponse
	if err := s.do(ctx, "/api/v1/collections/"+id+"/query", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	matches := make([]Match, 0, len(resp.IDs[0]))
	for i, mid := range resp.IDs[0] {
		m := Match{ID: mid, Metadata: map[string]string{}}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			m.Document = *resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			for k, v := range resp.Metadatas[0][i] {
				m.Metadata[k] = fmt.Sprint(v)
			}
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			m.Distance = resp.Distances[0][i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *chromaStore) resolveCollection(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collectionID != "" {
		return s.collectionID, nil
	}
	var col chromaCollection
	body := map[string]interface{}{"name": s.collection, "get_or_create": true}
	if err := s.do(ctx, "/api/v1/collections", body, &col); err != nil {
		return "", fmt.Errorf("resolve collection %s: %w", s.collection, err)
	}
	if col.ID == "" {
		return "", fmt.Errorf("collection %s has no id", s.collection)
	}
	s.collectionID = col.ID
	return col.ID, nil
}

func (s *chromaStore) do(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chroma %s failed: %s: %s", path, resp.Status, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// chromaWhere builds a where clause; chroma rejects a bare map with more than
// one key, so several conditions go under $and.
func chromaWhere(filter Filter) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}
	if len(filter) == 1 {
		for k, v := range filter {
			return map[string]interface{}{k: v}
		}
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	conds := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		conds = append(conds, map[string]interface{}{k: filter[k]})
	}
	return map[string]interface{}{"$and": conds}
}

func init() {
	Register("chroma", createChroma)
}
