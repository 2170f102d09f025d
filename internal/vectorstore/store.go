package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/ragchat/internal/config"
)

const defaultCollection = "files"

// Record is one stored vector. IDs are unique within a collection and writing
// the same id again replaces the previous record.
type Record struct {
	ID       string
	Vector   []float32
	Document string
	Metadata map[string]string
}

// Filter matches records whose metadata contains every key with the exact
// value.
type Filter map[string]string

type Match struct {
	ID       string
	Document string
	Metadata map[string]string
	Distance float64
}

// Client is the vector search surface. Query returns at most topK matches
// ordered by ascending distance.
type Client interface {
	Upsert(ctx context.Context, records []Record) error
	Delete(ctx context.Context, filter Filter) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
}

// Deps carries shared resources a backend may need.
type Deps struct {
	DB *sql.DB
}

type Factory func(args interface{}, deps Deps) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.VectorStoreConfig, deps Deps) (Client, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("vector_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
	return factory(cfg.Data, deps)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector store config: %w", err)
	}
	return nil
}
