package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/ragchat/internal/pkg/timeutil"
)

type pgvectorConfig struct {
	Collection string `json:"collection"`
}

// pgvectorStore keeps vectors in the application database. Metadata is a
// jsonb column so filters become containment checks.
type pgvectorStore struct {
	db         *sql.DB
	collection string
}

func NewPGVector(db *sql.DB, collection string) Client {
	if collection == "" {
		collection = defaultCollection
	}
	return &pgvectorStore{db: db, collection: collection}
}

func createPGVector(args interface{}, deps Deps) (Client, error) {
	cfg := &pgvectorConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("pgvector store needs a database")
	}
	return NewPGVector(deps.DB, strings.TrimSpace(cfg.Collection)), nil
}

func (s *pgvectorStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	const query = `
		INSERT INTO vector_chunks (collection, id, document, metadata, embedding, mtime)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (collection, id) DO UPDATE SET
			document = EXCLUDED.document,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			mtime = EXCLUDED.mtime
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	now := timeutil.NowUnixMilli()
	for _, rec := range records {
		meta, err := encodeMetadata(rec.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, s.collection, rec.ID, rec.Document, meta, pgvector.NewVector(rec.Vector), now); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

func (s *pgvectorStore) Delete(ctx context.Context, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("delete needs a filter")
	}
	meta, err := encodeMetadata(filter)
	if err != nil {
		return err
	}
	const query = `DELETE FROM vector_chunks WHERE collection = $1 AND metadata @> $2::jsonb`
	_, err = s.db.ExecContext(ctx, query, s.collection, meta)
	return err
}

func (s *pgvectorStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	meta, err := encodeMetadata(filter)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT id, document, metadata, embedding <=> $2 AS distance
		FROM vector_chunks
		WHERE collection = $1 AND metadata @> $3::jsonb
		ORDER BY distance ASC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, s.collection, pgvector.NewVector(vector), meta, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var matches []Match
	for rows.Next() {
		var (
			m   Match
			raw []byte
		)
		if err := rows.Scan(&m.ID, &m.Document, &raw, &m.Distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func encodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func init() {
	Register("pgvector", createPGVector)
}
