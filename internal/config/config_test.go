package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"database": {"host": "localhost", "user": "rag", "dbname": "rag"},
		"jwt_secret": "s",
		"port": 8080,
		"ai": {
			"providers": [{"name": "oa", "type": "openai", "data": {"api_key": "k"}}],
			"embedder": [{"provider": "oa", "model": "text-embedding-3-small"}],
			"completer": [{"provider": "oa", "model": "gpt-4.1"}]
		}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, 72, cfg.JWTTTLHours)
	require.Equal(t, "local", cfg.FileStore.Type)
	require.Equal(t, "pgvector", cfg.VectorStore.Type)
	require.Equal(t, 100, cfg.Indexing.BatchSize)
	require.Equal(t, 5, cfg.Chat.TopK)
	require.Equal(t, DefaultSystemPrompt, cfg.Chat.SystemPrompt)
	require.Equal(t, 4, cfg.Chat.MaxToolRounds)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing database", body: `{"jwt_secret": "s", "port": 1}`},
		{name: "missing secret", body: `{"database": {"dsn": "x"}, "port": 1}`},
		{name: "missing providers", body: `{"database": {"dsn": "x"}, "jwt_secret": "s", "port": 1}`},
		{
			name: "unknown provider ref",
			body: `{"database": {"dsn": "x"}, "jwt_secret": "s", "port": 1,
				"ai": {"providers": [{"name": "a", "type": "openai"}],
				"embedder": [{"provider": "b", "model": "m"}],
				"completer": [{"provider": "a", "model": "m"}]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}
