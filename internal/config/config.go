package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Database      DatabaseConfig    `json:"database"`
	JWTSecret     string            `json:"jwt_secret"`
	JWTTTLHours   int               `json:"jwt_ttl_hours"`
	Port          int               `json:"port"`
	CORSAllowlist []string          `json:"cors_allowlist"`
	LogConfig     logger.LogConfig  `json:"log_config"`
	FileStore     FileStoreConfig   `json:"file_store"`
	VectorStore   VectorStoreConfig `json:"vector_store"`
	AI            AIConfig          `json:"ai"`
	EmbedCache    EmbedCacheConfig  `json:"embed_cache"`
	Indexing      IndexingConfig    `json:"indexing"`
	Chat          ChatConfig        `json:"chat"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`

	MaxOpenConns int `json:"max_open_conns"`
	MaxIdleConns int `json:"max_idle_conns"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type VectorStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// AIProviderConfig names one upstream; Data is decoded by the provider factory.
type AIProviderConfig struct {
	Name string      `json:"name"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// AIModelRef picks a provider by name and a model on it. Multiple refs form a
// failover group tried in order.
type AIModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type AIConfig struct {
	Providers []AIProviderConfig `json:"providers"`
	Embedder  []AIModelRef       `json:"embedder"`
	Completer []AIModelRef       `json:"completer"`
}

type EmbedCacheConfig struct {
	LRUSize       int  `json:"lru_size"`
	LRUTTLMinutes int  `json:"lru_ttl_minutes"`
	EnableDB      bool `json:"enable_db"`
	MaxAgeDays    int  `json:"max_age_days"`
}

type IndexingConfig struct {
	BatchSize   int    `json:"batch_size"`
	MaxFileSize int64  `json:"max_file_size"`
	ReindexCron string `json:"reindex_cron"`
	ReindexMax  int    `json:"reindex_max"`
}

type ChatConfig struct {
	SystemPrompt     string `json:"system_prompt"`
	TopK             int    `json:"top_k"`
	TurnTimeout      int    `json:"turn_timeout"`
	RetrievalTimeout int    `json:"retrieval_timeout"`
	EnableTools      bool   `json:"enable_tools"`
	MaxToolRounds    int    `json:"max_tool_rounds"`
	MaxInputChars    int    `json:"max_input_chars"`
}

const DefaultSystemPrompt = "You are a helpful assistant with access to the user's files."

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.JWTTTLHours == 0 {
		cfg.JWTTTLHours = 72
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "pgvector"
	}
	if len(cfg.AI.Providers) == 0 {
		return fmt.Errorf("ai.providers is required")
	}
	names := make(map[string]bool, len(cfg.AI.Providers))
	for _, p := range cfg.AI.Providers {
		name := strings.TrimSpace(p.Name)
		if name == "" || p.Type == "" {
			return fmt.Errorf("ai.providers entries need name and type")
		}
		names[name] = true
	}
	if len(cfg.AI.Embedder) == 0 || len(cfg.AI.Completer) == 0 {
		return fmt.Errorf("ai.embedder and ai.completer are required")
	}
	for _, ref := range append(append([]AIModelRef{}, cfg.AI.Embedder...), cfg.AI.Completer...) {
		if !names[ref.Provider] {
			return fmt.Errorf("ai model ref uses unknown provider: %s", ref.Provider)
		}
		if ref.Model == "" {
			return fmt.Errorf("ai model ref for %s has no model", ref.Provider)
		}
	}
	if cfg.EmbedCache.LRUTTLMinutes == 0 {
		cfg.EmbedCache.LRUTTLMinutes = 120
	}
	if cfg.EmbedCache.MaxAgeDays == 0 {
		cfg.EmbedCache.MaxAgeDays = 30
	}
	if cfg.Indexing.BatchSize <= 0 {
		cfg.Indexing.BatchSize = 100
	}
	if cfg.Indexing.MaxFileSize <= 0 {
		cfg.Indexing.MaxFileSize = 20 << 20
	}
	if cfg.Indexing.ReindexMax <= 0 {
		cfg.Indexing.ReindexMax = 20
	}
	if strings.TrimSpace(cfg.Chat.SystemPrompt) == "" {
		cfg.Chat.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Chat.TopK <= 0 {
		cfg.Chat.TopK = 5
	}
	if cfg.Chat.TurnTimeout <= 0 {
		cfg.Chat.TurnTimeout = 180
	}
	if cfg.Chat.RetrievalTimeout <= 0 {
		cfg.Chat.RetrievalTimeout = 15
	}
	if cfg.Chat.MaxToolRounds <= 0 {
		cfg.Chat.MaxToolRounds = 4
	}
	if cfg.Chat.MaxInputChars <= 0 {
		cfg.Chat.MaxInputChars = 8000
	}
	return nil
}
