package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragchat/internal/ai"
	"github.com/xxxsen/ragchat/internal/config"
	"github.com/xxxsen/ragchat/internal/db"
	"github.com/xxxsen/ragchat/internal/embedcache"
	"github.com/xxxsen/ragchat/internal/filestore"
	"github.com/xxxsen/ragchat/internal/repo"
	"github.com/xxxsen/ragchat/internal/service"
	"github.com/xxxsen/ragchat/internal/vectorstore"
)

// application holds everything both the server and the one-shot commands
// need.
type application struct {
	db         *sql.DB
	embedder   ai.IEmbedder
	completer  ai.ICompleter
	embedCache *repo.EmbeddingCacheRepo
	messages   *repo.MessageRepo
	auth       *service.AuthService
	files      *service.FileService
	sessions   *service.SessionService
	retrieval  *service.RetrievalService
}

func buildApp(cfg *config.Config) (*application, error) {
	sqlDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	app, err := wire(cfg, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return app, nil
}

func wire(cfg *config.Config, sqlDB *sql.DB) (*application, error) {
	if err := db.ApplyMigrations(sqlDB); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}
	vectors, err := vectorstore.New(cfg.VectorStore, vectorstore.Deps{DB: sqlDB})
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	embedder, completer, err := ai.Build(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("init ai: %w", err)
	}

	cacheRepo := repo.NewEmbeddingCacheRepo(sqlDB)
	if cfg.EmbedCache.EnableDB {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	}
	if cfg.EmbedCache.LRUSize > 0 {
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.EmbedCache.LRUSize, time.Duration(cfg.EmbedCache.LRUTTLMinutes)*time.Minute)
	}

	userRepo := repo.NewUserRepo(sqlDB)
	fileRepo := repo.NewFileRepo(sqlDB)
	sessionRepo := repo.NewSessionRepo(sqlDB)
	messageRepo := repo.NewMessageRepo(sqlDB)

	indexer := service.NewIndexingService(fileRepo, vectors, embedder, cfg.Indexing.BatchSize)
	app := &application{
		db:         sqlDB,
		embedder:   embedder,
		completer:  completer,
		embedCache: cacheRepo,
		messages:   messageRepo,
		auth:       service.NewAuthService(userRepo, []byte(cfg.JWTSecret), time.Hour*time.Duration(cfg.JWTTTLHours)),
		files:      service.NewFileService(fileRepo, store, vectors, indexer, cfg.Indexing.MaxFileSize),
		sessions:   service.NewSessionService(sessionRepo, messageRepo),
		retrieval:  service.NewRetrievalService(vectors, embedder, fileRepo, time.Duration(cfg.Chat.RetrievalTimeout)*time.Second),
	}
	return app, nil
}

func (a *application) Close() {
	if err := a.db.Close(); err != nil {
		logutil.GetLogger(context.Background()).Warn("close db failed", zap.Error(err))
	}
}
