package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/ragchat/internal/chat"
	"github.com/xxxsen/ragchat/internal/config"
	"github.com/xxxsen/ragchat/internal/handler"
	"github.com/xxxsen/ragchat/internal/job"
	"github.com/xxxsen/ragchat/internal/middleware"
	"github.com/xxxsen/ragchat/internal/schedule"
)

const (
	apiPrefix          = "/api/v1"
	uploadWindow       = 2 * time.Second
	cacheCleanupSpec   = "0 4 * * *"
	shutdownCloseCause = "server shutdown"
)

func main() {
	var (
		configPath string
		fileID     string
	)

	rootCmd := &cobra.Command{
		Use:   "ragchat",
		Short: "chat over your own files",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run ragchat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			app, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return runServer(cfg, app)
		},
	}

	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "re-run indexing for one stored file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fileID == "" {
				return fmt.Errorf("--file-id is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			app, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			count, err := app.files.ReindexByID(cmd.Context(), fileID)
			if err != nil {
				return fmt.Errorf("reindex %s: %w", fileID, err)
			}
			logutil.GetLogger(cmd.Context()).Info("file reindexed", zap.String("file_id", fileID), zap.Int("chunks", count))
			return nil
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	reindexCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	reindexCmd.Flags().StringVar(&fileID, "file-id", "", "id of the file to reindex")
	rootCmd.AddCommand(runCmd, reindexCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func runServer(cfg *config.Config, app *application) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("completer", app.completer.ModelName()),
		zap.String("embedder", app.embedder.ModelName()),
	)

	registry := chat.NewRegistry()
	var tools *chat.ToolRegistry
	if cfg.Chat.EnableTools {
		tools = chat.NewToolRegistry(chat.NewSearchFilesTool(app.retrieval, cfg.Chat.TopK))
	}
	engine := chat.NewEngine(app.completer, app.retrieval, app.messages, tools, chat.Config{
		SystemPrompt:  cfg.Chat.SystemPrompt,
		TopK:          cfg.Chat.TopK,
		TurnTimeout:   time.Duration(cfg.Chat.TurnTimeout) * time.Second,
		MaxToolRounds: cfg.Chat.MaxToolRounds,
		MaxInputChars: cfg.Chat.MaxInputChars,
	})

	deps := handler.RouterDeps{
		Auth:          handler.NewAuthHandler(app.auth, time.Hour*time.Duration(cfg.JWTTTLHours)),
		Files:         handler.NewFileHandler(app.files, cfg.Indexing.MaxFileSize),
		Sessions:      handler.NewSessionHandler(app.sessions),
		Search:        handler.NewSearchHandler(app.retrieval, cfg.Chat.TopK),
		Chat:          handler.NewChatHandler(app.auth, app.sessions, engine, registry, cfg.CORSAllowlist),
		Authenticator: app.auth,
		UploadWindow:  uploadWindow,
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	web, err := webapi.NewEngine(
		apiPrefix,
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{apiPrefix + handler.WSPathPrefix})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(app.embedCache, cfg.EmbedCache.MaxAgeDays), cacheCleanupSpec); err != nil {
		return err
	}
	if cfg.Indexing.ReindexCron != "" {
		pending := job.NewPendingIndexJob(app.files, cfg.Indexing.ReindexMax)
		if err := scheduler.AddJob(pending, cfg.Indexing.ReindexCron); err != nil {
			return err
		}
		scheduler.RunNow(pending.Name())
	}
	scheduler.Start(ctx)

	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))
	go func() {
		if err := web.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	registry.CloseAll(chat.CloseGoingAway, shutdownCloseCause)
	scheduler.Stop()
	app.files.Wait()
	return nil
}
