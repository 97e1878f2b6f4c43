package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizzy-backend/config"
	"quizzy-backend/corpus"
	"quizzy-backend/handlers"
	"quizzy-backend/logger"
	"quizzy-backend/middleware"
	"quizzy-backend/provider"
	"quizzy-backend/repository"
	"quizzy-backend/service"
	"quizzy-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// assistant is what both providers implement
type assistant interface {
	provider.Embedder
	provider.Completer
	Info() provider.Info
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres is only needed for the table-backed corpus and user checks
	var db *pgxpool.Pool
	if cfg.CorpusSource == config.CorpusFromPostgres || cfg.AuthCheckUser {
		db, err = initPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to initialize Postgres", "error", err)
		}
		defer db.Close()
		log.Info("Postgres connection established")
	}

	source, err := initCorpusSource(cfg, db)
	if err != nil {
		log.Fatal("Failed to initialize corpus source", "error", err)
	}

	llm, err := initProvider(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize provider", "error", err)
	}
	info := llm.Info()
	log.Info("Provider initialized", "provider", info.Provider, "embeddingModel", info.EmbeddingModel, "chatModel", info.ChatModel)

	chatService := service.NewChatService(
		service.ChatWithCorpusSource(source),
		service.ChatWithEmbedder(llm),
		service.ChatWithCompleter(llm),
		service.ChatWithProviderInfo(info),
		service.ChatWithTopK(cfg.TopK),
		service.ChatWithHistoryLimit(cfg.HistoryLimit),
		service.ChatWithLanguage(cfg.Language),
		service.ChatWithBuildTimeout(cfg.BuildTimeout),
		service.ChatWithLogger(log),
	)

	authOpts := []service.AuthServiceOption{service.WithJWTSecret(cfg.JWTSecret)}
	if cfg.AuthCheckUser {
		authOpts = append(authOpts, service.WithUserChecker(repository.NewUserRepository(db)))
	}
	authService := service.NewAuthService(authOpts...)

	if cfg.Warmup {
		go func() {
			if err := chatService.Warmup(ctx); err != nil {
				log.Warn("Index warm-up failed, it will be retried on the first chat", "error", err)
				return
			}
			log.Info("Index warm-up complete", "documents", chatService.Status().DocumentsCount)
		}()
	}

	chatHandler := handlers.NewChatHandler(chatService, log)
	auth := middleware.NewAuthMiddleware(log, authService)

	if cfg.LogMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.CORS(cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	ai := r.Group("/api/v1/ai", auth.RequireAuth())
	chatHandler.RegisterRoutes(ai)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
	}
	if closer, ok := llm.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func initPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func initCorpusSource(cfg *config.Config, db *pgxpool.Pool) (service.CorpusSource, error) {
	if cfg.CorpusSource == config.CorpusFromStorage {
		store, err := storage.NewStorage(cfg.Storage)
		if err != nil {
			return nil, err
		}
		return corpus.NewStorageSource(store, cfg.CorpusObject), nil
	}
	return repository.NewInfractionRepository(db), nil
}

func initProvider(ctx context.Context, cfg *config.Config) (assistant, error) {
	if cfg.Provider == config.ProviderGemini {
		return provider.NewGemini(ctx, provider.GeminiConfig{
			APIKey:            cfg.GeminiAPIKey,
			EmbeddingModel:    cfg.EmbeddingModel,
			ChatModel:         cfg.ChatModel,
			EmbedTimeout:      cfg.EmbedTimeout,
			CompletionTimeout: cfg.CompletionTimeout,
		})
	}
	return provider.NewOllama(provider.OllamaConfig{
		Host:              cfg.OllamaHost,
		EmbeddingModel:    cfg.EmbeddingModel,
		ChatModel:         cfg.ChatModel,
		EmbedTimeout:      cfg.EmbedTimeout,
		CompletionTimeout: cfg.CompletionTimeout,
	}), nil
}
