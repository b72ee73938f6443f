// Package app wires the document chat service together: configuration,
// database, AI provider, pipeline components, and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docchat/docchat/db"
	"github.com/docchat/docchat/internal/answer"
	"github.com/docchat/docchat/internal/api"
	"github.com/docchat/docchat/internal/chat"
	"github.com/docchat/docchat/internal/chunker"
	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/embed"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/ingest"
	"github.com/docchat/docchat/internal/retrieval"
)

// App holds the assembled service and its shared resources.
// The expensive clients (connection pool, genkit instance) are
// constructed once here and injected into every component; nothing is
// reconstructed per request.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Server *api.Server

	pool *pgxpool.Pool
}

// Setup builds the application: runs migrations, opens the connection
// pool, initializes the AI provider, verifies the embedder dimension
// against the index schema, and wires the pipeline and HTTP server.
// Call Close to release resources.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := providePool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	g, embedderRef, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	embedder := embed.NewGenkit(embedderRef, cfg.EmbedderDimension)
	if err := embedder.VerifyDimension(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("verifying embedder dimension: %w", err)
	}

	c, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("configuring chunker: %w", err)
	}

	store := index.New(index.NewPGQuerier(pool), cfg.EmbedderDimension, logger)
	pipeline := ingest.New(c, embedder, store, cfg.MaxUploadBytes, logger)
	assembler := retrieval.New(embedder, store, cfg.TopK, cfg.MaxContextChars, logger)
	streamer := answer.New(g, cfg.ModelName, logger)
	conversations := conversation.New(conversation.NewPGQuerier(pool), logger)
	chatSvc := chat.New(assembler, streamer, conversations, logger)

	server, err := api.NewServer(api.ServerConfig{
		Logger:         logger,
		Pipeline:       pipeline,
		Index:          store,
		Chat:           chatSvc,
		Conversations:  conversations,
		Pool:           pool,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateBurst:      cfg.RateBurst,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating server: %w", err)
	}

	return &App{
		Config: cfg,
		Logger: logger,
		Server: server,
		pool:   pool,
	}, nil
}

// Close releases the application's shared resources.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// providePool runs migrations and opens the PostgreSQL connection pool.
func providePool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// provideGenkit initializes genkit with the configured provider and
// returns the embedder reference for the configured embedding model.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, ai.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		embedder := ollama.Embedder(g, cfg.OllamaHost)
		logger.Info("initialized genkit", "provider", cfg.Provider,
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, embedder, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with gemini provider")
		}
		embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
		logger.Info("initialized genkit", "provider", cfg.Provider,
			"model", cfg.ModelName, "embedder", cfg.EmbedderModel)
		return g, embedder, nil
	}
}
