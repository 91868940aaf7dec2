package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"

	"github.com/quillhq/quill/internal/api"
	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/config"
	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/database"
	"github.com/quillhq/quill/internal/knowledge"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/observability"
	"github.com/quillhq/quill/internal/quota"
	"github.com/quillhq/quill/internal/retrieval"
	"github.com/quillhq/quill/internal/runner"
	"github.com/quillhq/quill/internal/tenant"
	"github.com/quillhq/quill/internal/thread"
)

// Setup initializes the application. On failure everything already
// acquired is released before the error returns.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	logger := newLogger(cfg)
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing first so Genkit's TracerProvider has a processor before any
	// flow is defined.
	if cfg.OTLP.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.OTLP.Endpoint,
			Environment: cfg.OTLP.Environment,
			ServiceName: cfg.OTLP.ServiceName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.otelShutdown = func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("shutting down tracer provider", "error", err)
			}
		}
	}

	if err := database.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.Pool = pool

	g, embedder, err := setupGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g
	a.Embedder = embedder

	a.Knowledge, err = knowledge.NewStore(pool, embedder, logger.With("component", "knowledge"))
	if err != nil {
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}
	a.Quota, err = quota.NewService(pool, logger.With("component", "quota"))
	if err != nil {
		return nil, fmt.Errorf("creating quota service: %w", err)
	}
	a.Conversations, err = conversation.NewStore(pool, logger.With("component", "conversation"))
	if err != nil {
		return nil, fmt.Errorf("creating conversation store: %w", err)
	}
	a.Tenants, err = tenant.NewStore(pool, logger.With("component", "tenant"))
	if err != nil {
		return nil, fmt.Errorf("creating tenant store: %w", err)
	}

	model := qualifiedModelName(cfg)
	rewriter, err := retrieval.NewModelRewriter(g, model)
	if err != nil {
		return nil, fmt.Errorf("creating query rewriter: %w", err)
	}
	builder, err := retrieval.NewBuilder(rewriter, a.Knowledge, retrieval.Config{
		SearchLimit:    cfg.SearchLimit,
		ScoreThreshold: cfg.ScoreThreshold,
	}, logger.With("component", "retrieval"))
	if err != nil {
		return nil, fmt.Errorf("creating retrieval builder: %w", err)
	}

	generator, err := chat.NewGenkitGenerator(g, model)
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}
	a.Executor, err = chat.NewExecutor(a.Quota, builder, a.Tenants, generator, logger.With("component", "chat"))
	if err != nil {
		return nil, fmt.Errorf("creating executor: %w", err)
	}

	a.Threads, err = thread.NewStore(cfg.ThreadTTL, logger.With("component", "thread"))
	if err != nil {
		return nil, fmt.Errorf("creating thread store: %w", err)
	}
	a.Reaper = thread.NewReaper(a.Threads, cfg.ReaperInterval, logger.With("component", "reaper"))
	a.Reaper.Start()

	a.Ephemeral, err = runner.NewEphemeral(a.Threads, a.Executor, logger.With("component", "ephemeral"))
	if err != nil {
		return nil, fmt.Errorf("creating ephemeral runner: %w", err)
	}
	a.Identified, err = runner.NewIdentified(a.Conversations, a.Quota, a.Executor, logger.With("component", "identified"))
	if err != nil {
		return nil, fmt.Errorf("creating identified runner: %w", err)
	}

	a.Server, err = api.NewServer(api.Config{
		Logger:        logger.With("component", "api"),
		Threads:       a.Threads,
		Ephemeral:     a.Ephemeral,
		Identified:    a.Identified,
		OriginAllowed: cfg.OriginAllowed,
		HMACSecret:    cfg.HMACSecret,
		ServiceToken:  cfg.ServiceToken,
		TrustProxy:    cfg.TrustProxy,
		RateBurst:     cfg.RateBurst,
		DB:            pool,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	return a, nil
}

// setupGenkit initializes Genkit with the configured provider and returns
// the registry plus the embedder for the knowledge store.
func setupGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, ai.Embedder, error) {
	switch cfg.Provider {
	case "", "gemini":
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with gemini provider")
		}
		embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
		if embedder == nil {
			return nil, nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
		return g, embedder, nil

	case "ollama":
		plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; models register explicitly.
		plugin.DefineModel(g, ollama.ModelDefinition{Name: cfg.ModelName, Type: "chat"}, nil)
		plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		embedder := ollama.Embedder(g, cfg.OllamaHost)
		if embedder == nil {
			return nil, nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
		}
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, embedder, nil

	default:
		return nil, nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// qualifiedModelName returns the provider-qualified model name Genkit
// resolves at generation time, e.g. "googleai/gemini-2.5-flash".
func qualifiedModelName(cfg *config.Config) string {
	if strings.Contains(cfg.ModelName, "/") {
		return cfg.ModelName
	}
	switch cfg.Provider {
	case "ollama":
		return "ollama/" + cfg.ModelName
	default:
		return "googleai/" + cfg.ModelName
	}
}

// newLogger builds the root logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogFormat == "json"})
}
