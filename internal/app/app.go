// Package app wires the application together: database, Genkit provider,
// stores, retrieval pipeline, executor, runners, and the HTTP server.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillhq/quill/internal/api"
	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/config"
	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/knowledge"
	"github.com/quillhq/quill/internal/quota"
	"github.com/quillhq/quill/internal/runner"
	"github.com/quillhq/quill/internal/tenant"
	"github.com/quillhq/quill/internal/thread"
)

// App is the assembled application.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Pool     *pgxpool.Pool

	Threads       *thread.Store
	Reaper        *thread.Reaper
	Knowledge     *knowledge.Store
	Quota         *quota.Service
	Conversations *conversation.Store
	Tenants       *tenant.Store

	Executor   *chat.Executor
	Ephemeral  *runner.Ephemeral
	Identified *runner.Identified
	Server     *api.Server

	otelShutdown func()
}

// Close releases everything Setup acquired, in reverse order.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.Reaper != nil {
		a.Reaper.Stop()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.otelShutdown != nil {
		// Last: flush spans from everything above.
		a.otelShutdown()
	}
	return nil
}
