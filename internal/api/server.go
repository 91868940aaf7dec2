// Package api exposes the HTTP surface: ephemeral thread management and
// streaming, identified room streaming, operator endpoints, and health
// probes. Streaming responses use Server-Sent Events.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/runner"
	"github.com/quillhq/quill/internal/thread"
)

// Per-IP rate limiting defaults. The burst absorbs page loads that fire
// several requests at once; the sustained rate is what matters.
const (
	defaultRateBurst = 60
	ratePerSecond    = 10
)

// EphemeralRunner is the slice of the ephemeral runner the server
// consumes. *runner.Ephemeral satisfies it.
type EphemeralRunner interface {
	Run(ctx context.Context, req runner.EphemeralRequest) (*chat.Stream, error)
}

// IdentifiedRunner is the slice of the identified runner the server
// consumes. *runner.Identified satisfies it.
type IdentifiedRunner interface {
	Run(ctx context.Context, req runner.IdentifiedRequest) (*chat.Stream, error)
}

// ThreadStore is the slice of the thread store the server consumes for
// thread lifecycle and operator endpoints. *thread.Store satisfies it.
type ThreadStore interface {
	Create(tenantID string) (*thread.Thread, error)
	DeleteTenant(tenantID string) int
	Metrics() thread.Metrics
}

// Pinger reports backend liveness for the readiness probe.
// *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the server's dependencies and settings.
type Config struct {
	Logger     *slog.Logger
	Threads    ThreadStore
	Ephemeral  EphemeralRunner
	Identified IdentifiedRunner

	// OriginAllowed decides whether an Origin may use a tenant's
	// ephemeral surface. Must fail closed for unknown tenants.
	OriginAllowed func(tenantID, origin string) bool

	// HMACSecret verifies identity tokens on the identified surface.
	HMACSecret string

	// ServiceToken authorizes operator endpoints. Empty disables them.
	ServiceToken string

	// TrustProxy honors X-Real-IP/X-Forwarded-For for client IPs.
	TrustProxy bool

	// RateBurst is the per-IP limiter burst; 0 uses the default.
	RateBurst int

	// DB is optional; when set the readiness probe pings it.
	DB Pinger
}

// Server is the HTTP API server.
type Server struct {
	logger        *slog.Logger
	threads       ThreadStore
	ephemeral     EphemeralRunner
	identified    IdentifiedRunner
	originAllowed func(tenantID, origin string) bool
	hmacSecret    string
	serviceToken  string
	trustProxy    bool
	limiter       *rateLimiter
	db            Pinger

	handler http.Handler
}

// NewServer creates the server and builds its routing table.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Threads == nil {
		return nil, fmt.Errorf("thread store is required")
	}
	if cfg.Ephemeral == nil {
		return nil, fmt.Errorf("ephemeral runner is required")
	}
	if cfg.Identified == nil {
		return nil, fmt.Errorf("identified runner is required")
	}
	if cfg.OriginAllowed == nil {
		return nil, fmt.Errorf("origin policy is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}

	s := &Server{
		logger:        cfg.Logger,
		threads:       cfg.Threads,
		ephemeral:     cfg.Ephemeral,
		identified:    cfg.Identified,
		originAllowed: cfg.OriginAllowed,
		hmacSecret:    cfg.HMACSecret,
		serviceToken:  cfg.ServiceToken,
		trustProxy:    cfg.TrustProxy,
		limiter:       newRateLimiter(rate.Limit(ratePerSecond), burst),
		db:            cfg.DB,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ephemeral/tenants/{tenantID}/threads", s.handleCreateThread)
	mux.HandleFunc("POST /v1/ephemeral/tenants/{tenantID}/threads/{threadID}/stream", s.handleEphemeralStream)
	mux.HandleFunc("DELETE /v1/ephemeral/tenants/{tenantID}/threads", s.handlePurgeTenant)
	mux.HandleFunc("GET /v1/ephemeral/metrics", s.handleThreadMetrics)
	mux.HandleFunc("POST /v1/tenants/{tenantID}/rooms/{roomID}/stream", s.handleRoomStream)

	// Middleware order: recovery first so nothing below can crash the
	// connection, then request ID, logging, rate limiting.
	var handler http.Handler = mux
	handler = s.rateLimitMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	// Health probes bypass the middleware stack; infrastructure polls
	// them and must not be rate limited or logged per hit.
	top := http.NewServeMux()
	top.HandleFunc("GET /health", s.handleHealth)
	top.HandleFunc("GET /ready", s.handleReady)
	top.Handle("/", handler)

	s.handler = top
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
