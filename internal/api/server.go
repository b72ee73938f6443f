// Package api exposes the document chat core over HTTP: multipart
// document uploads, an SSE chat stream, and conversation management.
//
// Authentication is delegated to a fronting layer; the server trusts
// the X-Tenant-ID header it injects and scopes every operation to that
// tenant.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger         *slog.Logger
	Pipeline       Ingestor          // Required
	Index          DocumentIndex     // Required
	Chat           ChatService       // Required
	Conversations  ConversationStore // Required
	Pool           *pgxpool.Pool     // Optional: nil degrades /ready to liveness
	MaxUploadBytes int64
	TrustProxy     bool // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst      int  // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("ingestion pipeline is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("document index is required")
	}
	if cfg.Chat == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dh := &documentHandler{
		pipeline: cfg.Pipeline,
		index:    cfg.Index,
		maxBytes: cfg.MaxUploadBytes,
		logger:   logger,
	}
	ch := &chatHandler{service: cfg.Chat, logger: logger}
	vh := &conversationHandler{store: cfg.Conversations, logger: logger}

	mux := http.NewServeMux()

	// Documents
	mux.HandleFunc("POST /api/v1/documents", dh.upload)
	mux.HandleFunc("GET /api/v1/documents", dh.listDocuments)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", dh.deleteDocument)

	// Chat
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)

	// Conversations
	mux.HandleFunc("GET /api/v1/conversations", vh.list)
	mux.HandleFunc("GET /api/v1/conversations/{id}/exchanges", vh.exchanges)
	mux.HandleFunc("PATCH /api/v1/conversations/{id}", vh.rename)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", vh.remove)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → RateLimit → Tenant → Routes
	// RequestID must be before Logging so request_id is available in
	// log attributes.
	var handler http.Handler = mux
	handler = tenantMiddleware(logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
