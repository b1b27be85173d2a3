// Package httpapi serves the gateway over HTTP: a JSON endpoint for
// question/SQL pairs, quota and health probes, and MCP over streamable HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	mcpadapter "github.com/HArsh-ri01/nl-to-sql/internal/adapter/mcp"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mark3labs/mcp-go/server"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	BearerToken        string
	TrustProxy         bool
	CORSAllowedOrigins []string
	// MaxBodyBytes caps request bodies. Zero means 64 KiB.
	MaxBodyBytes int64
}

// NewRouter wires the HTTP surface. mcpServer may be nil to serve only the
// JSON API.
func NewRouter(cfg RouterConfig, query *service.QueryService, mcpServer *server.MCPServer, logger *slog.Logger) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	h := &handlers{query: query, trustProxy: cfg.TrustProxy, maxBody: cfg.MaxBodyBytes, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Recoverer(logger))
	r.Use(cors.Handler(corsOptions(cfg.CORSAllowedOrigins)))

	// Liveness probe, unauthenticated.
	r.Get("/health", healthHandler)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.BearerToken))

		r.Post("/process_query", h.processQuery)
		r.Get("/quota", h.quota)

		if mcpServer != nil {
			r.Handle("/mcp", MCPHandler(mcpServer, cfg.TrustProxy))
		}
	})

	return r
}

// MCPHandler serves MCP over streamable HTTP and charges each call to the
// caller's address.
func MCPHandler(s *server.MCPServer, trustProxy bool) http.Handler {
	return server.NewStreamableHTTPServer(s,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return mcpadapter.WithIdentity(ctx, ClientIP(r, trustProxy))
		}),
	)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
