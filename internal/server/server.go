// Package server is the HTTP façade: route registration, middleware chain,
// and lifecycle for the JSON API the dashboard consumes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"skindiff/internal/server/handler"
	"skindiff/internal/server/middleware"
	"skindiff/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	BasePath    string // e.g. "/api"; empty mounts at the root
	CORSOrigins []string
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Items    *handler.ItemsHandler
	Update   *handler.UpdateHandler
	Settings *handler.SettingsHandler
	Tokens   *handler.TokensHandler
	Metrics  http.Handler
}

// Server is the JSON API server for the price-differential service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// HTTPHandler exposes the fully assembled handler chain, mainly for tests.
func (s *Server) HTTPHandler() http.Handler {
	return s.httpServer.Handler
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (logging, CORS) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	base := strings.TrimSuffix(cfg.BasePath, "/")
	route := func(pattern string) string {
		method, path, _ := strings.Cut(pattern, " ")
		return method + " " + base + path
	}

	// Read surface.
	mux.HandleFunc(route("GET /health"), handlers.Health.HealthCheck)
	mux.HandleFunc(route("GET /items"), handlers.Items.ListItems)
	mux.HandleFunc(route("GET /status"), handlers.Items.GetStatus)
	mux.HandleFunc(route("GET /statistics"), handlers.Items.GetStatistics)

	// Refresh control.
	mux.HandleFunc(route("POST /update"), handlers.Update.TriggerFull)
	mux.HandleFunc(route("POST /update/incremental"), handlers.Update.TriggerIncremental)
	mux.HandleFunc(route("POST /update/cancel"), handlers.Update.CancelRefresh)

	// Runtime parameters.
	mux.HandleFunc(route("GET /settings"), handlers.Settings.GetSettings)
	mux.HandleFunc(route("POST /settings"), handlers.Settings.UpdateSettings)
	mux.HandleFunc(route("GET /price_range"), handlers.Settings.GetDiffRange)
	mux.HandleFunc(route("POST /price_range"), handlers.Settings.UpdateDiffRange)
	mux.HandleFunc(route("GET /buff_price_range"), handlers.Settings.GetBuffPriceRange)
	mux.HandleFunc(route("POST /buff_price_range"), handlers.Settings.UpdateBuffPriceRange)

	// Credentials.
	mux.HandleFunc(route("GET /tokens/status"), handlers.Tokens.GetStatus)
	mux.HandleFunc(route("POST /tokens/test/{marketplace}"), handlers.Tokens.TestTokens)
	mux.HandleFunc(route("POST /tokens/{marketplace}"), handlers.Tokens.UpdateTokens)

	// Telemetry.
	if handlers.Metrics != nil {
		mux.Handle(route("GET /metrics"), handlers.Metrics)
	}

	// Progress stream.
	if wsHub != nil {
		mux.HandleFunc(route("GET /ws"), wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
