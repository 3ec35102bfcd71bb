package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shareshelf/shareshelf/internal/server/handler"
	"github.com/shareshelf/shareshelf/internal/server/middleware"
	"github.com/shareshelf/shareshelf/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// authSkipPrefixes are paths that never require the API key: health probes
// and the provider webhook, which authenticates with its own HMAC signature.
var authSkipPrefixes = []string{"/api/health", "/api/webhooks/"}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health       *handler.HealthHandler
	Items        *handler.ItemHandler
	Requests     *handler.RequestHandler
	Transactions *handler.TransactionHandler
	Webhooks     *handler.WebhookHandler
	Resources    *handler.ResourceHandler
}

// Server is the HTTP + WebSocket API server for the exchange core.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, actor identity) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Item catalog.
	mux.HandleFunc("GET /api/items", handlers.Items.ListItems)
	mux.HandleFunc("POST /api/items", handlers.Items.CreateItem)
	mux.HandleFunc("GET /api/items/{id}", handlers.Items.GetItem)
	mux.HandleFunc("PUT /api/items/{id}/availability", handlers.Items.SetAvailability)

	// Negotiation requests.
	mux.HandleFunc("GET /api/requests", handlers.Requests.ListRequests)
	mux.HandleFunc("POST /api/requests", handlers.Requests.CreateRequest)
	mux.HandleFunc("GET /api/requests/{id}", handlers.Requests.GetRequest)
	mux.HandleFunc("POST /api/requests/{id}/respond", handlers.Requests.Respond)
	mux.HandleFunc("POST /api/requests/{id}/cancel", handlers.Requests.Cancel)
	mux.HandleFunc("POST /api/requests/{id}/complete", handlers.Requests.Complete)

	// Payment transactions and proofs.
	mux.HandleFunc("GET /api/transactions/{id}", handlers.Transactions.GetTransaction)
	mux.HandleFunc("POST /api/transactions/{id}/proof", handlers.Transactions.UploadProof)
	mux.HandleFunc("POST /api/transactions/{id}/proof/decision", handlers.Transactions.DecideProof)
	mux.HandleFunc("GET /api/transactions/{id}/proofs", handlers.Transactions.ListProofs)

	// Payment provider callback (HMAC-signed, no API key).
	mux.HandleFunc("POST /api/webhooks/payment", handlers.Webhooks.HandlePayment)

	// Protected resource gate.
	mux.HandleFunc("GET /api/resource", handlers.Resources.ServeResource)
	mux.HandleFunc("GET /api/resource/access", handlers.Resources.CheckAccess)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey, authSkipPrefixes)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Resolve the acting party before requests are logged.
	h = middleware.Actor()(h)

	// Apply CORS middleware.
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
		mux:        mux,
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
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Actor-ID, X-Actor-Role")
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
