package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server wraps the HTTP server.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer wires routes and returns a ready-to-start Server.
func NewServer(addr string, h *Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      loggingMiddleware(logger, Routes(h)),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second, // AI classification can be slow
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes returns the API mux.
func Routes(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /api/v1/cnae/search", h.Search)
	mux.HandleFunc("POST /api/v1/cnae/selection", h.Selection)
	mux.HandleFunc("GET /api/v1/cnae/code/{code}", h.ByCode)

	mux.HandleFunc("GET /api/v1/cnae/catalog", h.Catalog)
	mux.HandleFunc("POST /api/v1/cnae/catalog/refresh", h.RefreshCatalog)
	mux.HandleFunc("DELETE /api/v1/cnae/variants", h.ClearVariants)

	mux.HandleFunc("GET /api/v1/cnae/analytics/top", h.TopCodes)
	mux.HandleFunc("GET /api/v1/cnae/analytics/stats", h.Stats)

	mux.HandleFunc("POST /api/v1/results/shuffle", h.Shuffle)
	return mux
}

// Start begins listening and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("cnae-search listening", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// loggingMiddleware logs each request with method, path, status and duration.
func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("took", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}
