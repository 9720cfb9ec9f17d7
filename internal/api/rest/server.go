package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/config"
)

// Server wraps the HTTP listener for the ledger API
type Server struct {
	httpServer *http.Server
	cfg        config.ServerConfig
	logger     *zap.Logger
}

// NewServer builds the routed, middleware-wrapped API server
func NewServer(cfg config.ServerConfig, handler *Handler, registry prometheus.Gatherer, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	chain := NewMiddlewareChain(
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
	)

	api := http.NewServeMux()
	handler.RegisterRoutes(api)
	mux.Handle("/api/v1/", chain.Then(api))

	// Probes and scrape endpoints skip the access-log chain
	mux.HandleFunc("GET /healthz", handler.HandleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Start blocks serving requests until the listener closes
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
