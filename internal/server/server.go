// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/items-api/internal/config"
	"github.com/vyrodovalexey/items-api/internal/handler"
	"github.com/vyrodovalexey/items-api/internal/middleware"
	"github.com/vyrodovalexey/items-api/internal/store"
)

// MetricsPath is the route of the Prometheus scrape endpoint.
const MetricsPath = "/metrics"

// Server represents the HTTP server.
type Server struct {
	httpServer  *http.Server
	probeServer *http.Server
	router      *mux.Router
	handler     http.Handler
	config      *config.Config
	logger      *zap.Logger
	registry    *prometheus.Registry
	wsHandler   *handler.WebSocketHandler
	ready       atomic.Bool
}

// New creates a new Server instance serving itemStore. Metrics are
// registered with registry; a nil registry gets a fresh one.
func New(cfg *config.Config, logger *zap.Logger, itemStore store.Store, registry *prometheus.Registry) *Server {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		router:   mux.NewRouter(),
		config:   cfg,
		logger:   logger,
		registry: registry,
	}

	s.setupRoutes(itemStore)
	s.setupMiddleware()
	s.setupHTTPServers()

	return s
}

// setupMiddleware configures the middleware chain. The chain wraps the
// router so that it also sees unmatched requests and CORS preflights;
// RouteLabel runs inside the router to label metrics by route template.
func (s *Server) setupMiddleware() {
	allowedMethods := []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
	}
	allowedHeaders := []string{
		"Content-Type",
		middleware.RequestIDHeader,
	}

	chain := []middleware.Middleware{
		middleware.Recovery(s.logger),
		middleware.RequestID(),
	}

	if s.config.MetricsEnabled {
		s.router.Use(mux.MiddlewareFunc(middleware.RouteLabel))
		chain = append(chain, middleware.Metrics(middleware.NewHTTPMetrics(s.registry)))
	}

	chain = append(chain,
		middleware.Logging(s.logger),
		middleware.CORS(s.config.CORSAllowedOrigins, allowedMethods, allowedHeaders),
	)

	s.handler = middleware.Chain(chain...)(s.router)
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes(itemStore store.Store) {
	var publisher handler.Publisher
	if s.config.WebSocketEnabled {
		s.wsHandler = handler.NewWebSocketHandler(s.logger)
		s.wsHandler.RegisterRoutes(s.router)
		publisher = s.wsHandler
	}

	if s.config.MetricsEnabled {
		itemStore = store.NewInstrumentedStore(itemStore, s.registry)
		s.router.Handle(MetricsPath, s.metricsHandler()).Methods(http.MethodGet)
	}

	handler.NewProbeHandler(s.IsReady, s.logger).RegisterRoutes(s.router)
	handler.NewRESTHandler(itemStore, publisher, s.logger).RegisterRoutes(s.router)

	s.router.NotFoundHandler = handler.NotFound(s.logger)
	s.router.MethodNotAllowedHandler = handler.MethodNotAllowed(s.logger)
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	})
}

// setupHTTPServers configures the API server and, when a probe port is
// set, a separate server for probes and metrics.
func (s *Server) setupHTTPServers() {
	s.httpServer = newHTTPServer(s.config.Address(), s.handler)

	if !s.config.ProbeEnabled() {
		return
	}

	probeRouter := mux.NewRouter()
	handler.NewProbeHandler(s.IsReady, s.logger).RegisterRoutes(probeRouter)
	if s.config.MetricsEnabled {
		probeRouter.Handle(MetricsPath, s.metricsHandler()).Methods(http.MethodGet)
	}
	probeRouter.NotFoundHandler = handler.NotFound(s.logger)

	s.probeServer = newHTTPServer(s.config.ProbeAddress(), probeRouter)
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}
}

// Start binds the configured listeners and serves until Shutdown is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}

	var probeListener net.Listener
	if s.probeServer != nil {
		probeListener, err = net.Listen("tcp", s.probeServer.Addr)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("probe server listen: %w", err)
		}
	}

	return s.Serve(listener, probeListener)
}

// Serve serves the API on listener and, if both are non-nil, probes on
// probeListener. It returns after Shutdown or the first serve error.
func (s *Server) Serve(listener, probeListener net.Listener) error {
	s.logger.Info("starting server",
		zap.String("address", listener.Addr().String()),
		zap.Bool("metrics_enabled", s.config.MetricsEnabled),
		zap.Bool("websocket_enabled", s.config.WebSocketEnabled),
	)

	errs := make(chan error, 2)
	servers := 1

	if s.probeServer != nil && probeListener != nil {
		servers++
		s.logger.Info("starting probe server", zap.String("address", probeListener.Addr().String()))
		go func() {
			errs <- serve(s.probeServer, probeListener, "probe server")
		}()
	}

	go func() {
		errs <- serve(s.httpServer, listener, "server")
	}()

	s.SetReady(true)

	var firstErr error
	for i := 0; i < servers; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
			s.SetReady(false)
			_ = s.httpServer.Close()
			if s.probeServer != nil {
				_ = s.probeServer.Close()
			}
		}
	}

	return firstErr
}

func serve(srv *http.Server, listener net.Listener, name string) error {
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s serve: %w", name, err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.SetReady(false)

	// Close all WebSocket connections first
	if s.wsHandler != nil {
		s.logger.Info("closing websocket clients", zap.Int("clients", s.wsHandler.ClientCount()))
		s.wsHandler.CloseAllConnections()
	}

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if s.probeServer != nil {
		if err := s.probeServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("probe server shutdown: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// IsReady reports whether the server is accepting traffic.
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

// SetReady sets the readiness flag reported by /ready.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// WebSocketHandler returns the event feed handler, or nil when disabled.
func (s *Server) WebSocketHandler() *handler.WebSocketHandler {
	return s.wsHandler
}
