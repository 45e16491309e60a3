// File: internal/server/server.go
// Description: HTTP API host. Streams agent runs over SSE or WebSocket and
// exposes the session and stepwise agent endpoints.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/agent"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/observability"
	"github.com/xkilldash9x/director/internal/orchestrator"
	"github.com/xkilldash9x/director/internal/session"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// SessionService creates, releases and inspects remote browser sessions.
type SessionService interface {
	CreateSession(ctx context.Context, req session.CreateSessionRequest) (session.SessionInfo, error)
	EndSession(ctx context.Context, sessionID string) error
	DebugURL(ctx context.Context, sessionID string) (string, error)
}

// RunExecutor runs one goal end to end in a fresh session.
type RunExecutor interface {
	Execute(ctx context.Context, req orchestrator.RunRequest, sink agent.Sink) (agent.RunResult, error)
}

// StepService drives the loop one phase at a time.
type StepService interface {
	Start(ctx context.Context, goal, sessionID string) (agent.StepOutcome, error)
	NextStep(ctx context.Context, goal, sessionID string, history []schemas.Step, last *schemas.Extraction) (agent.StepOutcome, error)
	ExecuteStep(ctx context.Context, sessionID string, step schemas.Step) (agent.StepOutcome, error)
}

// Deps are the services the API is a thin layer over. Metrics may be nil.
type Deps struct {
	Sessions SessionService
	Runs     RunExecutor
	Steps    StepService
	Metrics  *observability.Metrics
}

// Server hosts the HTTP API.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	sessions SessionService
	runs     RunExecutor
	steps    StepService
	metrics  *observability.Metrics
	validate *validator.Validate
	upgrader websocket.Upgrader
	handler  http.Handler
}

// New builds the server and its routes.
func New(logger *zap.Logger, cfg config.ServerConfig, deps Deps) (*Server, error) {
	if logger == nil || deps.Sessions == nil || deps.Runs == nil || deps.Steps == nil {
		return nil, fmt.Errorf("cannot initialize server with nil dependencies")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		sessions: deps.Sessions,
		runs:     deps.Runs,
		steps:    deps.Steps,
		metrics:  deps.Metrics,
		validate: validator.New(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealthCheck)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.JWTSecret != "" {
			r.Use(jwtAuth([]byte(s.cfg.JWTSecret), s.logger))
		}

		// The WebSocket route stays outside the request logger, whose wrapped
		// writer outlives the hijacked connection.
		r.Get("/runs/ws", s.handleRunWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.requestLogger)
			r.Post("/runs", s.handleRunStream)
			r.Post("/sessions", s.handleCreateSession)
			r.Delete("/sessions/{sessionID}", s.handleEndSession)
			r.Post("/sessions/{sessionID}/stop", s.handleEndSession)
			r.Get("/sessions/{sessionID}/debug", s.handleDebugURL)
			r.Post("/agent", s.handleAgent)
		})
	})
	return r
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Runs in flight are cancelled first so they release their sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	runsCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return runsCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP API listening", zap.String("address", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down HTTP API gracefully...")
		cancelRuns()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		s.logger.Info("HTTP API stopped.")
		return nil
	})
	return g.Wait()
}

// runContext bounds a run or a stepwise call by the configured run timeout.
func (s *Server) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RunTimeout > 0 {
		return context.WithTimeout(parent, s.cfg.RunTimeout)
	}
	return context.WithCancel(parent)
}
