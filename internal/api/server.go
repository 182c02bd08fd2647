package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sinapsi/sinapsi-core/internal/adapters"
	"github.com/sinapsi/sinapsi-core/internal/audit"
	"github.com/sinapsi/sinapsi-core/internal/catalog"
	"github.com/sinapsi/sinapsi-core/internal/engine"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/config"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// MessageHandler accepts inter-device envelopes. *continuation.Dispatcher
// implements it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, raw []byte) error
}

// ModelNotifier tells peer devices that macro definitions changed.
// *continuation.Transport implements it.
type ModelNotifier interface {
	NotifyModelUpdated(ctx context.Context, deviceIDs []int) error
}

// ExecutionStore reads execution history.
type ExecutionStore interface {
	GetExecution(ctx context.Context, id string) (*catalog.Execution, error)
	ListExecutions(ctx context.Context, macroID, limit int) ([]catalog.Execution, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies required by the API server. Logger, Engine
// and Catalog are required; the rest switch endpoints off when nil.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Engine     *engine.MacroEngine
	Catalog    *catalog.Catalog
	Executions ExecutionStore
	Messages   MessageHandler
	Notifier   ModelNotifier
	Prompts    *adapters.PromptBroker
	Audit      audit.Repository
	Metrics    http.Handler
	Hub        *Hub // if nil, the server creates and runs its own
	Checks     map[string]HealthCheck
	Version    string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	engine     *engine.MacroEngine
	catalog    *catalog.Catalog
	executions ExecutionStore
	messages   MessageHandler
	notifier   ModelNotifier
	prompts    *adapters.PromptBroker
	auditLog   audit.Repository
	metrics    http.Handler
	checks     map[string]HealthCheck
	version    string

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("macro engine is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("macro catalog is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		engine:     deps.Engine,
		catalog:    deps.Catalog,
		executions: deps.Executions,
		messages:   deps.Messages,
		notifier:   deps.Notifier,
		prompts:    deps.Prompts,
		auditLog:   deps.Audit,
		metrics:    deps.Metrics,
		checks:     deps.Checks,
		version:    deps.Version,
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}
	return s, nil
}

// Handler builds the router. Start serves it; tests can call it directly.
func (s *Server) Handler() http.Handler {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	s.hub.SetInbound(s.messages, s.prompts, s.auditLog)
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: If the listener cannot be opened (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	handler := s.Handler()
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }
