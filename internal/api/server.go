package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/twincore/internal/board"
	"github.com/nerrad567/twincore/internal/bus"
	"github.com/nerrad567/twincore/internal/infrastructure/config"
	"github.com/nerrad567/twincore/internal/infrastructure/logging"
	"github.com/nerrad567/twincore/internal/reconcile"
	"github.com/nerrad567/twincore/internal/simulate"
	"github.com/nerrad567/twincore/internal/timeline"
	"github.com/nerrad567/twincore/internal/twin"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BoardNotifier keeps externally published board summaries in step with
// twin creation and removal. The MQTT gateway satisfies this; the API
// server works without one.
type BoardNotifier interface {
	PublishBoard(deviceID string) error
	RetireTwin(deviceID string) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Twins     *twin.Registry
	Templates *board.Store
	Source    twin.TemplateSource   // resolves board ids on twin creation
	Cache     board.CacheRepository // optional: cache endpoints 503 without it
	Engine    *reconcile.Engine
	Writer    *reconcile.Validator
	Poller    *reconcile.Poller // optional: omitted from stats when nil
	Timeline  *timeline.Recorder
	Bus       *bus.Bus
	Simulator *simulate.Driver // optional: simulated twins are not driven without it
	Boards    BoardNotifier    // optional: retained board summaries skipped when nil
	Version   string
}

// Server is the HTTP surface of the twin engine.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	twins     *twin.Registry
	templates *board.Store
	source    twin.TemplateSource
	cache     board.CacheRepository
	engine    *reconcile.Engine
	writer    *reconcile.Validator
	poller    *reconcile.Poller
	timeline  *timeline.Recorder
	bus       *bus.Bus
	simulator *simulate.Driver
	boards    BoardNotifier
	version   string
	startTime time.Time

	server      *http.Server
	hub         *Hub
	tickets     *ticketStore
	unsubscribe func()             // detaches the bus→hub bridge
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates an API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Twins == nil {
		return nil, fmt.Errorf("twin registry is required")
	}
	if deps.Templates == nil {
		return nil, fmt.Errorf("template store is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Writer == nil {
		return nil, fmt.Errorf("write validator is required")
	}
	if deps.Timeline == nil {
		return nil, fmt.Errorf("timeline recorder is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	source := deps.Source
	if source == nil {
		// Without a generator, twin creation resolves against the store only.
		source = storeSource{deps.Templates}
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		twins:     deps.Twins,
		templates: deps.Templates,
		source:    source,
		cache:     deps.Cache,
		engine:    deps.Engine,
		writer:    deps.Writer,
		poller:    deps.Poller,
		timeline:  deps.Timeline,
		bus:       deps.Bus,
		simulator: deps.Simulator,
		boards:    deps.Boards,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}, nil
}

// storeSource resolves templates against the store alone, for servers
// wired without an introspection generator.
type storeSource struct {
	store *board.Store
}

func (s storeSource) Template(_ context.Context, boardID string) (*board.Template, error) {
	return s.store.Get(boardID)
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, bridges the event bus
// onto the hub for real-time broadcast, and launches the HTTP listener
// in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	// Periodic ticket cleanup to prevent memory leaks
	go s.tickets.cleanLoop(srvCtx)

	// Relay twin events to WebSocket subscribers
	s.unsubscribe = s.bus.Subscribe("api-websocket", s.broadcastEvent)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	// Cancel background goroutines (hub, ticket cleanup)
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

// HealthCheck verifies the API server is running and responsive.
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
