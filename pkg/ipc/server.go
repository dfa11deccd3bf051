// Package ipc serves the dashboard wire contract: generated action-bar and
// start-form markup, the start endpoint, run history and the push channel
// that streams run frames to connected dashboards.
package ipc

import (
	"context"
	stdliberrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/odvcencio/actionator/pkg/action"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/storage"
)

// PushPath is where dashboards open the push channel.
const PushPath = "/ws"

// Config controls the IPC server behavior.
type Config struct {
	BindAddress    string
	AllowedOrigins []string
	MaxPushClients int
	// StartRate is the sustained start requests per second allowed per
	// action; zero disables limiting.
	StartRate    float64
	StartBurst   int
	MaxBodyBytes int64
	PingInterval time.Duration
	Version      string
}

// Runner starts actions. *action.Runner implements it.
type Runner interface {
	Start(ctx context.Context, name, runID string, params action.Params) (string, error)
	Active() int64
}

// Server hosts the HTTP + WebSocket surface.
type Server struct {
	cfg          Config
	registry     *action.Registry
	runner       Runner
	store        *storage.Store
	hub          *Hub
	markup       *markupRenderer
	pushLimiter  *connLimiter
	startLimiter *startLimiter
	httpServer   *http.Server
	logger       *logging.Logger
}

// NewServer constructs a server. store may be nil, which disables run history.
func NewServer(cfg Config, registry *action.Registry, runner Runner, store *storage.Store, logger *logging.Logger) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1:8888"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}
	}
	if cfg.MaxPushClients == 0 {
		cfg.MaxPushClients = defaultMaxPushClients
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		cfg:          cfg,
		registry:     registry,
		runner:       runner,
		store:        store,
		hub:          NewHub(),
		markup:       newMarkupRenderer(),
		pushLimiter:  newConnLimiter(cfg.MaxPushClients),
		startLimiter: newStartLimiter(cfg.StartRate, cfg.StartBurst),
		logger:       logger,
	}
}

// Hub returns the push hub frames are broadcast through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogMiddleware)
	router.Use(s.corsMiddleware)
	router.Use(s.securityHeadersMiddleware)

	router.Get("/", s.handleIndex)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", s.handleMetrics)
	router.Get(ActionBarPath, s.handleActionBar)
	router.Get(startFormPrefix+"{file}", s.handleStartForm)
	router.Get(PushPath, s.handlePush)

	router.Route("/api", func(r chi.Router) {
		r.Get("/actions", s.handleListActions)
		r.Post("/actions/{name}", s.handleStartAction)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
	})

	return router
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	// h2c lets the push channel run over HTTP/2 cleartext (RFC 8441) behind
	// proxies that strip HTTP/1.1 upgrade headers.
	h2s := &http2.Server{}
	s.httpServer = &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           h2c.NewHandler(s.Handler(), h2s),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		// Hijacked push connections outlive Shutdown; deriving request
		// contexts from ctx closes them too.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("serving actions", "addr", s.cfg.BindAddress, "actions", s.registry.Len())
		if err := s.httpServer.ListenAndServe(); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
