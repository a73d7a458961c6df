// Package api exposes a signature editing session over HTTP.
//
// Every session command has a REST route under /api. Graph events are
// streamed to WebSocket clients on /ws. /health and /metrics are always
// unauthenticated.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"sigforge/config"
	"sigforge/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// authFailureEntry holds auth failure count and last failure time
type authFailureEntry struct {
	count    int
	lastFail time.Time
}

// API holds the API server
type API struct {
	router   *mux.Router
	server   *http.Server
	session  *service.Session
	hub      *Hub
	config   config.APIConfig
	gatherer prometheus.Gatherer
	logger   *zap.SugaredLogger
	now      func() time.Time

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	authFailures   map[string]*authFailureEntry
	authFailuresMu sync.Mutex

	stopEvents func()
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// New creates the API for session. gatherer backs /metrics; nil means the
// default Prometheus registry. The WebSocket hub starts immediately and
// stops with Stop.
func New(session *service.Session, cfg config.APIConfig, gatherer prometheus.Gatherer, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	a := &API{
		router:       mux.NewRouter(),
		session:      session,
		config:       cfg,
		gatherer:     gatherer,
		logger:       logger,
		now:          time.Now,
		rateLimiters: make(map[string]*rateLimiterEntry),
		authFailures: make(map[string]*authFailureEntry),
		stopCh:       make(chan struct{}),
	}
	a.hub = NewHub(logger)
	go a.hub.Start()
	a.stopEvents = a.hub.Follow(session.Events())

	a.setupRoutes()
	go a.cleanupRateLimiters()
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.corsMiddleware)
	if a.config.RateLimit.Enabled {
		a.router.Use(a.rateLimitMiddleware)
	}

	a.router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	a.router.HandleFunc("/api/auth/login", a.login).Methods(http.MethodPost, http.MethodOptions)

	r := a.router.PathPrefix("/api").Subrouter()
	if a.config.Auth.Enabled {
		r.Use(a.jwtAuthMiddleware)
	}

	r.HandleFunc("/catalog", a.getCatalog).Methods(http.MethodGet)

	r.HandleFunc("/graph", a.exportGraph).Methods(http.MethodGet)
	r.HandleFunc("/graph", a.importGraph).Methods(http.MethodPut)
	r.HandleFunc("/graph", a.resetGraph).Methods(http.MethodDelete)
	r.HandleFunc("/graph/metadata", a.setMetadata).Methods(http.MethodPut)
	r.HandleFunc("/graph/validate", a.validateGraph).Methods(http.MethodGet)

	r.HandleFunc("/graph/nodes", a.addNode).Methods(http.MethodPost)
	r.HandleFunc("/graph/nodes/{id}", a.removeNode).Methods(http.MethodDelete)
	r.HandleFunc("/graph/nodes/{id}/parameters/{name}", a.setParameter).Methods(http.MethodPut)
	r.HandleFunc("/graph/nodes/{id}/position", a.moveNode).Methods(http.MethodPut)
	r.HandleFunc("/graph/nodes/{id}/status", a.setNodeStatus).Methods(http.MethodPut)

	r.HandleFunc("/graph/edges", a.connect).Methods(http.MethodPost)
	r.HandleFunc("/graph/edges/{id}", a.disconnect).Methods(http.MethodDelete)
	r.HandleFunc("/graph/edges/{id}/operator", a.setOperator).Methods(http.MethodPut)

	r.HandleFunc("/compile", a.compileAll).Methods(http.MethodPost)
	r.HandleFunc("/compile/{format}", a.compile).Methods(http.MethodPost)
	r.HandleFunc("/compiler/stats", a.compilerStats).Methods(http.MethodGet)

	r.HandleFunc("/tests", a.runAllTests).Methods(http.MethodPost)
	r.HandleFunc("/tests/history", a.getHistory).Methods(http.MethodGet)
	r.HandleFunc("/tests/history", a.clearHistory).Methods(http.MethodDelete)
	r.HandleFunc("/tests/{test}", a.runTest).Methods(http.MethodPost)

	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(a.hub, a.config.AllowedOrigins, a.logger, w, r)
	}).Methods(http.MethodGet)
}

// Handler returns the routed handler, for embedding and tests.
func (a *API) Handler() http.Handler { return a.router }

// Addr is the configured listen address.
func (a *API) Addr() string {
	return net.JoinHostPort(a.config.Host, strconv.Itoa(a.config.Port))
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.Addr(),
		Handler:           a.router,
		ReadTimeout:       a.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.config.WriteTimeout,
	}
	a.logger.Infow("API server listening", "addr", a.server.Addr, "auth", a.config.Auth.Enabled)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down and disconnects WebSocket clients.
func (a *API) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.stopEvents()
		a.hub.Stop()
		if a.server != nil {
			err = a.server.Shutdown(ctx)
		}
	})
	return err
}
