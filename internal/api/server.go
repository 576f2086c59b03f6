// Package api serves the administrative HTTP surface over the index queues.
package api

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odvcencio/indexq/internal/auth"
	"github.com/odvcencio/indexq/internal/database"
	"github.com/odvcencio/indexq/internal/queueadmin"
	"github.com/odvcencio/indexq/internal/site"
)

const defaultRunBatchSize = 10

type ServerOptions struct {
	EnableAdminHealth bool
	EnablePprof       bool
	AdminAllowedCIDRs []string
	TrustedProxies    []string
	// RunBatchSize is used by run requests that do not name a batch size.
	RunBatchSize int
	// Gatherer backs /metrics. Defaults to the Prometheus default gatherer.
	Gatherer prometheus.Gatherer
	// Scheduler is reported by /admin/health when background indexing runs.
	Scheduler schedulerStatus
	// Backends checks search backend connections for /admin/health.
	Backends backendHealth
	Logger   *slog.Logger
}

// Dependencies are the services the HTTP layer delegates to.
type Dependencies struct {
	DB      database.DB
	Auth    *auth.Service
	Sites   *site.Provider
	Queues  queueadmin.Factory
	Facade  *queueadmin.Facade
	Trigger *queueadmin.RunTrigger
}

type Server struct {
	db      database.DB
	authSvc *auth.Service
	sites   *site.Provider
	queues  queueadmin.Factory
	facade  *queueadmin.Facade
	trigger *queueadmin.RunTrigger

	mux        *http.ServeMux
	operations map[string]string
	handler    http.Handler
	network    operatorNetwork
	opts       ServerOptions
	logger     *slog.Logger
}

func NewServer(deps Dependencies, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RunBatchSize <= 0 {
		opts.RunBatchSize = defaultRunBatchSize
	}
	facade := deps.Facade
	if facade == nil {
		facade = queueadmin.NewFacade(queueadmin.FacadeOptions{Logger: logger})
	}
	sites := deps.Sites
	if sites == nil {
		sites = site.NewProvider()
	}
	s := &Server{
		db:         deps.DB,
		authSvc:    deps.Auth,
		sites:      sites,
		queues:     deps.Queues,
		facade:     facade,
		trigger:    deps.Trigger,
		mux:        http.NewServeMux(),
		operations: make(map[string]string),
		network:    newOperatorNetwork(opts.AdminAllowedCIDRs, opts.TrustedProxies, logger),
		opts:       opts,
		logger:     logger,
	}
	s.routes()

	var handler http.Handler = s.mux
	handler = auth.Middleware(s.authSvc)(handler)
	handler = gzhttp.GzipHandler(handler)
	handler = requestBodyLimitMiddleware(handler)
	handler = requestMetricsMiddleware(getDefaultHTTPMetrics(), s.resolveRoute, handler)
	handler = requestTracingMiddleware(s.resolveRoute, handler)
	handler = requestLoggingMiddleware(logger, handler)
	handler = requestIDMiddleware(handler)
	s.handler = handler
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.handle("GET /healthz", "healthz", http.HandlerFunc(s.handleHealthz))
	s.handle("GET /metrics", "metrics", metricsHandler(s.opts.Gatherer))

	// Auth
	s.handle("POST /api/v1/auth/login", "login", http.HandlerFunc(s.handleLogin))

	// Sites and queues
	s.handle("GET /api/v1/sites", "list_sites", s.operatorOnly(s.handleListSites))
	s.handle("GET /api/v1/sites/{site}/queue", "queue_overview", s.operatorOnly(s.handleQueueOverview))
	s.handle("POST /api/v1/sites/{site}/queue/initialize", "queue_initialize", s.operatorOnly(s.handleInitializeQueue))
	s.handle("POST /api/v1/sites/{site}/queue/errors/reset", "queue_reset_errors", s.operatorOnly(s.handleResetErrors))
	s.handle("POST /api/v1/sites/{site}/queue/requeue", "queue_requeue", s.operatorOnly(s.handleRequeueItem))
	s.handle("GET /api/v1/sites/{site}/queue/items/{id}", "queue_item", s.operatorOnly(s.handleShowItem))
	s.handle("POST /api/v1/sites/{site}/queue/run", "queue_run", s.operatorOnly(s.handleRunIndexing))

	if s.opts.EnableAdminHealth {
		s.handle("GET /admin/health", "admin_health", s.network.restrict(http.HandlerFunc(s.handleAdminHealth)))
	}
	if s.opts.EnablePprof {
		s.registerPprofRoutes()
	}
}

func (s *Server) registerPprofRoutes() {
	profile := func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.PathValue("profile"))
		if name == "" {
			http.NotFound(w, r)
			return
		}
		pprof.Handler(name).ServeHTTP(w, r)
	}
	for pattern, fn := range map[string]http.HandlerFunc{
		"GET /debug/pprof/":          pprof.Index,
		"GET /debug/pprof/cmdline":   pprof.Cmdline,
		"GET /debug/pprof/profile":   pprof.Profile,
		"GET /debug/pprof/symbol":    pprof.Symbol,
		"POST /debug/pprof/symbol":   pprof.Symbol,
		"GET /debug/pprof/trace":     pprof.Trace,
		"GET /debug/pprof/{profile}": profile,
	} {
		s.handle(pattern, "pprof", s.network.restrict(fn))
	}
}

// handle registers h on the mux and names the operation that metrics and spans report for it.
func (s *Server) handle(pattern, operation string, h http.Handler) {
	s.mux.Handle(pattern, h)
	s.operations[pattern] = operation
}

// route is the registered pattern a request resolves to and its operation name.
type route struct {
	pattern   string
	operation string
}

type routeResolver func(*http.Request) route

const unmatchedOperation = "unmatched"

func (s *Server) resolveRoute(r *http.Request) route {
	_, pattern := s.mux.Handler(r)
	if operation, ok := s.operations[pattern]; ok {
		return route{pattern: pattern, operation: operation}
	}
	return route{operation: unmatchedOperation}
}

// operatorOnly applies the admin allowlist and requires an authenticated operator.
func (s *Server) operatorOnly(fn http.HandlerFunc) http.Handler {
	return s.network.restrict(auth.RequireOperator(fn))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
