package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/forgeworks/tollgate/pkg/audit"
	"github.com/forgeworks/tollgate/pkg/billing"
	"github.com/forgeworks/tollgate/pkg/httputil"
	"github.com/forgeworks/tollgate/pkg/integrations"
	"github.com/forgeworks/tollgate/pkg/limits"
	"github.com/forgeworks/tollgate/pkg/middleware"
	"github.com/forgeworks/tollgate/pkg/observability"
	"github.com/forgeworks/tollgate/pkg/plans"
	"github.com/forgeworks/tollgate/pkg/usage"
)

// Server represents the API server
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// Deps carries the domain services the server fronts.
type Deps struct {
	Catalog      plans.Catalog
	Coordinator  *billing.Coordinator
	Ledger       usage.Ledger
	Enforcer     *limits.Enforcer
	Integrations *integrations.Service
	Registry     integrations.Registry
	Audit        audit.Logger
	Logger       *observability.Logger
	Metrics      *observability.Metrics
}

// NewServer creates the API server and wires all routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s := &Server{
		router: mux.NewRouter(),
		logger: deps.Logger,
	}
	s.setupRoutes(deps)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Deps) {
	s.router.Use(httputil.RecoveryMiddleware)
	s.router.Use(middleware.TenantContext)
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	if deps.Enforcer != nil {
		enforcement := middleware.NewEnforcement(deps.Enforcer, deps.Logger, deps.Metrics)
		s.router.Use(enforcement.RequireWithinLimits)
	}
	// the tracker runs after enforcement so denied requests accrue no usage
	if deps.Ledger != nil {
		tracker := middleware.NewTracker(deps.Ledger, deps.Logger)
		s.router.Use(tracker.TrackAPICalls)
	}

	NewPlanHandlers(deps.Catalog, deps.Audit, deps.Logger).RegisterRoutes(s.router)
	NewSubscriptionHandlers(deps.Coordinator).RegisterRoutes(s.router)
	NewUsageHandlers(deps.Ledger, deps.Enforcer, deps.Metrics).RegisterRoutes(s.router)
	NewIntegrationHandlers(deps.Integrations, deps.Registry, deps.Audit).RegisterRoutes(s.router)
	NewWebhookHandlers(deps.Coordinator, deps.Logger, deps.Metrics).RegisterRoutes(s.router)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying mux for additional registrations.
func (s *Server) Router() *mux.Router {
	return s.router
}
