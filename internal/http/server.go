package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"fintrack/internal/auth"
	applog "fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/services"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps groups everything the API needs; every service is required.
type Deps struct {
	Ledger    *services.LedgerService
	Budgets   *services.BudgetService
	Tags      *services.TagService
	Geopoints *services.GeopointService
	Users     *services.UserService
	Recurring *services.RecurringProcessor
	Issuer    *auth.Issuer
	Store     Pinger
	Logger    *applog.Logger

	RateLimitPerMinute int
}

type Server struct {
	http.Server

	ledger    *services.LedgerService
	budgets   *services.BudgetService
	tags      *services.TagService
	geopoints *services.GeopointService
	users     *services.UserService
	recurring *services.RecurringProcessor
	issuer    *auth.Issuer
	store     Pinger

	logger  *applog.Logger
	access  *applog.StructuredLogger
	started time.Time
	now     func() time.Time

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	limiterCfg := ratelimit.DefaultConfig()
	if deps.RateLimitPerMinute > 0 {
		limiterCfg.RequestsPerMinute = deps.RateLimitPerMinute
	}

	detector := security.NewDetector()

	s := &Server{
		ledger:           deps.Ledger,
		budgets:          deps.Budgets,
		tags:             deps.Tags,
		geopoints:        deps.Geopoints,
		users:            deps.Users,
		recurring:        deps.Recurring,
		issuer:           deps.Issuer,
		store:            deps.Store,
		logger:           logger,
		access:           applog.NewStructuredLogger(logger),
		started:          time.Now(),
		now:              time.Now,
		rateLimiter:      ratelimit.NewLimiter(limiterCfg),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(logger, detector.ExtractClientIP),
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	protected := auth.Middleware(s.issuer)
	authed := func(h http.HandlerFunc) http.Handler { return protected(h) }

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.Handle("GET /users/me", authed(s.handleProfile))
	mux.Handle("PATCH /users/me", authed(s.handleUpdateProfile))
	mux.Handle("DELETE /users/me", authed(s.handleDeleteProfile))

	mux.Handle("POST /transactions", authed(s.handleCreateTransaction))
	mux.Handle("GET /transactions", authed(s.handleListTransactions))
	mux.Handle("GET /transactions/monthly-stats", authed(s.handleMonthlyStats))
	mux.Handle("GET /transactions/{id}", authed(s.handleGetTransaction))
	mux.Handle("PATCH /transactions/{id}", authed(s.handleUpdateTransaction))
	mux.Handle("DELETE /transactions/{id}", authed(s.handleDeleteTransaction))

	mux.Handle("POST /budgets", authed(s.handleCreateBudget))
	mux.Handle("GET /budgets", authed(s.handleListBudgets))
	mux.Handle("GET /budgets/main", authed(s.handleMainBudget))
	mux.Handle("GET /budgets/main/usage", authed(s.handleMainBudgetUsage))
	mux.Handle("GET /budgets/{id}", authed(s.handleGetBudget))
	mux.Handle("PATCH /budgets/{id}", authed(s.handleUpdateBudget))
	mux.Handle("DELETE /budgets/{id}", authed(s.handleDeleteBudget))

	mux.Handle("POST /tags", authed(s.handleCreateTag))
	mux.Handle("GET /tags", authed(s.handleListTags))
	mux.Handle("PATCH /tags/{id}", authed(s.handleUpdateTag))
	mux.Handle("DELETE /tags/{id}", authed(s.handleDeleteTag))

	mux.Handle("POST /geopoints", authed(s.handleCreateGeopoint))
	mux.Handle("GET /geopoints", authed(s.handleListGeopoints))

	mux.Handle("POST /periodic-transactions", authed(s.handleCreatePeriodic))
	mux.Handle("GET /periodic-transactions", authed(s.handleListPeriodic))
	mux.Handle("DELETE /periodic-transactions/{id}", authed(s.handleDeletePeriodic))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("route not found").Write(w)
	})

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldClientIP, s.securityDetector.ExtractClientIP(r),
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
	})

	var h http.Handler = mux
	h = limit(h)
	h = s.traceMiddleware.Middleware(h)
	h = s.securityDetector.Middleware(h)
	h = headers.Middleware(h)
	return h
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// fail writes the mapped error response. Server errors are logged with their
// cause; the client only sees a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.access.LogError(r.Context(), "Request failed", err, applog.ErrorTypeInternal, op,
			applog.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")))
	} else {
		applog.FromContext(r.Context()).DebugContext(r.Context(), "Request rejected",
			applog.FieldOperation, op,
			applog.FieldStatusCode, status,
			applog.FieldError, err.Error())
	}
	ErrorResponse(status, msg).Write(w)
}

// ownerID returns the authenticated caller; auth.Middleware guarantees it on protected routes.
func (s *Server) ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		ErrorResponse(http.StatusUnauthorized, "unauthorized").Write(w)
		return "", false
	}
	return id, true
}
