package httpapi

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"worknest.io/internal/auth"
	"worknest.io/internal/obs"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API is the HTTP layer over the authorization core.
type API struct {
	router     *mux.Router
	engine     *auth.Engine
	tokens     *auth.TokenService
	directory  *auth.Directory
	hierarchy  *auth.HierarchyIndex
	logger     *zap.Logger
	ready      map[string]Pinger
	version    string
	rateBurst  int
	ratePerSec int
}

// Option configures API.
type Option func(*API)

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithLogger sets the request and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRateLimit configures the per-IP limiter applied to credential endpoints.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithReadyCheck adds a named dependency to /readyz.
func WithReadyCheck(name string, p Pinger) Option {
	return func(a *API) {
		if p != nil {
			a.ready[name] = p
		}
	}
}

// New builds the router.
func New(engine *auth.Engine, directory *auth.Directory, hierarchy *auth.HierarchyIndex, opts ...Option) *API {
	a := &API{
		router:     mux.NewRouter(),
		engine:     engine,
		tokens:     engine.Tokens(),
		directory:  directory,
		hierarchy:  hierarchy,
		logger:     zap.NewNop(),
		ready:      make(map[string]Pinger),
		version:    "dev",
		rateBurst:  10,
		ratePerSec: 5,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	limited := func(h http.HandlerFunc) http.Handler { return RateLimit(h, a.rateBurst, a.ratePerSec) }
	r.Handle("/v1/auth/login", limited(a.handleLogin)).Methods(http.MethodPost)
	r.Handle("/v1/auth/refresh", limited(a.handleRefresh)).Methods(http.MethodPost)
	r.Handle("/v1/auth/logout", limited(a.handleLogout)).Methods(http.MethodPost)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(a.authenticate)

	v1.HandleFunc("/auth/me", a.handleMe).Methods(http.MethodGet)
	v1.Handle("/authz/check", http.HandlerFunc(a.handleAuthzCheck)).Methods(http.MethodPost)

	v1.Handle("/users",
		a.require(auth.RequirePermission(auth.ResourceUsers, auth.ActionCreate), nil)(http.HandlerFunc(a.handleCreateUser))).
		Methods(http.MethodPost)
	v1.Handle("/users/{id}",
		a.require(auth.RequirePermission(auth.ResourceUsers, auth.ActionRead), pathUserID)(http.HandlerFunc(a.handleGetUser))).
		Methods(http.MethodGet)
	v1.Handle("/users/{id}",
		a.require(auth.RequirePermission(auth.ResourceUsers, auth.ActionDelete), nil)(http.HandlerFunc(a.handleDeactivateUser))).
		Methods(http.MethodDelete)
	v1.Handle("/users/{id}/manager",
		a.require(auth.RequirePermission(auth.ResourceUsers, auth.ActionUpdate), otherUserID)(http.HandlerFunc(a.handleSetManager))).
		Methods(http.MethodPut)
	v1.Handle("/users/{id}/team",
		a.require(auth.RequirePermission(auth.ResourceUsers, auth.ActionRead), pathUserID)(http.HandlerFunc(a.handleTeam))).
		Methods(http.MethodGet)
	v1.Handle("/users/{id}/subordinates",
		a.require(auth.RequirePermission(auth.ResourceUsers, auth.ActionRead), pathUserID)(http.HandlerFunc(a.handleSubordinates))).
		Methods(http.MethodGet)
	v1.Handle("/users/{id}/roles",
		a.RequireRole(auth.RoleHR)(http.HandlerFunc(a.handleAssignRoles))).
		Methods(http.MethodPut)

	v1.Handle("/roles",
		a.require(auth.RequirePermission(auth.ResourceRoles, auth.ActionRead), nil)(http.HandlerFunc(a.handleListRoles))).
		Methods(http.MethodGet)
	v1.Handle("/roles",
		a.require(auth.RequirePermission(auth.ResourceRoles, auth.ActionCreate), nil)(http.HandlerFunc(a.handleCreateRole))).
		Methods(http.MethodPost)
	v1.Handle("/roles/{id}/permissions",
		a.require(auth.RequirePermission(auth.ResourceRoles, auth.ActionUpdate), nil)(http.HandlerFunc(a.handleSetRolePermissions))).
		Methods(http.MethodPut)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(a.logger)(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "worknest-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(a.ready))
	for name := range a.ready {
		names = append(names, name)
	}
	sort.Strings(names)
	failed := map[string]string{}
	for _, name := range names {
		if err := a.ready[name].Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"errors": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func pathUserID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// otherUserID is pathUserID without self-access: a caller editing their own
// record needs the permission itself or a manager above them.
func otherUserID(r *http.Request) string {
	id := pathUserID(r)
	if caller, ok := auth.CallerFromContext(r.Context()); ok && caller.UserID == id {
		return ""
	}
	return id
}
