package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"gatecode.org/internal/audit"
	"gatecode.org/internal/auth"
	"gatecode.org/internal/obs"
	"gatecode.org/internal/ratelimit"
)

// ReadyProbe is a simple readiness check (for example, a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the tunables the HTTP layer needs.
type Config struct {
	Version    string
	SessionTTL time.Duration
	// Production suppresses internal error details in responses.
	Production bool
}

// API is the HTTP layer. It composes the code lifecycle service, the store,
// the audit recorder and the rate limiter; handlers stay thin.
type API struct {
	mux        *http.ServeMux
	store      auth.Store
	codes      *auth.CodeService
	recorder   *audit.Recorder
	limiter    *ratelimit.Limiter
	readyProbe ReadyProbe
	cfg        Config
}

const (
	defaultSessionTTL = 24 * time.Hour

	// verify-code is the hash-probing route. Keep attempts per caller low:
	// each one costs a bcrypt comparison per active code.
	verifyCodeLimit  = 10
	verifyCodeWindow = time.Minute
)

// New wires the API routes.
func New(store auth.Store, codes *auth.CodeService, recorder *audit.Recorder, limiter *ratelimit.Limiter, rp ReadyProbe, cfg Config) *API {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	a := &API{
		mux:        http.NewServeMux(),
		store:      store,
		codes:      codes,
		recorder:   recorder,
		limiter:    limiter,
		readyProbe: rp,
		cfg:        cfg,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/auth/verify-code", a.handleVerifyCode)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.Handle("/auth/me", a.requireAuth("", http.HandlerFunc(a.handleMe)))

	a.mux.Handle("/admin/access-codes", http.HandlerFunc(a.handleAccessCodes))
	a.mux.Handle("/admin/access-codes/", http.HandlerFunc(a.handleAccessCodeResource))
	a.mux.Handle("/admin/users", a.requireAuth(auth.PermUsersRead, http.HandlerFunc(a.handleUsers)))
	a.mux.Handle("/admin/users/", http.HandlerFunc(a.handleUserResource))
	a.mux.Handle("/admin/audit-logs", a.requireAuth(auth.PermAuditRead, http.HandlerFunc(a.handleAuditLogs)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, maxDecodeBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RateLimit(h, 20, 40)
	h = Recover(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatecode-api",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "gatecode-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}

// internalError hides details in production but always logs them.
func (a *API) internalError(w http.ResponseWriter, r *http.Request, scope string, err error) {
	obs.LogError(scope, map[string]any{
		"request_id": audit.RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
		"err":        err.Error(),
	})
	msg := "internal error"
	if !a.cfg.Production {
		msg = scope + ": " + err.Error()
	}
	writeError(w, r, http.StatusInternalServerError, msg)
}
