package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/dynamicapi/internal/application"
	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
	"github.com/atvirokodosprendimai/dynamicapi/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Login issues a token for email and password.
type Login interface {
	Login(ctx context.Context, email, password string) (string, *domain.Principal, error)
}

type Options struct {
	Routes []*application.Route
	// Auth resolves bearer tokens. Without it every caller is anonymous.
	Auth  domain.Authenticator
	Login Login
	Log   logrus.FieldLogger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// Realtime is mounted at /ws when set.
	Realtime http.Handler
}

type Handler struct {
	auth    domain.Authenticator
	login   Login
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewRouter(opts Options) http.Handler {
	h := &Handler{auth: opts.Auth, login: opts.Login, log: opts.Log, metrics: opts.Metrics}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	if opts.Login != nil {
		r.Post("/auth/login", h.handleLogin)
	}
	if opts.Realtime != nil {
		r.Method(http.MethodGet, "/ws", opts.Realtime)
	}

	r.Group(func(api chi.Router) {
		api.Use(h.resolvePrincipal)
		if opts.Auth != nil {
			api.Get("/auth/whoami", h.handleWhoAmI)
		}
		for _, rt := range opts.Routes {
			api.Method(rt.Method, rt.Path, h.controller(rt))
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Cannot find route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// controller serves one generated route: decode the envelope, run the route,
// write the presented result.
func (h *Handler) controller(rt *application.Route) http.HandlerFunc {
	log := h.log.WithFields(logrus.Fields{"transport": metrics.TransportHTTP, "route": rt.Names.Controller})
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		result, err := h.serve(rt, w, r)
		h.metrics.Observe(metrics.TransportHTTP, rt.Names.Service, metrics.Outcome(err), time.Since(start))
		if err != nil {
			h.writeDomainError(w, log, err)
			return
		}
		writeJSON(w, rt.SuccessStatus(), result)
	}
}

func (h *Handler) serve(rt *application.Route, w http.ResponseWriter, r *http.Request) (any, error) {
	var body []byte
	if r.Body != nil {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			return nil, domain.InvalidBody(err)
		}
		body = raw
	}
	req, err := rt.DecodeHTTP(chi.URLParam(r, "id"), r.URL.Query(), body)
	if err != nil {
		return nil, err
	}
	return rt.Handle(r.Context(), req)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeDomainError(w, h.log, domain.InvalidBody(err))
		return
	}
	token, p, err := h.login.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeDomainError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": p.ID, "email": p.Email, "roles": p.Roles, "token": token})
}

func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	p := domain.PrincipalFromContext(r.Context())
	if p == nil {
		h.writeDomainError(w, h.log, domain.Unauthenticated(nil))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// resolvePrincipal attaches the bearer token's principal to the request. A
// missing token is anonymous; an invalid one is rejected.
func (h *Handler) resolvePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" || h.auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		p, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			if _, ok := domain.KindOf(err); !ok {
				err = domain.Unauthenticated(err)
			}
			h.writeDomainError(w, h.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(r.Context(), p)))
	})
}

func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

// StatusFor maps an error to its HTTP status. Not found is a 400 like the
// other client conditions.
func StatusFor(err error) int {
	kind, ok := domain.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case domain.InvalidEnvelope, domain.NotFound, domain.DuplicateKey:
		return http.StatusBadRequest
	case domain.Unauthorized:
		return http.StatusUnauthorized
	case domain.Forbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
		writeError(w, status, "Internal server error")
		return
	}
	var de *domain.Error
	message := err.Error()
	if errors.As(err, &de) {
		message = de.Message
	}
	writeError(w, status, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"statusCode": status,
		"message":    message,
		"error":      http.StatusText(status),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
