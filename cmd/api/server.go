package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/PaulBabatuyi/marketchat/internal/config"
	"github.com/PaulBabatuyi/marketchat/internal/data"
	"github.com/PaulBabatuyi/marketchat/internal/middleware"
)

// Server implements the marketplace conversation API and contains
// references to the store, auth logic and shop catalog.
type Server struct {
	store   data.Store
	auth    *auth.JWTManager
	catalog *config.Catalog
	limiter *middleware.LimiterStore
	metrics *middleware.Metrics
	logger  *slog.Logger

	cookieSecure bool
	now          func() time.Time
}

// newServer returns a ready-to-use Server wired with a store, auth manager
// and catalog. limiter guards register and login.
func newServer(store data.Store, authMgr *auth.JWTManager, catalog *config.Catalog, limiter *middleware.LimiterStore, logger *slog.Logger) *Server {
	return &Server{
		store:   store,
		auth:    authMgr,
		catalog: catalog,
		limiter: limiter,
		metrics: middleware.NewMetrics(),
		logger:  logger,
		now:     time.Now,
	}
}

// routes builds the HTTP handler. Public routes are registered before the
// session subrouter so they never hit the session check.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.Instrument)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	limited := middleware.RateLimit(s.limiter)
	r.Handle("/auth/register", limited(http.HandlerFunc(s.handleRegister))).Methods(http.MethodPost)
	r.Handle("/auth/login", limited(http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(middleware.RequireSession(s.auth), middleware.RequireCSRF(s.auth))
	authed.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/auth/csrf", s.handleCSRF).Methods(http.MethodGet)
	authed.HandleFunc("/conversations", s.handleOpenConversation).Methods(http.MethodPost)
	authed.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id}/messages", s.handlePostMessage).Methods(http.MethodPost)
	authed.HandleFunc("/conversations/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	return middleware.Logging(s.logger)(r)
}
