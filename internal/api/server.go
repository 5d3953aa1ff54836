package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shohag/risebridge/internal/config"
	"github.com/shohag/risebridge/internal/install"
	"github.com/shohag/risebridge/internal/metrics"
	"github.com/shohag/risebridge/internal/platform"
	"github.com/shohag/risebridge/internal/storage"
	"github.com/shohag/risebridge/internal/webhook"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Store      storage.InstallationStore
	Tokens     TokenSource
	Remover    Remover
	Redirector *install.Redirector
	Callback   *install.CallbackHandler
	Verifier   *webhook.Verifier
	Dispatcher *webhook.Dispatcher
	Platform   *platform.Client
	AdminToken string
	Metrics    bool
	Now        func() time.Time
}

type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, deps Deps, log zerolog.Logger) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))
	if s.deps.Metrics {
		r.Use(metrics.InstrumentHandler)
	}

	oauthHandler := NewOAuthHandler(s.deps.Redirector, s.deps.Callback, s.log)
	webhookHandler := NewWebhookHandler(s.deps.Verifier, s.deps.Dispatcher, s.log)
	instHandler := NewInstallationHandler(s.deps.Store, s.deps.Remover, s.deps.Now, s.log)
	exHandler := NewExampleHandler(s.deps.Tokens, s.deps.Platform, s.log)
	healthHandler := NewHealthHandler()

	r.Get("/health", healthHandler.Health)
	if s.deps.Metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/authorize", oauthHandler.Authorize)
		r.Get("/callback", oauthHandler.Callback)
		r.Post("/callback", oauthHandler.Callback)
	})

	r.Post("/webhooks", webhookHandler.Receive)

	// Diagnostics; open when no admin token is configured.
	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(s.deps.AdminToken))
		r.Get("/installations", instHandler.List)
		r.Delete("/installations/{instanceId}", instHandler.Delete)
	})

	r.Route("/example", func(r chi.Router) {
		r.Get("/account/{instanceId}", exHandler.Account)
		r.Post("/gift-cards/{instanceId}", exHandler.GiftCard)
		r.Post("/wallets/{instanceId}", exHandler.Wallet)
		r.Get("/sales-channels/{instanceId}", exHandler.SalesChannels)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
