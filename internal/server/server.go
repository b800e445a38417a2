// Package server implements the relay's public HTTP surface and the
// tunnel control-channel endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/krishna3006b/localhosted-tunnel-server/internal/config"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/registry"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/subdomain"
)

// Server wires the registry to the outside world: the public router on
// the root domain, the host- and path-based tunnel adapters, and the
// /tunnel WebSocket endpoint.
type Server struct {
	cfg       config.ServerConfig
	log       *slog.Logger
	registry  *registry.Registry
	startedAt time.Time
}

// New creates a relay server around the given registry.
func New(cfg config.ServerConfig, reg *registry.Registry, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		log:       logger,
		registry:  reg,
		startedAt: time.Now(),
	}
}

// Handler returns the full HTTP handler: requests whose Host selects a
// tunnel subdomain go straight to the adapter; everything else falls
// through to the root-domain router.
func (s *Server) Handler() http.Handler {
	router := s.routes()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sub := subdomain.Extract(r.Host, s.cfg.Domain); sub != "" {
			s.proxyTunnel(w, r, sub, r.URL.RequestURI())
			return
		}
		router.ServeHTTP(w, r)
	})
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(securityHeaders)

	r.Get("/", s.handleLanding)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.HandleFunc("/tunnel", s.handleTunnel)

	r.Handle("/t", http.HandlerFunc(s.handleMissingSubdomain))
	r.Handle("/t/", http.HandlerFunc(s.handleMissingSubdomain))
	r.Handle("/t/{subdomain}", http.HandlerFunc(s.handlePathTunnel))
	r.Handle("/t/{subdomain}/*", http.HandlerFunc(s.handlePathTunnel))

	r.NotFound(s.handleNotFound)
	return r
}

// Run serves until ctx is canceled, then closes every tunnel channel with
// a going-away status and drains the HTTP server.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting relay server", "addr", s.cfg.ListenAddr, "domain", s.cfg.Domain, "env", s.cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.registry.CloseAll(registry.CloseGoingAway, "server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
