// Package server exposes the engine over a small JSON HTTP API.
//
// Routes:
//
//	GET    /health
//	GET    /api/status
//	GET    /api/triggers
//	GET    /api/chains
//	GET    /api/chains/{name}
//	POST   /api/chains/{name}/run      body: {"context": {...}}
//	DELETE /api/chains/{name}
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ternarybob/arbor"

	"chainctl/internal/chain"
	"chainctl/internal/engine"
	"chainctl/internal/runstate"
)

// Engine is the subset of engine.Engine the API serves.
type Engine interface {
	CheckTriggers(ctx context.Context) []engine.Trigger
	ExecuteChain(ctx context.Context, name string, opts engine.Options) engine.Result
	Status(ctx context.Context) runstate.Status
	RemoveChain(ctx context.Context, name string) error
}

// Chains lists and looks up definitions. registry.Registry implements it.
type Chains interface {
	All() []*chain.Chain
	Get(name string) (*chain.Chain, error)
}

// Server is the HTTP API.
type Server struct {
	addr   string
	engine Engine
	chains Chains
	logger arbor.ILogger
	router chi.Router
}

// New creates a Server listening on addr. logger may be nil.
func New(addr string, eng Engine, chains Chains, logger arbor.ILogger) *Server {
	s := &Server{addr: addr, engine: eng, chains: chains, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/triggers", s.handleTriggers)
		r.Route("/chains", func(r chi.Router) {
			r.Get("/", s.handleListChains)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetChain)
				r.Delete("/", s.handleRemoveChain)
				r.Post("/run", s.handleRunChain)
			})
		})
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.logger != nil {
			s.logger.Info().Str("addr", s.addr).Msg("API server listening")
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.logger != nil {
			s.logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("status", http.StatusText(ww.Status())).
				Str("elapsed", time.Since(start).String()).
				Msg("HTTP request")
		}
	})
}
