package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/reshaper/internal/formats"
	"github.com/MikeSquared-Agency/reshaper/internal/session"
)

// FormatCatalog is the format side of the API.
type FormatCatalog interface {
	Resolve(ctx context.Context, sel formats.Selection) (formats.Spec, error)
	List(ctx context.Context) []formats.Spec
	Save(ctx context.Context, key, title, text string) (formats.Spec, error)
	Delete(ctx context.Context, key string) error
}

type Server struct {
	router   *chi.Mux
	port     int
	workflow *session.Workflow
	formats  FormatCatalog
	logger   *slog.Logger
}

func NewServer(port int, apiToken string, wf *session.Workflow, fc FormatCatalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		workflow: wf,
		formats:  fc,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))

		r.Post("/sessions", s.createSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/messages", s.sendMessage)
			r.Post("/transform", s.transformAll)
			r.Post("/reset", s.resetSession)
			r.Get("/export", s.exportOutput)
			r.Put("/format", s.setFormat)
			r.Put("/headers", s.setHeaders)
		})

		r.Get("/formats", s.listFormats)
		r.Get("/formats/{key}", s.getFormat)
		r.Put("/formats/{key}", s.putFormat)
		r.Delete("/formats/{key}", s.deleteFormat)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
