// Package web serves the user pages and the JSON API over HTTP.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/dusk-indust/roster/internal/logging"
	"github.com/dusk-indust/roster/internal/userstore"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	sessionName     = "roster-flash"
	shutdownTimeout = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	// SessionSecret signs the flash cookie. It must not be empty.
	SessionSecret []byte
	Logger        *slog.Logger
}

// Server routes HTTP requests to a userstore.Store.
type Server struct {
	store    *userstore.Store
	sessions sessions.Store
	pages    *template.Template
	logger   *slog.Logger
	router   *mux.Router
}

// NewServer builds the router and parses the page templates.
func NewServer(store *userstore.Store, opts Options) (*Server, error) {
	if len(opts.SessionSecret) == 0 {
		return nil, errors.New("web: session secret is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	pages, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	cookies := sessions.NewCookieStore(opts.SessionSecret)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	s := &Server{
		store:    store,
		sessions: cookies,
		pages:    pages,
		logger:   logger.With("component", "web"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, s.logRequests)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/users", s.handleUsersPage).Methods(http.MethodGet)
	r.HandleFunc("/users", s.handleAddUser).Methods(http.MethodPost)
	r.HandleFunc("/users/delete/{id:[0-9]+}", s.handleDeleteUser).Methods(http.MethodPost)

	api := r.PathPrefix("/api/users").Subrouter()
	api.HandleFunc("", s.apiList).Methods(http.MethodGet)
	api.HandleFunc("", s.apiCreate).Methods(http.MethodPost)
	api.HandleFunc("/{id:[0-9]+}", s.apiGet).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}", s.apiUpdate).Methods(http.MethodPut)
	api.HandleFunc("/{id:[0-9]+}", s.apiDelete).Methods(http.MethodDelete)

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/users", http.StatusFound)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Status: UP"))
}
