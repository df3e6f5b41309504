// Package server exposes the tracker as an HTTP API: a thin authenticated
// proxy in front of the remote spreadsheet script, so front-ends talk to a
// stable local endpoint instead of the script URL with its secret.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/vtpt/vtpt-meter/auth"
	"github.com/vtpt/vtpt-meter/logging"
	"github.com/vtpt/vtpt-meter/meter"
	"github.com/vtpt/vtpt-meter/remote"
)

// Backend is the upstream surface the proxy forwards to.
type Backend interface {
	Latest(ctx context.Context, room string) (*meter.Reading, error)
	History(ctx context.Context, room string, limit int) ([]meter.Reading, error)
	HouseLatest(ctx context.Context, house string) (map[string]meter.Reading, error)
	HouseHistory(ctx context.Context, house string, limit int) (map[string][]meter.Reading, error)
	CurrentCycle(ctx context.Context) (string, error)
	Cycles(ctx context.Context) ([]string, error)
	ActivityLog(ctx context.Context, room string, limit int) ([]remote.LogEntry, error)
	Save(ctx context.Context, pin string, r meter.Reading) (*meter.Reading, error)
	Update(ctx context.Context, pin string, r meter.Reading, target remote.Target) (*meter.Reading, error)
	Delete(ctx context.Context, pin string, room string, target remote.Target) error
	SetCycle(ctx context.Context, pin string, key string) error
	Approve(ctx context.Context, pin string, current string) (string, error)
}

var _ Backend = (*remote.Client)(nil)

// PinHeader carries the caller's sign-in PIN.
const PinHeader = "X-Meter-Pin"

// Config configures the HTTP listener.
type Config struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8091",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the API proxy.
type Server struct {
	backend   Backend
	directory *auth.Directory
	config    Config
	handler   http.Handler
	http      *http.Server
	logger    *logging.Logger
}

// New builds the proxy over backend with PIN auth from directory.
func New(backend Backend, directory *auth.Directory, config Config) *Server {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	s := &Server{
		backend:   backend,
		directory: directory,
		config:    config,
		logger:    logging.WithComponent(logging.Component("server")),
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/rooms/{room}/latest", s.handleRoomLatest).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{room}/history", s.handleRoomHistory).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{room}/log", s.handleRoomLog).Methods(http.MethodGet)
	api.HandleFunc("/houses/{house}/latest", s.handleHouseLatest).Methods(http.MethodGet)
	api.HandleFunc("/houses/{house}/history", s.handleHouseHistory).Methods(http.MethodGet)
	api.HandleFunc("/cycle", s.handleCycleGet).Methods(http.MethodGet)
	api.HandleFunc("/cycles", s.handleCycleList).Methods(http.MethodGet)

	api.Handle("/readings", s.requirePIN(http.HandlerFunc(s.handleSave))).Methods(http.MethodPost)
	api.Handle("/readings", s.requirePIN(http.HandlerFunc(s.handleUpdate))).Methods(http.MethodPut)
	api.Handle("/readings", s.requirePIN(http.HandlerFunc(s.handleDelete))).Methods(http.MethodDelete)
	api.Handle("/cycle", s.requireAdmin(http.HandlerFunc(s.handleCycleSet))).Methods(http.MethodPost)
	api.Handle("/cycle/approve", s.requireAdmin(http.HandlerFunc(s.handleApprove))).Methods(http.MethodPost)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", PinHeader},
	})
	s.handler = c.Handler(router)
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

type contextKey string

const identityKey contextKey = "identity"

// identityFrom returns the resolved caller, valid only inside requirePIN.
func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey).(auth.Identity)
	return id
}

// pinFrom returns the raw PIN header, valid only inside requirePIN.
func pinFrom(r *http.Request) string {
	return r.Header.Get(PinHeader)
}

// requirePIN resolves the X-Meter-Pin header and rejects unknown callers
// before the request reaches the upstream.
func (s *Server) requirePIN(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.directory.Resolve(pinFrom(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown PIN")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin is requirePIN plus the admin gate.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return s.requirePIN(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !identityFrom(r.Context()).Admin {
			writeError(w, http.StatusForbidden, "admin PIN required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.config.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("shut down cleanly")
	return nil
}
