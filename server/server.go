// Package server provides the read-mostly HTTP inspection surface of the
// activity engine.
//
// # Endpoints
//
//   - GET /health - Returns "ok", or 503 once the manager is shut down
//   - GET /metrics - Prometheus scrape endpoint, when a handler is configured
//   - GET /api/status - Manager stats, next scheduled start and build info
//   - GET /api/activities - Queued and Running activities (?id=&kind=&context=)
//   - GET /api/profiles - Last step sample per activity (?uid=)
//   - GET /api/history - Finished runs, newest first (?limit=)
//   - GET /api/logs - Captured activity logs (?uid=)
//   - GET /api/config - Current configuration as YAML
//   - GET /api/version - Build properties
//   - POST /reload - Re-reads the configuration and applies engine settings,
//     behind basic auth when WithReloadAuth is set
//
// Endpoints whose data source was not configured are not registered.
//
// # Example
//
//	srv, err := server.New(manager,
//	    server.WithListenAddr(":8080"),
//	    server.WithConfigPath("/etc/engine/config.yaml"),
//	)
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/unityext/core/config"
	"github.com/unityext/core/server/handlers"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultListenAddr      = ":8080"
)

// Engine is the part of the activity manager the server reads and tunes.
type Engine interface {
	handlers.StatsProvider
	handlers.ActivityQuerier
	SetAsyncTimeSlice(d time.Duration)
	SetMaxThreads(n int)
}

// Server is the HTTP server of the engine.
type Server struct {
	addr            string
	configPath      string
	logger          *slog.Logger
	engine          Engine
	cfg             atomic.Pointer[config.Config]
	profiles        handlers.ProfileProvider
	history         handlers.HistoryProvider
	logs            handlers.LogProvider
	metrics         http.Handler
	schedule        handlers.NextRunProvider
	statuses        handlers.StatusProvider
	certs           *CertLoader
	reloadUser      string
	reloadHash      string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	listening       chan struct{}
	boundAddr       atomic.Value
}

// Option configures a Server.
type Option func(*Server) error

// WithListenAddr configures the address the server listens on.
// Default is ":8080".
func WithListenAddr(addr string) Option {
	return func(s *Server) error {
		s.addr = addr
		return nil
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithConfigPath loads the configuration at path and enables /api/config and
// /reload.
func WithConfigPath(path string) Option {
	return func(s *Server) error {
		s.configPath = path
		return s.Reload()
	}
}

// WithConfig serves cfg on /api/config without enabling reloads.
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) error {
		s.cfg.Store(cfg)
		return nil
	}
}

// WithProfiles enables /api/profiles.
func WithProfiles(p handlers.ProfileProvider) Option {
	return func(s *Server) error {
		s.profiles = p
		return nil
	}
}

// WithHistory enables /api/history.
func WithHistory(h handlers.HistoryProvider) Option {
	return func(s *Server) error {
		s.history = h
		return nil
	}
}

// WithLogs enables /api/logs.
func WithLogs(l handlers.LogProvider) Option {
	return func(s *Server) error {
		s.logs = l
		return nil
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) error {
		s.metrics = h
		return nil
	}
}

// WithStatuses adds the status line of each activity to /api/activities.
func WithStatuses(p handlers.StatusProvider) Option {
	return func(s *Server) error {
		s.statuses = p
		return nil
	}
}

// WithSchedule reports the next scheduled start on /api/status.
func WithSchedule(p handlers.NextRunProvider) Option {
	return func(s *Server) error {
		s.schedule = p
		return nil
	}
}

// WithTLS serves HTTPS with the given certificate and key files, reloading
// them when they change on disk.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) error {
		certs, err := NewCertLoader(certFile, keyFile, s.logger)
		if err != nil {
			return fmt.Errorf("loading tls certificate: %w", err)
		}
		s.certs = certs
		return nil
	}
}

// WithReloadAuth requires basic auth with user and a bcrypt hash of the
// password on /reload.
func WithReloadAuth(user, passwordHash string) Option {
	return func(s *Server) error {
		s.reloadUser = user
		s.reloadHash = passwordHash
		return nil
	}
}

// WithShutdownTimeout bounds the graceful shutdown of the HTTP server.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.shutdownTimeout = d
		return nil
	}
}

// New creates a new Server for engine with the given options.
func New(engine Engine, opts ...Option) (*Server, error) {
	s := &Server{
		addr:            defaultListenAddr,
		logger:          slog.Default(),
		engine:          engine,
		shutdownTimeout: defaultShutdownTimeout,
		listening:       make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Config returns the current configuration, or nil if none was loaded.
func (s *Server) Config() *config.Config {
	return s.cfg.Load()
}

// Reload reads the config from disk and applies the engine settings that can
// change at runtime: the async time slice and the worker count.
func (s *Server) Reload() error {
	if s.configPath == "" {
		return errors.New("no config path configured")
	}
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return err
	}

	s.engine.SetAsyncTimeSlice(cfg.Engine.AsyncTimeSlice)
	s.engine.SetMaxThreads(cfg.Engine.MaxThreads)
	s.cfg.Store(&cfg)

	s.logger.Info("configuration loaded",
		"config_path", s.configPath,
		"async_time_slice", cfg.Engine.AsyncTimeSlice,
		"max_threads", cfg.Engine.MaxThreads)
	return nil
}

// Handler returns the router with every configured endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Addr blocks until Run has tried to bind and returns the bound address, or
// "" if binding failed.
func (s *Server) Addr() string {
	<-s.listening
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
	if s.certs != nil {
		s.httpServer.TLSConfig = s.certs.TLSConfig()
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		close(s.listening)
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.boundAddr.Store(ln.Addr().String())
	close(s.listening)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", ln.Addr().String(), "tls", s.certs != nil)
		var err error
		if s.certs != nil {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.Handle("GET /health", handlers.NewHealthHandler(s.engine))
	mux.Handle("GET /api/status", handlers.NewStatusHandler(s.engine, s.schedule))
	mux.Handle("GET /api/activities", handlers.NewActivitiesHandler(s.engine, s.statuses))
	mux.HandleFunc("GET /api/version", handlers.HandleVersion)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.profiles != nil {
		mux.Handle("GET /api/profiles", handlers.NewProfilesHandler(s.profiles))
	}
	if s.history != nil {
		mux.Handle("GET /api/history", handlers.NewHistoryHandler(s.history))
	}
	if s.logs != nil {
		mux.Handle("GET /api/logs", handlers.NewLogsHandler(s.logs))
	}
	if s.configPath != "" || s.Config() != nil {
		mux.Handle("GET /api/config", handlers.NewConfigHandler(s))
	}
	if s.configPath != "" {
		var reload http.Handler = handlers.NewReloadHandler(s.logger, s)
		if s.reloadUser != "" {
			reload = handlers.NewBasicAuth(reload, s.reloadUser, s.reloadHash)
		}
		mux.Handle("POST /reload", reload)
	}
}
