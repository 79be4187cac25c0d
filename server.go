package objectplugin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"
)

// Server defaults.
const (
	DefaultAddr                    = ":8080"
	DefaultGracefulShutdownTimeout = 30 * time.Second
	DefaultStreamSendBuffer        = 64
)

// ServeConfig configures an object server.
type ServeConfig struct {
	// ===== Object Types & Objects =====

	// Registrations are added to a new registry in order. Ignored when
	// Registry is set.
	Registrations []Registration

	// Registry resolves object types. Default: built from Registrations.
	Registry *Registry

	// Scope holds the objects clients can fetch by name.
	// Default: an empty scope.
	Scope *Scope

	// ===== Server Configuration =====

	// Addr is the address to listen on.
	// Default: ":8080"
	Addr string

	// StreamSendBuffer is the number of server-to-client messages queued
	// per stream before object types block in OnData.
	// Default: 64
	StreamSendBuffer int

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int

	// RateLimit limits unary calls and stream opens per session (per peer
	// address before a session exists). Nil means unlimited.
	RateLimit *Rate

	// Listener, when set, is served instead of listening on Addr.
	Listener net.Listener

	// MaxGoroutines is the liveness threshold reported on /live.
	// Default: DefaultMaxGoroutines
	MaxGoroutines int

	// Logger receives server logs. Default: zap.NewNop().
	Logger *zap.Logger

	// Metrics records server metrics. Default: NewMetrics().
	Metrics *Metrics

	// ===== Lifecycle =====

	// GracefulShutdownTimeout is max time for graceful shutdown.
	// Default: 30 seconds
	GracefulShutdownTimeout time.Duration

	// Cleanup is called during graceful shutdown before the server stops.
	// If Cleanup returns error, it is logged but shutdown continues.
	Cleanup func(context.Context) error

	// StopCh signals server shutdown in Serve.
	// If nil, Serve runs until SIGTERM/SIGINT.
	StopCh <-chan struct{}
}

// Validate checks ServeConfig for errors.
func (cfg *ServeConfig) Validate() error {
	if cfg.Registry == nil && len(cfg.Registrations) == 0 {
		return fmt.Errorf("%w: Registry or Registrations must be set", ErrInvalidConfig)
	}
	if cfg.StreamSendBuffer < 0 {
		return fmt.Errorf("%w: StreamSendBuffer must be >= 0", ErrInvalidConfig)
	}
	if cfg.MaxSessions < 0 {
		return fmt.Errorf("%w: MaxSessions must be >= 0", ErrInvalidConfig)
	}
	if cfg.GracefulShutdownTimeout < 0 {
		return fmt.Errorf("%w: GracefulShutdownTimeout must be >= 0", ErrInvalidConfig)
	}
	if cfg.RateLimit != nil {
		if err := cfg.RateLimit.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *ServeConfig) applyDefaults() {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.GracefulShutdownTimeout == 0 {
		cfg.GracefulShutdownTimeout = DefaultGracefulShutdownTimeout
	}
	if cfg.StreamSendBuffer == 0 {
		cfg.StreamSendBuffer = DefaultStreamSendBuffer
	}
	if cfg.MaxGoroutines == 0 {
		cfg.MaxGoroutines = DefaultMaxGoroutines
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.Scope == nil {
		cfg.Scope = NewScope()
	}
}

// Server hosts the object service, metrics and health endpoints.
type Server struct {
	cfg      ServeConfig
	registry *Registry
	sessions *sessionManager
	limiter  *RateLimiter
	handler  http.Handler
	logger   *zap.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewServer builds a server from cfg. Defaults are applied to a copy.
func NewServer(cfg ServeConfig) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(cfg.Registrations, WithRegistryLogger(cfg.Logger))
	}
	sessions := newSessionManager(registry, cfg.MaxSessions, cfg.Metrics)

	svc := &ObjectService{
		registry:   registry,
		scope:      cfg.Scope,
		sessions:   sessions,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		sendBuffer: cfg.StreamSendBuffer,
	}

	var opts []connect.HandlerOption
	if cfg.RateLimit != nil {
		svc.limiter = NewRateLimiter(*cfg.RateLimit)
		opts = append(opts, connect.WithInterceptors(&rateLimitInterceptor{
			limiter:  svc.limiter,
			sessions: sessions,
			metrics:  cfg.Metrics,
			logger:   cfg.Logger,
		}))
	}

	mux := http.NewServeMux()
	path, handler := ObjectServiceHandler(svc, opts...)
	mux.Handle(path, handler)
	mux.Handle("/metrics", cfg.Metrics.Handler())

	health := newHealthHandler(cfg.Metrics, sessions, cfg.MaxGoroutines, cfg.MaxSessions)
	mux.Handle("/live", health)
	mux.Handle("/ready", health)

	return &Server{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		limiter:  svc.limiter,
		handler:  mux,
		logger:   cfg.Logger,
	}, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the server's object type registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Scope returns the server's named objects.
func (s *Server) Scope() *Scope {
	return s.cfg.Scope
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics {
	return s.cfg.Metrics
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

// Start listens on the configured address, or takes the configured
// Listener, and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("server already started")
	}

	ln := s.cfg.Listener
	if ln == nil {
		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
		}
	}

	// Bidi streams need HTTP/2; without TLS that means h2c.
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	srv := &http.Server{
		Handler:   s.handler,
		Protocols: &protocols,
	}
	s.srv = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("object server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop runs Cleanup, closes every session and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.cfg.Cleanup != nil {
		if err := s.cfg.Cleanup(ctx); err != nil {
			s.logger.Warn("cleanup failed", zap.Error(err))
		}
	}

	// Closing sessions ends their streams, which lets Shutdown drain.
	s.sessions.closeAll()

	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Serve serves cfg until StopCh closes or the process is signalled.
// This function blocks until the server is shut down.
func Serve(cfg *ServeConfig) error {
	s, err := NewServer(*cfg)
	if err != nil {
		return err
	}

	stopCh := cfg.StopCh
	if stopCh == nil {
		sigCh := make(chan os.Signal, 1)
		ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer ossignal.Stop(sigCh)

		shutdownCh := make(chan struct{})
		go func() {
			<-sigCh
			close(shutdownCh)
		}()
		stopCh = shutdownCh
	}

	if err := s.Start(context.Background()); err != nil {
		return err
	}

	<-stopCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownTimeout)
	defer cancel()
	return s.Stop(shutdownCtx)
}
