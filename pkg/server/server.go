// Package server runs a gRPC server with the standard interceptor chain
// (panic recovery, prometheus metrics, request logging) and an optional
// metrics HTTP endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"

	"github.com/protogate/protogate/pkg/interceptor"
	"github.com/protogate/protogate/pkg/logging"
)

// Server errors.
var (
	// ErrServerNotRunning is returned when attempting operations on a stopped server.
	ErrServerNotRunning = errors.New("server is not running")

	// ErrServerAlreadyRunning is returned when attempting to start a running server.
	ErrServerAlreadyRunning = errors.New("server is already running")
)

// DefaultGracePeriod bounds graceful shutdown before in-flight calls are cut.
const DefaultGracePeriod = 5 * time.Second

// Config holds the server settings.
type Config struct {
	// Addr is the listen address, e.g. ":9000".
	Addr string

	// MetricsAddr serves prometheus metrics over HTTP at /metrics when set.
	MetricsAddr string

	// Reflection registers the reflection service when true.
	Reflection bool

	// GracePeriod bounds graceful shutdown. Zero means DefaultGracePeriod.
	GracePeriod time.Duration

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// Option configures server construction.
type Option func(*Server)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithUnaryInterceptors appends interceptors after the standard chain.
func WithUnaryInterceptors(chain ...grpc.UnaryServerInterceptor) Option {
	return func(s *Server) { s.extraUnary = append(s.extraUnary, chain...) }
}

// WithServerOptions appends raw grpc.ServerOptions.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(s *Server) { s.extraOpts = append(s.extraOpts, opts...) }
}

// Server is a gRPC server with a metrics sidecar endpoint. Register services
// on GRPC() before calling Start.
type Server struct {
	cfg        Config
	log        *slog.Logger
	registry   *prometheus.Registry
	extraUnary []grpc.UnaryServerInterceptor
	extraOpts  []grpc.ServerOption

	grpcServer      *grpc.Server
	listener        net.Listener
	metricsServer   *http.Server
	metricsListener net.Listener

	mu        sync.Mutex
	running   bool
	startedAt time.Time
}

// New builds the server. The standard interceptor chain is installed first:
// metrics, then logging, then recovery. Recovery sits innermost so a panic
// becomes an error return that metrics and logging still observe. Extra
// interceptors run inside recovery.
func New(cfg Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		log:      logging.Nop(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	metrics := interceptor.NewServerMetrics(s.registry)
	chain := []grpc.UnaryServerInterceptor{
		metrics.UnaryInterceptor(),
		interceptor.UnaryServerLogging(s.log),
		interceptor.UnaryServerRecovery(s.log),
	}
	chain = append(chain, s.extraUnary...)

	serverOpts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(chain...)}
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS credentials: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	serverOpts = append(serverOpts, s.extraOpts...)

	s.grpcServer = grpc.NewServer(serverOpts...)
	return s, nil
}

// GRPC returns the underlying server for service registration. Registration
// must happen before Start.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// Registry returns the prometheus registry backing the metrics endpoint.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start begins serving. It does not block; serving errors after a clean start
// are logged.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServerAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener

	if s.cfg.Reflection {
		reflection.Register(s.grpcServer)
	}

	go func() {
		if err := s.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("grpc server error", "error", err)
		}
	}()

	if s.cfg.MetricsAddr != "" {
		if err := s.startMetrics(); err != nil {
			s.grpcServer.Stop()
			return err
		}
	}

	s.running = true
	s.startedAt = time.Now()
	s.log.Info("server started", "addr", listener.Addr().String())
	return nil
}

func (s *Server) startMetrics() error {
	listener, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.MetricsAddr, err)
	}
	s.metricsListener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.metricsServer = &http.Server{Handler: mux}
	go func() {
		if err := s.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully, forcing the stop once the grace
// period or the context expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	grace := s.cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.grpcServer.Stop()
	case <-ctx.Done():
		s.grpcServer.Stop()
	}

	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("metrics server shutdown", "error", err)
		}
		s.metricsServer = nil
	}

	s.running = false
	s.startedAt = time.Time{}
	s.log.Info("server stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the gRPC listen address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// MetricsAddr returns the metrics listen address, empty when disabled.
func (s *Server) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsListener == nil {
		return ""
	}
	return s.metricsListener.Addr().String()
}
