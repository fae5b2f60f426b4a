// Package grpc runs the operational gRPC endpoint of the server: the
// standard health service mirrored from database readiness, server
// reflection outside production, and the interceptor chain (recover,
// logging, metrics, access tokens) any service registered on it goes
// through.
package grpc

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
	"github.com/dmitrijs2005/crmkeeper/internal/server/metrics"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Authenticator validates raw access tokens.
type Authenticator interface {
	Authenticate(token string) (auth.Principal, error)
}

// Pinger is the readiness probe mirrored into the health service.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	address     string
	logger      logging.Logger
	access      Authenticator
	health      *health.Server
	srvMetrics  *grpc_prometheus.ServerMetrics
	srv         *grpc.Server
	reflection  bool
	ready       Pinger
	readyPeriod time.Duration
}

// Option customises a Server.
type Option func(*Server)

// WithMetrics exports per-method server metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		sm := grpc_prometheus.NewServerMetrics()
		sm.EnableHandlingTimeHistogram()
		if err := m.Register(sm); err == nil {
			s.srvMetrics = sm
		}
	}
}

// WithReflection registers the reflection service.
func WithReflection(enabled bool) Option {
	return func(s *Server) { s.reflection = enabled }
}

// WithReadiness pings p every period and reports the result through the
// health service. Without it the server is SERVING while it runs.
func WithReadiness(p Pinger, period time.Duration) Option {
	return func(s *Server) {
		s.ready = p
		s.readyPeriod = period
	}
}

func NewServer(address string, l logging.Logger, access Authenticator, opts ...Option) *Server {
	s := &Server{
		address:     address,
		logger:      l.With("module", "grpc_server"),
		access:      access,
		health:      health.NewServer(),
		readyPeriod: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	unary := []grpc.UnaryServerInterceptor{
		recoverInterceptor(s.logger),
		loggingInterceptor(s.logger),
	}
	var stream []grpc.StreamServerInterceptor
	if s.srvMetrics != nil {
		unary = append(unary, s.srvMetrics.UnaryServerInterceptor())
		stream = append(stream, s.srvMetrics.StreamServerInterceptor())
	}
	unary = append(unary, s.accessTokenInterceptor)

	s.srv = grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)
	healthpb.RegisterHealthServer(s.srv, s.health)
	if s.reflection {
		reflection.Register(s.srv)
	}
	if s.srvMetrics != nil {
		s.srvMetrics.InitializeMetrics(s.srv)
	}
	return s
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.setServing(ctx, s.ready == nil || s.ready.PingContext(ctx) == nil)
	if s.ready != nil {
		go s.watchReadiness(ctx)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		s.srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) watchReadiness(ctx context.Context) {
	t := time.NewTicker(s.readyPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.readyPeriod)
			err := s.ready.PingContext(pingCtx)
			cancel()
			if err != nil {
				s.logger.Warn(ctx, "readiness check failed", "error", err)
			}
			s.setServing(ctx, err == nil)
		}
	}
}

func (s *Server) setServing(ctx context.Context, ok bool) {
	if ctx.Err() != nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
}

// RegisterService exposes the underlying registrar for additional services;
// they are subject to the access-token interceptor.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl any) {
	s.srv.RegisterService(desc, impl)
}
