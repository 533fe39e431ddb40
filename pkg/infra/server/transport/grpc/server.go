// Package grpc is the gRPC transport of the leaf server: listener, health
// service, reflection, worker pool and interceptor chain.
package grpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	leaferrors "github.com/kart-io/leaf-server/pkg/errors"
	"github.com/kart-io/leaf-server/pkg/infra/pool"
	"github.com/kart-io/leaf-server/pkg/lifetime"
	grpcopts "github.com/kart-io/leaf-server/pkg/options/server/grpc"
)

// Re-export types from options package for convenience
type (
	// Options contains gRPC server configuration.
	Options = grpcopts.Options
)

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithListener serves on lis instead of listening on Options.Addr.
func WithListener(lis net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = lis
	}
}

// WithWorkerPool runs every handler except health checks on p. The server
// releases p when it stops.
func WithWorkerPool(p *pool.Pool) ServerOption {
	return func(s *Server) {
		s.pool = p
	}
}

// WithUnaryInterceptors appends unary interceptors after the pool interceptor.
func WithUnaryInterceptors(in ...grpc.UnaryServerInterceptor) ServerOption {
	return func(s *Server) {
		s.unary = append(s.unary, in...)
	}
}

// WithStreamInterceptors appends stream interceptors after the pool interceptor.
func WithStreamInterceptors(in ...grpc.StreamServerInterceptor) ServerOption {
	return func(s *Server) {
		s.stream = append(s.stream, in...)
	}
}

type serviceRegistration struct {
	desc *grpc.ServiceDesc
	impl interface{}
}

// Server is the gRPC transport. The grpc.Server is built on Start so that
// interceptors and services can be added after construction.
type Server struct {
	opts     *grpcopts.Options
	health   *health.Server
	pool     *pool.Pool
	unary    []grpc.UnaryServerInterceptor
	stream   []grpc.StreamServerInterceptor
	services []serviceRegistration

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
}

// NewServer creates a gRPC transport. A nil opts uses the defaults.
func NewServer(opts *grpcopts.Options, serverOpts ...ServerOption) *Server {
	if opts == nil {
		opts = grpcopts.NewOptions()
	}
	s := &Server{
		opts:   opts,
		health: health.NewServer(),
	}
	for _, o := range serverOpts {
		o(s)
	}
	return s
}

// Name returns the transport name.
func (s *Server) Name() string {
	return "grpc"
}

// Use appends interceptors. It has no effect once the server started.
func (s *Server) Use(unary grpc.UnaryServerInterceptor, stream grpc.StreamServerInterceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unary != nil {
		s.unary = append(s.unary, unary)
	}
	if stream != nil {
		s.stream = append(s.stream, stream)
	}
}

// RegisterService queues a service for registration on Start.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, serviceRegistration{desc: desc, impl: impl})
}

// Health returns the health service. It satisfies lifetime.HealthReporter.
func (s *Server) Health() *health.Server {
	return s.health
}

// Server returns the underlying grpc.Server, nil before Start.
func (s *Server) Server() *grpc.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) build() *grpc.Server {
	unary := s.unary
	stream := s.stream
	if s.pool != nil {
		unary = append([]grpc.UnaryServerInterceptor{poolUnaryInterceptor(s.pool)}, unary...)
		stream = append([]grpc.StreamServerInterceptor{poolStreamInterceptor(s.pool)}, stream...)
	}

	grpcOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(s.opts.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(s.opts.MaxSendMsgSize),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
	if s.opts.EnableTracing {
		grpcOpts = append(grpcOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}

	srv := grpc.NewServer(grpcOpts...)
	healthpb.RegisterHealthServer(srv, s.health)
	for _, svc := range s.services {
		srv.RegisterService(svc.desc, svc.impl)
	}
	if s.opts.EnableReflection {
		reflection.Register(srv)
	}
	return srv
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.New("grpc server already started")
	}
	srv := s.build()
	if s.listener == nil {
		lis, err := net.Listen("tcp", s.opts.Addr)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.listener = lis
	}
	s.server = srv
	lis := s.listener
	s.mu.Unlock()

	logger.Infof("Starting gRPC server on %s...", lis.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Errorw("gRPC server stopped serving", "error", err)
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		srv.Stop()
		return ctx.Err()
	default:
		return nil
	}
}

// Stop stops the server gracefully. When ctx is done first the remaining
// RPCs are cancelled; that is a normal stop, not an error.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-ctx.Done():
		srv.Stop()
		<-done
		logger.Infow("gRPC server stopped without waiting for in-flight RPCs")
	case <-done:
	}

	if s.pool != nil {
		if err := s.pool.ReleaseTimeout(poolReleaseTimeout); err != nil {
			logger.Warnw("Request handlers still running after stop", "error", err)
		}
	}
	return nil
}

// poolReleaseTimeout bounds the wait for handlers still on a pool worker
// after the server stopped.
const poolReleaseTimeout = 5 * time.Second

// pool-bypassing methods; health checks must answer under load.
func bypassPool(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/")
}

func poolError(err error) error {
	switch {
	case errors.Is(err, pool.ErrPoolOverload):
		return leaferrors.ErrWorkerPoolOverload.WithCause(err)
	case errors.Is(err, pool.ErrPoolClosed):
		return leaferrors.ErrServiceUnavailable.WithCause(err)
	default:
		return leaferrors.ErrInternal.WithCause(err)
	}
}

// runOnPool runs fn on a pool worker and waits for it. A panic in fn is
// reported as an internal error.
func runOnPool(ctx context.Context, p *pool.Pool, fn func() error) error {
	var err error
	done := make(chan struct{})
	submitErr := p.Submit(func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("gRPC handler panic recovered", "panic", r)
				err = leaferrors.ErrInternal
			}
		}()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = status.FromContextError(ctxErr).Err()
			return
		}
		err = fn()
	})
	if submitErr != nil {
		return poolError(submitErr)
	}
	<-done
	return err
}

func poolUnaryInterceptor(p *pool.Pool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if bypassPool(info.FullMethod) {
			return handler(ctx, req)
		}
		var resp interface{}
		err := runOnPool(ctx, p, func() error {
			var herr error
			resp, herr = handler(ctx, req)
			return herr
		})
		return resp, err
	}
}

func poolStreamInterceptor(p *pool.Pool) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if bypassPool(info.FullMethod) {
			return handler(srv, ss)
		}
		return runOnPool(ss.Context(), p, func() error {
			return handler(srv, ss)
		})
	}
}

var (
	_ lifetime.Transport      = (*Server)(nil)
	_ lifetime.HealthReporter = (*health.Server)(nil)
)
