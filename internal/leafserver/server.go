// Package leafserver wires the lifetime controller, the gRPC transport, the
// request worker pool, service discovery and the admin HTTP server into one
// runnable leaf server.
package leafserver

import (
	"context"
	"fmt"
	"net"

	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"

	"github.com/kart-io/leaf-server/pkg/infra/app"
	"github.com/kart-io/leaf-server/pkg/infra/discovery/etcd"
	"github.com/kart-io/leaf-server/pkg/infra/pool"
	grpctransport "github.com/kart-io/leaf-server/pkg/infra/server/transport/grpc"
	"github.com/kart-io/leaf-server/pkg/lifetime"
	"github.com/kart-io/leaf-server/pkg/probe"
	"github.com/kart-io/leaf-server/pkg/serviceinfo"
)

// Option customizes a Server.
type Option func(*serverOptions)

type serverOptions struct {
	listener     net.Listener
	lifetimeOpts []lifetime.Option
	services     []serviceRegistration
	etcdClient   etcd.Client
}

type serviceRegistration struct {
	desc *grpc.ServiceDesc
	impl interface{}
}

// WithListener serves gRPC on lis instead of the configured address.
func WithListener(lis net.Listener) Option {
	return func(o *serverOptions) { o.listener = lis }
}

// WithLifetimeOptions passes options to the lifetime controller.
func WithLifetimeOptions(opts ...lifetime.Option) Option {
	return func(o *serverOptions) { o.lifetimeOpts = append(o.lifetimeOpts, opts...) }
}

// WithService registers an additional gRPC service next to the echo service.
func WithService(desc *grpc.ServiceDesc, impl interface{}) Option {
	return func(o *serverOptions) {
		o.services = append(o.services, serviceRegistration{desc: desc, impl: impl})
	}
}

// WithEtcdClient uses client for registration instead of dialing the
// configured endpoints.
func WithEtcdClient(client etcd.Client) Option {
	return func(o *serverOptions) { o.etcdClient = client }
}

// Server is a runnable leaf server.
type Server struct {
	cfg        *Config
	transport  *grpctransport.Server
	workers    *pool.Pool
	lifetime   *lifetime.Lifetime
	admin      *Admin
	registry   *prometheus.Registry
	info       *serviceinfo.Provider
	registrar  *etcd.Registrar
	etcdCloser *clientv3.Client
}

// New builds a server from cfg. Nothing listens until Run.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Server, error) {
	o := &serverOptions{}
	for _, opt := range opts {
		opt(o)
	}

	lt := cfg.LifetimeOptions
	workers, err := pool.NewPool("grpc-requests", pool.RequestPoolConfig(lt.MaxWorkers, lt.MaxConcurrentRPCs))
	if err != nil {
		return nil, fmt.Errorf("create request pool: %w", err)
	}

	transportOpts := []grpctransport.ServerOption{grpctransport.WithWorkerPool(workers)}
	if o.listener != nil {
		transportOpts = append(transportOpts, grpctransport.WithListener(o.listener))
	}
	transport := grpctransport.NewServer(cfg.GRPCOptions, transportOpts...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := workers.Register(registry); err != nil {
		workers.Release()
		return nil, fmt.Errorf("register request pool metrics: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		transport: transport,
		workers:   workers,
		registry:  registry,
	}

	lifetimeOpts := []lifetime.Option{
		lifetime.WithHealthReporter(transport.Health()),
		lifetime.WithMetrics(lifetime.NewMetrics(registry)),
	}
	if cfg.EtcdOptions != nil && cfg.EtcdOptions.Enabled {
		client := o.etcdClient
		if client == nil {
			cli, err := etcd.NewClient(ctx, cfg.EtcdOptions)
			if err != nil {
				workers.Release()
				return nil, err
			}
			s.etcdCloser = cli
			client = cli
		}
		s.registrar = etcd.NewRegistrar(client, cfg.EtcdOptions, lt.ServerName, cfg.advertiseAddr(), app.Version())
		lifetimeOpts = append(lifetimeOpts, lifetime.WithRegistrar(s.registrar))
	}
	lifetimeOpts = append(lifetimeOpts, o.lifetimeOpts...)

	s.lifetime, err = lifetime.New(lt.Config(), transport, lifetimeOpts...)
	if err != nil {
		workers.Release()
		s.closeEtcd()
		return nil, err
	}

	transport.Use(s.lifetime.UnaryServerInterceptor(), s.lifetime.StreamServerInterceptor())
	transport.RegisterService(&EchoServiceDesc, NewEchoService())
	for _, svc := range o.services {
		transport.RegisterService(svc.desc, svc.impl)
	}

	s.info = serviceinfo.New(lt.ServerName, s.lifetime.StartTime())
	if cfg.HTTPOptions != nil && cfg.HTTPOptions.Enabled {
		s.admin = NewAdmin(cfg.HTTPOptions, s.lifetime, s.info, registry, WithWorkerPool(workers))
	}
	return s, nil
}

// Lifetime returns the lifetime controller.
func (s *Server) Lifetime() *lifetime.Lifetime {
	return s.lifetime
}

// Transport returns the gRPC transport.
func (s *Server) Transport() *grpctransport.Server {
	return s.transport
}

// Admin returns the admin server, nil when disabled.
func (s *Server) Admin() *Admin {
	return s.admin
}

// Registry returns the Prometheus registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Info returns the service information provider.
func (s *Server) Info() *serviceinfo.Provider {
	return s.info
}

// Run serves until the request limit is reached or ctx is cancelled, then
// drains and stops. It returns once the gRPC server has stopped.
func (s *Server) Run(ctx context.Context) error {
	defer s.closeEtcd()

	if s.admin != nil {
		if err := s.admin.Start(ctx); err != nil {
			return fmt.Errorf("start admin server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.HTTPOptions.ShutdownTimeout)
			defer cancel()
			if err := s.admin.Stop(stopCtx); err != nil {
				logger.Warnw("Admin HTTP server did not stop cleanly", "error", err)
			}
		}()
	}

	probe.Probe(ctx, "ServiceInfo", s.info.Info())
	return s.lifetime.Run(ctx)
}

func (s *Server) closeEtcd() {
	if s.etcdCloser == nil {
		return
	}
	if err := s.etcdCloser.Close(); err != nil {
		logger.Warnw("Failed to close etcd client", "error", err)
	}
	s.etcdCloser = nil
}
