// Package app builds the leaf-server command.
package app

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/leaf-server/cmd/leaf-server/app/options"
	"github.com/kart-io/leaf-server/internal/leafserver"
	"github.com/kart-io/leaf-server/pkg/infra/app"
)

const (
	appName        = "leaf-server"
	appDescription = `Leaf gRPC server

Serves gRPC requests until an approximate request limit is reached, then
reports NOT_SERVING on the health service, drains in-flight requests and
exits so the orchestrator can start a fresh instance.

The limit is randomized by 10% either side per instance so replicas do not
restart together.

Examples:
  # Serve without a request limit
  leaf-server

  # Restart after about 10000 requests, 20 workers
  leaf-server --request-limit=10000 --max-workers=20

  # Register in etcd while serving
  leaf-server --etcd.enabled --etcd.endpoints=etcd:2379

Configuration:
  Configuration can be provided via:
  - Command-line flags (highest priority)
  - Environment variables (prefix: LEAF_SERVER_)
  - Configuration file (YAML)
  - Default values (lowest priority)`
)

// NewApp creates the leaf-server application.
func NewApp() *app.App {
	opts := options.NewServerOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithShortDescription("Leaf gRPC server with request-limited lifetime"),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func(ctx context.Context) error {
			return Run(ctx, opts)
		}),
	)
}

// Run starts the leaf server and blocks until it has shut down.
func Run(ctx context.Context, opts *options.ServerOptions) error {
	opts.LogOptions.WithService(opts.LifetimeOptions.ServerName, app.Version())
	if err := opts.LogOptions.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	server, err := leafserver.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Infof("Starting %s on %s...", opts.LifetimeOptions.ServerName, opts.GRPCOptions.Addr)
	return server.Run(ctx)
}
