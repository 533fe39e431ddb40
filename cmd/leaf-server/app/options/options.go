// Package options contains flags and options for initializing the leaf server.
package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/leaf-server/internal/leafserver"
	"github.com/kart-io/leaf-server/pkg/infra/app"
	genericoptions "github.com/kart-io/leaf-server/pkg/options"
	etcdopts "github.com/kart-io/leaf-server/pkg/options/etcd"
	lifetimeopts "github.com/kart-io/leaf-server/pkg/options/lifetime"
	logopts "github.com/kart-io/leaf-server/pkg/options/logger"
	grpcopts "github.com/kart-io/leaf-server/pkg/options/server/grpc"
	httpopts "github.com/kart-io/leaf-server/pkg/options/server/http"
)

var _ app.CliOptions = (*ServerOptions)(nil)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// GRPCOptions contains gRPC server configuration.
	GRPCOptions *grpcopts.Options `json:"grpc" mapstructure:"grpc"`

	// HTTPOptions contains admin HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LifetimeOptions contains request limit, worker and shutdown configuration.
	LifetimeOptions *lifetimeopts.Options `json:"lifetime" mapstructure:"lifetime"`

	// EtcdOptions contains service discovery configuration.
	EtcdOptions *etcdopts.Options `json:"etcd" mapstructure:"etcd"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		GRPCOptions:     grpcopts.NewOptions(),
		HTTPOptions:     httpopts.NewOptions(),
		LifetimeOptions: lifetimeopts.NewOptions(),
		EtcdOptions:     etcdopts.NewOptions(),
		LogOptions:      logopts.NewOptions(),
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss app.NamedFlagSets) {
	o.LifetimeOptions.AddFlags(fss.FlagSet("lifetime"))
	o.GRPCOptions.AddFlags(fss.FlagSet("grpc"))
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.EtcdOptions.AddFlags(fss.FlagSet("etcd"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.LifetimeOptions.Complete(); err != nil {
		return err
	}
	if err := o.GRPCOptions.Complete(); err != nil {
		return err
	}
	if err := o.HTTPOptions.Complete(); err != nil {
		return err
	}
	return o.EtcdOptions.Complete()
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	return utilerrors.NewAggregate(genericoptions.ValidateAll(
		o.LifetimeOptions,
		o.GRPCOptions,
		o.HTTPOptions,
		o.EtcdOptions,
		o.LogOptions,
	))
}

// Config builds a leafserver.Config based on ServerOptions.
func (o *ServerOptions) Config() (*leafserver.Config, error) {
	return &leafserver.Config{
		GRPCOptions:     o.GRPCOptions,
		HTTPOptions:     o.HTTPOptions,
		LifetimeOptions: o.LifetimeOptions,
		EtcdOptions:     o.EtcdOptions,
		LogOptions:      o.LogOptions,
	}, nil
}
