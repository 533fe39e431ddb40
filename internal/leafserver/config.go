package leafserver

import (
	etcdopts "github.com/kart-io/leaf-server/pkg/options/etcd"
	lifetimeopts "github.com/kart-io/leaf-server/pkg/options/lifetime"
	logopts "github.com/kart-io/leaf-server/pkg/options/logger"
	grpcopts "github.com/kart-io/leaf-server/pkg/options/server/grpc"
	httpopts "github.com/kart-io/leaf-server/pkg/options/server/http"
)

// Config is the completed configuration of a leaf server.
type Config struct {
	GRPCOptions     *grpcopts.Options
	HTTPOptions     *httpopts.Options
	LifetimeOptions *lifetimeopts.Options
	EtcdOptions     *etcdopts.Options
	LogOptions      *logopts.Options
}

// NewConfig returns a Config with default options.
func NewConfig() *Config {
	return &Config{
		GRPCOptions:     grpcopts.NewOptions(),
		HTTPOptions:     httpopts.NewOptions(),
		LifetimeOptions: lifetimeopts.NewOptions(),
		EtcdOptions:     etcdopts.NewOptions(),
		LogOptions:      logopts.NewOptions(),
	}
}

// advertiseAddr is the address registered in service discovery.
func (c *Config) advertiseAddr() string {
	if c.EtcdOptions.AdvertiseAddr != "" {
		return c.EtcdOptions.AdvertiseAddr
	}
	return c.GRPCOptions.Addr
}
