// Package grpc provides gRPC server configuration options.
package grpc

import (
	"fmt"
	"math"

	"github.com/spf13/pflag"

	"github.com/kart-io/leaf-server/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains gRPC server configuration.
type Options struct {
	// Addr is the address to listen on.
	Addr string `json:"addr" mapstructure:"addr"`
	// MaxRecvMsgSize is the maximum message size in bytes the server can receive.
	MaxRecvMsgSize int `json:"max-recv-msg-size" mapstructure:"max-recv-msg-size"`
	// MaxSendMsgSize is the maximum message size in bytes the server can send.
	MaxSendMsgSize int `json:"max-send-msg-size" mapstructure:"max-send-msg-size"`
	// EnableReflection enables gRPC server reflection for tools like grpcurl.
	EnableReflection bool `json:"enable-reflection" mapstructure:"enable-reflection"`
	// EnableTracing installs the OpenTelemetry stats handler.
	EnableTracing bool `json:"enable-tracing" mapstructure:"enable-tracing"`
}

// Option is a function that configures Options.
type Option func(*Options)

// NewOptions creates a new Options with default values.
// Message sizes default to the largest gRPC accepts.
func NewOptions() *Options {
	return &Options{
		Addr:             ":50051",
		MaxRecvMsgSize:   math.MaxInt32,
		MaxSendMsgSize:   math.MaxInt32,
		EnableReflection: true,
		EnableTracing:    true,
	}
}

// AddFlags adds flags for gRPC options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Addr, p+"grpc.addr", o.Addr, "gRPC server listen address")
	fs.IntVar(&o.MaxRecvMsgSize, p+"grpc.max-recv-msg-size", o.MaxRecvMsgSize, "gRPC max receive message size in bytes")
	fs.IntVar(&o.MaxSendMsgSize, p+"grpc.max-send-msg-size", o.MaxSendMsgSize, "gRPC max send message size in bytes")
	fs.BoolVar(&o.EnableReflection, p+"grpc.enable-reflection", o.EnableReflection, "Enable gRPC server reflection")
	fs.BoolVar(&o.EnableTracing, p+"grpc.enable-tracing", o.EnableTracing, "Instrument the gRPC server with OpenTelemetry")
}

// Validate validates the gRPC options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Addr == "" {
		errs = append(errs, fmt.Errorf("grpc.addr cannot be empty"))
	}
	if o.MaxRecvMsgSize <= 0 {
		errs = append(errs, fmt.Errorf("grpc.max-recv-msg-size must be positive"))
	}
	if o.MaxSendMsgSize <= 0 {
		errs = append(errs, fmt.Errorf("grpc.max-send-msg-size must be positive"))
	}
	return errs
}

// Complete completes the gRPC options with defaults.
func (o *Options) Complete() error {
	return nil
}

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Options) {
		o.Addr = addr
	}
}

// WithMaxRecvMsgSize sets the max receive message size.
func WithMaxRecvMsgSize(size int) Option {
	return func(o *Options) {
		o.MaxRecvMsgSize = size
	}
}

// WithMaxSendMsgSize sets the max send message size.
func WithMaxSendMsgSize(size int) Option {
	return func(o *Options) {
		o.MaxSendMsgSize = size
	}
}

// WithReflection enables or disables gRPC reflection.
func WithReflection(enable bool) Option {
	return func(o *Options) {
		o.EnableReflection = enable
	}
}

// WithTracing enables or disables the OpenTelemetry stats handler.
func WithTracing(enable bool) Option {
	return func(o *Options) {
		o.EnableTracing = enable
	}
}

// ApplyOptions applies the given options to the Options.
func (o *Options) ApplyOptions(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}
