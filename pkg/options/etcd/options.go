// Package etcd holds the service discovery options.
package etcd

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/pflag"

	"github.com/kart-io/leaf-server/pkg/options"
)

// redactedPassword is the placeholder used when serializing passwords.
const redactedPassword = "[REDACTED]"

var _ options.IOptions = (*Options)(nil)

// Options defines configuration options for Etcd.
type Options struct {
	// Enabled turns service registration on.
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	Endpoints      []string      `json:"endpoints" mapstructure:"endpoints"`
	Username       string        `json:"username" mapstructure:"username"`
	Password       string        `json:"-" mapstructure:"password"` // Excluded from JSON serialization
	DialTimeout    time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`
	LeaseTTL       int64         `json:"lease-ttl" mapstructure:"lease-ttl"`
	KeyPrefix      string        `json:"key-prefix" mapstructure:"key-prefix"`
	// AdvertiseAddr is the address other services dial. Defaults to the
	// gRPC listen address.
	AdvertiseAddr string `json:"advertise-addr" mapstructure:"advertise-addr"`
}

type optionsForJSON struct {
	Enabled        bool          `json:"enabled"`
	Endpoints      []string      `json:"endpoints"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	DialTimeout    time.Duration `json:"dial-timeout"`
	RequestTimeout time.Duration `json:"request-timeout"`
	LeaseTTL       int64         `json:"lease-ttl"`
	KeyPrefix      string        `json:"key-prefix"`
	AdvertiseAddr  string        `json:"advertise-addr"`
}

func (o *Options) redacted() string {
	if o.Password == "" {
		return ""
	}
	return redactedPassword
}

// MarshalJSON implements json.Marshaler with password redaction.
func (o *Options) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(optionsForJSON{
		Enabled:        o.Enabled,
		Endpoints:      o.Endpoints,
		Username:       o.Username,
		Password:       o.redacted(),
		DialTimeout:    o.DialTimeout,
		RequestTimeout: o.RequestTimeout,
		LeaseTTL:       o.LeaseTTL,
		KeyPrefix:      o.KeyPrefix,
		AdvertiseAddr:  o.AdvertiseAddr,
	})
}

// String returns a string representation with password redacted.
func (o *Options) String() string {
	return fmt.Sprintf("Etcd{endpoints=%v, user=%s, password=%s, prefix=%s}",
		o.Endpoints, o.Username, o.redacted(), o.KeyPrefix)
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Endpoints:      []string{"127.0.0.1:2379"},
		DialTimeout:    5 * time.Second,
		RequestTimeout: 2 * time.Second,
		LeaseTTL:       10,
		KeyPrefix:      "/leaf/services",
	}
}

// Complete reads the password from ETCD_PASSWORD when it is not set.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("ETCD_PASSWORD")
	}
	return nil
}

// Validate checks the options. Disabled options are always valid.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if len(o.Endpoints) == 0 {
		errs = append(errs, fmt.Errorf("etcd.endpoints cannot be empty"))
	}
	if o.LeaseTTL <= 0 {
		errs = append(errs, fmt.Errorf("etcd.lease-ttl must be positive"))
	}
	if o.KeyPrefix == "" {
		errs = append(errs, fmt.Errorf("etcd.key-prefix cannot be empty"))
	}
	return errs
}

// AddFlags adds flags for Etcd options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "etcd."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Register this instance in etcd while it serves")
	fs.StringSliceVar(&o.Endpoints, p+"endpoints", o.Endpoints, "Etcd endpoints")
	fs.StringVar(&o.Username, p+"username", o.Username, "Etcd username")
	fs.StringVar(&o.Password, p+"password", o.Password, "Etcd password (DEPRECATED: use ETCD_PASSWORD env var instead)")
	fs.DurationVar(&o.DialTimeout, p+"dial-timeout", o.DialTimeout, "Etcd dial timeout")
	fs.DurationVar(&o.RequestTimeout, p+"request-timeout", o.RequestTimeout, "Etcd request timeout")
	fs.Int64Var(&o.LeaseTTL, p+"lease-ttl", o.LeaseTTL, "Lease TTL in seconds of the instance key")
	fs.StringVar(&o.KeyPrefix, p+"key-prefix", o.KeyPrefix, "Key prefix under which instances are registered")
	fs.StringVar(&o.AdvertiseAddr, p+"advertise-addr", o.AdvertiseAddr, "Address announced to other services (default: grpc.addr)")
}
