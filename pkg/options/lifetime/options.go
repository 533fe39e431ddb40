// Package lifetime provides the request limit, worker and shutdown options
// of a leaf server.
package lifetime

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/leaf-server/pkg/lifetime"
	"github.com/kart-io/leaf-server/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains the lifetime configuration.
type Options struct {
	ServerName        string `json:"server-name" mapstructure:"server-name"`
	ServerNameForLogs string `json:"server-name-for-logs" mapstructure:"server-name-for-logs"`
	// RequestLimit is the approximate number of requests served before
	// the server shuts itself down. -1 means unlimited.
	RequestLimit int `json:"request-limit" mapstructure:"request-limit"`
	// MaxWorkers is the number of requests handled at once.
	MaxWorkers int `json:"max-workers" mapstructure:"max-workers"`
	// MaxConcurrentRPCs caps accepted requests, running plus waiting.
	// 0 means no cap.
	MaxConcurrentRPCs  int           `json:"max-concurrent-rpcs" mapstructure:"max-concurrent-rpcs"`
	LoopSleep          time.Duration `json:"loop-sleep" mapstructure:"loop-sleep"`
	DrainInterval      time.Duration `json:"drain-interval" mapstructure:"drain-interval"`
	DrainMaxIntervals  int           `json:"drain-max-intervals" mapstructure:"drain-max-intervals"`
	StopGrace          time.Duration `json:"stop-grace" mapstructure:"stop-grace"`
	LogRequestMetadata bool          `json:"log-request-metadata" mapstructure:"log-request-metadata"`
}

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		ServerName:        "leaf-server",
		RequestLimit:      lifetime.Unlimited,
		MaxWorkers:        10,
		LoopSleep:         lifetime.DefaultLoopSleep,
		DrainInterval:     lifetime.DefaultDrainInterval,
		DrainMaxIntervals: lifetime.DefaultDrainMaxIntervals,
	}
}

// AddFlags adds flags for lifetime options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.ServerName, p+"server-name", o.ServerName, "Name of the server, used for health reporting and discovery")
	fs.StringVar(&o.ServerNameForLogs, p+"server-name-for-logs", o.ServerNameForLogs, "Name attached to request log lines (default: server-name)")
	fs.IntVar(&o.RequestLimit, p+"request-limit", o.RequestLimit, "Approximate number of requests served before the server restarts itself, -1 for no limit")
	fs.IntVar(&o.MaxWorkers, p+"max-workers", o.MaxWorkers, "Number of requests handled at once")
	fs.IntVar(&o.MaxConcurrentRPCs, p+"max-concurrent-rpcs", o.MaxConcurrentRPCs, "Maximum number of accepted requests, 0 for no limit")
	fs.DurationVar(&o.LoopSleep, p+"loop-sleep", o.LoopSleep, "Pause between checks of the serving state")
	fs.DurationVar(&o.DrainInterval, p+"drain-interval", o.DrainInterval, "Pause between checks for in-flight requests while draining")
	fs.IntVar(&o.DrainMaxIntervals, p+"drain-max-intervals", o.DrainMaxIntervals, "Maximum number of drain intervals before stopping anyway")
	fs.DurationVar(&o.StopGrace, p+"stop-grace", o.StopGrace, "Time in-flight RPCs get when the transport stops, 0 to stop immediately")
	fs.BoolVar(&o.LogRequestMetadata, p+"log-request-metadata", o.LogRequestMetadata, "Log the incoming metadata of every request")
}

// Validate validates the lifetime options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ServerName == "" {
		errs = append(errs, fmt.Errorf("server-name cannot be empty"))
	}
	if o.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("max-workers must be positive, got %d", o.MaxWorkers))
	}
	if o.MaxConcurrentRPCs < 0 {
		errs = append(errs, fmt.Errorf("max-concurrent-rpcs must not be negative, got %d", o.MaxConcurrentRPCs))
	}
	if err := o.Config().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// Complete fills ServerNameForLogs from ServerName.
func (o *Options) Complete() error {
	if o.ServerNameForLogs == "" {
		o.ServerNameForLogs = o.ServerName
	}
	return nil
}

// Config converts the options to a lifetime.Config.
func (o *Options) Config() lifetime.Config {
	return lifetime.Config{
		ServerName:         o.ServerName,
		ServerNameForLogs:  o.ServerNameForLogs,
		RequestLimit:       o.RequestLimit,
		LoopSleep:          o.LoopSleep,
		DrainInterval:      o.DrainInterval,
		DrainMaxIntervals:  o.DrainMaxIntervals,
		StopGrace:          o.StopGrace,
		LogRequestMetadata: o.LogRequestMetadata,
		HealthServices:     []string{o.ServerName},
	}
}
