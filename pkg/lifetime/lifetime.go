package lifetime

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/leaf-server/pkg/errors"
)

const (
	// DefaultLoopSleep is the pause between poll loop iterations.
	DefaultLoopSleep = time.Minute
	// DefaultDeregisterTimeout bounds the discovery deregistration call.
	DefaultDeregisterTimeout = 5 * time.Second
)

// Config holds the lifetime settings.
type Config struct {
	// ServerName identifies the server in lifecycle log lines.
	ServerName string
	// ServerNameForLogs is attached to every request log line as "source".
	ServerNameForLogs string
	// RequestLimit is the approximate number of requests served before the
	// server stops; -1 disables the limit.
	RequestLimit int
	// LoopSleep is the pause between poll loop iterations.
	LoopSleep time.Duration
	// DrainInterval and DrainMaxIntervals bound the wait for in-flight
	// requests after the server stops serving.
	DrainInterval     time.Duration
	DrainMaxIntervals int
	// StopGrace is how long in-flight RPCs may finish when the transport is
	// stopped. Zero stops immediately.
	StopGrace time.Duration
	// LogRequestMetadata logs the full incoming metadata of every request.
	LogRequestMetadata bool
	// HealthServices are published on the health service next to "".
	HealthServices []string
}

// DefaultConfig returns the defaults for an unlimited server.
func DefaultConfig() Config {
	return Config{
		ServerName:        "leaf-server",
		ServerNameForLogs: "leaf-server",
		RequestLimit:      Unlimited,
		LoopSleep:         DefaultLoopSleep,
		DrainInterval:     DefaultDrainInterval,
		DrainMaxIntervals: DefaultDrainMaxIntervals,
	}
}

// Validate checks the settings that New cannot default.
func (c Config) Validate() error {
	if err := validateLimit(c.RequestLimit); err != nil {
		return err
	}
	switch {
	case c.LoopSleep <= 0:
		return errors.ErrConfigInvalid.WithMessagef("loop sleep must be positive, got %s", c.LoopSleep)
	case c.DrainInterval < 0:
		return errors.ErrConfigInvalid.WithMessagef("drain interval must not be negative, got %s", c.DrainInterval)
	case c.DrainMaxIntervals < 0:
		return errors.ErrConfigInvalid.WithMessagef("drain max intervals must not be negative, got %d", c.DrainMaxIntervals)
	case c.StopGrace < 0:
		return errors.ErrConfigInvalid.WithMessagef("stop grace must not be negative, got %s", c.StopGrace)
	}
	return nil
}

// Option configures a Lifetime.
type Option func(*Lifetime)

// WithHealthReporter publishes health transitions to r.
func WithHealthReporter(r HealthReporter) Option {
	return func(l *Lifetime) { l.reporter = r }
}

// WithCallbacks sets the poll loop and shutdown hooks.
func WithCallbacks(cb LoopCallbacks) Option {
	return func(l *Lifetime) {
		if cb != nil {
			l.callbacks = cb
		}
	}
}

// WithRegistrar announces the instance to service discovery while serving.
func WithRegistrar(r Registrar) Option {
	return func(l *Lifetime) { l.registrar = r }
}

// WithMetrics exports counters to Prometheus.
func WithMetrics(m *Metrics) Option {
	return func(l *Lifetime) { l.metrics = m }
}

// WithSchedulerOptions tunes how the shutdown threshold is drawn.
func WithSchedulerOptions(opts ...SchedulerOption) Option {
	return func(l *Lifetime) { l.schedulerOpts = append(l.schedulerOpts, opts...) }
}

// WithDrainSleep replaces the sleep used between drain checks.
func WithDrainSleep(sleep func(time.Duration)) Option {
	return func(l *Lifetime) { l.drainSleep = sleep }
}

// Lifetime admits requests, decides when the server stops serving, and runs
// the startup, poll, drain and stop sequence.
type Lifetime struct {
	cfg       Config
	transport Transport
	startTime time.Time

	stats     *StatsTable
	scheduler *Scheduler
	health    *HealthSignal

	reporter      HealthReporter
	callbacks     LoopCallbacks
	registrar     Registrar
	metrics       *Metrics
	schedulerOpts []SchedulerOption
	drainSleep    func(time.Duration)
}

// New builds a Lifetime around transport. The health reporter, if any, is
// set to NOT_SERVING immediately.
func New(cfg Config, transport Transport, opts ...Option) (*Lifetime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, errors.ErrConfigInvalid.WithMessage("transport is required")
	}
	if cfg.ServerNameForLogs == "" {
		cfg.ServerNameForLogs = cfg.ServerName
	}

	l := &Lifetime{
		cfg:       cfg,
		transport: transport,
		startTime: time.Now(),
		stats:     NewStatsTable(),
		callbacks: NoopCallbacks{},
	}
	for _, opt := range opts {
		opt(l)
	}

	scheduler, err := NewScheduler(cfg.RequestLimit, l.schedulerOpts...)
	if err != nil {
		return nil, err
	}
	l.scheduler = scheduler
	l.health = NewHealthSignal(l.reporter, cfg.HealthServices...)

	l.metrics.recordThreshold(scheduler.Threshold())
	l.stats.update(l.metrics.observe)

	if !scheduler.Unlimited() {
		lower, upper := scheduler.Bounds()
		logger.Infow(fmt.Sprintf("Shutting down in %d requests.", scheduler.Threshold()),
			"server", cfg.ServerName,
			"limit", cfg.RequestLimit,
			"lower", lower,
			"upper", upper,
		)
	}

	return l, nil
}

// Run starts the transport, marks the server SERVING, polls until the
// server stops serving or ctx is cancelled, drains in-flight requests, runs
// the shutdown callback and stops the transport.
func (l *Lifetime) Run(ctx context.Context) error {
	logger.Infof("Starting %s...", l.cfg.ServerName)
	if err := l.transport.Start(ctx); err != nil {
		l.StopServing()
		return err
	}

	l.health.MarkServing()
	l.stats.update(l.metrics.observe)
	logger.Infof("%s started.", l.cfg.ServerName)

	// ctx is usually cancelled by now; shutdown work must still complete.
	stopCtx := context.WithoutCancel(ctx)

	// a server that tripped during startup is never announced
	if l.registrar != nil && l.stats.IsServing() {
		if err := l.registrar.Register(ctx); err != nil {
			l.StopServing()
			l.stopTransport(stopCtx)
			return err
		}
	}

	poll, err := NewPollLoop(l.stats.IsServing, l.callbacks, l.cfg.LoopSleep).Run(ctx)
	if err != nil {
		logger.Errorw("Server loop callback failed", "server", l.cfg.ServerName, "error", err)
		l.StopServing()
		l.deregister(stopCtx)
		l.stopTransport(stopCtx)
		return errors.ErrCallbackFailed.WithCause(err)
	}
	if poll.Interrupted {
		logger.Infow("Interrupted, stopping", "server", l.cfg.ServerName)
	}

	l.StopServing()
	l.deregister(stopCtx)

	drain := l.drainer().Drain()
	logger.Infow("Drain finished",
		"server", l.cfg.ServerName,
		"waits", drain.Waits,
		"remaining", drain.Remaining,
		"timed_out", drain.TimedOut,
	)

	if err := l.callbacks.ShutdownCallback(stopCtx); err != nil {
		logger.Errorw("Shutdown callback failed", "server", l.cfg.ServerName, "error", err)
		l.stopTransport(stopCtx)
		return errors.ErrCallbackFailed.WithCause(err)
	}

	return l.stopTransport(stopCtx)
}

// StopServing flips the server to not serving and publishes NOT_SERVING.
// It reports whether this call performed the flip.
func (l *Lifetime) StopServing() bool {
	var flipped bool
	var snap Snapshot
	l.stats.update(func(c *counters) {
		if c.serving {
			c.serving = false
			flipped = true
			l.health.MarkNotServing()
			l.metrics.observe(c)
		}
		snap = c.snapshot()
	})

	if flipped {
		logger.Infow("Registered as no longer serving", "server", l.cfg.ServerName, "stats", snap.String())
	}
	return flipped
}

func (l *Lifetime) drainer() *Drainer {
	d := NewDrainer(l.stats.Processing, l.cfg.DrainInterval, l.cfg.DrainMaxIntervals, l.drainSleep)
	d.onWait = l.metrics.recordDrainWait
	return d
}

func (l *Lifetime) deregister(ctx context.Context) {
	if l.registrar == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultDeregisterTimeout)
	defer cancel()
	if err := l.registrar.Deregister(ctx); err != nil {
		logger.Warnw("Failed to deregister from service discovery", "server", l.cfg.ServerName, "error", err)
	}
}

func (l *Lifetime) stopTransport(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.StopGrace)
	defer cancel()
	if err := l.transport.Stop(ctx); err != nil {
		return err
	}
	logger.Infof("%s stopped.", l.cfg.ServerName)
	return nil
}

// Stats returns a snapshot of the request counters.
func (l *Lifetime) Stats() Snapshot { return l.stats.Snapshot() }

// IsServing reports whether new requests are admitted.
func (l *Lifetime) IsServing() bool { return l.stats.IsServing() }

// HealthState returns the state last published to health-check clients.
func (l *Lifetime) HealthState() HealthState { return l.health.State() }

// Threshold returns the drawn shutdown threshold, or -1 when unlimited.
func (l *Lifetime) Threshold() int64 { return l.scheduler.Threshold() }

// StartTime returns when the lifetime was created.
func (l *Lifetime) StartTime() time.Time { return l.startTime }

// ServerName returns the configured server name.
func (l *Lifetime) ServerName() string { return l.cfg.ServerName }

// ServerNameForLogs returns the name attached to request log lines.
func (l *Lifetime) ServerNameForLogs() string { return l.cfg.ServerNameForLogs }
