package lifetime

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/option"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestMain(m *testing.M) {
	opts := option.DefaultLogOption()
	opts.Level = "ERROR"
	if log, err := logger.New(opts); err == nil {
		logger.SetGlobal(log)
	}
	os.Exit(m.Run())
}

type fakeReporter struct {
	mu        sync.Mutex
	events    []string
	shutdowns int
}

func (r *fakeReporter) SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("%q=%s", service, status))
}

func (r *fakeReporter) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdowns++
	r.events = append(r.events, "shutdown")
}

func (r *fakeReporter) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *fakeReporter) Shutdowns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdowns
}

type fakeTransport struct {
	mu        sync.Mutex
	startErr  error
	started   bool
	stopped   bool
	stopGrace time.Duration
	// onStart runs once the transport is up
	onStart func()
	// events is shared with other fakes to check call ordering
	events *eventLog
}

func (f *fakeTransport) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events.add("transport.start")
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	if f.onStart != nil {
		f.onStart()
	}
	return nil
}

func (f *fakeTransport) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events.add("transport.stop")
	f.stopped = true
	if dl, ok := ctx.Deadline(); ok {
		f.stopGrace = time.Until(dl)
	}
	return nil
}

func (f *fakeTransport) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(ev string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) List() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

type fakeRegistrar struct {
	events      *eventLog
	registerErr error
}

func (r *fakeRegistrar) Register(context.Context) error {
	r.events.add("registrar.register")
	return r.registerErr
}

func (r *fakeRegistrar) Deregister(context.Context) error {
	r.events.add("registrar.deregister")
	return nil
}

// fixedOffset pins the threshold to lower+offset.
func fixedOffset(offset int) SchedulerOption {
	return WithIntN(func(int) int { return offset })
}

func newTestLifetime(t *testing.T, limit, offset int, opts ...Option) (*Lifetime, *fakeReporter) {
	t.Helper()

	reporter := &fakeReporter{}
	cfg := DefaultConfig()
	cfg.RequestLimit = limit
	cfg.LoopSleep = time.Millisecond

	all := append([]Option{
		WithHealthReporter(reporter),
		WithSchedulerOptions(fixedOffset(offset)),
		WithDrainSleep(func(time.Duration) {}),
	}, opts...)

	l, err := New(cfg, &fakeTransport{}, all...)
	require.NoError(t, err)
	return l, reporter
}
