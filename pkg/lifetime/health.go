package lifetime

import (
	"sync"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter publishes serving status to health-check clients.
// *health.Server from google.golang.org/grpc/health satisfies it.
type HealthReporter interface {
	SetServingStatus(service string, servingStatus healthpb.HealthCheckResponse_ServingStatus)
	// Shutdown sets every service to NOT_SERVING and ignores later updates.
	Shutdown()
}

// HealthState is the serving status published by a HealthSignal.
type HealthState int32

const (
	HealthNotServing HealthState = iota
	HealthServing
)

func (s HealthState) String() string {
	if s == HealthServing {
		return "SERVING"
	}
	return "NOT_SERVING"
}

// HealthSignal drives a HealthReporter through
// NOT_SERVING -> SERVING -> NOT_SERVING. The second transition is terminal.
type HealthSignal struct {
	mu       sync.Mutex
	reporter HealthReporter
	services []string
	state    HealthState
	stopped  bool
}

// NewHealthSignal registers the overall server ("") and each named service
// as NOT_SERVING. A nil reporter only tracks state.
func NewHealthSignal(reporter HealthReporter, services ...string) *HealthSignal {
	h := &HealthSignal{
		reporter: reporter,
		services: append([]string{""}, services...),
		state:    HealthNotServing,
	}
	h.publish(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthSignal) publish(status healthpb.HealthCheckResponse_ServingStatus) {
	if h.reporter == nil {
		return
	}
	for _, svc := range h.services {
		h.reporter.SetServingStatus(svc, status)
	}
}

// MarkServing moves to SERVING. It is a no-op once the signal has stopped.
func (h *HealthSignal) MarkServing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped || h.state == HealthServing {
		return false
	}
	h.state = HealthServing
	h.publish(healthpb.HealthCheckResponse_SERVING)
	return true
}

// MarkNotServing publishes NOT_SERVING and enters graceful shutdown on the
// reporter. Only the first call has any effect.
func (h *HealthSignal) MarkNotServing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return false
	}
	h.stopped = true
	h.state = HealthNotServing
	h.publish(healthpb.HealthCheckResponse_NOT_SERVING)
	if h.reporter != nil {
		h.reporter.Shutdown()
	}
	return true
}

// State returns the last published state.
func (h *HealthSignal) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
