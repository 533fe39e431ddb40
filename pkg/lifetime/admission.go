package lifetime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/leaf-server/pkg/errors"
	"github.com/kart-io/leaf-server/pkg/infra/logger"
	"github.com/kart-io/leaf-server/pkg/metadata"
)

type handleKey struct{}

// RequestHandle is returned by StartRequest and must be passed to
// FinishRequest exactly once. Finishing it again is a no-op.
type RequestHandle struct {
	ctx         context.Context
	caller      string
	requestorID string
	started     time.Time
	once        sync.Once
}

// Context returns the request context carrying the request log fields.
func (h *RequestHandle) Context() context.Context { return h.ctx }

// Caller returns the caller label the request was counted under.
func (h *RequestHandle) Caller() string { return h.caller }

// RequestorID returns who sent the request.
func (h *RequestHandle) RequestorID() string { return h.requestorID }

// HandleFromContext returns the handle installed by the lifetime
// interceptors, if any.
func HandleFromContext(ctx context.Context) (*RequestHandle, bool) {
	h, ok := ctx.Value(handleKey{}).(*RequestHandle)
	return h, ok
}

// requestContext attaches the per-request logging fields.
func (l *Lifetime) requestContext(ctx context.Context, caller, requestorID string) context.Context {
	ctx = logger.WithCorrelation(ctx)
	ctx = logger.WithSource(ctx, l.cfg.ServerNameForLogs)
	ctx = logger.WithFields(ctx,
		logger.FieldCaller, caller,
		logger.FieldRequestor, requestorID,
	)
	return logger.ExtractOpenTelemetryFields(ctx)
}

// StartRequest admits or rejects one request. Admission counts the request
// and, if the running total crosses the shutdown threshold, flips the server
// to not serving inside the same critical section. The request that crosses
// the threshold is still admitted. A rejected request gets an error that
// maps to codes.Unavailable.
func (l *Lifetime) StartRequest(ctx context.Context, caller, requestorID string) (*RequestHandle, error) {
	ctx = l.requestContext(ctx, caller, requestorID)

	var (
		admitted bool
		tripped  bool
		snap     Snapshot
	)
	l.stats.update(func(c *counters) {
		if !c.serving {
			return
		}
		admitted = true
		c.total++
		c.processing++
		c.perCaller[caller]++
		if !l.scheduler.KeepGoing(c.total) {
			c.serving = false
			tripped = true
			l.health.MarkNotServing()
		}
		l.metrics.observe(c)
		snap = c.snapshot()
	})

	span := trace.SpanFromContext(ctx)
	if !admitted {
		l.metrics.recordRejected(caller)
		span.AddEvent("leaf.request.rejected", trace.WithAttributes(
			attribute.String("leaf.caller", caller),
			attribute.String("leaf.requestor_id", requestorID),
		))
		logger.LogWarn(ctx, fmt.Sprintf("Refusing a %s request for %s: shutting down", caller, requestorID))
		return nil, errors.ErrServiceShuttingDown.WithMessagef(
			"Service refusing %s request from %s to shut down cleanly", caller, requestorID)
	}

	handle := &RequestHandle{
		caller:      caller,
		requestorID: requestorID,
		started:     time.Now(),
	}
	handle.ctx = context.WithValue(ctx, handleKey{}, handle)

	l.metrics.recordAdmitted(caller)
	span.AddEvent("leaf.request.admitted", trace.WithAttributes(
		attribute.String("leaf.caller", caller),
		attribute.Int64("leaf.total", snap.Total),
		attribute.Int64("leaf.processing", snap.Processing),
	))

	logger.LogInfo(ctx, fmt.Sprintf("Received a %s request for %s", caller, requestorID))
	if l.cfg.LogRequestMetadata {
		logger.LogInfo(ctx, "Request metadata", "metadata", metadata.IncomingMap(ctx))
	}
	logger.LogInfo(ctx, fmt.Sprintf("Stats : %s", snap))

	if tripped {
		logger.LogInfo(ctx, "Registered as no longer serving",
			"total", snap.Total,
			"threshold", l.scheduler.Threshold(),
		)
	}

	return handle, nil
}

// FinishRequest marks an admitted request as done.
func (l *Lifetime) FinishRequest(handle *RequestHandle) {
	if handle == nil {
		return
	}

	handle.once.Do(func() {
		var snap Snapshot
		l.stats.update(func(c *counters) {
			if c.processing > 0 {
				c.processing--
			}
			l.metrics.observe(c)
			snap = c.snapshot()
		})

		logger.LogInfo(handle.ctx, fmt.Sprintf("Done with %s request for %s", handle.caller, handle.requestorID),
			"duration", time.Since(handle.started).String(),
		)
		logger.LogInfo(handle.ctx, fmt.Sprintf("Stats : %s", snap))
	})
}
