package lifetime

import "context"

// LoopCallbacks are hooks invoked by the control goroutine.
type LoopCallbacks interface {
	// LoopCallback runs once per poll iteration while the server is serving.
	LoopCallback(ctx context.Context) error
	// ShutdownCallback runs once after in-flight requests have drained.
	ShutdownCallback(ctx context.Context) error
}

// NoopCallbacks implements LoopCallbacks with no behaviour.
type NoopCallbacks struct{}

func (NoopCallbacks) LoopCallback(context.Context) error     { return nil }
func (NoopCallbacks) ShutdownCallback(context.Context) error { return nil }

// CallbackFuncs adapts plain functions to LoopCallbacks. Nil fields are no-ops.
type CallbackFuncs struct {
	Loop     func(ctx context.Context) error
	Shutdown func(ctx context.Context) error
}

func (f CallbackFuncs) LoopCallback(ctx context.Context) error {
	if f.Loop == nil {
		return nil
	}
	return f.Loop(ctx)
}

func (f CallbackFuncs) ShutdownCallback(ctx context.Context) error {
	if f.Shutdown == nil {
		return nil
	}
	return f.Shutdown(ctx)
}

// RequestLogger is the per-request hook pair service handlers call around
// their work.
type RequestLogger interface {
	StartRequest(ctx context.Context, caller, requestorID string) (*RequestHandle, error)
	FinishRequest(handle *RequestHandle)
}

// Transport binds, serves and stops the network listener.
type Transport interface {
	// Start binds the listener and begins serving without blocking.
	Start(ctx context.Context) error
	// Stop stops the server, aborting remaining RPCs once ctx is done.
	Stop(ctx context.Context) error
}

// Registrar announces the instance to service discovery while it serves.
type Registrar interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

var (
	_ LoopCallbacks = NoopCallbacks{}
	_ LoopCallbacks = CallbackFuncs{}
	_ RequestLogger = (*Lifetime)(nil)
)
