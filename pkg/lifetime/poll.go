package lifetime

import (
	"context"
	"time"
)

// PollResult describes how a poll loop ended.
type PollResult struct {
	Iterations int
	// Interrupted is true when the context was cancelled while still serving.
	Interrupted bool
}

// PollLoop calls the loop callback and sleeps until the server stops
// serving or its context is cancelled.
type PollLoop struct {
	serving   func() bool
	callbacks LoopCallbacks
	sleep     time.Duration
}

// NewPollLoop creates a poll loop.
func NewPollLoop(serving func() bool, callbacks LoopCallbacks, sleep time.Duration) *PollLoop {
	if callbacks == nil {
		callbacks = NoopCallbacks{}
	}
	return &PollLoop{
		serving:   serving,
		callbacks: callbacks,
		sleep:     sleep,
	}
}

// Run blocks until serving is observed false or ctx is done. Cancellation
// is a normal exit. A callback error ends the loop and is returned as is.
func (p *PollLoop) Run(ctx context.Context) (PollResult, error) {
	var res PollResult

	for p.serving() {
		if err := p.callbacks.LoopCallback(ctx); err != nil {
			return res, err
		}
		res.Iterations++

		timer := time.NewTimer(p.sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Interrupted = p.serving()
			return res, nil
		case <-timer.C:
		}
	}

	return res, nil
}
