package lifetime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollLoopExitsWhenNotServing(t *testing.T) {
	st := NewStatsTable()
	var calls atomic.Int32

	cb := CallbackFuncs{Loop: func(context.Context) error {
		if calls.Add(1) == 3 {
			st.MarkNotServing()
		}
		return nil
	}}

	res, err := NewPollLoop(st.IsServing, cb, time.Millisecond).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iterations)
	assert.False(t, res.Interrupted)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollLoopNotServingFromStart(t *testing.T) {
	st := NewStatsTable()
	st.MarkNotServing()

	res, err := NewPollLoop(st.IsServing, CallbackFuncs{Loop: func(context.Context) error {
		t.Fatal("callback must not run")
		return nil
	}}, time.Millisecond).Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, res.Iterations)
}

func TestPollLoopCancellationIsNormalExit(t *testing.T) {
	st := NewStatsTable()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var res PollResult
	var err error
	go func() {
		defer close(done)
		res, err = NewPollLoop(st.IsServing, nil, time.Hour).Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop did not observe cancellation")
	}

	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Iterations)
	assert.True(t, st.IsServing(), "the loop only observes state")
}

func TestPollLoopCallbackError(t *testing.T) {
	st := NewStatsTable()
	boom := errors.New("boom")

	res, err := NewPollLoop(st.IsServing, CallbackFuncs{Loop: func(context.Context) error {
		return boom
	}}, time.Millisecond).Run(context.Background())

	assert.Same(t, boom, err)
	assert.Zero(t, res.Iterations)
}
