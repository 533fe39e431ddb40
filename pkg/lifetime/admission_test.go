package lifetime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	leaferrors "github.com/kart-io/leaf-server/pkg/errors"
	"github.com/kart-io/leaf-server/pkg/infra/logger"
)

func TestStartFinishNoLostUpdates(t *testing.T) {
	l, _ := newTestLifetime(t, Unlimited, 0)

	const goroutines, perGoroutine = 50, 200
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				h, err := l.StartRequest(context.Background(), "Say", "client")
				if !assert.NoError(t, err) {
					return
				}
				l.FinishRequest(h)
			}
		}()
	}
	wg.Wait()

	snap := l.Stats()
	assert.Equal(t, int64(goroutines*perGoroutine), snap.Total)
	assert.Equal(t, int64(0), snap.Processing)
	assert.Equal(t, int64(goroutines*perGoroutine), snap.PerCaller["Say"])
	assert.True(t, snap.Serving)
}

func TestProcessingNeverNegativeUnderConcurrency(t *testing.T) {
	l, _ := newTestLifetime(t, 2000, 0)

	const workers, perWorker = 20, 200
	var (
		wg       sync.WaitGroup
		started  atomic.Int64
		minSeen  atomic.Int64
		admitted atomic.Int64
		done     = make(chan struct{})
		watching = make(chan struct{})
	)

	go func() {
		defer close(watching)
		for {
			if p := l.Stats().Processing; p < minSeen.Load() {
				minSeen.Store(p)
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if started.Add(1) == workers*perWorker/3 {
					l.StopServing()
				}
				h, err := l.StartRequest(context.Background(), "Say", "client")
				if err != nil {
					assert.True(t, errors.Is(err, leaferrors.ErrServiceShuttingDown))
					l.FinishRequest(h)
					continue
				}
				admitted.Add(1)
				l.FinishRequest(h)
				l.FinishRequest(h)
			}
		}()
	}
	wg.Wait()
	close(done)
	<-watching

	snap := l.Stats()
	assert.GreaterOrEqual(t, minSeen.Load(), int64(0))
	assert.Equal(t, int64(0), snap.Processing)
	assert.Equal(t, admitted.Load(), snap.Total)
	assert.False(t, snap.Serving)
	assert.Less(t, admitted.Load(), int64(workers*perWorker))
}

func TestProcessingTracksInFlight(t *testing.T) {
	l, _ := newTestLifetime(t, Unlimited, 0)

	var handles []*RequestHandle
	for i := 0; i < 3; i++ {
		h, err := l.StartRequest(context.Background(), "Say", "client")
		require.NoError(t, err)
		handles = append(handles, h)
	}
	assert.Equal(t, int64(3), l.Stats().Processing)

	l.FinishRequest(handles[0])
	assert.Equal(t, int64(2), l.Stats().Processing)

	// finishing twice or finishing nil never drives processing negative
	l.FinishRequest(handles[0])
	l.FinishRequest(nil)
	assert.Equal(t, int64(2), l.Stats().Processing)

	l.FinishRequest(handles[1])
	l.FinishRequest(handles[2])
	l.FinishRequest(handles[2])
	assert.Equal(t, int64(0), l.Stats().Processing)
}

func TestLimitScenario(t *testing.T) {
	// limit 100 with the random offset pinned to 5 gives threshold 95
	l, reporter := newTestLifetime(t, 100, 5)
	require.Equal(t, int64(95), l.Threshold())

	for i := 1; i <= 94; i++ {
		h, err := l.StartRequest(context.Background(), "Say", "client")
		require.NoError(t, err)
		l.FinishRequest(h)
		require.True(t, l.IsServing(), "request %d", i)
	}
	assert.Equal(t, 0, reporter.Shutdowns())

	// total == threshold still keeps going
	h, err := l.StartRequest(context.Background(), "Say", "client")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, l.IsServing())
	l.FinishRequest(h)

	h, err = l.StartRequest(context.Background(), "Say", "client")
	require.NoError(t, err, "96th request crosses the threshold and is still admitted")
	assert.False(t, l.IsServing())
	assert.Equal(t, HealthNotServing, l.HealthState())
	assert.Equal(t, 1, reporter.Shutdowns())
	l.FinishRequest(h)

	// only requests that observe serving == false are refused
	_, err = l.StartRequest(context.Background(), "Say", "client-9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, leaferrors.ErrServiceShuttingDown))

	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Unavailable, st.Code())
	assert.Equal(t, "Service refusing Say request from client-9 to shut down cleanly", st.Message())

	snap := l.Stats()
	assert.Equal(t, int64(96), snap.Total, "rejections are not counted")
	assert.Equal(t, int64(0), snap.Processing)
	assert.Equal(t, 1, reporter.Shutdowns())
}

func TestExactlyOneTripUnderConcurrency(t *testing.T) {
	l, reporter := newTestLifetime(t, 100, 5)

	var admitted, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := l.StartRequest(context.Background(), "Say", "client")
			if err != nil {
				rejected.Add(1)
				return
			}
			admitted.Add(1)
			l.FinishRequest(h)
		}()
	}
	wg.Wait()

	// threshold 95: requests 1..96 are admitted, the 96th flips serving
	assert.Equal(t, int64(96), admitted.Load())
	assert.Equal(t, int64(204), rejected.Load())
	assert.Equal(t, 1, reporter.Shutdowns())
	assert.False(t, l.IsServing())
	assert.Equal(t, int64(0), l.Stats().Processing)
}

func TestZeroLimitAdmitsFirstRequestThenStops(t *testing.T) {
	l, reporter := newTestLifetime(t, 0, 0)

	h, err := l.StartRequest(context.Background(), "Say", "client")
	require.NoError(t, err)
	assert.False(t, l.IsServing())
	assert.Equal(t, 1, reporter.Shutdowns())
	l.FinishRequest(h)

	_, err = l.StartRequest(context.Background(), "Say", "client")
	assert.True(t, errors.Is(err, leaferrors.ErrServiceShuttingDown))
}

func TestUnlimitedNeverStops(t *testing.T) {
	l, reporter := newTestLifetime(t, Unlimited, 0)

	for i := 0; i < 100_000; i++ {
		h, err := l.StartRequest(context.Background(), "Say", "client")
		require.NoError(t, err)
		l.FinishRequest(h)
	}

	assert.True(t, l.IsServing())
	assert.Equal(t, int64(100_000), l.Stats().Total)
	assert.Equal(t, 0, reporter.Shutdowns())
}

func TestServingIsOneWay(t *testing.T) {
	l, reporter := newTestLifetime(t, Unlimited, 0)

	assert.True(t, l.StopServing())
	assert.False(t, l.StopServing())
	assert.False(t, l.IsServing())
	assert.Equal(t, 1, reporter.Shutdowns())

	for i := 0; i < 10; i++ {
		_, err := l.StartRequest(context.Background(), "Say", "client")
		assert.Error(t, err)
	}
	assert.False(t, l.IsServing())
	assert.Equal(t, int64(0), l.Stats().Total)
}

func TestRequestHandleCarriesLogFields(t *testing.T) {
	l, _ := newTestLifetime(t, Unlimited, 0)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		"request_id", "req-1",
		"experiment_id", "exp-2",
	))
	h, err := l.StartRequest(ctx, "Say", "client-1")
	require.NoError(t, err)
	defer l.FinishRequest(h)

	assert.Equal(t, "Say", h.Caller())
	assert.Equal(t, "client-1", h.RequestorID())

	fields := map[string]interface{}{}
	kv := logger.GetContextFields(h.Context())
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i].(string)] = kv[i+1]
	}
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "exp-2", fields["experiment_id"])
	assert.Equal(t, logger.MissingValue, fields["user_id"])
	assert.Equal(t, "leaf-server", fields["source"])
	assert.Equal(t, "Say", fields["caller"])

	got, ok := HandleFromContext(h.Context())
	require.True(t, ok)
	assert.Same(t, h, got)
}

func TestStartRequestAddsSpanEvents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	l, _ := newTestLifetime(t, 0, 0)

	ctx, span := tp.Tracer("test").Start(context.Background(), "rpc")
	h, err := l.StartRequest(ctx, "Say", "client")
	require.NoError(t, err)
	l.FinishRequest(h)
	_, err = l.StartRequest(ctx, "Say", "client")
	require.Error(t, err)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	var names []string
	for _, ev := range ended[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"leaf.request.admitted", "leaf.request.rejected"}, names)
}
