package leafserver

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/option"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/kart-io/leaf-server/pkg/lifetime"
)

func TestMain(m *testing.M) {
	opts := option.DefaultLogOption()
	opts.Level = "ERROR"
	if log, err := logger.New(opts); err == nil {
		logger.SetGlobal(log)
	}
	os.Exit(m.Run())
}

// testConfig returns a config with fast loops, no admin server and no
// tracing.
func testConfig(limit int) *Config {
	cfg := NewConfig()
	cfg.HTTPOptions.Enabled = false
	cfg.GRPCOptions.EnableTracing = false
	cfg.LifetimeOptions.ServerName = "echo"
	cfg.LifetimeOptions.RequestLimit = limit
	cfg.LifetimeOptions.LoopSleep = 5 * time.Millisecond
	cfg.LifetimeOptions.DrainInterval = 5 * time.Millisecond
	// let the response of the request that trips the limit reach the client
	cfg.LifetimeOptions.StopGrace = time.Second
	_ = cfg.LifetimeOptions.Complete()
	return cfg
}

// lowestThreshold pins the drawn threshold to the lower bound.
func lowestThreshold() Option {
	return WithLifetimeOptions(lifetime.WithSchedulerOptions(lifetime.WithIntN(func(int) int { return 0 })))
}

type running struct {
	server *Server
	conn   *grpc.ClientConn
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, cfg *Config, opts ...Option) *running {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	s, err := New(context.Background(), cfg, append([]Option{WithListener(lis)}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	r := &running{server: s, conn: conn, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		_ = conn.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	require.Eventually(t, func() bool {
		return s.Lifetime().HealthState() == lifetime.HealthServing
	}, 5*time.Second, time.Millisecond)
	return r
}

func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		r.done <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

type fakeEtcd struct {
	clientv3.Lease
	clientv3.KV

	mu      sync.Mutex
	puts    map[string]string
	revoked int
}

func newFakeEtcd() *fakeEtcd {
	return &fakeEtcd{puts: map[string]string{}}
}

func (f *fakeEtcd) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	return &clientv3.LeaseGrantResponse{ID: 7, TTL: ttl}, nil
}

func (f *fakeEtcd) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[key] = val
	return &clientv3.PutResponse{}, nil
}

func (f *fakeEtcd) KeepAlive(ctx context.Context, _ clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	ch := make(chan *clientv3.LeaseKeepAliveResponse)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeEtcd) Revoke(context.Context, clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked++
	return &clientv3.LeaseRevokeResponse{}, nil
}

func (f *fakeEtcd) state() (puts, revoked int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts), f.revoked
}
