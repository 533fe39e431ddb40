package lifetime

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	leaferrors "github.com/kart-io/leaf-server/pkg/errors"
)

func TestRequestorFromContext(t *testing.T) {
	addr := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 5000}

	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"nothing", context.Background(), "unknown"},
		{"peer", peer.NewContext(context.Background(), &peer.Peer{Addr: addr}), "10.0.0.7:5000"},
		{
			"metadata wins over peer",
			metadata.NewIncomingContext(
				peer.NewContext(context.Background(), &peer.Peer{Addr: addr}),
				metadata.Pairs(RequestorMetadataKey, "svc-a"),
			),
			"svc-a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequestorFromContext(tt.ctx))
		})
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	l, _ := newTestLifetime(t, 0, 0)
	intercept := l.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/echo.Echo/Say"}

	var seen *RequestHandle
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		h, ok := HandleFromContext(ctx)
		require.True(t, ok)
		seen = h
		assert.Equal(t, int64(1), l.Stats().Processing)
		return req, nil
	}

	resp, err := intercept(context.Background(), "hello", info, handler)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp)
	assert.Equal(t, "/echo.Echo/Say", seen.Caller())
	assert.Equal(t, int64(0), l.Stats().Processing)
	assert.Equal(t, map[string]int64{"/echo.Echo/Say": 1}, l.Stats().PerCaller)

	// limit 0: the first request stopped the server
	_, err = intercept(context.Background(), "hello", info, func(context.Context, interface{}) (interface{}, error) {
		t.Fatal("handler must not run")
		return nil, nil
	})
	assert.True(t, errors.Is(err, leaferrors.ErrServiceShuttingDown))
}

func TestUnaryServerInterceptorFinishesOnHandlerError(t *testing.T) {
	l, _ := newTestLifetime(t, Unlimited, 0)
	boom := errors.New("boom")

	_, err := l.UnaryServerInterceptor()(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/echo.Echo/Say"},
		func(context.Context, interface{}) (interface{}, error) { return nil, boom })

	assert.Same(t, boom, err)
	assert.Equal(t, int64(0), l.Stats().Processing)
	assert.Equal(t, int64(1), l.Stats().Total)
}

func TestUnaryServerInterceptorSkipsHealth(t *testing.T) {
	l, _ := newTestLifetime(t, Unlimited, 0)
	l.StopServing()

	for _, method := range []string{
		"/grpc.health.v1.Health/Check",
		"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo",
	} {
		called := false
		_, err := l.UnaryServerInterceptor()(context.Background(), nil,
			&grpc.UnaryServerInfo{FullMethod: method},
			func(context.Context, interface{}) (interface{}, error) {
				called = true
				return nil, nil
			})
		require.NoError(t, err)
		assert.True(t, called, method)
	}
	assert.Equal(t, int64(0), l.Stats().Total)
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }

func TestStreamServerInterceptor(t *testing.T) {
	l, _ := newTestLifetime(t, Unlimited, 0)
	info := &grpc.StreamServerInfo{FullMethod: "/echo.Echo/Chat"}
	ss := &fakeServerStream{ctx: context.Background()}

	err := l.StreamServerInterceptor()(nil, ss, info, func(_ interface{}, stream grpc.ServerStream) error {
		h, ok := HandleFromContext(stream.Context())
		require.True(t, ok)
		assert.Equal(t, "/echo.Echo/Chat", h.Caller())
		assert.Equal(t, int64(1), l.Stats().Processing)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.Stats().Processing)

	l.StopServing()
	err = l.StreamServerInterceptor()(nil, ss, info, func(interface{}, grpc.ServerStream) error {
		t.Fatal("handler must not run")
		return nil
	})
	assert.True(t, errors.Is(err, leaferrors.ErrServiceShuttingDown))
}
