package leafserver

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/kart-io/leaf-server/pkg/infra/logger"
	"github.com/kart-io/leaf-server/pkg/lifetime"
)

// EchoServiceName is the fully qualified name of the echo service.
const EchoServiceName = "leaf.echo.v1.Echo"

// EchoServer is the server API of the echo service.
type EchoServer interface {
	// Say returns its input.
	Say(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	// Chat echoes every message on the stream until the client closes it.
	Chat(stream grpc.ServerStream) error
}

// EchoService is the built-in service. Every call is counted by the
// lifetime interceptors.
type EchoService struct{}

// NewEchoService returns the echo service.
func NewEchoService() *EchoService {
	return &EchoService{}
}

func requestCtx(ctx context.Context) context.Context {
	if h, ok := lifetime.HandleFromContext(ctx); ok {
		return h.Context()
	}
	return ctx
}

// Say returns in unchanged.
func (s *EchoService) Say(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	logger.LogDebug(requestCtx(ctx), "echo", "bytes", len(in.GetValue()))
	return wrapperspb.String(in.GetValue()), nil
}

// Chat sends back each received message.
func (s *EchoService) Chat(stream grpc.ServerStream) error {
	ctx := requestCtx(stream.Context())
	var n int
	for {
		in := new(wrapperspb.StringValue)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) {
				logger.LogDebug(ctx, "echo chat closed", "messages", n)
				return nil
			}
			return err
		}
		n++
		if err := stream.SendMsg(wrapperspb.String(in.GetValue())); err != nil {
			return err
		}
	}
}

func echoSayHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EchoServer).Say(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + EchoServiceName + "/Say",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EchoServer).Say(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func echoChatHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(EchoServer).Chat(stream)
}

// EchoServiceDesc describes the echo service for grpc.Server.RegisterService.
var EchoServiceDesc = grpc.ServiceDesc{
	ServiceName: EchoServiceName,
	HandlerType: (*EchoServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Say", Handler: echoSayHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Chat", Handler: echoChatHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "leaf/echo/v1/echo.proto",
}

// EchoClient calls the echo service.
type EchoClient struct {
	cc grpc.ClientConnInterface
}

// NewEchoClient returns a client on cc.
func NewEchoClient(cc grpc.ClientConnInterface) *EchoClient {
	return &EchoClient{cc: cc}
}

// Say calls Echo/Say.
func (c *EchoClient) Say(ctx context.Context, value string, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+EchoServiceName+"/Say", wrapperspb.String(value), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Chat opens an Echo/Chat stream.
func (c *EchoClient) Chat(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return c.cc.NewStream(ctx, &EchoServiceDesc.Streams[0], "/"+EchoServiceName+"/Chat", opts...)
}

var _ EchoServer = (*EchoService)(nil)
