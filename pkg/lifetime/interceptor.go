package lifetime

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// RequestorMetadataKey names the incoming metadata key the interceptors read
// the requestor id from. Without it the peer address is used.
const RequestorMetadataKey = "requestor_id"

// unmetered methods are served without admission control.
var unmeteredPrefixes = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.v1.ServerReflection/",
	"/grpc.reflection.v1alpha.ServerReflection/",
}

func unmetered(fullMethod string) bool {
	for _, p := range unmeteredPrefixes {
		if strings.HasPrefix(fullMethod, p) {
			return true
		}
	}
	return false
}

// RequestorFromContext returns the requestor id of an incoming call.
func RequestorFromContext(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestorMetadataKey); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// UnaryServerInterceptor wraps every unary RPC in StartRequest and
// FinishRequest, using the full method name as caller.
func (l *Lifetime) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if unmetered(info.FullMethod) {
			return handler(ctx, req)
		}

		h, err := l.StartRequest(ctx, info.FullMethod, RequestorFromContext(ctx))
		if err != nil {
			return nil, err
		}
		defer l.FinishRequest(h)

		return handler(h.Context(), req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// UnaryServerInterceptor. The request is finished when the handler returns.
func (l *Lifetime) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if unmetered(info.FullMethod) {
			return handler(srv, ss)
		}

		ctx := ss.Context()
		h, err := l.StartRequest(ctx, info.FullMethod, RequestorFromContext(ctx))
		if err != nil {
			return err
		}
		defer l.FinishRequest(h)

		return handler(srv, &wrappedStream{ServerStream: ss, ctx: h.Context()})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
