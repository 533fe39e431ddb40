// Package metadata copies selected gRPC metadata from an incoming request so
// it can be logged or sent on to downstream services.
package metadata

import (
	"context"
	"sort"

	"google.golang.org/grpc/metadata"
)

// Forwarder forwards a fixed set of metadata keys.
type Forwarder struct {
	keys []string
}

// NewForwarder returns a Forwarder for keys. Keys are matched the way gRPC
// stores them, lower-cased.
func NewForwarder(keys ...string) *Forwarder {
	return &Forwarder{keys: append([]string(nil), keys...)}
}

// Keys returns the forwarded keys.
func (f *Forwarder) Keys() []string {
	return append([]string(nil), f.keys...)
}

// Forward returns the configured keys present in the incoming metadata of
// ctx. Missing keys are left out.
func (f *Forwarder) Forward(ctx context.Context) map[string]string {
	out := make(map[string]string, len(f.keys))
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return out
	}
	for _, key := range f.keys {
		if vals := md.Get(key); len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	return out
}

// OutgoingContext appends the forwarded pairs to the outgoing metadata of ctx.
func (f *Forwarder) OutgoingContext(ctx context.Context) context.Context {
	fwd := f.Forward(ctx)
	if len(fwd) == 0 {
		return ctx
	}
	keys := make([]string, 0, len(fwd))
	for k := range fwd {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		kv = append(kv, k, fwd[k])
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// ToMap flattens md to its first value per key.
func ToMap(md metadata.MD) map[string]string {
	out := make(map[string]string, len(md))
	for k, vals := range md {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}

// IncomingMap flattens the incoming metadata of ctx, empty when there is none.
func IncomingMap(ctx context.Context) map[string]string {
	md, _ := metadata.FromIncomingContext(ctx)
	return ToMap(md)
}
