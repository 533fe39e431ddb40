// Package lifetime controls how long a leaf gRPC server keeps accepting work.
//
// A Lifetime admits or rejects each inbound request, keeps the shared request
// counters consistent across handler goroutines, and decides through a
// jittered request threshold when the process should stop accepting work.
// The decision is published on the gRPC health service so load balancers stop
// routing new traffic, after which in-flight requests are drained and the
// transport is stopped.
//
// Typical wiring:
//
//	lt, err := lifetime.New(cfg, transport,
//	    lifetime.WithHealthReporter(healthServer),
//	    lifetime.WithMetrics(lifetime.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//	...
//	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(lt.UnaryServerInterceptor()))
//	...
//	return lt.Run(ctx)
//
// Handlers that need to name the requestor themselves can call StartRequest
// and FinishRequest directly instead of installing the interceptors.
package lifetime
