// Package interceptor provides client- and server-side gRPC interceptors:
// prometheus metrics, request logging, panic recovery, and translation of
// application errors carried in trailing metadata.
//
// Server side, with recovery innermost so metrics and logging observe the
// error a panic converts to:
//
//	metrics := interceptor.NewServerMetrics(prometheus.DefaultRegisterer)
//	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
//	    metrics.UnaryInterceptor(),
//	    interceptor.UnaryServerLogging(log),
//	    interceptor.UnaryServerRecovery(log),
//	))
//
// Client side, translating errors a peer encodes into "error_code" and
// "error_details" trailers:
//
//	factory := func(code int) func(args []any) error {
//	    if code == 404 {
//	        return func(args []any) error { return &NotFoundError{Args: args} }
//	    }
//	    return nil
//	}
//	conn, _ := grpc.NewClient(target,
//	    grpc.WithUnaryInterceptor(interceptor.UnaryClientErrorTranslation(factory)))
//
// All interceptors are stateless once constructed and safe for concurrent
// use.
package interceptor
