package interceptor

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServerMetrics holds the server-side prometheus collectors. Construct one
// per registry; the interceptors it produces share its collectors.
type ServerMetrics struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
}

// NewServerMetrics creates and registers the server-side collectors.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	m := &ServerMetrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "grpc_endpoint",
			Help: "Response time histogram for grpc endpoints",
		}, []string{"service", "endpoint"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grpc_endpoint_error",
			Help: "Error counts for grpc endpoints",
		}, []string{"service", "endpoint", "code"}),
	}
	reg.MustRegister(m.latency, m.errors)
	return m
}

// UnaryInterceptor observes latency and error counts for every unary call.
func (m *ServerMetrics) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, endpoint := metricLabels(info.FullMethod)
		start := time.Now()
		resp, err := handler(ctx, req)
		m.latency.WithLabelValues(service, endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			m.errors.WithLabelValues(service, endpoint, status.Code(err).String()).Inc()
		}
		return resp, err
	}
}

// UnaryServerLogging logs every unary call with its status code and duration.
// Failed calls log at error level, successful ones at debug.
func UnaryServerLogging(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		attrs := []any{
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		}
		if err != nil {
			log.Error("rpc failed", append(attrs, "error", err)...)
		} else {
			log.Debug("rpc handled", attrs...)
		}
		return resp, err
	}
}

// UnaryServerRecovery converts handler panics into codes.Internal status
// errors carrying the stack trace as a DebugInfo detail, so a panicking
// handler cannot tear down the transport.
func UnaryServerRecovery(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				log.Error("rpc panicked", "method", info.FullMethod, "panic", r)
				st := status.Newf(codes.Internal, "panic: %v", r)
				if detailed, detailErr := st.WithDetails(&errdetails.DebugInfo{
					StackEntries: strings.Split(string(stack), "\n"),
					Detail:       info.FullMethod,
				}); detailErr == nil {
					st = detailed
				}
				err = st.Err()
			}
		}()
		return handler(ctx, req)
	}
}
