package interceptor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ClientMetrics holds the client-side prometheus collectors, labeled with the
// calling client's name and the server it targets.
type ClientMetrics struct {
	clientName string
	serverName string
	latency    *prometheus.HistogramVec
	errors     *prometheus.CounterVec
}

// NewClientMetrics creates and registers the client-side collectors.
func NewClientMetrics(clientName, serverName string, reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		clientName: clientName,
		serverName: serverName,
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "clientside_grpc_endpoint",
			Help: "Response time histogram for grpc endpoints from the client side",
		}, []string{"client_name", "server_name", "service", "endpoint"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clientside_grpc_endpoint_error",
			Help: "Clientside error counts for grpc methods",
		}, []string{"client_name", "server_name", "service", "endpoint", "code"}),
	}
	reg.MustRegister(m.latency, m.errors)
	return m
}

// UnaryInterceptor observes latency and error counts for every outgoing
// unary call.
func (m *ClientMetrics) UnaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		service, endpoint := metricLabels(method)
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		m.latency.WithLabelValues(m.clientName, m.serverName, service, endpoint).
			Observe(time.Since(start).Seconds())
		if err != nil {
			m.errors.WithLabelValues(m.clientName, m.serverName, service, endpoint,
				status.Code(err).String()).Inc()
		}
		return err
	}
}
