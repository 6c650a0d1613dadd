package interceptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/protogate/protogate/pkg/logging"
)

func TestSplitFullMethod(t *testing.T) {
	tests := []struct {
		input       string
		wantService string
		wantMethod  string
		wantErr     bool
	}{
		{"/pkg.Service/Method", "pkg.Service", "Method", false},
		{"/Service/Method", "Service", "Method", false},
		{"pkg.Service/Method", "", "", true},
		{"/pkg.Service/", "", "", true},
		{"//Method", "", "", true},
		{"/a/b/c", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			service, method, err := splitFullMethod(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantService, service)
			assert.Equal(t, tt.wantMethod, method)
		})
	}
}

func TestMetricLabelsNormalizeDots(t *testing.T) {
	service, endpoint := metricLabels("/example.v1.Users/Get")
	assert.Equal(t, "example_v1_Users", service)
	assert.Equal(t, "Get", endpoint)

	service, endpoint = metricLabels("garbage")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", endpoint)
}

func TestServerMetricsObserveCallsAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewServerMetrics(reg)
	intercept := metrics.UnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Svc/Ok"}

	_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	_, err = intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "nope")
	})
	require.Error(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.latency))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.errors.WithLabelValues("test_Svc", "Ok", codes.NotFound.String())))
}

func TestClientMetricsObserveCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewClientMetrics("billing", "users", reg)
	intercept := metrics.UnaryInterceptor()

	invoker := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		return status.Error(codes.Unavailable, "down")
	}
	err := intercept(context.Background(), "/test.Svc/Get", nil, nil, nil, invoker)
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.errors.WithLabelValues("billing", "users", "test_Svc", "Get", codes.Unavailable.String())))
}

func TestUnaryServerLoggingLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: logging.LevelDebug, Format: logging.FormatJSON, Output: &buf})
	intercept := UnaryServerLogging(log)
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Svc/Fail"}

	_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.Internal, "boom")
	})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "/test.Svc/Fail")
	assert.Contains(t, buf.String(), "rpc failed")
}

func TestUnaryServerRecoveryConvertsPanics(t *testing.T) {
	intercept := UnaryServerRecovery(logging.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Svc/Panic"}

	resp, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("kaboom")
	})
	assert.Nil(t, resp)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), "kaboom")
	assert.NotEmpty(t, st.Details())
}

type quotaError struct {
	Limit float64
}

func (e *quotaError) Error() string {
	return fmt.Sprintf("quota exceeded: limit %v", e.Limit)
}

func quotaFactory(code int) func(args []any) error {
	if code != 429 {
		return nil
	}
	return func(args []any) error {
		e := &quotaError{}
		if len(args) > 0 {
			if limit, ok := args[0].(float64); ok {
				e.Limit = limit
			}
		}
		return e
	}
}

func TestFromTrailersBuildsApplicationError(t *testing.T) {
	rpcErr := status.Error(codes.ResourceExhausted, "too many requests")
	trailers := metadata.Pairs("error_code", "429", "error_details", "[100]")

	err := FromTrailers(quotaFactory, rpcErr, trailers)
	var qe *quotaError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, float64(100), qe.Limit)
}

func TestFromTrailersKeepsOriginalError(t *testing.T) {
	rpcErr := status.Error(codes.Internal, "boom")

	// No trailers at all.
	assert.Equal(t, rpcErr, FromTrailers(quotaFactory, rpcErr, metadata.MD{}))

	// Unrecognized code.
	assert.Equal(t, rpcErr, FromTrailers(quotaFactory, rpcErr,
		metadata.Pairs("error_code", "500")))

	// Non-numeric code.
	assert.Equal(t, rpcErr, FromTrailers(quotaFactory, rpcErr,
		metadata.Pairs("error_code", "teapot")))

	// Malformed details.
	assert.Equal(t, rpcErr, FromTrailers(quotaFactory, rpcErr,
		metadata.Pairs("error_code", "429", "error_details", "{not json")))
}
