package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/protogate/protogate/pkg/reflection"
)

func registerPanicService(s *Server) {
	handler := func(srv any, ctx context.Context, dec func(any) error, ui grpc.UnaryServerInterceptor) (any, error) {
		inner := func(ctx context.Context, req any) (any, error) {
			panic("kaboom")
		}
		if ui != nil {
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/test.Panics/Boom"}
			return ui(ctx, &emptypb.Empty{}, info, inner)
		}
		return inner(ctx, nil)
	}
	s.GRPC().RegisterService(&grpc.ServiceDesc{
		ServiceName: "test.Panics",
		HandlerType: (*any)(nil),
		Methods:     []grpc.MethodDesc{{MethodName: "Boom", Handler: handler}},
	}, struct{}{})
}

func startServer(t *testing.T, cfg Config, opts ...Option) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	srv, err := New(cfg, opts...)
	require.NoError(t, err)
	registerPanicService(srv)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
	})
	return srv
}

func dial(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerLifecycle(t *testing.T) {
	srv := startServer(t, Config{GracePeriod: time.Second})

	assert.True(t, srv.IsRunning())
	assert.NotEmpty(t, srv.Addr())
	assert.Equal(t, ErrServerAlreadyRunning, srv.Start(context.Background()))

	require.NoError(t, srv.Stop(context.Background()))
	assert.False(t, srv.IsRunning())

	// Stopping again is a no-op.
	require.NoError(t, srv.Stop(context.Background()))
}

func TestServerRecoversPanics(t *testing.T) {
	srv := startServer(t, Config{GracePeriod: time.Second})
	conn := dial(t, srv.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := conn.Invoke(ctx, "/test.Panics/Boom", &emptypb.Empty{}, &emptypb.Empty{})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), "kaboom")
}

func TestServerServesReflection(t *testing.T) {
	srv := startServer(t, Config{Reflection: true, GracePeriod: time.Second})
	conn := dial(t, srv.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	services, err := reflection.NewClient(conn).ListServices(ctx)
	require.NoError(t, err)
	assert.Contains(t, services, "test.Panics")
}

func TestServerServesMetrics(t *testing.T) {
	srv := startServer(t, Config{MetricsAddr: "127.0.0.1:0", GracePeriod: time.Second})
	conn := dial(t, srv.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// One failing call so the error counter has a sample. The call panics,
	// so this also pins that panicking calls are observed: recovery sits
	// inside the metrics interceptor and hands it an error, not a panic.
	_ = conn.Invoke(ctx, "/test.Panics/Boom", &emptypb.Empty{}, &emptypb.Empty{})

	resp, err := http.Get("http://" + srv.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "grpc_endpoint_error")
	assert.Contains(t, string(body), "grpc_endpoint_bucket")
	assert.Contains(t, string(body), "test_Panics")
	assert.Contains(t, string(body), `code="Internal"`)
}
