// Package grpctest runs in-process gRPC servers for exercising discovery and
// dynamic invocation against real transport. Services are registered from a
// compiled schema and answer with configurable handlers; reflection is served
// over the schema so peers can discover it.
package grpctest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/protogate/protogate/pkg/dynamic"
	"github.com/protogate/protogate/pkg/schema"
)

// Handler answers one unary call. The method gives access to fresh output
// prototypes via NewOutput.
type Handler func(ctx context.Context, method *dynamic.Method, in *dynamicpb.Message) (proto.Message, error)

// Server serves the services of a compiled schema with pluggable handlers.
// Methods without a configured handler answer with an empty output message.
type Server struct {
	schema     *schema.Schema
	grpcServer *grpc.Server
	listener   net.Listener

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New builds a server over the schema. Extra grpc.ServerOptions (interceptor
// chains in particular) are applied to the underlying server.
func New(sch *schema.Schema, opts ...grpc.ServerOption) (*Server, error) {
	s := &Server{
		schema:     sch,
		grpcServer: grpc.NewServer(opts...),
		handlers:   make(map[string]Handler),
	}
	if err := s.registerServices(); err != nil {
		return nil, err
	}
	if err := s.registerReflection(); err != nil {
		return nil, err
	}
	return s, nil
}

// Respond installs a handler for the method, addressed as "/Service/Method".
func (s *Server) Respond(fullMethod string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[fullMethod] = h
}

// RespondJSON makes the method answer every call with the output message
// built from the given JSON body.
func (s *Server) RespondJSON(fullMethod, body string) {
	s.Respond(fullMethod, func(_ context.Context, m *dynamic.Method, _ *dynamicpb.Message) (proto.Message, error) {
		out := m.NewOutput()
		if err := protojson.Unmarshal([]byte(body), out); err != nil {
			return nil, status.Errorf(codes.Internal, "bad canned response: %v", err)
		}
		return out, nil
	})
}

// FailWith makes the method fail every call with the given status.
func (s *Server) FailWith(fullMethod string, code codes.Code, msg string) {
	s.Respond(fullMethod, func(context.Context, *dynamic.Method, *dynamicpb.Message) (proto.Message, error) {
		return nil, status.Error(code, msg)
	})
}

// FailTransiently makes the method answer its first n calls with Unavailable
// and hand subsequent calls to next. A nil next answers with an empty output.
func (s *Server) FailTransiently(fullMethod string, n int, next Handler) {
	var remaining atomic.Int64
	remaining.Store(int64(n))
	s.Respond(fullMethod, func(ctx context.Context, m *dynamic.Method, in *dynamicpb.Message) (proto.Message, error) {
		if remaining.Add(-1) >= 0 {
			return nil, status.Error(codes.Unavailable, "try again")
		}
		if next == nil {
			return m.NewOutput(), nil
		}
		return next(ctx, m, in)
	})
}

// Start begins serving on a loopback address. Addr reports where.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	go func() {
		if err := s.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			panic(fmt.Sprintf("grpctest server: %v", err))
		}
	}()
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, forcing the stop if graceful shutdown takes
// longer than a second.
func (s *Server) Stop() {
	if s.grpcServer == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.grpcServer.Stop()
	}
}

func (s *Server) registerServices() error {
	for _, serviceName := range s.schema.ListServices() {
		svc, err := s.schema.Service(serviceName)
		if err != nil {
			return err
		}

		var methods []grpc.MethodDesc
		var streams []grpc.StreamDesc
		for _, methodName := range svc.ListMethods() {
			method := svc.Method(methodName)
			if method.Type == dynamic.CallUnary {
				methods = append(methods, grpc.MethodDesc{
					MethodName: methodName,
					Handler:    s.makeUnaryHandler(method),
				})
				continue
			}
			streams = append(streams, grpc.StreamDesc{
				StreamName: methodName,
				Handler: func(any, grpc.ServerStream) error {
					return status.Error(codes.Unimplemented, "streaming is not supported")
				},
				ServerStreams: method.Type == dynamic.CallServerStream || method.Type == dynamic.CallBidiStream,
				ClientStreams: method.Type == dynamic.CallClientStream || method.Type == dynamic.CallBidiStream,
			})
		}

		s.grpcServer.RegisterService(&grpc.ServiceDesc{
			ServiceName: serviceName,
			HandlerType: (*any)(nil),
			Methods:     methods,
			Streams:     streams,
		}, struct{}{})
	}
	return nil
}

func (s *Server) makeUnaryHandler(method *dynamic.Method) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := method.NewInput()
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return s.dispatch(ctx, method, req.(*dynamicpb.Message))
		}
		if interceptor != nil {
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method.FullPath()}
			return interceptor(ctx, in, info, handler)
		}
		return handler(ctx, in)
	}
}

func (s *Server) dispatch(ctx context.Context, method *dynamic.Method, in *dynamicpb.Message) (proto.Message, error) {
	s.mu.RLock()
	h := s.handlers[method.FullPath()]
	s.mu.RUnlock()
	if h == nil {
		return method.NewOutput(), nil
	}
	return h(ctx, method, in)
}

// registerReflection serves the v1alpha reflection protocol over the schema's
// descriptors. The schema's files are not in the global registry, so the
// default reflection registration cannot see them; symbols outside the schema
// (the reflection service itself) fall back to the global registry.
func (s *Server) registerReflection() error {
	files, err := s.schema.Resolver()
	if err != nil {
		return err
	}
	resolver := fallbackResolver{primary: files, fallback: protoregistry.GlobalFiles}
	rpb.RegisterServerReflectionServer(s.grpcServer, reflection.NewServer(reflection.ServerOptions{
		Services:           s.grpcServer,
		DescriptorResolver: resolver,
	}))
	return nil
}

type fallbackResolver struct {
	primary  *protoregistry.Files
	fallback *protoregistry.Files
}

func (r fallbackResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.primary.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return r.fallback.FindFileByPath(path)
}

func (r fallbackResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.primary.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return r.fallback.FindDescriptorByName(name)
}
