package dynamic

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// CallType identifies the streaming shape of a method. It is decided once,
// from the descriptor, when the method view is built; call sites switch on it
// rather than probing the transport.
type CallType int

const (
	CallUnary CallType = iota
	CallClientStream
	CallServerStream
	CallBidiStream
)

func (t CallType) String() string {
	switch t {
	case CallUnary:
		return "unary"
	case CallClientStream:
		return "client_stream"
	case CallServerStream:
		return "server_stream"
	case CallBidiStream:
		return "bidi_stream"
	default:
		return fmt.Sprintf("CallType(%d)", int(t))
	}
}

// Method is a read-only view of one rpc of a service, derived from the
// descriptor registry after discovery completes.
type Method struct {
	// Service is the fully qualified service name.
	Service string

	// Name is the bare method name.
	Name string

	// Type is the streaming shape of the method.
	Type CallType

	desc protoreflect.MethodDescriptor
}

// NewMethod builds a method view from a descriptor.
func NewMethod(serviceName string, desc protoreflect.MethodDescriptor) *Method {
	return &Method{
		Service: serviceName,
		Name:    string(desc.Name()),
		Type:    callTypeOf(desc),
		desc:    desc,
	}
}

func callTypeOf(desc protoreflect.MethodDescriptor) CallType {
	switch {
	case desc.IsStreamingClient() && desc.IsStreamingServer():
		return CallBidiStream
	case desc.IsStreamingClient():
		return CallClientStream
	case desc.IsStreamingServer():
		return CallServerStream
	default:
		return CallUnary
	}
}

// FullPath returns the wire path of the method, "/Service/Method".
func (m *Method) FullPath() string {
	return "/" + m.Service + "/" + m.Name
}

// NewInput returns a fresh zero-valued request message.
func (m *Method) NewInput() *dynamicpb.Message {
	return dynamicpb.NewMessage(m.desc.Input())
}

// NewOutput returns a fresh zero-valued response message.
func (m *Method) NewOutput() *dynamicpb.Message {
	return dynamicpb.NewMessage(m.desc.Output())
}

// Descriptor returns the underlying method descriptor.
func (m *Method) Descriptor() protoreflect.MethodDescriptor {
	return m.desc
}

// UnaryCallable performs exactly one RPC per call. It is stateless beyond its
// captured channel and method bindings and is safe for concurrent use.
type UnaryCallable func(ctx context.Context, in proto.Message, opts ...grpc.CallOption) (proto.Message, error)

// NewUnaryMethod binds a unary method to a channel, returning a callable that
// marshals the request and unmarshals the response using the method's dynamic
// message types. Methods with a streaming shape are rejected with ErrNotUnary.
func NewUnaryMethod(cc grpc.ClientConnInterface, m *Method) (UnaryCallable, error) {
	if m.Type != CallUnary {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotUnary, m.FullPath(), m.Type)
	}
	path := m.FullPath()
	return func(ctx context.Context, in proto.Message, opts ...grpc.CallOption) (proto.Message, error) {
		out := m.NewOutput()
		if err := cc.Invoke(ctx, path, in, out, opts...); err != nil {
			return nil, err
		}
		return out, nil
	}, nil
}
