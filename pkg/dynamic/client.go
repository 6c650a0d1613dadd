package dynamic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/protogate/protogate/pkg/logging"
	"github.com/protogate/protogate/pkg/reflection"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// roundRobinConfig spreads calls across resolved backends, matching the
// behavior of the clients this replaces.
const roundRobinConfig = `{"loadBalancingConfig": [{"round_robin":{}}]}`

// Option configures client construction.
type Option func(*options)

type options struct {
	maxRetries uint64
	log        *slog.Logger
}

// WithMaxRetries overrides the retry bound applied to every invocation.
func WithMaxRetries(n uint64) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithLogger sets the logger used during discovery.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// Client exposes every method of one remote service as a JSON-style
// invocation. It is immutable once built and safe for concurrent use.
type Client struct {
	service     string
	registry    *reflection.Registry
	methods     map[string]*Method
	invocations map[string]Invocation
	conn        *grpc.ClientConn // owned only when built via Dial
}

// Dial opens an insecure channel to host and builds a dynamic client for
// serviceName on it. Close releases the channel.
func Dial(ctx context.Context, host, serviceName string, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(host,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultServiceConfig(roundRobinConfig),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", host, err)
	}
	client, err := New(ctx, conn, serviceName, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	client.conn = conn
	return client, nil
}

// New runs one reflection discovery round on the channel and builds an
// invocation for every method serviceName declares. The channel remains owned
// by the caller. Returns reflection.ErrServiceNotFound when the peer does not
// expose serviceName.
func New(ctx context.Context, cc grpc.ClientConnInterface, serviceName string, opts ...Option) (*Client, error) {
	o := options{maxRetries: DefaultMaxRetries, log: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	registry, err := reflection.Discover(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("discovering schema: %w", err)
	}

	svc, err := registry.FindService(serviceName)
	if err != nil {
		return nil, err
	}

	client := newClient(cc, svc, o)
	client.registry = registry
	return client, nil
}

// NewFromDescriptor builds a client from an already resolved service
// descriptor, skipping discovery entirely. The resulting client has no
// registry. The channel remains owned by the caller.
func NewFromDescriptor(cc grpc.ClientConnInterface, desc protoreflect.ServiceDescriptor, opts ...Option) *Client {
	o := options{maxRetries: DefaultMaxRetries, log: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return newClient(cc, desc, o)
}

// DialDescriptor opens an insecure channel to host and builds a client for
// the already resolved service descriptor. Close releases the channel.
func DialDescriptor(host string, desc protoreflect.ServiceDescriptor, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(host,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultServiceConfig(roundRobinConfig),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", host, err)
	}
	client := NewFromDescriptor(conn, desc, opts...)
	client.conn = conn
	return client, nil
}

func newClient(cc grpc.ClientConnInterface, svc protoreflect.ServiceDescriptor, o options) *Client {
	serviceName := string(svc.FullName())
	client := &Client{
		service:     serviceName,
		methods:     make(map[string]*Method),
		invocations: make(map[string]Invocation),
	}

	descs := svc.Methods()
	for i := 0; i < descs.Len(); i++ {
		method := NewMethod(serviceName, descs.Get(i))
		client.methods[method.Name] = method

		call, err := NewUnaryMethod(cc, method)
		if err != nil {
			// Streaming methods keep their slot in the mapping but fail on
			// use; discovery itself succeeds.
			notUnary := err
			client.invocations[method.Name] = func(context.Context, map[string]any, ...CallOption) (map[string]any, error) {
				return nil, notUnary
			}
			o.log.Debug("skipping streaming method",
				"service", serviceName, "method", method.Name, "shape", method.Type.String())
			continue
		}
		client.invocations[method.Name] = NewInvocation(method, call, o.maxRetries)
		o.log.Debug("mounted method", "service", serviceName, "method", method.Name)
	}

	return client
}

// Invoke calls the named method with the given input map.
func (c *Client) Invoke(ctx context.Context, method string, input map[string]any, opts ...CallOption) (map[string]any, error) {
	inv, ok := c.invocations[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrMethodNotFound, c.service, method)
	}
	return inv(ctx, input, opts...)
}

// Invocations returns the method-name-to-invocation mapping.
func (c *Client) Invocations() map[string]Invocation {
	out := make(map[string]Invocation, len(c.invocations))
	for name, inv := range c.invocations {
		out[name] = inv
	}
	return out
}

// Method returns the view of the named method, or nil when unknown.
func (c *Client) Method(name string) *Method {
	return c.methods[name]
}

// Methods returns the declared method names in sorted order.
func (c *Client) Methods() []string {
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Service returns the fully qualified service name the client is bound to.
func (c *Client) Service() string {
	return c.service
}

// Registry returns the descriptor registry built during discovery, or nil
// when the client was built from a descriptor.
func (c *Client) Registry() *reflection.Registry {
	return c.registry
}

// Close releases the channel when the client owns it (built via Dial).
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
