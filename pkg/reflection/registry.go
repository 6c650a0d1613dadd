package reflection

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Fetcher retrieves raw file descriptor blobs for a batch of reflection
// queries. *Client is the production implementation; tests substitute an
// in-memory one.
type Fetcher interface {
	FetchDescriptors(ctx context.Context, reqs []*rpb.ServerReflectionRequest) ([][]byte, error)
}

// Registry is the local descriptor store produced by one discovery session.
// It is immutable once built and safe for concurrent reads. It must not be
// shared with another session's builder.
type Registry struct {
	files *protoregistry.Files
}

// FindService resolves a fully qualified service name.
func (r *Registry) FindService(name string) (protoreflect.ServiceDescriptor, error) {
	desc, err := r.files.FindDescriptorByName(protoreflect.FullName(name))
	if err != nil {
		if errors.Is(err, protoregistry.NotFound) {
			return nil, fmt.Errorf("%w: %q", ErrServiceNotFound, name)
		}
		return nil, err
	}
	svc, ok := desc.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a service", ErrServiceNotFound, name)
	}
	return svc, nil
}

// NewMessage returns a fresh zero-valued dynamic message for the named type.
// Every call constructs a new instance.
func (r *Registry) NewMessage(name protoreflect.FullName) (*dynamicpb.Message, error) {
	desc, err := r.files.FindDescriptorByName(name)
	if err != nil {
		if errors.Is(err, protoregistry.NotFound) {
			return nil, fmt.Errorf("%w: %q", ErrTypeNotFound, name)
		}
		return nil, err
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a message", ErrTypeNotFound, name)
	}
	return dynamicpb.NewMessage(md), nil
}

// Files exposes the underlying file registry, e.g. for use as a
// protodesc.Resolver.
func (r *Registry) Files() *protoregistry.Files {
	return r.files
}

// builder tracks one in-progress registration pass. pending holds files whose
// bytes have arrived but whose dependencies may not all be committed yet;
// registered holds names already committed to files. A name moves from
// pending to registered exactly once and never back.
type builder struct {
	fetcher    Fetcher
	files      *protoregistry.Files
	registered map[string]struct{}
	pending    map[string]*descriptorpb.FileDescriptorProto
	order      []string // commit order, dependencies first
}

func newBuilder(fetcher Fetcher) *builder {
	return &builder{
		fetcher:    fetcher,
		files:      new(protoregistry.Files),
		registered: make(map[string]struct{}),
		pending:    make(map[string]*descriptorpb.FileDescriptorProto),
	}
}

// BuildRegistry parses the root descriptor blobs and registers them together
// with all transitive dependencies, fetching any dependency the peer did not
// already deliver. Roots are processed in the order received.
//
// An error aborts the whole build; the partially filled registry is never
// returned and must not be reused.
func BuildRegistry(ctx context.Context, fetcher Fetcher, blobs [][]byte) (*Registry, error) {
	b := newBuilder(fetcher)
	roots, err := b.addRaw(blobs)
	if err != nil {
		return nil, err
	}
	for _, name := range roots {
		if err := b.register(ctx, name); err != nil {
			return nil, err
		}
	}
	return &Registry{files: b.files}, nil
}

// addRaw parses descriptor blobs into the pending set and returns their
// declared names in input order. Files already held are not replaced.
func (b *builder) addRaw(blobs [][]byte) ([]string, error) {
	names := make([]string, 0, len(blobs))
	for _, blob := range blobs {
		fd := new(descriptorpb.FileDescriptorProto)
		if err := proto.Unmarshal(blob, fd); err != nil {
			return nil, fmt.Errorf("parsing file descriptor: %w", err)
		}
		name := fd.GetName()
		names = append(names, name)
		if _, ok := b.registered[name]; ok {
			continue
		}
		if _, ok := b.pending[name]; ok {
			continue
		}
		b.pending[name] = fd
	}
	return names, nil
}

// register commits the named file after all of its transitive dependencies,
// depth first. Dependencies missing from both the registered and pending sets
// are fetched by filename in a single batched round trip before recursing.
//
// Already registered names are a no-op. A name that is neither registered nor
// pending is a consistency fault: the walk only reaches names that were
// fetched, so this fails rather than silently skipping.
//
// A dependency cycle would recurse without bound; see the package comment.
func (b *builder) register(ctx context.Context, name string) error {
	if _, ok := b.registered[name]; ok {
		return nil
	}
	fd, ok := b.pending[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFetched, name)
	}

	deps := fd.GetDependency()
	var missing []string
	for _, dep := range deps {
		if _, ok := b.registered[dep]; ok {
			continue
		}
		if _, ok := b.pending[dep]; ok {
			continue
		}
		missing = append(missing, dep)
	}
	if len(missing) > 0 {
		reqs := make([]*rpb.ServerReflectionRequest, len(missing))
		for i, dep := range missing {
			reqs[i] = FileByFilenameRequest(dep)
		}
		blobs, err := b.fetcher.FetchDescriptors(ctx, reqs)
		if err != nil {
			return err
		}
		if _, err := b.addRaw(blobs); err != nil {
			return err
		}
	}

	for _, dep := range deps {
		if err := b.register(ctx, dep); err != nil {
			return err
		}
	}

	file, err := protodesc.NewFile(fd, b.files)
	if err != nil {
		return fmt.Errorf("building descriptor for %q: %w", name, err)
	}
	if err := b.files.RegisterFile(file); err != nil {
		return fmt.Errorf("registering %q: %w", name, err)
	}
	b.registered[name] = struct{}{}
	b.order = append(b.order, name)
	delete(b.pending, name)
	return nil
}

// Discover runs one full discovery round trip on the channel: list all
// services, fetch the file containing each service symbol, then build the
// registry from the returned files.
func Discover(ctx context.Context, cc grpc.ClientConnInterface) (*Registry, error) {
	client := NewClient(cc)
	services, err := client.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	reqs := make([]*rpb.ServerReflectionRequest, 0, len(services))
	for _, svc := range services {
		reqs = append(reqs, FileContainingSymbolRequest(svc))
	}
	blobs, err := client.FetchDescriptors(ctx, reqs)
	if err != nil {
		return nil, err
	}
	return BuildRegistry(ctx, client, blobs)
}
