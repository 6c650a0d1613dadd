// Package schema compiles .proto sources into the same service and method
// views the reflection path produces, for running against a peer without a
// reflection service (or for building test fixtures).
package schema

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bufbuild/protocompile"
	"github.com/protogate/protogate/pkg/dynamic"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

var (
	// ErrNoFiles is returned when ParseFiles is called without inputs.
	ErrNoFiles = errors.New("schema: no proto files provided")

	// ErrServiceNotFound is returned when a requested service is not defined
	// by the compiled files.
	ErrServiceNotFound = errors.New("schema: service not found")
)

// Schema holds compiled proto files and the services they define.
type Schema struct {
	files    []protoreflect.FileDescriptor
	services map[string]*Service
}

// Service describes one gRPC service from a compiled schema.
type Service struct {
	// Name is the fully qualified service name.
	Name string

	methods map[string]*dynamic.Method
	desc    protoreflect.ServiceDescriptor
}

// ParseFiles compiles the given .proto files. importPaths lists directories
// searched for imports; when empty, the directories of the input files are
// used. Standard well-known imports resolve without any import path.
func ParseFiles(ctx context.Context, paths, importPaths []string) (*Schema, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}
	if len(importPaths) == 0 {
		seen := make(map[string]struct{})
		for _, path := range paths {
			dir := filepath.Dir(path)
			if _, ok := seen[dir]; !ok {
				seen[dir] = struct{}{}
				importPaths = append(importPaths, dir)
			}
		}
	}

	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			ImportPaths: importPaths,
		}),
	}

	// The compiler resolves imports relative to the import paths, so strip
	// matching prefixes from the inputs before compiling.
	names := make([]string, len(paths))
	for i, path := range paths {
		names[i] = relativeToImportPath(path, importPaths)
	}

	compiled, err := compiler.Compile(ctx, names...)
	if err != nil {
		return nil, fmt.Errorf("compiling proto files: %w", err)
	}

	s := &Schema{services: make(map[string]*Service)}
	for _, file := range compiled {
		s.files = append(s.files, file)
		services := file.Services()
		for i := 0; i < services.Len(); i++ {
			desc := services.Get(i)
			svc := &Service{
				Name:    string(desc.FullName()),
				methods: make(map[string]*dynamic.Method),
				desc:    desc,
			}
			methods := desc.Methods()
			for j := 0; j < methods.Len(); j++ {
				method := dynamic.NewMethod(svc.Name, methods.Get(j))
				svc.methods[method.Name] = method
			}
			s.services[svc.Name] = svc
		}
	}
	return s, nil
}

func relativeToImportPath(path string, importPaths []string) string {
	for _, importPath := range importPaths {
		if rel, err := filepath.Rel(importPath, path); err == nil &&
			rel != "." && !filepath.IsAbs(rel) && !isParentRef(rel) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

func isParentRef(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

// Service returns the named service.
func (s *Schema) Service(name string) (*Service, error) {
	svc, ok := s.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotFound, name)
	}
	return svc, nil
}

// ListServices returns all service names in sorted order.
func (s *Schema) ListServices() []string {
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Files returns the compiled file descriptors.
func (s *Schema) Files() []protoreflect.FileDescriptor {
	return s.files
}

// Resolver returns a registry holding the compiled files and all their
// transitive imports, suitable as a protodesc.Resolver (e.g. for serving
// reflection over a compiled schema).
func (s *Schema) Resolver() (*protoregistry.Files, error) {
	files := new(protoregistry.Files)
	var add func(fd protoreflect.FileDescriptor) error
	add = func(fd protoreflect.FileDescriptor) error {
		if _, err := files.FindFileByPath(fd.Path()); err == nil {
			return nil
		}
		imports := fd.Imports()
		for i := 0; i < imports.Len(); i++ {
			if err := add(imports.Get(i).FileDescriptor); err != nil {
				return err
			}
		}
		return files.RegisterFile(fd)
	}
	for _, fd := range s.files {
		if err := add(fd); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// Method returns the named method of the service, or nil when unknown.
func (s *Service) Method(name string) *dynamic.Method {
	return s.methods[name]
}

// ListMethods returns all method names in sorted order.
func (s *Service) ListMethods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptor returns the underlying service descriptor.
func (s *Service) Descriptor() protoreflect.ServiceDescriptor {
	return s.desc
}
