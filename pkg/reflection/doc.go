// Package reflection discovers a remote server's protobuf schema at runtime
// using the gRPC server reflection protocol and rebuilds it into a local
// descriptor registry.
//
// Discovery is a single round of queries per channel: first "list all
// services", then "file containing symbol" for each service. The reflection
// protocol guarantees that a response may include transitive dependencies of
// the requested file, but not that it includes all of them, so the registry
// builder walks each file's declared dependency list and fetches whatever the
// peer left out before committing the file.
//
// Files are committed to the registry in strict dependency order: a file is
// registered only after every file it imports. The resulting Registry is
// immutable and owned by the discovery session that created it; concurrent
// sessions must each build their own.
//
//	conn, _ := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
//	reg, err := reflection.Discover(ctx, conn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := reg.FindService("example.v1.UserService")
//
// The builder does not detect dependency cycles: a cyclic graph would recurse
// without bound. The reflection protocol only serves descriptors compiled by
// protoc, which rejects import cycles, so none are expected on the wire.
package reflection
