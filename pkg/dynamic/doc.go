// Package dynamic builds fully functional gRPC clients at runtime from a
// reflection-discovered schema, with no generated stubs.
//
// The entry point is Dial (or New on an existing channel):
//
//	client, err := dynamic.Dial(ctx, "localhost:50051", "example.v1.UserService")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	out, err := client.Invoke(ctx, "GetUser", map[string]any{"id": "42"},
//	    dynamic.WithTimeout(2*time.Second))
//
// Each method of the discovered service becomes an Invocation: a map-in /
// map-out callable that populates a dynamic request message from a JSON-style
// map, performs the RPC, and renders the response back into plain maps, lists
// and scalars. Responses carrying protobuf Any values are flattened: an Any
// wrapping a single scalar becomes the bare scalar, an Any wrapping a
// structured message becomes the message's fields with the type tag removed.
//
// Invocations retry transient transport failures (unavailable, deadline
// exceeded, resource exhausted) with exponential backoff; all other errors
// propagate unchanged. Once built, a Client and its invocations are immutable
// and safe for concurrent use.
package dynamic
