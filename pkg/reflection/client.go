package reflection

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
)

// Client issues server reflection queries over an existing gRPC channel.
// Each batch of requests uses one bidirectional ServerReflectionInfo stream.
// The client does not retry and does not interpret transport errors; they
// surface to the caller unchanged.
type Client struct {
	stub rpb.ServerReflectionClient
}

// NewClient creates a reflection client on the given channel.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{stub: rpb.NewServerReflectionClient(cc)}
}

// ListServicesRequest builds a "list all services" reflection request.
func ListServicesRequest() *rpb.ServerReflectionRequest {
	return &rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_ListServices{ListServices: "services"},
	}
}

// FileByFilenameRequest builds a request for the descriptor of the named file.
func FileByFilenameRequest(name string) *rpb.ServerReflectionRequest {
	return &rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_FileByFilename{FileByFilename: name},
	}
}

// FileContainingSymbolRequest builds a request for the descriptor of the file
// that defines the given fully qualified symbol.
func FileContainingSymbolRequest(symbol string) *rpb.ServerReflectionRequest {
	return &rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	}
}

// ListServices returns the fully qualified names of all services the peer
// exposes, in the order the peer reports them.
func (c *Client) ListServices(ctx context.Context) ([]string, error) {
	stream, err := c.stub.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := stream.Send(ListServicesRequest()); err != nil {
		return nil, err
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	if errResp := resp.GetErrorResponse(); errResp != nil {
		return nil, reflectionError(errResp)
	}
	list := resp.GetListServicesResponse()
	if list == nil {
		return nil, fmt.Errorf("%w: want list_services_response, got %T",
			ErrUnexpectedResponse, resp.GetMessageResponse())
	}
	names := make([]string, 0, len(list.GetService()))
	for _, svc := range list.GetService() {
		names = append(names, svc.GetName())
	}
	return names, nil
}

// FetchDescriptors sends the given file queries over a single reflection
// stream and returns the raw FileDescriptorProto blobs from every response,
// flattened in response order. A single query can legitimately yield several
// files: the peer may bundle transitive dependencies of the requested file.
func (c *Client) FetchDescriptors(ctx context.Context, reqs []*rpb.ServerReflectionRequest) ([][]byte, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	stream, err := c.stub.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, err
	}
	var blobs [][]byte
	for _, req := range reqs {
		if err := stream.Send(req); err != nil {
			return nil, err
		}
		resp, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		if errResp := resp.GetErrorResponse(); errResp != nil {
			return nil, reflectionError(errResp)
		}
		fdResp := resp.GetFileDescriptorResponse()
		if fdResp == nil {
			return nil, fmt.Errorf("%w: want file_descriptor_response, got %T",
				ErrUnexpectedResponse, resp.GetMessageResponse())
		}
		blobs = append(blobs, fdResp.GetFileDescriptorProto()...)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return blobs, nil
}

// reflectionError converts a reflection ErrorResponse into a status error
// carrying the peer's code and message.
func reflectionError(resp *rpb.ErrorResponse) error {
	return status.Error(codes.Code(resp.GetErrorCode()), resp.GetErrorMessage())
}
