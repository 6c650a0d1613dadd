package interceptor

import (
	"context"
	"encoding/json"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Trailer keys used to carry application error information alongside a
// transport status.
const (
	errorCodeKey    = "error_code"
	errorDetailsKey = "error_details"
)

// ErrorFactory maps an application error code to a constructor taking the
// decoded detail arguments, or nil when the code is not recognized. An
// unrecognized code leaves the transport error untouched.
type ErrorFactory func(code int) func(args []any) error

// UnaryClientErrorTranslation rebuilds application errors from the
// "error_code" and "error_details" trailers of failed calls. Calls that fail
// without a recognized error code propagate their transport error unchanged.
func UnaryClientErrorTranslation(factory ErrorFactory) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		var trailer metadata.MD
		opts = append(opts, grpc.Trailer(&trailer))
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err == nil {
			return nil
		}
		return FromTrailers(factory, err, trailer)
	}
}

// FromTrailers translates rpcErr using the error code and JSON-encoded
// constructor arguments in the trailers. The original error is returned
// whenever the trailers are absent, malformed, or name a code the factory
// does not recognize.
func FromTrailers(factory ErrorFactory, rpcErr error, trailers metadata.MD) error {
	code, ok := trailerCode(trailers)
	if !ok {
		return rpcErr
	}
	ctor := factory(code)
	if ctor == nil {
		return rpcErr
	}

	details := "[]"
	if vals := trailers.Get(errorDetailsKey); len(vals) > 0 {
		details = vals[0]
	}
	var args []any
	if err := json.Unmarshal([]byte(details), &args); err != nil {
		return rpcErr
	}
	return ctor(args)
}

func trailerCode(trailers metadata.MD) (int, bool) {
	vals := trailers.Get(errorCodeKey)
	if len(vals) == 0 {
		return 0, false
	}
	code, err := strconv.Atoi(vals[0])
	if err != nil {
		return 0, false
	}
	return code, true
}

// SetErrorTrailers attaches the application error code and constructor
// arguments to the current server call's trailing metadata, for clients using
// UnaryClientErrorTranslation on the other side.
func SetErrorTrailers(ctx context.Context, code int, args ...any) error {
	details, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return grpc.SetTrailer(ctx, metadata.Pairs(
		errorCodeKey, strconv.Itoa(code),
		errorDetailsKey, string(details),
	))
}
