// Package bridge exposes a dynamic gRPC client over HTTP. Each method of the
// bound service becomes a POST endpoint taking and returning JSON objects.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/protogate/protogate/pkg/dynamic"
	"github.com/protogate/protogate/pkg/httputil"
	"github.com/protogate/protogate/pkg/logging"
)

// Invoker is the part of a dynamic client the bridge needs.
type Invoker interface {
	Invoke(ctx context.Context, method string, input map[string]any, opts ...dynamic.CallOption) (map[string]any, error)
	Methods() []string
	Service() string
}

// Option configures a bridge.
type Option func(*Bridge)

// WithPrefix overrides the mount prefix, default "/rpc".
func WithPrefix(prefix string) Option {
	return func(b *Bridge) { b.prefix = prefix }
}

// WithLogger sets the request logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) {
		if log != nil {
			b.log = log
		}
	}
}

// Bridge serves one dynamic client over HTTP.
type Bridge struct {
	client Invoker
	prefix string
	log    *slog.Logger
}

// New builds a bridge over the client.
func New(client Invoker, opts ...Option) *Bridge {
	b := &Bridge{
		client: client,
		prefix: "/rpc",
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Mount registers the bridge routes on the mux: GET prefix lists the
// service's methods, POST prefix/{method} invokes one.
func (b *Bridge) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET "+b.prefix, b.handleIndex)
	mux.HandleFunc("POST "+b.prefix+"/{method}", b.handleInvoke)
}

func (b *Bridge) handleIndex(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOK(w, map[string]any{
		"service": b.client.Service(),
		"methods": b.client.Methods(),
	})
}

func (b *Bridge) handleInvoke(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	method := r.PathValue("method")
	start := time.Now()

	input, err := decodeInput(r.Body)
	if err != nil {
		b.log.Warn("bad request body", "request_id", requestID, "method", method, "error", err)
		httputil.WriteBadRequest(w, "invalid_json", "request body must be a JSON object")
		return
	}

	out, err := b.client.Invoke(r.Context(), method, input)
	if err != nil {
		st, httpStatus := toHTTPError(err)
		b.log.Error("rpc failed",
			"request_id", requestID, "method", method,
			"code", st.Code().String(), "duration", time.Since(start))
		httputil.WriteError(w, httpStatus, st.Code().String(), st.Message())
		return
	}

	b.log.Debug("rpc bridged",
		"request_id", requestID, "method", method, "duration", time.Since(start))
	httputil.WriteOK(w, out)
}

func decodeInput(body io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	return input, nil
}

// toHTTPError maps an invocation error to a status and HTTP status code.
// Local errors (unknown method, streaming shape, translation failures) are
// mapped before consulting the transport status.
func toHTTPError(err error) (*status.Status, int) {
	switch {
	case errors.Is(err, dynamic.ErrMethodNotFound):
		return status.New(codes.NotFound, err.Error()), http.StatusNotFound
	case errors.Is(err, dynamic.ErrNotUnary):
		return status.New(codes.InvalidArgument, err.Error()), http.StatusBadRequest
	}
	st := status.Convert(err)
	return st, httpStatusFromCode(st.Code())
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return http.StatusRequestTimeout
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
