package dynamic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
)

// DefaultMaxRetries bounds the backoff retry of an invocation: up to this
// many retries after the first attempt.
const DefaultMaxRetries = 3

// CallOption configures a single invocation.
type CallOption func(*callConfig)

type callConfig struct {
	timeout time.Duration
	md      metadata.MD
	creds   credentials.PerRPCCredentials
}

// WithTimeout bounds the whole invocation, retries included, with a deadline.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

// WithMetadata attaches leading metadata to the call.
func WithMetadata(md metadata.MD) CallOption {
	return func(c *callConfig) { c.md = md }
}

// WithCredentials attaches per-RPC credentials to the call.
func WithCredentials(creds credentials.PerRPCCredentials) CallOption {
	return func(c *callConfig) { c.creds = creds }
}

// Invocation is a map-in/map-out view of one rpc. The input map is matched
// structurally against the request message; unknown keys are discarded and
// missing fields keep their declared defaults. Safe for concurrent use.
type Invocation func(ctx context.Context, input map[string]any, opts ...CallOption) (map[string]any, error)

// IsTransient reports whether err is a transport failure worth retrying.
func IsTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// NewInvocation wraps a unary callable into an Invocation. Transient
// transport failures are retried with exponential backoff, up to maxRetries
// retries after the first attempt; every other error aborts immediately and
// propagates untranslated.
func NewInvocation(method *Method, call UnaryCallable, maxRetries uint64) Invocation {
	return func(ctx context.Context, input map[string]any, opts ...CallOption) (map[string]any, error) {
		var cfg callConfig
		for _, opt := range opts {
			opt(&cfg)
		}
		if cfg.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
		if cfg.md != nil {
			ctx = metadata.NewOutgoingContext(ctx, cfg.md)
		}
		var callOpts []grpc.CallOption
		if cfg.creds != nil {
			callOpts = append(callOpts, grpc.PerRPCCredentials(cfg.creds))
		}

		in := method.NewInput()
		if len(input) > 0 {
			raw, err := json.Marshal(input)
			if err != nil {
				return nil, fmt.Errorf("encoding input for %s: %w", method.FullPath(), err)
			}
			unmarshal := protojson.UnmarshalOptions{DiscardUnknown: true}
			if err := unmarshal.Unmarshal(raw, in); err != nil {
				return nil, fmt.Errorf("building request for %s: %w", method.FullPath(), err)
			}
		}

		var out map[string]any
		attempt := func() error {
			resp, err := call(ctx, in, callOpts...)
			if err != nil {
				if IsTransient(err) {
					return err
				}
				return backoff.Permanent(err)
			}
			m, err := MessageToMap(resp)
			if err != nil {
				return backoff.Permanent(err)
			}
			out = m
			return nil
		}

		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
		if err := backoff.Retry(attempt, policy); err != nil {
			return nil, err
		}
		return out, nil
	}
}
