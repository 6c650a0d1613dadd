package dynamic

import "errors"

var (
	// ErrNotUnary is returned when a callable is requested for a method with
	// a streaming shape. Dynamic invocation only supports unary methods.
	ErrNotUnary = errors.New("dynamic: method is not unary")

	// ErrMethodNotFound is returned by Client.Invoke for an unknown method
	// name.
	ErrMethodNotFound = errors.New("dynamic: method not found")

	// ErrUnsupportedValue is returned by the response translator when a
	// decoded value falls outside the map/list/scalar algebra.
	ErrUnsupportedValue = errors.New("dynamic: unsupported value in decoded message")

	// ErrNotObject is returned when a top-level response flattens to a bare
	// scalar or list instead of an object.
	ErrNotObject = errors.New("dynamic: response did not translate to an object")
)
