package ethrpc

import (
	"errors"
	"fmt"
)

var errNoEndpoints = errors.New("no read endpoints configured")

// NetworkError is a transport level failure: the endpoint could not be
// reached, or the request was aborted by the client side timeout.
type NetworkError struct {
	Endpoint string
	Method   string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s on %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RPCError is an endpoint that answered but either returned a JSON-RPC error
// object or a body without a result field.
type RPCError struct {
	Endpoint   string
	Method     string
	Code       int
	Message    string
	HTTPStatus int
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rpc error from %s calling %s: %s (code %d)", e.Endpoint, e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("rpc error from %s calling %s: no result (http status %d)", e.Endpoint, e.Method, e.HTTPStatus)
}
