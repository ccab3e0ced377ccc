// Package ethrpc implements a minimal JSON-RPC 2.0 client for talking to
// Ethereum nodes and bundlers over HTTP, plus an ordered failover reader for
// read-only queries spread across several endpoints.
package ethrpc

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds a single outbound JSON-RPC call. Retry across
// endpoints is the caller's job, the client itself never retries.
const DefaultTimeout = 8 * time.Second

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *errorBody      `json:"error"`
}

type errorBody struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client issues single JSON-RPC calls against one endpoint at a time.
// Request IDs are generated from an in-process counter, good enough for
// correlating a response within one call.
type Client struct {
	http   *resty.Client
	nextID int64
}

func NewClient() *Client {
	return &Client{
		http: resty.New().SetTimeout(DefaultTimeout),
	}
}

// NewClientWithTimeout is used by tests to shrink the abort window.
func NewClientWithTimeout(timeout time.Duration) *Client {
	return &Client{
		http: resty.New().SetTimeout(timeout),
	}
}

// Call posts one JSON-RPC request to endpoint and returns the raw result.
// A body that fails to parse is tolerated as an empty object, which then
// surfaces as an RPCError since the result field is absent.
func (c *Client) Call(ctx context.Context, endpoint string, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}

	req := request{
		JSONRPC: "2.0",
		ID:      atomic.AddInt64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(endpoint)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Method: method, Err: err}
	}

	var parsed response
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		// tolerate malformed bodies, the missing result is reported below
		parsed = response{}
	}

	if parsed.Error != nil {
		return nil, &RPCError{
			Endpoint:   endpoint,
			Method:     method,
			Code:       parsed.Error.Code,
			Message:    parsed.Error.Message,
			HTTPStatus: resp.StatusCode(),
		}
	}

	if parsed.Result == nil {
		return nil, &RPCError{
			Endpoint:   endpoint,
			Method:     method,
			HTTPStatus: resp.StatusCode(),
		}
	}

	return parsed.Result, nil
}
