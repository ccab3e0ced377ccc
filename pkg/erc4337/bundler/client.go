// Provide primitive to work with a bundler RPC
// Bundler RPC is stateless
package bundler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"

	"github.com/mintrelay/mintrelay/pkg/ethrpc"
	"github.com/mintrelay/mintrelay/pkg/erc4337/userop"
)

// Client talks to one ERC-4337 bundler endpoint. Submission never goes
// through the failover reader: the bundler keeps per-operation state in its
// own mempool, so every call must hit the same configured endpoint.
type Client struct {
	endpoint string
	rpc      *ethrpc.Client
}

// NewClient creates a bundler client against the given URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		rpc:      ethrpc.NewClient(),
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

// RejectionError is returned when the bundler validated and refused an
// operation. It carries the bundler's structured reason and the full
// submitted operation so the caller can adjust and resubmit.
type RejectionError struct {
	Reason *ethrpc.RPCError
	Op     *userop.UserOperation
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("bundler rejected operation for %s: %s", e.Op.Sender.Hex(), e.Reason.Message)
}

func (e *RejectionError) Unwrap() error { return e.Reason }

// SendUserOperation submits op to the bundler's eth_sendUserOperation and
// returns the bundler assigned operation hash. The hash is opaque here;
// polling it to completion is the caller's business.
func (c *Client) SendUserOperation(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (string, error) {
	raw, err := c.rpc.Call(ctx, c.endpoint, "eth_sendUserOperation", op, entrypoint.Hex())
	if err != nil {
		if rpcErr, ok := err.(*ethrpc.RPCError); ok && rpcErr.Message != "" {
			return "", &RejectionError{Reason: rpcErr, Op: op}
		}
		return "", err
	}

	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", fmt.Errorf("unexpected eth_sendUserOperation result: %w", err)
	}
	return hash, nil
}

// OperationReceipt is the subset of eth_getUserOperationReceipt we care
// about. Bundlers return loosely typed maps here, mapstructure bridges them
// into something usable.
type OperationReceipt struct {
	UserOpHash    string `mapstructure:"userOpHash" json:"userOpHash"`
	Sender        string `mapstructure:"sender" json:"sender"`
	Success       bool   `mapstructure:"success" json:"success"`
	ActualGasUsed string `mapstructure:"actualGasUsed" json:"actualGasUsed"`
}

// GetUserOperationReceipt fetches the receipt of a submitted operation.
// A nil receipt with nil error means the bundler has not included it yet.
func (c *Client) GetUserOperationReceipt(ctx context.Context, hash string) (*OperationReceipt, error) {
	raw, err := c.rpc.Call(ctx, c.endpoint, "eth_getUserOperationReceipt", hash)
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	var receipt OperationReceipt
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &receipt,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(payload); err != nil {
		return nil, fmt.Errorf("cannot decode bundler receipt: %w", err)
	}
	return &receipt, nil
}
