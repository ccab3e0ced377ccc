package ethrpc

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mintrelay/mintrelay/pkg/logger"
)

// FailoverReader fans a read-only query across an ordered list of endpoints,
// returning the first success. Endpoints are never marked dead: every call
// walks the list from the start. When all endpoints fail only the last error
// is returned.
//
// Writes (transactions, bundler submission) must not go through here, they
// need a single canonical endpoint.
type FailoverReader struct {
	client    *Client
	endpoints []string
	logger    logger.Logger

	// onAttempt, when set, observes every endpoint attempt. Used to feed
	// metrics without this package importing prometheus.
	onAttempt func(endpoint string, success bool)
}

func NewFailoverReader(client *Client, endpoints []string, lgr logger.Logger) *FailoverReader {
	return &FailoverReader{
		client:    client,
		endpoints: endpoints,
		logger:    logger.EnsureLogger(lgr),
	}
}

// SetAttemptObserver installs a per-attempt callback. Must be called before
// the reader is shared across goroutines.
func (r *FailoverReader) SetAttemptObserver(fn func(endpoint string, success bool)) {
	r.onAttempt = fn
}

func (r *FailoverReader) Endpoints() []string { return r.endpoints }

// Read tries every configured endpoint in order and returns the first
// successful result, or the last endpoint's error when all of them fail.
func (r *FailoverReader) Read(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var lastErr error
	for i, endpoint := range r.endpoints {
		result, err := r.client.Call(ctx, endpoint, method, params...)
		if err == nil {
			if r.onAttempt != nil {
				r.onAttempt(endpoint, true)
			}
			return result, nil
		}

		if r.onAttempt != nil {
			r.onAttempt(endpoint, false)
		}
		r.logger.Debug("read endpoint failed", "endpoint", endpoint, "method", method, "attempt", i+1, "error", err)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = &NetworkError{Method: method, Err: errNoEndpoints}
	}
	return nil, lastErr
}

type callMsg struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// CallContract performs eth_call against to with the given calldata at the
// latest block.
func (r *FailoverReader) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	raw, err := r.Read(ctx, "eth_call", callMsg{To: to.Hex(), Data: hexutil.Encode(data)}, "latest")
	if err != nil {
		return nil, err
	}
	return decodeHexBytes(raw)
}

// CodeAt returns the code deployed at addr. An empty slice means no code.
func (r *FailoverReader) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	raw, err := r.Read(ctx, "eth_getCode", addr.Hex(), "latest")
	if err != nil {
		return nil, err
	}
	return decodeHexBytes(raw)
}

// BalanceAt returns the wei balance of addr at the latest block.
func (r *FailoverReader) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	raw, err := r.Read(ctx, "eth_getBalance", addr.Hex(), "latest")
	if err != nil {
		return nil, err
	}
	return decodeHexBig(raw)
}

// ChainID returns the chain id reported by the first healthy endpoint.
func (r *FailoverReader) ChainID(ctx context.Context) (*big.Int, error) {
	raw, err := r.Read(ctx, "eth_chainId")
	if err != nil {
		return nil, err
	}
	return decodeHexBig(raw)
}

// BlockNumber returns the latest block number.
func (r *FailoverReader) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := r.Read(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	n, err := decodeHexBig(raw)
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

func decodeHexBytes(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	return hexutil.Decode(s)
}

func decodeHexBig(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return hexutil.DecodeBig(s)
}
