package preset

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintrelay/mintrelay/core/account"
	"github.com/mintrelay/mintrelay/core/chainio/aa"
	"github.com/mintrelay/mintrelay/pkg/erc4337/bundler"
	"github.com/mintrelay/mintrelay/pkg/ethrpc"
)

var testCfg = BuilderConfig{
	Entrypoint: common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032"),
	Factory:    common.HexToAddress("0x29adA1b5217242DEaBB142BC3b1bCfFdd56008e7"),
	Paymaster:  common.HexToAddress("0x3D3Cb3dE9c52845Cbaa8ec4b4d283bEa74C1c1B2"),
	Token:      common.HexToAddress("0x4200000000000000000000000000000000000042"),
	Owner:      common.HexToAddress("0xe272b72E51a5bF8cB720fc6D6DF164a4D5E321C5"),
}

var testSender = common.HexToAddress("0x5Df343de7d99fd64b2479810FEBC0aB3a217247E")

// nodeStub answers eth_call by calldata selector and eth_getCode from a
// mutable slot, mirroring what resolution and nonce reads need.
type nodeStub struct {
	t *testing.T

	mu      sync.Mutex
	code    string
	results map[string]string
}

func newNodeStub(t *testing.T) *nodeStub {
	s := &nodeStub{t: t, code: "0x", results: map[string]string{}}

	getAccountAddress, err := aa.PackGetAccountAddress("probe")
	require.NoError(t, err)
	s.results[hex.EncodeToString(getAccountAddress[:4])] = hexutil.Encode(common.LeftPadBytes(testSender.Bytes(), 32))

	return s
}

func (s *nodeStub) setNonce(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	getNonce, err := aa.PackGetNonce(testSender, big.NewInt(0))
	require.NoError(s.t, err)
	s.results[hex.EncodeToString(getNonce[:4])] = hexutil.Encode(common.LeftPadBytes(big.NewInt(n).Bytes(), 32))
}

func (s *nodeStub) setCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
}

func (s *nodeStub) serve() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))

		write := func(body map[string]interface{}) {
			body["jsonrpc"] = "2.0"
			body["id"] = req.ID
			_ = json.NewEncoder(w).Encode(body)
		}

		switch req.Method {
		case "eth_getCode":
			s.mu.Lock()
			code := s.code
			s.mu.Unlock()
			write(map[string]interface{}{"result": code})
		case "eth_call":
			var msg struct {
				Data string `json:"data"`
			}
			require.NoError(s.t, json.Unmarshal(req.Params[0], &msg))
			data, err := hexutil.Decode(msg.Data)
			require.NoError(s.t, err)

			s.mu.Lock()
			result, ok := s.results[hex.EncodeToString(data[:4])]
			s.mu.Unlock()
			if !ok {
				write(map[string]interface{}{"error": map[string]interface{}{"code": -32000, "message": "execution reverted"}})
				return
			}
			write(map[string]interface{}{"result": result})
		default:
			write(map[string]interface{}{"error": map[string]interface{}{"code": -32601, "message": "method not found"}})
		}
	}))
}

// bundlerStub records submissions and answers with a fixed hash or error.
type bundlerStub struct {
	t *testing.T

	mu        sync.Mutex
	submitted int
	errMsg    string
}

func (s *bundlerStub) serve() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64 `json:"id"`
			Method string
		}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(s.t, "eth_sendUserOperation", req.Method)

		s.mu.Lock()
		s.submitted++
		errMsg := s.errMsg
		s.mu.Unlock()

		if errMsg != "" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32500, "message": errMsg},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": "0xdeadbeef",
		})
	}))
}

func newTestBuilder(t *testing.T, node *nodeStub, bundlerSrv *httptest.Server) (*Builder, func()) {
	t.Helper()

	nodeSrv := node.serve()
	reader := ethrpc.NewFailoverReader(ethrpc.NewClient(), []string{nodeSrv.URL}, nil)
	resolver := account.NewResolver(reader, testCfg.Factory, nil, nil)

	var bundlerClient *bundler.Client
	if bundlerSrv != nil {
		bundlerClient = bundler.NewClient(bundlerSrv.URL)
	}

	builder := NewBuilder(resolver, reader, bundlerClient, testCfg, nil)
	return builder, nodeSrv.Close
}

func TestBuildGaslessMintUndeployedSender(t *testing.T) {
	node := newNodeStub(t)
	node.setNonce(0)
	builder, closeNode := newTestBuilder(t, node, nil)
	defer closeNode()

	recipient := common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	amount := new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

	op, err := builder.BuildGaslessMint(context.Background(), "alice", recipient, amount)
	require.NoError(t, err)

	assert.Equal(t, testSender, op.Sender)
	assert.Zero(t, op.Nonce.Sign())
	assert.Empty(t, op.Signature)
	require.NotNil(t, op.Paymaster)
	assert.Equal(t, testCfg.Paymaster, *op.Paymaster)

	// undeployed sender carries the deployment payload
	require.NotNil(t, op.Factory)
	assert.Equal(t, testCfg.Factory, *op.Factory)
	wantFactoryData, err := aa.PackCreateAccount(testCfg.Owner, aa.SaltForUser("alice"))
	require.NoError(t, err)
	assert.Equal(t, wantFactoryData, op.FactoryData)
	assert.Equal(t, DEPLOYMENT_VERIFICATION_GAS_LIMIT, op.VerificationGasLimit)

	// callData unwraps to execute(token, 0, mintTo(recipient, 10e18))
	target, value, inner, err := aa.UnpackExecute(op.CallData)
	require.NoError(t, err)
	assert.Equal(t, testCfg.Token, target)
	assert.Zero(t, value.Sign())

	gotRecipient, gotAmount, err := aa.UnpackMintTo(inner)
	require.NoError(t, err)
	assert.Equal(t, recipient, gotRecipient)
	assert.Equal(t, amount, gotAmount)
}

func TestBuildGaslessOperationDeployedSender(t *testing.T) {
	node := newNodeStub(t)
	node.setCode("0x60806040")
	node.setNonce(5)
	builder, closeNode := newTestBuilder(t, node, nil)
	defer closeNode()

	op, err := builder.BuildGaslessOperation(context.Background(), "alice", testCfg.Token, []byte{0x01, 0x02})
	require.NoError(t, err)

	assert.Nil(t, op.Factory)
	assert.Empty(t, op.FactoryData)
	assert.Equal(t, DEFAULT_VERIFICATION_GAS_LIMIT, op.VerificationGasLimit)
	assert.Equal(t, big.NewInt(5), op.Nonce)
}

func TestBuildFallsBackToZeroNonceWhenEntryPointUnreachable(t *testing.T) {
	node := newNodeStub(t)
	// no getNonce answer registered, the entry point read reverts
	builder, closeNode := newTestBuilder(t, node, nil)
	defer closeNode()

	op, err := builder.BuildGaslessOperation(context.Background(), "alice", testCfg.Token, []byte{0x01})
	require.NoError(t, err)
	assert.Zero(t, op.Nonce.Sign())
}

func TestSendAdvancesPendingNonce(t *testing.T) {
	node := newNodeStub(t)
	node.setCode("0x60806040")
	node.setNonce(5)
	bstub := &bundlerStub{t: t}
	bundlerSrv := bstub.serve()
	defer bundlerSrv.Close()

	builder, closeNode := newTestBuilder(t, node, bundlerSrv)
	defer closeNode()

	op, err := builder.BuildGaslessOperation(context.Background(), "alice", testCfg.Token, []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), op.Nonce)

	hash, err := builder.Send(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", hash)

	// chain still reports 5 but the pending submission bumps us to 6
	next, err := builder.BuildGaslessOperation(context.Background(), "alice", testCfg.Token, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(6), next.Nonce)
}

func TestSendNonceRejectionResetsPendingNonce(t *testing.T) {
	node := newNodeStub(t)
	node.setCode("0x60806040")
	node.setNonce(5)
	bstub := &bundlerStub{t: t}
	bundlerSrv := bstub.serve()
	defer bundlerSrv.Close()

	builder, closeNode := newTestBuilder(t, node, bundlerSrv)
	defer closeNode()

	op, err := builder.BuildGaslessOperation(context.Background(), "alice", testCfg.Token, []byte{0x01})
	require.NoError(t, err)

	_, err = builder.Send(context.Background(), op)
	require.NoError(t, err)

	bstub.mu.Lock()
	bstub.errMsg = "AA25 invalid account nonce"
	bstub.mu.Unlock()

	next, err := builder.BuildGaslessOperation(context.Background(), "alice", testCfg.Token, []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(6), next.Nonce)

	_, err = builder.Send(context.Background(), next)
	var rejection *bundler.RejectionError
	require.ErrorAs(t, err, &rejection)

	// cache dropped, the next build trusts the chain again
	after, err := builder.BuildGaslessOperation(context.Background(), "alice", testCfg.Token, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), after.Nonce)
}
