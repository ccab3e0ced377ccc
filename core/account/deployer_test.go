package account

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintrelay/mintrelay/core/chainio/aa"
)

var testOwner = common.HexToAddress("0xe272b72E51a5bF8cB720fc6D6DF164a4D5E321C5")

func newTestCache(t *testing.T) *bigcache.BigCache {
	t.Helper()
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(time.Minute))
	require.NoError(t, err)
	return cache
}

// fakeBackend implements ChainBackend in memory. Sending a transaction
// immediately records a successful receipt and fires onSend.
type fakeBackend struct {
	mu       sync.Mutex
	nonce    uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	onSend   func(tx *types.Transaction)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nonce:    7,
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (b *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(84532), nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{
		Number:  big.NewInt(1),
		BaseFee: big.NewInt(2_000_000_000),
	}, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	b.sent = append(b.sent, tx)
	b.nonce++
	b.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	onSend := b.onSend
	b.mu.Unlock()

	if onSend != nil {
		onSend(tx)
	}
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return receipt, nil
}

func (b *fakeBackend) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func newTestDeployer(t *testing.T, stub *chainStub, backend *fakeBackend) (*Deployer, func()) {
	t.Helper()

	srv := stub.serve()
	resolver := newTestResolver(t, srv)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	deployer := NewDeployer(resolver, backend, testFactory, testOwner, key, nil)
	return deployer, srv.Close
}

func TestDeployAlreadyDeployedSendsNothing(t *testing.T) {
	stub := newChainStub(t)
	stub.answerCall(primarySelector(t), stubAnswer{result: paddedAddress(testSender)})
	stub.setCode("0x60806040")
	backend := newFakeBackend()

	deployer, closeStub := newTestDeployer(t, stub, backend)
	defer closeStub()

	result, err := deployer.Deploy(context.Background(), "alice")

	require.NoError(t, err)
	assert.Equal(t, testSender, result.Sender)
	assert.True(t, result.Deployed)
	assert.Empty(t, result.TxHash)
	assert.Equal(t, 0, backend.sentCount())
}

func TestDeploySendsCreateAccount(t *testing.T) {
	stub := newChainStub(t)
	stub.answerCall(primarySelector(t), stubAnswer{result: paddedAddress(testSender)})
	backend := newFakeBackend()
	backend.onSend = func(*types.Transaction) {
		stub.setCode("0x60806040")
	}

	deployer, closeStub := newTestDeployer(t, stub, backend)
	defer closeStub()

	result, err := deployer.Deploy(context.Background(), "alice")

	require.NoError(t, err)
	assert.True(t, result.Deployed)
	require.Equal(t, 1, backend.sentCount())

	tx := backend.sent[0]
	assert.Equal(t, result.TxHash, tx.Hash().Hex())
	require.NotNil(t, tx.To())
	assert.Equal(t, testFactory, *tx.To())
	assert.Equal(t, uint64(deployGasLimit), tx.Gas())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, big.NewInt(84532), tx.ChainId())

	wantCalldata, err := aa.PackCreateAccount(testOwner, aa.SaltForUser("alice"))
	require.NoError(t, err)
	assert.Equal(t, wantCalldata, tx.Data())
}

func TestDeploySoftFailureWhenCodeAbsent(t *testing.T) {
	stub := newChainStub(t)
	stub.answerCall(primarySelector(t), stubAnswer{result: paddedAddress(testSender)})
	backend := newFakeBackend()

	deployer, closeStub := newTestDeployer(t, stub, backend)
	defer closeStub()

	result, err := deployer.Deploy(context.Background(), "alice")

	// tx mined but the stub never exposes code at the sender
	require.NoError(t, err)
	assert.False(t, result.Deployed)
	assert.NotEmpty(t, result.TxHash)
	assert.Equal(t, 1, backend.sentCount())
}

func TestDeployRevertedTransactionIsAnError(t *testing.T) {
	stub := newChainStub(t)
	stub.answerCall(primarySelector(t), stubAnswer{result: paddedAddress(testSender)})
	backend := newFakeBackend()
	backend.onSend = func(tx *types.Transaction) {
		backend.mu.Lock()
		backend.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusFailed}
		backend.mu.Unlock()
	}

	deployer, closeStub := newTestDeployer(t, stub, backend)
	defer closeStub()

	_, err := deployer.Deploy(context.Background(), "alice")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted")
}

func TestDeployConcurrentRequestsSendOneTransaction(t *testing.T) {
	stub := newChainStub(t)
	stub.answerCall(primarySelector(t), stubAnswer{result: paddedAddress(testSender)})
	backend := newFakeBackend()
	backend.onSend = func(*types.Transaction) {
		stub.setCode("0x60806040")
	}

	deployer, closeStub := newTestDeployer(t, stub, backend)
	defer closeStub()

	var wg sync.WaitGroup
	results := make([]*DeployResult, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = deployer.Deploy(context.Background(), "alice")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Deployed)
		assert.Equal(t, testSender, results[i].Sender)
	}
	assert.Equal(t, 1, backend.sentCount())
}
