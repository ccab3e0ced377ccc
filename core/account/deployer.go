package account

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mintrelay/mintrelay/core/chainio/aa"
	"github.com/mintrelay/mintrelay/pkg/eip1559"
	"github.com/mintrelay/mintrelay/pkg/logger"
)

const (
	deployGasLimit     = 1_000_000
	receiptPollPeriod  = 2 * time.Second
	receiptWaitTimeout = 90 * time.Second
)

// ChainBackend is the slice of ethclient.Client the deployer writes through.
type ChainBackend interface {
	eip1559.FeeClient
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// DeployResult reports the outcome of a deployment request. TxHash is empty
// when the account already existed and nothing was sent. A non-empty TxHash
// with Deployed still false means the factory transaction mined but code has
// not shown up at the sender yet; callers treat that as propagation delay, not
// failure.
type DeployResult struct {
	Sender   common.Address `json:"sender"`
	Deployed bool           `json:"deployed"`
	TxHash   string         `json:"txHash,omitempty"`
}

// Deployer materializes counterfactual accounts by calling
// createAccount(owner, salt) on the factory from the relayer key. Deploy is
// idempotent: concurrent and repeated calls for the same userId produce at
// most one factory transaction.
type Deployer struct {
	resolver *Resolver
	backend  ChainBackend
	factory  common.Address
	owner    common.Address
	key      *ecdsa.PrivateKey
	logger   logger.Logger

	mu      sync.Mutex
	inUse   map[string]*sync.Mutex
	chainID *big.Int
}

func NewDeployer(resolver *Resolver, backend ChainBackend, factory common.Address, owner common.Address, key *ecdsa.PrivateKey, l logger.Logger) *Deployer {
	return &Deployer{
		resolver: resolver,
		backend:  backend,
		factory:  factory,
		owner:    owner,
		key:      key,
		logger:   logger.EnsureLogger(l),
		inUse:    map[string]*sync.Mutex{},
	}
}

// Deploy ensures the account for userID exists on chain. Already-deployed
// accounts return immediately without sending anything.
func (d *Deployer) Deploy(ctx context.Context, userID string) (*DeployResult, error) {
	account, err := d.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.Deployed {
		return &DeployResult{Sender: account.Sender, Deployed: true}, nil
	}

	unlock := d.lockUser(userID)
	defer unlock()

	// Another request may have deployed while we waited on the lock.
	account, err = d.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.Deployed {
		return &DeployResult{Sender: account.Sender, Deployed: true}, nil
	}

	txHash, err := d.sendCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := d.waitMined(ctx, txHash); err != nil {
		return nil, err
	}

	result := &DeployResult{Sender: account.Sender, TxHash: txHash.Hex()}

	code, err := d.resolver.reader.CodeAt(ctx, account.Sender)
	if err != nil {
		d.logger.Warnf("deploy tx %s mined but code re-check failed: %v", txHash.Hex(), err)
		return result, nil
	}
	if len(code) == 0 {
		d.logger.Warnf("deploy tx %s mined but no code at %s yet", txHash.Hex(), account.Sender.Hex())
		return result, nil
	}

	result.Deployed = true
	d.logger.Infof("deployed account %s for user %s in tx %s", account.Sender.Hex(), userID, txHash.Hex())
	return result, nil
}

func (d *Deployer) sendCreateAccount(ctx context.Context, userID string) (common.Hash, error) {
	calldata, err := aa.PackCreateAccount(d.owner, aa.SaltForUser(userID))
	if err != nil {
		return common.Hash{}, err
	}

	chainID, err := d.getChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot determine chain id: %w", err)
	}

	relayerAddr := crypto.PubkeyToAddress(d.key.PublicKey)
	nonce, err := d.backend.PendingNonceAt(ctx, relayerAddr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot fetch relayer nonce: %w", err)
	}

	maxFee, maxTip, err := eip1559.SuggestFee(ctx, d.backend)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot suggest fee: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: maxTip,
		GasFeeCap: maxFee,
		Gas:       deployGasLimit,
		To:        &d.factory,
		Data:      calldata,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), d.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot sign deploy tx: %w", err)
	}

	if err := d.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("cannot broadcast deploy tx: %w", err)
	}

	return signedTx.Hash(), nil
}

func (d *Deployer) waitMined(ctx context.Context, txHash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, receiptWaitTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollPeriod)
	defer ticker.Stop()

	for {
		receipt, err := d.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("deploy tx %s reverted", txHash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for deploy tx %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *Deployer) getChainID(ctx context.Context) (*big.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.chainID != nil {
		return d.chainID, nil
	}

	chainID, err := d.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	d.chainID = chainID
	return chainID, nil
}

// lockUser serializes deployments per userId so two requests for the same
// account cannot race into duplicate factory transactions.
func (d *Deployer) lockUser(userID string) func() {
	d.mu.Lock()
	lock, ok := d.inUse[userID]
	if !ok {
		lock = &sync.Mutex{}
		d.inUse[userID] = lock
	}
	d.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
