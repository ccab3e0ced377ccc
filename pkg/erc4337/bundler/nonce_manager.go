package bundler

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceManager tracks the next expected UserOperation nonce per sender,
// combining on-chain state with knowledge of submitted-but-not-yet-mined
// operations. Without it, two quick sequential operations from the same
// sender would both read the same entry point nonce and collide in the
// bundler mempool.
type NonceManager struct {
	pendingNonces map[string]*big.Int
	mu            sync.RWMutex
}

func NewNonceManager() *NonceManager {
	return &NonceManager{
		pendingNonces: make(map[string]*big.Int),
	}
}

// GetNextNonce returns max(on-chain nonce, cached pending nonce) so a nonce
// already pending in the bundler is never reused. The on-chain value comes
// from the supplied fetcher, typically an entry point getNonce read.
func (nm *NonceManager) GetNextNonce(sender common.Address, onChainNonceFetcher func() (*big.Int, error)) (*big.Int, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	onChainNonce, err := onChainNonceFetcher()
	if err != nil {
		return nil, err
	}

	cached, hasCached := nm.pendingNonces[sender.Hex()]
	if !hasCached || onChainNonce.Cmp(cached) > 0 {
		return new(big.Int).Set(onChainNonce), nil
	}
	return new(big.Int).Set(cached), nil
}

// IncrementNonce records that currentNonce was consumed by a successful
// submission, letting the next operation use currentNonce+1 before the first
// one is mined.
func (nm *NonceManager) IncrementNonce(sender common.Address, currentNonce *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.pendingNonces[sender.Hex()] = new(big.Int).Add(currentNonce, big.NewInt(1))
}

// ResetNonce drops the cached value, forcing the next GetNextNonce to trust
// the chain. Use after a nonce conflict.
func (nm *NonceManager) ResetNonce(sender common.Address) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pendingNonces, sender.Hex())
}
