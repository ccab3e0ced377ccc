// Package account resolves counterfactual smart account addresses and drives
// their on-chain deployment through the configured factory.
package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mintrelay/mintrelay/core/chainio/aa"
	"github.com/mintrelay/mintrelay/model"
	"github.com/mintrelay/mintrelay/pkg/ethrpc"
	"github.com/mintrelay/mintrelay/pkg/logger"
)

// Variant names the factory read used to derive the sender address. Factories
// in the wild expose one of two lookups, so resolution tries both in order and
// tags the result with whichever answered.
type Variant string

const (
	// VariantPrimary is getAccountAddress(string userId).
	VariantPrimary Variant = "primary"
	// VariantFallback is getAddress(bytes32 salt) with salt = keccak256(userId).
	VariantFallback Variant = "fallback"
)

// VariantFailure records why one lookup variant did not produce an address.
type VariantFailure struct {
	Variant Variant
	Err     error
}

// ResolutionError is returned when no lookup variant yields a usable sender
// address. It carries every attempt so callers can see what the factory
// actually said.
type ResolutionError struct {
	Factory  common.Address
	Attempts []VariantFailure
}

func (e *ResolutionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Variant, a.Err.Error()))
	}
	return fmt.Sprintf("cannot resolve account address on factory %s: %s", e.Factory.Hex(), strings.Join(parts, "; "))
}

type cachedSender struct {
	addr    common.Address
	variant Variant
}

// Resolver derives the deterministic sender address for a userId from the
// account factory. The derived address is cached because it never changes;
// deployment state is always re-read from chain.
type Resolver struct {
	reader  *ethrpc.FailoverReader
	factory common.Address
	cache   *bigcache.BigCache
	logger  logger.Logger
}

func NewResolver(reader *ethrpc.FailoverReader, factory common.Address, cache *bigcache.BigCache, l logger.Logger) *Resolver {
	return &Resolver{
		reader:  reader,
		factory: factory,
		cache:   cache,
		logger:  logger.EnsureLogger(l),
	}
}

// Resolve returns the account for userID. The sender address comes from the
// factory (or cache), the deployed flag from a fresh eth_getCode, and the
// implementation address from a best-effort accountImplementation() read.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*model.Account, error) {
	sender, variant, err := r.resolveSender(ctx, userID)
	if err != nil {
		return nil, err
	}

	code, err := r.reader.CodeAt(ctx, sender)
	if err != nil {
		return nil, err
	}
	deployed := len(code) > 0

	account := &model.Account{
		UserID:   userID,
		Sender:   sender,
		Deployed: deployed,
		Variant:  string(variant),
	}

	if impl, err := r.implementation(ctx); err == nil {
		account.Implementation = &impl
	} else {
		r.logger.Debugf("accountImplementation read failed, omitting field: %v", err)
	}

	return account, nil
}

func (r *Resolver) resolveSender(ctx context.Context, userID string) (common.Address, Variant, error) {
	if cached, ok := r.cacheGet(userID); ok {
		return cached.addr, cached.variant, nil
	}

	variants := []struct {
		name     Variant
		calldata func() ([]byte, error)
		unpack   func([]byte) (common.Address, error)
	}{
		{
			name: VariantPrimary,
			calldata: func() ([]byte, error) {
				return aa.PackGetAccountAddress(userID)
			},
			unpack: func(data []byte) (common.Address, error) {
				return aa.UnpackAddress("getAccountAddress", data)
			},
		},
		{
			name: VariantFallback,
			calldata: func() ([]byte, error) {
				return aa.PackGetAddressBySalt(aa.SaltForUser(userID))
			},
			unpack: func(data []byte) (common.Address, error) {
				return aa.UnpackAddress("getAddress", data)
			},
		},
	}

	attempts := make([]VariantFailure, 0, len(variants))
	for _, v := range variants {
		calldata, err := v.calldata()
		if err != nil {
			attempts = append(attempts, VariantFailure{Variant: v.name, Err: err})
			continue
		}

		ret, err := r.reader.CallContract(ctx, r.factory, calldata)
		if err != nil {
			attempts = append(attempts, VariantFailure{Variant: v.name, Err: err})
			continue
		}

		addr, err := v.unpack(ret)
		if err != nil {
			attempts = append(attempts, VariantFailure{Variant: v.name, Err: err})
			continue
		}
		if addr == (common.Address{}) {
			attempts = append(attempts, VariantFailure{Variant: v.name, Err: fmt.Errorf("factory returned the zero address")})
			continue
		}

		r.cacheSet(userID, cachedSender{addr: addr, variant: v.name})
		r.logger.Debugf("resolved sender %s for user %s via %s variant", addr.Hex(), userID, v.name)
		return addr, v.name, nil
	}

	return common.Address{}, "", &ResolutionError{Factory: r.factory, Attempts: attempts}
}

func (r *Resolver) implementation(ctx context.Context) (common.Address, error) {
	calldata, err := aa.PackAccountImplementation()
	if err != nil {
		return common.Address{}, err
	}

	ret, err := r.reader.CallContract(ctx, r.factory, calldata)
	if err != nil {
		return common.Address{}, err
	}

	return aa.UnpackAddress("accountImplementation", ret)
}

func (r *Resolver) cacheGet(userID string) (cachedSender, bool) {
	if r.cache == nil {
		return cachedSender{}, false
	}

	raw, err := r.cache.Get(senderCacheKey(userID))
	if err != nil || len(raw) != common.AddressLength+1 {
		return cachedSender{}, false
	}

	return cachedSender{
		addr:    common.BytesToAddress(raw[:common.AddressLength]),
		variant: variantFromByte(raw[common.AddressLength]),
	}, true
}

func (r *Resolver) cacheSet(userID string, entry cachedSender) {
	if r.cache == nil {
		return
	}

	raw := make([]byte, common.AddressLength+1)
	copy(raw, entry.addr.Bytes())
	raw[common.AddressLength] = variantToByte(entry.variant)
	if err := r.cache.Set(senderCacheKey(userID), raw); err != nil {
		r.logger.Debugf("sender cache write failed for user %s: %v", userID, err)
	}
}

func senderCacheKey(userID string) string {
	return "sender:" + userID
}

func variantToByte(v Variant) byte {
	if v == VariantFallback {
		return 1
	}
	return 0
}

func variantFromByte(b byte) Variant {
	if b == 1 {
		return VariantFallback
	}
	return VariantPrimary
}
