// Package preset assembles ready-to-submit sponsored UserOperations: sender
// resolution, nested calldata, deployment payload, gas and paymaster fields.
package preset

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintrelay/mintrelay/core/account"
	"github.com/mintrelay/mintrelay/core/chainio/aa"
	"github.com/mintrelay/mintrelay/pkg/erc4337/bundler"
	"github.com/mintrelay/mintrelay/pkg/erc4337/userop"
	"github.com/mintrelay/mintrelay/pkg/ethrpc"
	"github.com/mintrelay/mintrelay/pkg/logger"
)

var (
	// Fixed gas figures for UserOp construction, sized for low-cost networks.
	// Bundler-side estimation is deliberately not used; these carry enough
	// headroom for an account execute wrapping a token mint.
	DEFAULT_CALL_GAS_LIMIT         = big.NewInt(300_000)
	DEFAULT_VERIFICATION_GAS_LIMIT = big.NewInt(700_000)
	DEFAULT_PREVERIFICATION_GAS    = big.NewInt(100_000)

	// Account deployment runs the factory inside validation, so undeployed
	// senders need a much larger verification budget.
	DEPLOYMENT_VERIFICATION_GAS_LIMIT = big.NewInt(3_000_000)

	// Placeholder fee fields. Gas estimation is out of scope, these are
	// generous for the test networks this relayer targets.
	DEFAULT_MAX_FEE_PER_GAS          = big.NewInt(2_000_000_000) // 2 gwei
	DEFAULT_MAX_PRIORITY_FEE_PER_GAS = big.NewInt(1_000_000_000) // 1 gwei
)

// BuilderConfig carries the contract addresses every built operation refers to.
type BuilderConfig struct {
	Entrypoint common.Address
	Factory    common.Address
	Paymaster  common.Address
	Token      common.Address
	// Owner is the address the factory records as account owner when the
	// operation has to deploy the sender first.
	Owner common.Address
}

// Builder constructs sponsored UserOperations and pushes them to the bundler.
type Builder struct {
	resolver *account.Resolver
	reader   *ethrpc.FailoverReader
	bundler  *bundler.Client
	nonces   *bundler.NonceManager
	cfg      BuilderConfig
	logger   logger.Logger
}

func NewBuilder(resolver *account.Resolver, reader *ethrpc.FailoverReader, bundlerClient *bundler.Client, cfg BuilderConfig, l logger.Logger) *Builder {
	return &Builder{
		resolver: resolver,
		reader:   reader,
		bundler:  bundlerClient,
		nonces:   bundler.NewNonceManager(),
		cfg:      cfg,
		logger:   logger.EnsureLogger(l),
	}
}

// BuildGaslessMint builds the canonical operation of this relayer: mintTo on
// the configured token, executed by the user's smart account, sponsored by the
// paymaster. amount is in token base units.
func (b *Builder) BuildGaslessMint(ctx context.Context, userID string, recipient common.Address, amount *big.Int) (*userop.UserOperation, error) {
	innerCallData, err := aa.PackMintTo(recipient, amount)
	if err != nil {
		return nil, err
	}
	return b.BuildGaslessOperation(ctx, userID, b.cfg.Token, innerCallData)
}

// BuildGaslessOperation resolves userID's account and wraps innerCallData in
// an execute(innerTarget, 0, innerCallData) UserOperation. Undeployed senders
// get factory/factoryData so the entry point deploys them in the same
// operation. The signature stays an empty placeholder.
func (b *Builder) BuildGaslessOperation(ctx context.Context, userID string, innerTarget common.Address, innerCallData []byte) (*userop.UserOperation, error) {
	acct, err := b.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	callData, err := aa.PackExecute(innerTarget, big.NewInt(0), innerCallData)
	if err != nil {
		return nil, err
	}

	op := &userop.UserOperation{
		Sender:               acct.Sender,
		Nonce:                b.nonceFor(ctx, acct.Sender),
		CallData:             callData,
		CallGasLimit:         DEFAULT_CALL_GAS_LIMIT,
		VerificationGasLimit: DEFAULT_VERIFICATION_GAS_LIMIT,
		PreVerificationGas:   DEFAULT_PREVERIFICATION_GAS,
		MaxFeePerGas:         DEFAULT_MAX_FEE_PER_GAS,
		MaxPriorityFeePerGas: DEFAULT_MAX_PRIORITY_FEE_PER_GAS,
		Paymaster:            &b.cfg.Paymaster,
		PaymasterData:        []byte{},
		Signature:            []byte{},
	}

	if !acct.Deployed {
		factoryData, err := aa.PackCreateAccount(b.cfg.Owner, aa.SaltForUser(userID))
		if err != nil {
			return nil, err
		}
		factory := b.cfg.Factory
		op.Factory = &factory
		op.FactoryData = factoryData
		op.VerificationGasLimit = DEPLOYMENT_VERIFICATION_GAS_LIMIT
	}

	return op, nil
}

// Send submits op to the bundler and returns its operation hash. A successful
// submission advances the pending nonce for the sender; a nonce-related
// rejection resets it so the next build re-reads the chain.
func (b *Builder) Send(ctx context.Context, op *userop.UserOperation) (string, error) {
	hash, err := b.bundler.SendUserOperation(ctx, op, b.cfg.Entrypoint)
	if err != nil {
		if isNonceRejection(err) {
			b.nonces.ResetNonce(op.Sender)
		}
		return "", err
	}

	b.nonces.IncrementNonce(op.Sender, op.Nonce)
	b.logger.Infof("submitted userop for %s nonce %s hash %s", op.Sender.Hex(), op.Nonce.String(), hash)
	return hash, nil
}

// nonceFor reads the entry point's per-sender counter (key 0) through the
// failover endpoints and merges it with locally pending submissions. When
// every endpoint fails the zero placeholder keeps first-operation flows
// working against fresh accounts.
func (b *Builder) nonceFor(ctx context.Context, sender common.Address) *big.Int {
	nonce, err := b.nonces.GetNextNonce(sender, func() (*big.Int, error) {
		return b.entryPointNonce(ctx, sender)
	})
	if err != nil {
		b.logger.Warnf("entry point nonce read failed for %s, using zero placeholder: %v", sender.Hex(), err)
		return big.NewInt(0)
	}
	return nonce
}

func (b *Builder) entryPointNonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	calldata, err := aa.PackGetNonce(sender, big.NewInt(0))
	if err != nil {
		return nil, err
	}

	ret, err := b.reader.CallContract(ctx, b.cfg.Entrypoint, calldata)
	if err != nil {
		return nil, err
	}

	return aa.UnpackGetNonce(ret)
}

// isNonceRejection spots bundler errors caused by a stale or duplicate nonce.
// AA25 is the entry point's invalid-nonce code.
func isNonceRejection(err error) bool {
	rejection, ok := err.(*bundler.RejectionError)
	if !ok {
		return false
	}
	msg := strings.ToLower(rejection.Reason.Message)
	return strings.Contains(msg, "aa25") || strings.Contains(msg, "nonce")
}
