// Package userop models the ERC-4337 v0.7 UserOperation as submitted to a
// bundler: deployment is carried by the split factory/factoryData pair and
// sponsorship by paymaster/paymasterData, instead of the packed v0.6
// initCode/paymasterAndData blobs.
package userop

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// UserOperation is one sponsored, account-abstracted transaction intent.
// Instances are built fresh per request and never persisted; the bundler's
// returned userOpHash is the only durable handle.
type UserOperation struct {
	Sender common.Address
	Nonce  *big.Int

	// Factory and FactoryData are set only while the sender has no code on
	// chain, so the bundler deploys the account atomically with the first
	// operation. For a deployed sender both must stay nil.
	Factory     *common.Address
	FactoryData []byte

	CallData []byte

	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int

	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	Paymaster     *common.Address
	PaymasterData []byte

	// Signature is an empty placeholder in the current flow, signing is an
	// external collaborator's job.
	Signature []byte
}

// wireOp is the JSON shape bundlers expect: quantities as 0x hex strings,
// deployment and paymaster fields omitted when unused.
type wireOp struct {
	Sender               string `json:"sender"`
	Nonce                string `json:"nonce"`
	Factory              string `json:"factory,omitempty"`
	FactoryData          string `json:"factoryData,omitempty"`
	CallData             string `json:"callData"`
	CallGasLimit         string `json:"callGasLimit"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	PreVerificationGas   string `json:"preVerificationGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	Paymaster            string `json:"paymaster,omitempty"`
	PaymasterData        string `json:"paymasterData,omitempty"`
	Signature            string `json:"signature"`
}

func encodeBigOrZero(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(n)
}

// MarshalJSON returns the bundler wire encoding of the UserOperation.
func (op *UserOperation) MarshalJSON() ([]byte, error) {
	w := wireOp{
		Sender:               op.Sender.Hex(),
		Nonce:                encodeBigOrZero(op.Nonce),
		CallData:             hexutil.Encode(op.CallData),
		CallGasLimit:         encodeBigOrZero(op.CallGasLimit),
		VerificationGasLimit: encodeBigOrZero(op.VerificationGasLimit),
		PreVerificationGas:   encodeBigOrZero(op.PreVerificationGas),
		MaxFeePerGas:         encodeBigOrZero(op.MaxFeePerGas),
		MaxPriorityFeePerGas: encodeBigOrZero(op.MaxPriorityFeePerGas),
		Signature:            hexutil.Encode(op.Signature),
	}

	if op.Factory != nil {
		w.Factory = op.Factory.Hex()
		w.FactoryData = hexutil.Encode(op.FactoryData)
	}
	if op.Paymaster != nil {
		w.Paymaster = op.Paymaster.Hex()
		w.PaymasterData = hexutil.Encode(op.PaymasterData)
	}

	return json.Marshal(&w)
}

// UnmarshalJSON parses the bundler wire encoding.
func (op *UserOperation) UnmarshalJSON(input []byte) error {
	var w wireOp
	if err := json.Unmarshal(input, &w); err != nil {
		return err
	}

	op.Sender = common.HexToAddress(w.Sender)

	var err error
	if op.Nonce, err = hexutil.DecodeBig(w.Nonce); err != nil {
		return err
	}
	if op.CallData, err = hexutil.Decode(w.CallData); err != nil {
		return err
	}
	if op.CallGasLimit, err = hexutil.DecodeBig(w.CallGasLimit); err != nil {
		return err
	}
	if op.VerificationGasLimit, err = hexutil.DecodeBig(w.VerificationGasLimit); err != nil {
		return err
	}
	if op.PreVerificationGas, err = hexutil.DecodeBig(w.PreVerificationGas); err != nil {
		return err
	}
	if op.MaxFeePerGas, err = hexutil.DecodeBig(w.MaxFeePerGas); err != nil {
		return err
	}
	if op.MaxPriorityFeePerGas, err = hexutil.DecodeBig(w.MaxPriorityFeePerGas); err != nil {
		return err
	}
	if op.Signature, err = hexutil.Decode(w.Signature); err != nil {
		return err
	}

	op.Factory, op.FactoryData = nil, nil
	if w.Factory != "" {
		factory := common.HexToAddress(w.Factory)
		op.Factory = &factory
		if op.FactoryData, err = hexutil.Decode(w.FactoryData); err != nil {
			return err
		}
	}

	op.Paymaster, op.PaymasterData = nil, nil
	if w.Paymaster != "" {
		paymaster := common.HexToAddress(w.Paymaster)
		op.Paymaster = &paymaster
		if op.PaymasterData, err = hexutil.Decode(w.PaymasterData); err != nil {
			return err
		}
	}

	return nil
}

// HasFactory reports whether the operation carries deployment data.
func (op *UserOperation) HasFactory() bool {
	return op.Factory != nil && len(op.FactoryData) > 0
}
