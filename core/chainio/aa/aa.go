// Package aa encodes and decodes the contract calls used by the gasless
// account flow: factory address derivation, account execute wrapping and
// token minting.
package aa

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EncodingError marks a signature/argument mismatch while packing calldata.
// It always indicates a configuration or ABI-version defect, never retry it.
type EncodingError struct {
	Function string
	Err      error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode %s: %v", e.Function, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DecodingError marks malformed or short return data.
type DecodingError struct {
	Function string
	Err      error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("cannot decode %s return data: %v", e.Function, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// SaltForUser derives the 32 byte salt for the bytes32-keyed factory variant
// by hashing the UTF-8 bytes of the user identifier.
func SaltForUser(userID string) [32]byte {
	var salt [32]byte
	copy(salt[:], crypto.Keccak256([]byte(userID)))
	return salt
}

// PackGetAccountAddress encodes the primary string-keyed derivation read.
func PackGetAccountAddress(userID string) ([]byte, error) {
	buildABIs()
	data, err := factoryABI.Pack("getAccountAddress", userID)
	if err != nil {
		return nil, &EncodingError{Function: "getAccountAddress", Err: err}
	}
	return data, nil
}

// PackGetAddressBySalt encodes the fallback bytes32-keyed derivation read.
func PackGetAddressBySalt(salt [32]byte) ([]byte, error) {
	buildABIs()
	data, err := factoryABI.Pack("getAddress", salt)
	if err != nil {
		return nil, &EncodingError{Function: "getAddress", Err: err}
	}
	return data, nil
}

// PackAccountImplementation encodes the implementation lookup read.
func PackAccountImplementation() ([]byte, error) {
	buildABIs()
	data, err := factoryABI.Pack("accountImplementation")
	if err != nil {
		return nil, &EncodingError{Function: "accountImplementation", Err: err}
	}
	return data, nil
}

// PackCreateAccount encodes the clone+initialize factory call. The same
// encoding serves both the funded deployment transaction and the
// factoryData field of a UserOperation.
func PackCreateAccount(owner common.Address, salt [32]byte) ([]byte, error) {
	buildABIs()
	data, err := factoryABI.Pack("createAccount", owner, salt)
	if err != nil {
		return nil, &EncodingError{Function: "createAccount", Err: err}
	}
	return data, nil
}

// UnpackAddress decodes a single address return value from raw eth_call
// output of the given factory function.
func UnpackAddress(function string, data []byte) (common.Address, error) {
	buildABIs()
	values, err := factoryABI.Unpack(function, data)
	if err != nil {
		return common.Address{}, &DecodingError{Function: function, Err: err}
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, &DecodingError{Function: function, Err: fmt.Errorf("return value is not an address")}
	}
	return addr, nil
}

// PackExecute generates calldata for the account's execute(dest, value, func)
// wrapper, the outer layer of every UserOperation this relayer builds.
func PackExecute(target common.Address, ethValue *big.Int, calldata []byte) ([]byte, error) {
	buildABIs()
	data, err := accountABI.Pack("execute", target, ethValue, calldata)
	if err != nil {
		return nil, &EncodingError{Function: "execute", Err: err}
	}
	return data, nil
}

// UnpackExecute reverses PackExecute. Mostly useful to verify callData in
// tests and debug output.
func UnpackExecute(data []byte) (common.Address, *big.Int, []byte, error) {
	buildABIs()
	if len(data) < 4 {
		return common.Address{}, nil, nil, &DecodingError{Function: "execute", Err: fmt.Errorf("calldata too short: %d bytes", len(data))}
	}
	method, err := accountABI.MethodById(data[:4])
	if err != nil || method.Name != "execute" {
		return common.Address{}, nil, nil, &DecodingError{Function: "execute", Err: fmt.Errorf("selector mismatch")}
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, nil, &DecodingError{Function: "execute", Err: err}
	}
	return values[0].(common.Address), values[1].(*big.Int), values[2].([]byte), nil
}

// PackMintTo encodes the token mint call that gets wrapped in execute.
func PackMintTo(recipient common.Address, amount *big.Int) ([]byte, error) {
	buildABIs()
	data, err := tokenABI.Pack("mintTo", recipient, amount)
	if err != nil {
		return nil, &EncodingError{Function: "mintTo", Err: err}
	}
	return data, nil
}

// UnpackMintTo reverses PackMintTo.
func UnpackMintTo(data []byte) (common.Address, *big.Int, error) {
	buildABIs()
	if len(data) < 4 {
		return common.Address{}, nil, &DecodingError{Function: "mintTo", Err: fmt.Errorf("calldata too short: %d bytes", len(data))}
	}
	method, err := tokenABI.MethodById(data[:4])
	if err != nil || method.Name != "mintTo" {
		return common.Address{}, nil, &DecodingError{Function: "mintTo", Err: fmt.Errorf("selector mismatch")}
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, &DecodingError{Function: "mintTo", Err: err}
	}
	return values[0].(common.Address), values[1].(*big.Int), nil
}

// PackBalanceOf encodes the token balance read.
func PackBalanceOf(account common.Address) ([]byte, error) {
	buildABIs()
	data, err := tokenABI.Pack("balanceOf", account)
	if err != nil {
		return nil, &EncodingError{Function: "balanceOf", Err: err}
	}
	return data, nil
}

// UnpackBalanceOf decodes the balanceOf return value.
func UnpackBalanceOf(data []byte) (*big.Int, error) {
	buildABIs()
	values, err := tokenABI.Unpack("balanceOf", data)
	if err != nil {
		return nil, &DecodingError{Function: "balanceOf", Err: err}
	}
	return values[0].(*big.Int), nil
}

// PackGetNonce encodes the entry point's per-sender nonce read. Key zero is
// the default sequential nonce space.
func PackGetNonce(sender common.Address, key *big.Int) ([]byte, error) {
	buildABIs()
	if key == nil {
		key = big.NewInt(0)
	}
	data, err := entrypointABI.Pack("getNonce", sender, key)
	if err != nil {
		return nil, &EncodingError{Function: "getNonce", Err: err}
	}
	return data, nil
}

// UnpackGetNonce decodes the entry point nonce.
func UnpackGetNonce(data []byte) (*big.Int, error) {
	buildABIs()
	values, err := entrypointABI.Unpack("getNonce", data)
	if err != nil {
		return nil, &DecodingError{Function: "getNonce", Err: err}
	}
	return values[0].(*big.Int), nil
}
