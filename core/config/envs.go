package config

import "math/big"

type ChainEnv string

const (
	SepoliaEnv     = ChainEnv("sepolia")
	BaseSepoliaEnv = ChainEnv("base-sepolia")
	EthereumEnv    = ChainEnv("ethereum")
)

var (
	MainnetChainID  = big.NewInt(1)
	CurrentChainEnv = ChainEnv("base-sepolia")
)

func IsMainnet() bool {
	return CurrentChainEnv == EthereumEnv
}

func ExplorerURL() string {
	switch CurrentChainEnv {
	case EthereumEnv:
		return "https://etherscan.io"
	case SepoliaEnv:
		return "https://sepolia.etherscan.io"
	default:
		return "https://sepolia.basescan.org"
	}
}
