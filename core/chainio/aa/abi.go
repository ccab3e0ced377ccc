package aa

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Hand maintained ABI fragments for the contracts the relayer talks to. Only
// the functions we actually encode or decode are declared, the full build
// artifacts live with the contract repo.
const (
	factoryABIJSON = `[
		{"type":"function","name":"getAccountAddress","stateMutability":"view","inputs":[{"name":"userId","type":"string"}],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"getAddress","stateMutability":"view","inputs":[{"name":"salt","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"accountImplementation","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
	]`

	accountABIJSON = `[
		{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]}
	]`

	tokenABIJSON = `[
		{"type":"function","name":"mintTo","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	entrypointABIJSON = `[
		{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
	]`
)

var (
	buildOnce sync.Once

	factoryABI    abi.ABI
	accountABI    abi.ABI
	tokenABI      abi.ABI
	entrypointABI abi.ABI
)

func buildABIs() {
	buildOnce.Do(func() {
		var err error
		if factoryABI, err = abi.JSON(strings.NewReader(factoryABIJSON)); err != nil {
			panic(fmt.Errorf("invalid factory ABI: %w", err))
		}
		if accountABI, err = abi.JSON(strings.NewReader(accountABIJSON)); err != nil {
			panic(fmt.Errorf("invalid account ABI: %w", err))
		}
		if tokenABI, err = abi.JSON(strings.NewReader(tokenABIJSON)); err != nil {
			panic(fmt.Errorf("invalid token ABI: %w", err))
		}
		if entrypointABI, err = abi.JSON(strings.NewReader(entrypointABIJSON)); err != nil {
			panic(fmt.Errorf("invalid entrypoint ABI: %w", err))
		}
	})
}
