package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYaml = `
environment: production
server_address: ":8080"
eth_rpc_urls:
  - https://rpc-one.example.org
  - https://rpc-two.example.org
bundler_url: https://bundler.example.org
entrypoint_address: "0x0000000071727De22E5E9d8BAf0edAc6f37da032"
factory_address: "0x29adA1b5217242DEaBB142BC3b1bCfFdd56008e7"
paymaster_address: "0x3D3Cb3dE9c52845Cbaa8ec4b4d283bEa74C1c1B2"
token_address: "0x4200000000000000000000000000000000000042"
history_retention: 48h
`

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relayer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewConfigFromYaml(t *testing.T) {
	cfg, err := NewConfig(writeConfigFile(t, sampleYaml))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 48*time.Hour, cfg.HistoryRetention)
	assert.Equal(t, []string{"https://rpc-one.example.org", "https://rpc-two.example.org"}, cfg.SmartWallet.EthRpcUrls)
	assert.Equal(t, common.HexToAddress("0x29adA1b5217242DEaBB142BC3b1bCfFdd56008e7"), cfg.SmartWallet.FactoryAddress)
	assert.Nil(t, cfg.RelayerPrivateKey)
}

func TestEnvOverridesYaml(t *testing.T) {
	t.Setenv("ETH_RPC_URLS", "https://override.example.org, https://extra.example.org")
	t.Setenv("BUNDLER_URL", "https://bundler-override.example.org")

	cfg, err := NewConfig(writeConfigFile(t, sampleYaml))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://override.example.org", "https://extra.example.org"}, cfg.SmartWallet.EthRpcUrls)
	assert.Equal(t, "https://bundler-override.example.org", cfg.SmartWallet.BundlerURL)
}

func TestNewConfigWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, DefaultServerAddr, cfg.ServerAddr)
	assert.Equal(t, DefaultHistoryRetention, cfg.HistoryRetention)
}

func TestNewConfigRejectsBadAddress(t *testing.T) {
	_, err := NewConfig(writeConfigFile(t, "factory_address: \"not-an-address\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewConfigParsesRelayerKey(t *testing.T) {
	t.Setenv("RELAYER_PRIVATE_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")

	cfg, err := NewConfig("")
	require.NoError(t, err)

	require.NotNil(t, cfg.RelayerPrivateKey)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), cfg.RelayerAddress)
}

func TestReadinessErrorsNameMissingFields(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)

	err = cfg.ReadinessForMint()
	require.Error(t, err)
	var missing *MissingConfigError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Fields, "eth_rpc_urls")

	err = cfg.ReadinessForDeploy()
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Fields, "relayer_private_key")
	assert.Contains(t, missing.Fields, "factory_address")
}

func TestReadinessPassesWhenConfigured(t *testing.T) {
	t.Setenv("RELAYER_PRIVATE_KEY", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")

	cfg, err := NewConfig(writeConfigFile(t, sampleYaml))
	require.NoError(t, err)

	assert.NoError(t, cfg.ReadinessForResolve())
	assert.NoError(t, cfg.ReadinessForDeploy())
	assert.NoError(t, cfg.ReadinessForMint())
}
