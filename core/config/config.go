package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/mintrelay/mintrelay/pkg/logger"
)

const (
	DefaultServerAddr       = ":3000"
	DefaultDbPath           = "/tmp/mintrelay"
	DefaultHistoryRetention = 7 * 24 * time.Hour
)

// Config contains all of the configuration information for the relayer.
// Contract addresses and the relayer key are allowed to be absent at load
// time; the endpoints that need them answer with a MissingConfigError
// instead of the process refusing to boot.
type Config struct {
	Logger      logger.Logger
	Environment string

	ServerAddr       string
	DbPath           string
	HistoryRetention time.Duration

	SmartWallet *SmartWalletConfig

	RelayerPrivateKey *ecdsa.PrivateKey
	RelayerAddress    common.Address

	// DebugAuthSecret, when set, gates the /debug endpoints behind a bearer
	// JWT signed with this secret.
	DebugAuthSecret string
}

// SmartWalletConfig groups everything the 4337 pipeline talks to.
type SmartWalletConfig struct {
	EthRpcUrls []string
	BundlerURL string

	EntrypointAddress common.Address
	FactoryAddress    common.Address
	PaymasterAddress  common.Address
	TokenAddress      common.Address

	// OwnerAddress is recorded by the factory as account owner on deployment.
	OwnerAddress common.Address
}

// ConfigRaw is read from the yaml config file, then overlaid with environment
// variables. Environment always wins so deployments can patch a baked-in file.
type ConfigRaw struct {
	Environment      string `yaml:"environment" validate:"omitempty,oneof=development production"`
	ServerAddr       string `yaml:"server_address"`
	DbPath           string `yaml:"db_path"`
	HistoryRetention string `yaml:"history_retention" validate:"omitempty"`

	EthRpcUrls []string `yaml:"eth_rpc_urls" validate:"omitempty,dive,url"`
	BundlerURL string   `yaml:"bundler_url" validate:"omitempty,url"`

	EntrypointAddress string `yaml:"entrypoint_address" validate:"omitempty,eth_addr"`
	FactoryAddress    string `yaml:"factory_address" validate:"omitempty,eth_addr"`
	PaymasterAddress  string `yaml:"paymaster_address" validate:"omitempty,eth_addr"`
	TokenAddress      string `yaml:"token_address" validate:"omitempty,eth_addr"`
	OwnerAddress      string `yaml:"owner_address" validate:"omitempty,eth_addr"`

	RelayerPrivateKey string `yaml:"relayer_private_key"`
	DebugAuthSecret   string `yaml:"debug_auth_secret"`
}

// MissingConfigError names the settings an operation needed but did not find.
// Handlers map it to a 400 class response.
type MissingConfigError struct {
	Fields []string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Fields, ", "))
}

// NewConfig loads the optional yaml file at configFilePath, overlays process
// environment (after a best-effort .env load) and materializes the runtime
// config.
func NewConfig(configFilePath string) (*Config, error) {
	// a missing .env file is the normal case outside local development
	_ = godotenv.Load()

	var raw ConfigRaw
	if configFilePath != "" {
		body, err := os.ReadFile(configFilePath)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", configFilePath, err)
		}
		if err := yaml.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", configFilePath, err)
		}
	}

	overlayEnv(&raw)

	if err := validator.New().Struct(&raw); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	environment := raw.Environment
	if environment == "" {
		environment = "development"
	}

	lgr, err := logger.NewZapLogger(environment)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Logger:           lgr,
		Environment:      environment,
		ServerAddr:       firstNonEmpty(raw.ServerAddr, DefaultServerAddr),
		DbPath:           firstNonEmpty(raw.DbPath, DefaultDbPath),
		HistoryRetention: DefaultHistoryRetention,
		DebugAuthSecret:  raw.DebugAuthSecret,
		SmartWallet: &SmartWalletConfig{
			EthRpcUrls:        raw.EthRpcUrls,
			BundlerURL:        raw.BundlerURL,
			EntrypointAddress: common.HexToAddress(raw.EntrypointAddress),
			FactoryAddress:    common.HexToAddress(raw.FactoryAddress),
			PaymasterAddress:  common.HexToAddress(raw.PaymasterAddress),
			TokenAddress:      common.HexToAddress(raw.TokenAddress),
			OwnerAddress:      common.HexToAddress(raw.OwnerAddress),
		},
	}

	if raw.HistoryRetention != "" {
		retention, err := time.ParseDuration(raw.HistoryRetention)
		if err != nil {
			return nil, fmt.Errorf("invalid history_retention: %w", err)
		}
		cfg.HistoryRetention = retention
	}

	if raw.RelayerPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(raw.RelayerPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("cannot parse relayer private key: %w", err)
		}
		cfg.RelayerPrivateKey = key
		cfg.RelayerAddress = crypto.PubkeyToAddress(key.PublicKey)
	}

	return cfg, nil
}

// overlayEnv patches raw with environment variables. Every value has an env
// name so containerized deployments can run without a config file at all.
func overlayEnv(raw *ConfigRaw) {
	setString := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setString(&raw.Environment, "ENVIRONMENT")
	setString(&raw.ServerAddr, "SERVER_ADDRESS")
	setString(&raw.DbPath, "DB_PATH")
	setString(&raw.HistoryRetention, "HISTORY_RETENTION")
	setString(&raw.BundlerURL, "BUNDLER_URL")
	setString(&raw.EntrypointAddress, "ENTRYPOINT_ADDRESS")
	setString(&raw.FactoryAddress, "FACTORY_ADDRESS")
	setString(&raw.PaymasterAddress, "PAYMASTER_ADDRESS")
	setString(&raw.TokenAddress, "TOKEN_ADDRESS")
	setString(&raw.OwnerAddress, "OWNER_ADDRESS")
	setString(&raw.RelayerPrivateKey, "RELAYER_PRIVATE_KEY")
	setString(&raw.DebugAuthSecret, "DEBUG_AUTH_SECRET")

	if v := os.Getenv("ETH_RPC_URLS"); v != "" {
		urls := []string{}
		for _, u := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(u); trimmed != "" {
				urls = append(urls, trimmed)
			}
		}
		raw.EthRpcUrls = urls
	}
}

// ReadinessForResolve reports what address resolution still lacks.
func (c *Config) ReadinessForResolve() error {
	missing := c.missingRPC()
	if c.SmartWallet.FactoryAddress == (common.Address{}) {
		missing = append(missing, "factory_address")
	}
	return missingOrNil(missing)
}

// ReadinessForDeploy reports what account deployment still lacks.
func (c *Config) ReadinessForDeploy() error {
	missing := c.missingRPC()
	if c.SmartWallet.FactoryAddress == (common.Address{}) {
		missing = append(missing, "factory_address")
	}
	if c.RelayerPrivateKey == nil {
		missing = append(missing, "relayer_private_key")
	}
	return missingOrNil(missing)
}

// ReadinessForMint reports what the gasless mint pipeline still lacks.
func (c *Config) ReadinessForMint() error {
	missing := c.missingRPC()
	sw := c.SmartWallet
	if sw.FactoryAddress == (common.Address{}) {
		missing = append(missing, "factory_address")
	}
	if sw.BundlerURL == "" {
		missing = append(missing, "bundler_url")
	}
	if sw.EntrypointAddress == (common.Address{}) {
		missing = append(missing, "entrypoint_address")
	}
	if sw.PaymasterAddress == (common.Address{}) {
		missing = append(missing, "paymaster_address")
	}
	if sw.TokenAddress == (common.Address{}) {
		missing = append(missing, "token_address")
	}
	return missingOrNil(missing)
}

func (c *Config) missingRPC() []string {
	if len(c.SmartWallet.EthRpcUrls) == 0 {
		return []string{"eth_rpc_urls"}
	}
	return nil
}

func missingOrNil(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return &MissingConfigError{Fields: missing}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
