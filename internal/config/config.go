package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pns/internal/network"
)

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	Deployer  string `json:"deployer"`
	Contracts struct {
		Registry string `json:"Registry"`
	} `json:"contracts"`
}

// AppConfig ties together the network, the deployment and derived values.
type AppConfig struct {
	Network    network.Descriptor
	Deployment DeploymentConfig
	Service    ServiceConfig
	Wallet     WalletConfig
	Snapshot   SnapshotConfig
}

type ServiceConfig struct {
	HTTPPort         int
	HMACSecret       string
	HMACClockSkew    time.Duration
	RefreshDelay     time.Duration
	ReceiptPoll      time.Duration
	FetchConcurrency int
}

type WalletConfig struct {
	KeystoreDir string
}

// SnapshotConfig selects at most one persistent store; Postgres wins over
// Redis, Redis over a file.
type SnapshotConfig struct {
	PostgresDSN string
	RedisURL    string
	Path        string
}

// DefaultRegistryAddress is the Mumbai deployment of the registry.
const DefaultRegistryAddress = "0x56d04eC782E8F324f6515868c1065A5efd70AB16"

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	desc := network.Mumbai
	if path := envOr("PNS_NETWORK_PATH", ""); path != "" {
		loaded, err := network.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load network: %w", err)
		}
		desc = loaded
	}
	if rpc := envOr("PNS_RPC_URL", ""); rpc != "" {
		desc.RPCURLs = append([]string{rpc}, desc.RPCURLs...)
	}

	var deployCfg DeploymentConfig
	if path := envOr("PNS_DEPLOYMENTS_PATH", ""); path != "" {
		loaded, err := loadDeployments(path)
		if err != nil {
			return nil, fmt.Errorf("load deployments: %w", err)
		}
		deployCfg = *loaded
	}
	deployCfg.Contracts.Registry = envOr("PNS_REGISTRY_ADDRESS", deployCfg.Contracts.Registry)
	if deployCfg.Contracts.Registry == "" {
		deployCfg.Contracts.Registry = DefaultRegistryAddress
	}
	if !common.IsHexAddress(deployCfg.Contracts.Registry) {
		return nil, fmt.Errorf("invalid registry address %q", deployCfg.Contracts.Registry)
	}
	if deployCfg.ChainID != 0 && !desc.Matches(uint64(deployCfg.ChainID)) {
		return nil, fmt.Errorf("deployment is on chain %d but the network is %s", deployCfg.ChainID, desc.ChainID)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:         envOrInt("PNS_HTTP_PORT", 3000),
		HMACSecret:       envOr("PNS_HMAC_SECRET", ""),
		HMACClockSkew:    time.Duration(envOrInt("PNS_HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		RefreshDelay:     time.Duration(envOrInt("PNS_REFRESH_DELAY_MS", 2000)) * time.Millisecond,
		ReceiptPoll:      time.Duration(envOrInt("PNS_RECEIPT_POLL_MS", 2000)) * time.Millisecond,
		FetchConcurrency: envOrInt("PNS_FETCH_CONCURRENCY", 8),
	}

	return &AppConfig{
		Network:    desc,
		Deployment: deployCfg,
		Service:    serviceCfg,
		Wallet: WalletConfig{
			KeystoreDir: envOr("PNS_KEYSTORE_DIR", ""),
		},
		Snapshot: SnapshotConfig{
			PostgresDSN: envOr("PNS_SNAPSHOT_POSTGRES_DSN", ""),
			RedisURL:    envOr("PNS_SNAPSHOT_REDIS_URL", ""),
			Path:        envOr("PNS_SNAPSHOT_PATH", ""),
		},
	}, nil
}

// RegistryAddress is the checksummed registry contract address.
func (c *AppConfig) RegistryAddress() string {
	return common.HexToAddress(c.Deployment.Contracts.Registry).Hex()
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Contracts.Registry) == "" {
		return nil, errors.New("deployments file has no Registry contract")
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
