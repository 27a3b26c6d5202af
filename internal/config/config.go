package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	RecordStoreURL   string // LEASE_RECORDSTORE_URL (required)
	RecordStoreToken string // LEASE_RECORDSTORE_TOKEN (optional bearer token)
	RPCURL           string // LEASE_RPC_URL (required, ledger node endpoint)
	HTTPAddr         string // LEASE_HTTP_ADDR (default ":8080")
	AuthToken        string // LEASE_AUTH_TOKEN (optional, empty = auth disabled)
	NATSURL          string // LEASE_NATS_URL (optional, empty = no events)
	DatabaseURL      string // LEASE_DATABASE_URL (optional, empty = in-memory journal)
	Identity         string // LEASE_IDENTITY (record store user the wallet is linked to)

	// Wallet settings. With neither set the coordinator runs read-only.
	WalletRPCURL string // LEASE_WALLET_RPC_URL (external wallet provider)
	WalletKey    string // LEASE_WALLET_KEY (hex private key for the local provider)

	// Ledger settings
	ChainID             uint64        // LEASE_CHAIN_ID (default 11155111)
	FactoryAddress      string        // LEASE_FACTORY_ADDRESS
	Confirmations       uint64        // LEASE_CONFIRMATIONS (default 1)
	ConfirmationTimeout time.Duration // LEASE_CONFIRMATION_TIMEOUT (default 10m)
	PollInterval        time.Duration // LEASE_POLL_INTERVAL (default 2s)
	PersistAttempts     int           // LEASE_PERSIST_ATTEMPTS (default 4)

	// Sync settings
	SyncInterval   time.Duration // LEASE_SYNC_INTERVAL (default 5m; 0 = disabled)
	SyncS3Bucket   string        // LEASE_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // LEASE_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // LEASE_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // LEASE_SYNC_S3_KEY (default "leasebridge/journal.jsonl")
	SyncS3Snapshot bool          // LEASE_SYNC_S3_SNAPSHOTS (keep dated copies next to the key)
	SyncFile       string        // LEASE_SYNC_FILE (local export path, optional)
}

func Load() (*Config, error) {
	c := &Config{
		RecordStoreURL:   os.Getenv("LEASE_RECORDSTORE_URL"),
		RecordStoreToken: os.Getenv("LEASE_RECORDSTORE_TOKEN"),
		RPCURL:           os.Getenv("LEASE_RPC_URL"),
		HTTPAddr:         envOrDefault("LEASE_HTTP_ADDR", ":8080"),
		AuthToken:        os.Getenv("LEASE_AUTH_TOKEN"),
		NATSURL:          os.Getenv("LEASE_NATS_URL"),
		DatabaseURL:      os.Getenv("LEASE_DATABASE_URL"),
		Identity:         os.Getenv("LEASE_IDENTITY"),
		WalletRPCURL:     os.Getenv("LEASE_WALLET_RPC_URL"),
		WalletKey:        os.Getenv("LEASE_WALLET_KEY"),
		FactoryAddress:   os.Getenv("LEASE_FACTORY_ADDRESS"),
		SyncS3Bucket:     os.Getenv("LEASE_SYNC_S3_BUCKET"),
		SyncS3Endpoint:   os.Getenv("LEASE_SYNC_S3_ENDPOINT"),
		SyncS3Region:     envOrDefault("LEASE_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:        envOrDefault("LEASE_SYNC_S3_KEY", "leasebridge/journal.jsonl"),
		SyncS3Snapshot:   os.Getenv("LEASE_SYNC_S3_SNAPSHOTS") == "true",
		SyncFile:         os.Getenv("LEASE_SYNC_FILE"),
	}
	if c.RecordStoreURL == "" {
		return nil, fmt.Errorf("LEASE_RECORDSTORE_URL is required")
	}
	if c.RPCURL == "" {
		return nil, fmt.Errorf("LEASE_RPC_URL is required")
	}
	if c.WalletRPCURL != "" && c.WalletKey != "" {
		return nil, fmt.Errorf("LEASE_WALLET_RPC_URL and LEASE_WALLET_KEY are mutually exclusive")
	}
	if c.FactoryAddress != "" && !common.IsHexAddress(c.FactoryAddress) {
		return nil, fmt.Errorf("LEASE_FACTORY_ADDRESS: %q is not an address", c.FactoryAddress)
	}

	var err error
	if c.ChainID, err = envUint("LEASE_CHAIN_ID", 11155111); err != nil {
		return nil, err
	}
	if c.ChainID == 0 {
		return nil, fmt.Errorf("LEASE_CHAIN_ID must be positive")
	}
	if c.Confirmations, err = envUint("LEASE_CONFIRMATIONS", 1); err != nil {
		return nil, err
	}
	attempts, err := envUint("LEASE_PERSIST_ATTEMPTS", 4)
	if err != nil {
		return nil, err
	}
	c.PersistAttempts = int(attempts)

	if c.ConfirmationTimeout, err = envDuration("LEASE_CONFIRMATION_TIMEOUT", "10m"); err != nil {
		return nil, err
	}
	if c.PollInterval, err = envDuration("LEASE_POLL_INTERVAL", "2s"); err != nil {
		return nil, err
	}
	if c.SyncInterval, err = envDuration("LEASE_SYNC_INTERVAL", "5m"); err != nil {
		return nil, err
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", key, d)
	}
	return d, nil
}

func envUint(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
