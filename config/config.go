// Package config loads file-driven wallet configuration: a YAML file
// with AGENTWALLET_* environment overrides, an optional network
// registry file for custom chains, and a builder that assembles a
// ready wallet from the loaded settings.
//
// Signing keys never appear in config files; fields ending in Env name
// the environment variable the secret is read from.
package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPrivateKeyEnv is the environment variable the signing key is
// read from unless the config names another one.
const DefaultPrivateKeyEnv = "AGENTWALLET_PRIVATE_KEY"

// Config is the full wallet configuration.
type Config struct {
	// Network is the primary network payments prefer and the one
	// direct transfers use.
	Network string `yaml:"network" mapstructure:"network"`

	// RPCURL is the EVM node endpoint. When set (and Mock is false),
	// the wallet gets a ledger client for balance checks and direct
	// transfers on Network.
	RPCURL string `yaml:"rpc_url" mapstructure:"rpc_url"`

	// PrivateKeyEnv names the environment variable holding the
	// hex-encoded secp256k1 signing key.
	PrivateKeyEnv string `yaml:"private_key_env" mapstructure:"private_key_env"`

	// Mock settles payments on the deterministic in-memory ledger
	// instead of signing authorizations. Intended for demos and tests.
	Mock bool `yaml:"mock" mapstructure:"mock"`

	// MockBalance is the mock ledger's starting balance in display
	// units.
	MockBalance string `yaml:"mock_balance" mapstructure:"mock_balance"`

	// Limits configures the spending guard.
	Limits LimitsConfig `yaml:"limits" mapstructure:"limits"`

	// History configures transaction record storage.
	History HistoryConfig `yaml:"history" mapstructure:"history"`

	// Redis configures the shared daily-spend counter. Empty Addr
	// keeps the counter in process memory.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// Attestation configures the identity attestation signer. An
	// empty KeyID disables attestation.
	Attestation AttestationConfig `yaml:"attestation" mapstructure:"attestation"`

	// Timeouts bound the wallet's blocking operations.
	Timeouts Timeouts `yaml:"timeouts" mapstructure:"timeouts"`

	// NetworksFile is an optional YAML registry of additional networks,
	// loaded before the wallet is built.
	NetworksFile string `yaml:"networks_file" mapstructure:"networks_file"`
}

// LimitsConfig holds spend caps as decimal strings in display units.
// Empty strings leave the corresponding cap unset.
type LimitsConfig struct {
	PerTransaction string `yaml:"per_transaction" mapstructure:"per_transaction"`
	Daily          string `yaml:"daily" mapstructure:"daily"`
}

// HistoryConfig selects the transaction record store. An empty Path
// keeps records in memory; otherwise records persist to SQLite.
type HistoryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RedisConfig holds connection settings for the shared spend counter.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// AttestationConfig holds the agent identity used to sign payment
// requests. PrivateKeyEnv names an environment variable holding the
// base64-encoded Ed25519 private key; IdentityTokenEnv names one
// holding the identity token.
type AttestationConfig struct {
	KeyID            string `yaml:"key_id" mapstructure:"key_id"`
	PrivateKeyEnv    string `yaml:"private_key_env" mapstructure:"private_key_env"`
	IdentityTokenEnv string `yaml:"identity_token_env" mapstructure:"identity_token_env"`
}

// Timeouts holds timeout configuration for wallet operations.
type Timeouts struct {
	// Request is the overall timeout for HTTP requests.
	Request time.Duration `yaml:"request" mapstructure:"request"`

	// Receipt is the maximum time to wait for on-chain transfer
	// confirmation.
	Receipt time.Duration `yaml:"receipt" mapstructure:"receipt"`
}

// DefaultTimeouts provides sensible defaults for wallet operations.
var DefaultTimeouts = Timeouts{
	Request: 60 * time.Second,
	Receipt: 60 * time.Second,
}

// Validate ensures timeout values are reasonable.
func (tc Timeouts) Validate() error {
	if tc.Request <= 0 {
		return fmt.Errorf("config: request timeout must be positive, got %v", tc.Request)
	}
	if tc.Receipt <= 0 {
		return fmt.Errorf("config: receipt timeout must be positive, got %v", tc.Receipt)
	}
	return nil
}

// Validate checks the configuration for structural errors. It does not
// reach the network or the environment.
func (c *Config) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("config: network is required")
	}
	if c.PrivateKeyEnv == "" {
		return fmt.Errorf("config: private_key_env is required")
	}
	if err := validateLimit("limits.per_transaction", c.Limits.PerTransaction); err != nil {
		return err
	}
	if err := validateLimit("limits.daily", c.Limits.Daily); err != nil {
		return err
	}
	if c.Mock {
		if _, err := decimal.NewFromString(c.MockBalance); err != nil {
			return fmt.Errorf("config: mock_balance %q is not a decimal amount: %v", c.MockBalance, err)
		}
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must not be negative, got %d", c.Redis.DB)
	}
	return c.Timeouts.Validate()
}

func validateLimit(key, value string) error {
	if value == "" {
		return nil
	}
	limit, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("config: %s %q is not a decimal amount: %v", key, value, err)
	}
	if !limit.IsPositive() {
		return fmt.Errorf("config: %s must be positive, got %s", key, limit)
	}
	return nil
}
