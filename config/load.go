package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/mark3labs/agentwallet-go/attest"
	"github.com/mark3labs/agentwallet-go/audit"
	"github.com/mark3labs/agentwallet-go/guard"
	"github.com/mark3labs/agentwallet-go/history"
	"github.com/mark3labs/agentwallet-go/ledger"
	"github.com/mark3labs/agentwallet-go/ledger/evm"
	"github.com/mark3labs/agentwallet-go/signers/authorization"
	"github.com/mark3labs/agentwallet-go/signers/onchain"
	"github.com/mark3labs/agentwallet-go/wallet"
	"github.com/mark3labs/agentwallet-go/x402"
)

const envPrefix = "AGENTWALLET"

// Load reads configuration from a YAML file, applying AGENTWALLET_*
// environment overrides (AGENTWALLET_LIMITS_DAILY overrides
// limits.daily, and so on). An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even
// without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("network", x402.DefaultNetwork)
	v.SetDefault("rpc_url", "")
	v.SetDefault("private_key_env", DefaultPrivateKeyEnv)
	v.SetDefault("mock", false)
	v.SetDefault("mock_balance", "1000")
	v.SetDefault("limits.per_transaction", "")
	v.SetDefault("limits.daily", "")
	v.SetDefault("history.path", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("attestation.key_id", "")
	v.SetDefault("attestation.private_key_env", "")
	v.SetDefault("attestation.identity_token_env", "")
	v.SetDefault("timeouts.request", DefaultTimeouts.Request)
	v.SetDefault("timeouts.receipt", DefaultTimeouts.Receipt)
	v.SetDefault("networks_file", "")
}

// BuildWallet assembles a wallet from the configuration: network
// registry, payment strategy, spend guard, history store, attestation,
// and timeouts.
func BuildWallet(cfg *Config) (*wallet.Wallet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NetworksFile != "" {
		if _, err := LoadNetworks(cfg.NetworksFile); err != nil {
			return nil, err
		}
	}
	if !x402.KnownNetwork(cfg.Network) {
		return nil, fmt.Errorf("%w: %q is not a registered network", x402.ErrInvalidNetwork, cfg.Network)
	}

	privateKey := os.Getenv(cfg.PrivateKeyEnv)
	if privateKey == "" {
		return nil, fmt.Errorf("config: environment variable %s is not set", cfg.PrivateKeyEnv)
	}

	opts := []wallet.Option{
		wallet.WithHTTPClient(&http.Client{Timeout: cfg.Timeouts.Request}),
		wallet.WithSelector(&x402.DefaultSelector{PrimaryNetwork: cfg.Network}),
		wallet.WithAudit(audit.NewSlogLogger(nil)),
	}

	limiter, err := buildLimiter(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, wallet.WithLimiter(limiter))

	if cfg.History.Path != "" {
		store, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wallet.WithHistory(store))
	}

	signerOpts, err := buildSigner(cfg, privateKey)
	if err != nil {
		return nil, err
	}
	opts = append(opts, signerOpts...)

	if cfg.Attestation.KeyID != "" {
		opts = append(opts, wallet.WithAttestor(attest.NewSigner(attestationCredentials(cfg))))
	}

	return wallet.NewWallet(opts...)
}

func buildLimiter(cfg *Config) (*guard.Limiter, error) {
	var store guard.CounterStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = guard.NewRedisStore(client)
	}

	var guardOpts []guard.Option
	if cfg.Limits.PerTransaction != "" {
		limit, err := decimal.NewFromString(cfg.Limits.PerTransaction)
		if err != nil {
			return nil, fmt.Errorf("config: limits.per_transaction: %v", err)
		}
		guardOpts = append(guardOpts, guard.WithPerTransactionLimit(limit))
	}
	if cfg.Limits.Daily != "" {
		limit, err := decimal.NewFromString(cfg.Limits.Daily)
		if err != nil {
			return nil, fmt.Errorf("config: limits.daily: %v", err)
		}
		guardOpts = append(guardOpts, guard.WithDailyLimit(limit))
	}
	return guard.NewLimiter(store, guardOpts...), nil
}

// buildSigner selects the payment strategy. Mock mode settles on the
// in-memory ledger; otherwise payments are signed authorizations, with
// a live EVM ledger client attached when an RPC endpoint is given.
func buildSigner(cfg *Config, privateKey string) ([]wallet.Option, error) {
	if cfg.Mock {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
		}
		payer := crypto.PubkeyToAddress(key.PublicKey).Hex()

		balance, err := decimal.NewFromString(cfg.MockBalance)
		if err != nil {
			return nil, fmt.Errorf("config: mock_balance: %v", err)
		}
		atomic, err := x402.DecimalToAtomic(balance, networkDecimals(cfg.Network))
		if err != nil {
			return nil, fmt.Errorf("config: mock_balance: %w", err)
		}

		mock := ledger.NewMock(atomic, networkDecimals(cfg.Network))
		signer, err := onchain.NewSigner(payer, onchain.WithLedger(cfg.Network, mock))
		if err != nil {
			return nil, err
		}
		return []wallet.Option{
			wallet.WithSigner(signer),
			wallet.WithLedger(cfg.Network, mock),
		}, nil
	}

	signer, err := authorization.NewSigner(privateKey)
	if err != nil {
		return nil, err
	}
	opts := []wallet.Option{wallet.WithSigner(signer)}

	if cfg.RPCURL != "" {
		chain, err := x402.GetChainConfig(cfg.Network)
		if err != nil {
			return nil, err
		}
		client, err := evm.New(cfg.RPCURL, privateKey, chain, evm.WithReceiptTimeout(cfg.Timeouts.Receipt))
		if err != nil {
			return nil, err
		}
		opts = append(opts, wallet.WithLedger(cfg.Network, client))
	}
	return opts, nil
}

// attestationCredentials reads the attestation identity from the
// environment. Missing or malformed material is not an error here:
// attestation is best-effort, and the signer reports unavailable
// credentials per request.
func attestationCredentials(cfg *Config) *attest.StaticCredentials {
	creds := &attest.StaticCredentials{KeyID: cfg.Attestation.KeyID}
	if cfg.Attestation.PrivateKeyEnv != "" {
		if raw, err := base64.StdEncoding.DecodeString(os.Getenv(cfg.Attestation.PrivateKeyEnv)); err == nil {
			creds.PrivateKey = ed25519.PrivateKey(raw)
		}
	}
	if cfg.Attestation.IdentityTokenEnv != "" {
		creds.IdentityToken = os.Getenv(cfg.Attestation.IdentityTokenEnv)
	}
	return creds
}

func networkDecimals(network string) int32 {
	if chain, err := x402.GetChainConfig(network); err == nil {
		return chain.Decimals
	}
	return 6
}
