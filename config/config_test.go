package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/agentwallet-go/ledger"
	"github.com/mark3labs/agentwallet-go/x402"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}

	if cfg.Network != x402.DefaultNetwork {
		t.Errorf("Network = %q; want %q", cfg.Network, x402.DefaultNetwork)
	}
	if cfg.PrivateKeyEnv != DefaultPrivateKeyEnv {
		t.Errorf("PrivateKeyEnv = %q; want %q", cfg.PrivateKeyEnv, DefaultPrivateKeyEnv)
	}
	if cfg.Timeouts != DefaultTimeouts {
		t.Errorf("Timeouts = %+v; want %+v", cfg.Timeouts, DefaultTimeouts)
	}
	if cfg.Mock {
		t.Error("Mock = true; want false by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
network: base-sepolia
rpc_url: https://sepolia.base.org
private_key_env: TEST_WALLET_KEY
limits:
  per_transaction: "0.50"
  daily: "5.00"
history:
  path: /var/lib/wallet/history.db
redis:
  addr: localhost:6379
  db: 2
attestation:
  key_id: agent-1
  private_key_env: TEST_ATTEST_KEY
  identity_token_env: TEST_ATTEST_TOKEN
timeouts:
  request: 30s
  receipt: 90s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Network != "base-sepolia" {
		t.Errorf("Network = %q; want base-sepolia", cfg.Network)
	}
	if cfg.RPCURL != "https://sepolia.base.org" {
		t.Errorf("RPCURL = %q", cfg.RPCURL)
	}
	if cfg.PrivateKeyEnv != "TEST_WALLET_KEY" {
		t.Errorf("PrivateKeyEnv = %q", cfg.PrivateKeyEnv)
	}
	if cfg.Limits.PerTransaction != "0.50" || cfg.Limits.Daily != "5.00" {
		t.Errorf("Limits = %+v", cfg.Limits)
	}
	if cfg.History.Path != "/var/lib/wallet/history.db" {
		t.Errorf("History.Path = %q", cfg.History.Path)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Attestation.KeyID != "agent-1" {
		t.Errorf("Attestation.KeyID = %q", cfg.Attestation.KeyID)
	}
	if cfg.Timeouts.Request != 30*time.Second || cfg.Timeouts.Receipt != 90*time.Second {
		t.Errorf("Timeouts = %+v", cfg.Timeouts)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AGENTWALLET_NETWORK", "polygon")
	t.Setenv("AGENTWALLET_LIMITS_DAILY", "25.00")

	path := writeFile(t, "config.yaml", `
network: base
limits:
  daily: "5.00"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Network != "polygon" {
		t.Errorf("Network = %q; want env override polygon", cfg.Network)
	}
	if cfg.Limits.Daily != "25.00" {
		t.Errorf("Limits.Daily = %q; want env override 25.00", cfg.Limits.Daily)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "network: [unclosed"},
		{"empty network", `network: ""`},
		{"bad per-transaction limit", "limits:\n  per_transaction: ten"},
		{"negative daily limit", `limits:
  daily: "-5"`},
		{"zero request timeout", "timeouts:\n  request: 0s"},
		{"negative redis db", "redis:\n  db: -1"},
		{"bad mock balance", "mock: true\nmock_balance: lots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "config.yaml", tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load() succeeded; want error")
			}
		})
	}
}

func TestTimeoutsValidate(t *testing.T) {
	if err := DefaultTimeouts.Validate(); err != nil {
		t.Errorf("DefaultTimeouts.Validate() error = %v", err)
	}
	if err := (Timeouts{Request: time.Second}).Validate(); err == nil {
		t.Error("Validate() with zero receipt timeout succeeded; want error")
	}
	if err := (Timeouts{Request: -time.Second, Receipt: time.Second}).Validate(); err == nil {
		t.Error("Validate() with negative request timeout succeeded; want error")
	}
}

func TestLoadNetworks(t *testing.T) {
	path := writeFile(t, "networks.yaml", `
networks:
  - network: xdai-test
    chain_id: 100
    usdc_address: "0xDDAfbb505ad214D7b80b1f830fcCc89B60fb7A83"
    eip3009_name: "USD//C on xDai"
    eip3009_version: "1"
  - network: arbitrum-test
    chain_id: 42161
    usdc_address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
    decimals: 6
`)

	chains, err := LoadNetworks(path)
	if err != nil {
		t.Fatalf("LoadNetworks() error = %v", err)
	}
	if len(chains) != 2 {
		t.Fatalf("LoadNetworks() returned %d chains; want 2", len(chains))
	}

	xdai, err := x402.GetChainConfig("xdai-test")
	if err != nil {
		t.Fatalf("GetChainConfig(xdai-test) error = %v", err)
	}
	if xdai.ChainID != 100 || xdai.EIP3009Name != "USD//C on xDai" || xdai.EIP3009Version != "1" {
		t.Errorf("xdai-test config = %+v", xdai)
	}
	if xdai.Decimals != 6 {
		t.Errorf("xdai-test decimals = %d; want default 6", xdai.Decimals)
	}

	arb, err := x402.GetChainConfig("arbitrum-test")
	if err != nil {
		t.Fatalf("GetChainConfig(arbitrum-test) error = %v", err)
	}
	if arb.EIP3009Name != "USD Coin" || arb.EIP3009Version != "2" {
		t.Errorf("arbitrum-test domain = %q/%q; want defaults", arb.EIP3009Name, arb.EIP3009Version)
	}
}

func TestLoadNetworksRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no entries", "networks: []"},
		{"missing usdc address", "networks:\n  - network: broken\n    chain_id: 5"},
		{"missing chain id", `networks:
  - network: broken
    usdc_address: "0xabc"`},
		{"empty network tag", `networks:
  - chain_id: 5
    usdc_address: "0xabc"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "networks.yaml", tt.content)
			if _, err := LoadNetworks(path); err == nil {
				t.Error("LoadNetworks() succeeded; want error")
			}
		})
	}

	if _, err := LoadNetworks(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadNetworks(missing file) succeeded; want error")
	}
}

func TestBuildWalletMock(t *testing.T) {
	t.Setenv("TEST_MOCK_WALLET_KEY", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(x402.PaymentHeader)
		if header == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(x402.PaymentChallenge{
				X402Version: x402.X402Version,
				Accepts: []x402.PaymentOption{{
					Scheme:            x402.SchemeExact,
					Network:           x402.NetworkCanton,
					MaxAmountRequired: "10000",
					PayTo:             "merchant::1220abc",
					Asset:             "USDC",
					Resource:          "http://" + r.Host + r.URL.String(),
				}},
			})
			return
		}
		payment, err := x402.DecodePayment(header)
		if err != nil || payment.Payload.Transaction != ledger.MockTxHash {
			http.Error(w, `{"error":"bad payment"}`, http.StatusForbidden)
			return
		}
		w.Write([]byte("paid"))
	}))
	defer server.Close()

	historyPath := filepath.Join(t.TempDir(), "history.db")
	cfg := &Config{
		Network:       x402.NetworkCanton,
		PrivateKeyEnv: "TEST_MOCK_WALLET_KEY",
		Mock:          true,
		MockBalance:   "100",
		Limits:        LimitsConfig{Daily: "10.00"},
		History:       HistoryConfig{Path: historyPath},
		Timeouts:      DefaultTimeouts,
	}

	w, err := BuildWallet(cfg)
	if err != nil {
		t.Fatalf("BuildWallet() error = %v", err)
	}

	result, err := w.PayForResource(context.Background(), "", server.URL+"/demo")
	if err != nil {
		t.Fatalf("PayForResource() error = %v", err)
	}
	if !result.Success || !result.Paid {
		t.Fatalf("Success/Paid = %v/%v; want true/true (error: %s)", result.Success, result.Paid, result.ErrorMessage)
	}
	if result.SettlementID != ledger.MockTxHash {
		t.Errorf("SettlementID = %q; want the mock hash", result.SettlementID)
	}

	bal, err := w.Balance(context.Background(), x402.NetworkCanton)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	// 100 USDC minus the 0.01 payment.
	if bal.Amount.Int64() != 99_990_000 {
		t.Errorf("Balance() = %d; want 99990000", bal.Amount.Int64())
	}

	if _, err := os.Stat(historyPath); err != nil {
		t.Errorf("history database was not created: %v", err)
	}

	records, err := w.History().List(context.Background(), 0)
	if err != nil {
		t.Fatalf("History().List() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("history has %d records; want 1", len(records))
	}
}

func TestBuildWalletMissingKey(t *testing.T) {
	cfg := &Config{
		Network:       x402.NetworkBase,
		PrivateKeyEnv: "TEST_WALLET_KEY_THAT_IS_NOT_SET",
		Timeouts:      DefaultTimeouts,
	}
	if _, err := BuildWallet(cfg); err == nil {
		t.Error("BuildWallet() without the key env succeeded; want error")
	}
}

func TestBuildWalletUnknownNetwork(t *testing.T) {
	t.Setenv("TEST_WALLET_KEY_NET", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	cfg := &Config{
		Network:       "no-such-network",
		PrivateKeyEnv: "TEST_WALLET_KEY_NET",
		Timeouts:      DefaultTimeouts,
	}
	if _, err := BuildWallet(cfg); err == nil {
		t.Error("BuildWallet() with an unregistered network succeeded; want error")
	}
}
