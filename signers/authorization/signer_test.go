package authorization

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mark3labs/agentwallet-go/internal/eip3009"
	"github.com/mark3labs/agentwallet-go/x402"
)

// Well-known Anvil test key; safe for tests only.
const (
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testPayTo      = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
)

func testOption() x402.PaymentOption {
	return x402.PaymentOption{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBase,
		MaxAmountRequired: "10000",
		PayTo:             testPayTo,
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Resource:          "https://api.example.com/reports/1",
	}
}

func TestNewSigner(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "bare hex", key: testPrivateKey},
		{name: "0x prefix", key: "0x" + testPrivateKey},
		{name: "invalid hex", key: "zznotakey", wantErr: true},
		{name: "empty", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewSigner(tt.key)
			if tt.wantErr {
				if !errors.Is(err, x402.ErrInvalidKey) {
					t.Errorf("NewSigner() error = %v; want ErrInvalidKey", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSigner() error = %v", err)
			}
			if !strings.EqualFold(signer.Payer(), testAddress) {
				t.Errorf("Payer() = %s; want %s", signer.Payer(), testAddress)
			}
		})
	}
}

func TestNewSignerFromKeyNil(t *testing.T) {
	if _, err := NewSignerFromKey(nil); !errors.Is(err, x402.ErrInvalidKey) {
		t.Errorf("NewSignerFromKey(nil) error = %v; want ErrInvalidKey", err)
	}
}

func TestWithValidityRejectsNonPositive(t *testing.T) {
	if _, err := NewSigner(testPrivateKey, WithValidity(0)); err == nil {
		t.Error("NewSigner(WithValidity(0)) error = nil; want error")
	}
	if _, err := NewSigner(testPrivateKey, WithValidity(-time.Minute)); err == nil {
		t.Error("NewSigner(WithValidity(-1m)) error = nil; want error")
	}
}

func TestProduceProof(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	before := time.Now()
	proof, err := signer.ProduceProof(context.Background(), testOption())
	if err != nil {
		t.Fatalf("ProduceProof() error = %v", err)
	}

	if proof.FundsMoved {
		t.Error("FundsMoved = true; want false for authorization proofs")
	}
	if proof.SettlementID != "" {
		t.Errorf("SettlementID = %q; want empty", proof.SettlementID)
	}
	if !strings.EqualFold(proof.Payer, testAddress) {
		t.Errorf("Payer = %s; want %s", proof.Payer, testAddress)
	}

	payload, err := x402.DecodePayment(proof.Header)
	if err != nil {
		t.Fatalf("DecodePayment() error = %v", err)
	}
	if payload.X402Version != x402.X402Version {
		t.Errorf("x402Version = %d; want %d", payload.X402Version, x402.X402Version)
	}
	if payload.Scheme != x402.SchemeExact {
		t.Errorf("scheme = %q; want %q", payload.Scheme, x402.SchemeExact)
	}
	if payload.Network != x402.NetworkBase {
		t.Errorf("network = %q; want %q", payload.Network, x402.NetworkBase)
	}

	auth := payload.Payload.Authorization
	if auth == nil {
		t.Fatal("payload.Payload.Authorization = nil")
	}
	if !strings.EqualFold(auth.From, testAddress) {
		t.Errorf("authorization.from = %s; want %s", auth.From, testAddress)
	}
	if !strings.EqualFold(auth.To, testPayTo) {
		t.Errorf("authorization.to = %s; want %s", auth.To, testPayTo)
	}
	if auth.Value != "10000" {
		t.Errorf("authorization.value = %q; want %q", auth.Value, "10000")
	}

	// The validity window opens before signing time (skew allowance)
	// and closes about an hour after it.
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		t.Fatalf("validAfter %q is not decimal", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		t.Fatalf("validBefore %q is not decimal", auth.ValidBefore)
	}
	if validAfter.Int64() > before.Unix() {
		t.Errorf("validAfter = %d; want <= %d", validAfter.Int64(), before.Unix())
	}
	window := validBefore.Int64() - validAfter.Int64()
	want := int64((time.Hour + eip3009.ClockSkew) / time.Second)
	if window != want {
		t.Errorf("validity window = %ds; want %ds", window, want)
	}

	if !strings.HasPrefix(auth.Nonce, "0x") || len(auth.Nonce) != 66 {
		t.Errorf("nonce = %q; want 0x-prefixed 32-byte hex", auth.Nonce)
	}

	// The signature recovers to the payer under the Base USDC domain.
	recovered, err := eip3009.RecoverSigner(
		payload.Payload.Signature,
		common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		big.NewInt(8453),
		wireToAuthorization(t, auth),
		"USD Coin",
		"2",
	)
	if err != nil {
		t.Fatalf("RecoverSigner() error = %v", err)
	}
	if !strings.EqualFold(recovered.Hex(), testAddress) {
		t.Errorf("recovered signer = %s; want %s", recovered.Hex(), testAddress)
	}
}

func TestProduceProofDomainOverride(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	opt := testOption()
	opt.Extra = map[string]any{"name": "Custom Token", "version": "7"}

	proof, err := signer.ProduceProof(context.Background(), opt)
	if err != nil {
		t.Fatalf("ProduceProof() error = %v", err)
	}
	payload, err := x402.DecodePayment(proof.Header)
	if err != nil {
		t.Fatalf("DecodePayment() error = %v", err)
	}

	// Recovery only succeeds under the overridden domain.
	auth := wireToAuthorization(t, payload.Payload.Authorization)
	token := common.HexToAddress(opt.Asset)

	recovered, err := eip3009.RecoverSigner(payload.Payload.Signature, token, big.NewInt(8453), auth, "Custom Token", "7")
	if err != nil {
		t.Fatalf("RecoverSigner() error = %v", err)
	}
	if !strings.EqualFold(recovered.Hex(), testAddress) {
		t.Errorf("recovered signer = %s; want %s", recovered.Hex(), testAddress)
	}

	wrongDomain, err := eip3009.RecoverSigner(payload.Payload.Signature, token, big.NewInt(8453), auth, "USD Coin", "2")
	if err == nil && strings.EqualFold(wrongDomain.Hex(), testAddress) {
		t.Error("signature verified under the default domain despite override")
	}
}

func TestProduceProofErrors(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*x402.PaymentOption)
		wantErr error
	}{
		{
			name:    "unsupported scheme",
			mutate:  func(opt *x402.PaymentOption) { opt.Scheme = "upto" },
			wantErr: x402.ErrUnsupportedScheme,
		},
		{
			name:    "unknown network",
			mutate:  func(opt *x402.PaymentOption) { opt.Network = "testnet-9" },
			wantErr: x402.ErrSignatureFailed,
		},
		{
			name:    "invalid amount",
			mutate:  func(opt *x402.PaymentOption) { opt.MaxAmountRequired = "ten" },
			wantErr: x402.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := testOption()
			tt.mutate(&opt)
			if _, err := signer.ProduceProof(context.Background(), opt); !errors.Is(err, tt.wantErr) {
				t.Errorf("ProduceProof() error = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestProduceProofUniqueNonces(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		proof, err := signer.ProduceProof(context.Background(), testOption())
		if err != nil {
			t.Fatalf("ProduceProof() error = %v", err)
		}
		payload, err := x402.DecodePayment(proof.Header)
		if err != nil {
			t.Fatalf("DecodePayment() error = %v", err)
		}
		nonce := payload.Payload.Authorization.Nonce
		if seen[nonce] {
			t.Fatalf("nonce %s repeated", nonce)
		}
		seen[nonce] = true
	}
}

// wireToAuthorization rebuilds the typed authorization from its wire
// form for signature recovery.
func wireToAuthorization(t *testing.T, wire *x402.Authorization) *eip3009.Authorization {
	t.Helper()

	value, ok := new(big.Int).SetString(wire.Value, 10)
	if !ok {
		t.Fatalf("value %q is not decimal", wire.Value)
	}
	validAfter, ok := new(big.Int).SetString(wire.ValidAfter, 10)
	if !ok {
		t.Fatalf("validAfter %q is not decimal", wire.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(wire.ValidBefore, 10)
	if !ok {
		t.Fatalf("validBefore %q is not decimal", wire.ValidBefore)
	}

	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(wire.Nonce, "0x"))
	if err != nil || len(nonceBytes) != 32 {
		t.Fatalf("nonce %q is not 32-byte hex", wire.Nonce)
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	return &eip3009.Authorization{
		From:        common.HexToAddress(wire.From),
		To:          common.HexToAddress(wire.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}
}
