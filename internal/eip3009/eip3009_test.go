package eip3009

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// testPrivateKey is the Foundry/Anvil first default account private key.
// This is a well-known test key - NEVER use in production.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// testAddress is the address derived from testPrivateKey.
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestGenerateNonce(t *testing.T) {
	t.Run("returns 32 byte nonce", func(t *testing.T) {
		nonce, err := GenerateNonce()
		if err != nil {
			t.Fatalf("Failed to generate nonce: %v", err)
		}
		if len(nonce[:]) != 32 {
			t.Errorf("Expected 32 byte nonce, got %d bytes", len(nonce[:]))
		}
	})

	t.Run("generates unique nonces", func(t *testing.T) {
		nonces := make(map[string]bool)
		for i := 0; i < 100; i++ {
			nonce, err := GenerateNonce()
			if err != nil {
				t.Fatalf("Failed to generate nonce: %v", err)
			}
			key := hex.EncodeToString(nonce[:])
			if nonces[key] {
				t.Errorf("Duplicate nonce generated: %s", key)
			}
			nonces[key] = true
		}
	})
}

func TestCreateAuthorization(t *testing.T) {
	from := common.HexToAddress(testAddress)
	to := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	value := big.NewInt(10000)

	t.Run("creates valid authorization", func(t *testing.T) {
		auth, err := CreateAuthorization(from, to, value, 0)
		if err != nil {
			t.Fatalf("Failed to create authorization: %v", err)
		}

		if auth.From != from {
			t.Errorf("Expected from %s, got %s", from.Hex(), auth.From.Hex())
		}
		if auth.To != to {
			t.Errorf("Expected to %s, got %s", to.Hex(), auth.To.Hex())
		}
		if auth.Value.Cmp(value) != 0 {
			t.Errorf("Expected value %s, got %s", value.String(), auth.Value.String())
		}
	})

	t.Run("default window is now-60s to now+1h", func(t *testing.T) {
		before := time.Now().Unix()
		auth, err := CreateAuthorization(from, to, value, 0)
		if err != nil {
			t.Fatalf("Failed to create authorization: %v", err)
		}
		after := time.Now().Unix()

		if auth.ValidAfter.Int64() < before-61 || auth.ValidAfter.Int64() > after-59 {
			t.Errorf("ValidAfter %d not in expected range [%d, %d]",
				auth.ValidAfter.Int64(), before-61, after-59)
		}
		if auth.ValidBefore.Int64() < before+3599 || auth.ValidBefore.Int64() > after+3601 {
			t.Errorf("ValidBefore %d not in expected range [%d, %d]",
				auth.ValidBefore.Int64(), before+3599, after+3601)
		}
	})

	t.Run("custom validity shortens the window", func(t *testing.T) {
		auth, err := CreateAuthorization(from, to, value, 5*time.Minute)
		if err != nil {
			t.Fatalf("Failed to create authorization: %v", err)
		}
		diff := auth.ValidBefore.Int64() - auth.ValidAfter.Int64()
		want := int64(5*60 + 60)
		if diff < want-1 || diff > want+1 {
			t.Errorf("Window width %d not close to expected %d", diff, want)
		}
	})

	t.Run("generates unique nonces per authorization", func(t *testing.T) {
		auth1, err := CreateAuthorization(from, to, value, 0)
		if err != nil {
			t.Fatalf("Failed to create authorization 1: %v", err)
		}
		auth2, err := CreateAuthorization(from, to, value, 0)
		if err != nil {
			t.Fatalf("Failed to create authorization 2: %v", err)
		}
		if bytes.Equal(auth1.Nonce[:], auth2.Nonce[:]) {
			t.Error("Two authorizations have the same nonce")
		}
	})
}

func TestSignAuthorization(t *testing.T) {
	privateKey, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to parse private key: %v", err)
	}

	from := crypto.PubkeyToAddress(privateKey.PublicKey)
	to := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	tokenAddress := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	chainID := big.NewInt(8453)
	name := "USD Coin"
	version := "2"

	t.Run("creates valid signature", func(t *testing.T) {
		auth, err := CreateAuthorization(from, to, big.NewInt(10000), 0)
		if err != nil {
			t.Fatalf("Failed to create authorization: %v", err)
		}

		sig, err := SignAuthorization(privateKey, tokenAddress, chainID, auth, name, version)
		if err != nil {
			t.Fatalf("Failed to sign authorization: %v", err)
		}

		if !strings.HasPrefix(sig, "0x") {
			t.Error("Signature should have 0x prefix")
		}
		if len(sig) != 132 {
			t.Errorf("Expected signature length 132, got %d", len(sig))
		}

		sigBytes, err := hex.DecodeString(sig[2:])
		if err != nil {
			t.Fatalf("Failed to decode signature: %v", err)
		}
		if v := sigBytes[64]; v != 27 && v != 28 {
			t.Errorf("Expected v to be 27 or 28, got %d", v)
		}
	})

	t.Run("signatures are deterministic for same input", func(t *testing.T) {
		auth := &Authorization{
			From:        from,
			To:          to,
			Value:       big.NewInt(10000),
			ValidAfter:  big.NewInt(1000),
			ValidBefore: big.NewInt(2000),
			Nonce:       [32]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32},
		}

		sig1, err := SignAuthorization(privateKey, tokenAddress, chainID, auth, name, version)
		if err != nil {
			t.Fatalf("Failed to sign authorization 1: %v", err)
		}
		sig2, err := SignAuthorization(privateKey, tokenAddress, chainID, auth, name, version)
		if err != nil {
			t.Fatalf("Failed to sign authorization 2: %v", err)
		}
		if sig1 != sig2 {
			t.Error("Same input should produce same signature")
		}
	})

	t.Run("different chain IDs produce different signatures", func(t *testing.T) {
		auth := &Authorization{
			From:        from,
			To:          to,
			Value:       big.NewInt(10000),
			ValidAfter:  big.NewInt(1000),
			ValidBefore: big.NewInt(2000),
			Nonce:       [32]byte{1, 2, 3, 4},
		}

		sigBase, err := SignAuthorization(privateKey, tokenAddress, big.NewInt(8453), auth, name, version)
		if err != nil {
			t.Fatalf("Failed to sign for Base: %v", err)
		}
		sigMainnet, err := SignAuthorization(privateKey, tokenAddress, big.NewInt(1), auth, name, version)
		if err != nil {
			t.Fatalf("Failed to sign for Mainnet: %v", err)
		}
		if sigBase == sigMainnet {
			t.Error("Different chain IDs should produce different signatures")
		}
	})

	t.Run("different amounts produce different signatures", func(t *testing.T) {
		base := Authorization{
			From:        from,
			To:          to,
			ValidAfter:  big.NewInt(1000),
			ValidBefore: big.NewInt(2000),
			Nonce:       [32]byte{1, 2, 3, 4},
		}

		auth1 := base
		auth1.Value = big.NewInt(10000)
		auth2 := base
		auth2.Value = big.NewInt(20000)

		sig1, err := SignAuthorization(privateKey, tokenAddress, chainID, &auth1, name, version)
		if err != nil {
			t.Fatalf("Failed to sign auth 1: %v", err)
		}
		sig2, err := SignAuthorization(privateKey, tokenAddress, chainID, &auth2, name, version)
		if err != nil {
			t.Fatalf("Failed to sign auth 2: %v", err)
		}
		if sig1 == sig2 {
			t.Error("Different amounts should produce different signatures")
		}
	})
}

func TestRecoverSigner(t *testing.T) {
	privateKey, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to parse private key: %v", err)
	}

	from := crypto.PubkeyToAddress(privateKey.PublicKey)
	to := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	tokenAddress := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	chainID := big.NewInt(8453)

	auth, err := CreateAuthorization(from, to, big.NewInt(10000), 0)
	if err != nil {
		t.Fatalf("Failed to create authorization: %v", err)
	}

	sig, err := SignAuthorization(privateKey, tokenAddress, chainID, auth, "USD Coin", "2")
	if err != nil {
		t.Fatalf("Failed to sign authorization: %v", err)
	}

	t.Run("recovers the signing address", func(t *testing.T) {
		recovered, err := RecoverSigner(sig, tokenAddress, chainID, auth, "USD Coin", "2")
		if err != nil {
			t.Fatalf("RecoverSigner() error = %v", err)
		}
		if recovered != from {
			t.Errorf("Recovered %s; want %s", recovered.Hex(), from.Hex())
		}
	})

	t.Run("recovery fails to match on altered amount", func(t *testing.T) {
		tampered := *auth
		tampered.Value = big.NewInt(99999)
		recovered, err := RecoverSigner(sig, tokenAddress, chainID, &tampered, "USD Coin", "2")
		if err != nil {
			t.Fatalf("RecoverSigner() error = %v", err)
		}
		if recovered == from {
			t.Error("Recovered the payer address from a tampered authorization")
		}
	})

	t.Run("rejects short signatures", func(t *testing.T) {
		if _, err := RecoverSigner("0x1234", tokenAddress, chainID, auth, "USD Coin", "2"); err == nil {
			t.Error("Expected error for short signature")
		}
	})
}
