// Package authorization implements the off-chain proof strategy: a
// signed EIP-3009 transfer authorization the merchant (or its
// facilitator) redeems on-chain later. No funds move at proof time;
// the wallet's guarantee ends at producing a valid signature.
package authorization

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mark3labs/agentwallet-go/internal/eip3009"
	"github.com/mark3labs/agentwallet-go/x402"
)

// Signer produces signed transfer authorizations for EVM networks.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	validity   time.Duration
}

// Option configures a Signer.
type Option func(*Signer) error

// NewSigner creates a Signer from a hex-encoded secp256k1 private key
// (with or without the 0x prefix). Key material is expected to come
// from the deployment's secure key storage.
func NewSigner(privateKeyHex string, opts ...Option) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewSignerFromKey(privateKey, opts...)
}

// NewSignerFromKey creates a Signer from an in-memory private key.
func NewSignerFromKey(key *ecdsa.PrivateKey, opts ...Option) (*Signer, error) {
	if key == nil {
		return nil, x402.ErrInvalidKey
	}

	s := &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// WithValidity overrides the authorization validity window (default
// one hour past signing, with a 60s skew allowance before it).
func WithValidity(d time.Duration) Option {
	return func(s *Signer) error {
		if d <= 0 {
			return fmt.Errorf("authorization validity must be positive")
		}
		s.validity = d
		return nil
	}
}

// Payer returns the signing address.
func (s *Signer) Payer() string {
	return s.address.Hex()
}

// Address returns the signing address in its native form.
func (s *Signer) Address() common.Address {
	return s.address
}

// ProduceProof builds and signs a fresh transfer authorization for the
// selected option and encodes it as an X-PAYMENT header value.
func (s *Signer) ProduceProof(_ context.Context, opt x402.PaymentOption) (*x402.Proof, error) {
	if opt.Scheme != x402.SchemeExact {
		return nil, fmt.Errorf("%w: %s", x402.ErrUnsupportedScheme, opt.Scheme)
	}

	chain, err := x402.GetChainConfig(opt.Network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSignatureFailed, err)
	}

	amount, err := x402.ParseAtomicAmount(opt.MaxAmountRequired)
	if err != nil {
		return nil, err
	}

	name, version := eip3009Params(opt, chain)

	auth, err := eip3009.CreateAuthorization(
		s.address,
		common.HexToAddress(opt.PayTo),
		amount,
		s.validity,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSignatureFailed, err)
	}

	signature, err := eip3009.SignAuthorization(
		s.privateKey,
		common.HexToAddress(opt.Asset),
		chain.ChainIDBig(),
		auth,
		name,
		version,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSignatureFailed, err)
	}

	header, err := x402.EncodePayment(x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      opt.Scheme,
		Network:     opt.Network,
		Payload: x402.ProofPayload{
			Signature: signature,
			Authorization: &x402.Authorization{
				From:        auth.From.Hex(),
				To:          auth.To.Hex(),
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       auth.NonceHex(),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSignatureFailed, err)
	}

	return &x402.Proof{
		Header: header,
		Payer:  s.address.Hex(),
	}, nil
}

// eip3009Params resolves the EIP-712 domain name and version for the
// option's asset: challenge metadata wins, the chain registry's USDC
// parameters are the fallback.
func eip3009Params(opt x402.PaymentOption, chain x402.ChainConfig) (name, version string) {
	name = chain.EIP3009Name
	version = chain.EIP3009Version
	if opt.Extra == nil {
		return name, version
	}
	if v, ok := opt.Extra["name"].(string); ok && v != "" {
		name = v
	}
	if v, ok := opt.Extra["version"].(string); ok && v != "" {
		version = v
	}
	return name, version
}
