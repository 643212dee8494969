// Package merchant gates HTTP resources behind x402 payments: a gin
// middleware that issues 402 challenges and verifies presented payment
// headers locally, without a facilitator service. It is the
// counterparty used by integration tests and demo services.
package merchant

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mark3labs/agentwallet-go/internal/eip3009"
	"github.com/mark3labs/agentwallet-go/x402"
)

// settleGrace is how long an authorization must remain valid past
// verification, so it cannot expire while being redeemed.
const settleGrace = 6 * time.Second

// ErrVerificationFailed wraps every reason a presented payment is
// refused.
var ErrVerificationFailed = errors.New("merchant: payment verification failed")

// VerifiedPayment is the outcome of a successful verification.
type VerifiedPayment struct {
	// Payer is the address recovered from the payment proof.
	Payer string

	// Amount is the authorized amount in atomic units.
	Amount string

	// Network and Scheme identify the option the payment satisfies.
	Network string
	Scheme  string

	// Transaction is the settlement transaction, for transaction
	// proofs.
	Transaction string
}

// Verifier checks payment headers against a single payment option:
// scheme and network match, recipient and amount match, the validity
// window is open, and the EIP-712 signature recovers to the payer.
type Verifier struct {
	option  x402.PaymentOption
	chain   x402.ChainConfig
	name    string
	version string

	now func() time.Time
}

// NewVerifier builds a verifier for one payment option. The option's
// network must resolve to a registered EVM chain; its Extra metadata
// may override the EIP-712 domain name and version.
func NewVerifier(option x402.PaymentOption) (*Verifier, error) {
	if option.Scheme != x402.SchemeExact {
		return nil, fmt.Errorf("%w: %s", x402.ErrUnsupportedScheme, option.Scheme)
	}
	chain, err := x402.GetChainConfig(option.Network)
	if err != nil {
		return nil, err
	}

	name, version := chain.EIP3009Name, chain.EIP3009Version
	if v, ok := option.Extra["name"].(string); ok && v != "" {
		name = v
	}
	if v, ok := option.Extra["version"].(string); ok && v != "" {
		version = v
	}

	return &Verifier{
		option:  option,
		chain:   chain,
		name:    name,
		version: version,
		now:     time.Now,
	}, nil
}

// Verify checks a decoded payment against the verifier's option.
func (v *Verifier) Verify(payment *x402.PaymentPayload) (*VerifiedPayment, error) {
	if payment.Scheme != v.option.Scheme {
		return nil, fmt.Errorf("%w: scheme %q does not match %q", ErrVerificationFailed, payment.Scheme, v.option.Scheme)
	}
	if payment.Network != v.option.Network {
		return nil, fmt.Errorf("%w: network %q does not match %q", ErrVerificationFailed, payment.Network, v.option.Network)
	}

	wire := payment.Payload.Authorization
	if wire == nil || payment.Payload.Signature == "" {
		return nil, fmt.Errorf("%w: missing transfer authorization", ErrVerificationFailed)
	}

	auth, err := wireAuthorization(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if !strings.EqualFold(wire.To, v.option.PayTo) {
		return nil, fmt.Errorf("%w: recipient %s is not %s", ErrVerificationFailed, wire.To, v.option.PayTo)
	}

	required, err := x402.ParseAtomicAmount(v.option.MaxAmountRequired)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if auth.Value.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: amount %s is below required %s", ErrVerificationFailed, auth.Value, required)
	}

	now := v.now()
	if now.Unix() < auth.ValidAfter.Int64() {
		return nil, fmt.Errorf("%w: authorization not yet valid", ErrVerificationFailed)
	}
	if now.Add(settleGrace).Unix() >= auth.ValidBefore.Int64() {
		return nil, fmt.Errorf("%w: authorization expired or expires too soon", ErrVerificationFailed)
	}

	recovered, err := eip3009.RecoverSigner(
		payment.Payload.Signature,
		common.HexToAddress(v.option.Asset),
		v.chain.ChainIDBig(),
		auth,
		v.name,
		v.version,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if recovered != auth.From {
		return nil, fmt.Errorf("%w: signature recovers to %s, not %s", ErrVerificationFailed, recovered, auth.From)
	}

	return &VerifiedPayment{
		Payer:   auth.From.Hex(),
		Amount:  auth.Value.String(),
		Network: payment.Network,
		Scheme:  payment.Scheme,
	}, nil
}

// wireAuthorization converts the wire-format authorization into the
// typed form the signature covers.
func wireAuthorization(wire *x402.Authorization) (*eip3009.Authorization, error) {
	value, ok := new(big.Int).SetString(wire.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", wire.Value)
	}
	validAfter, ok := new(big.Int).SetString(wire.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter %q", wire.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(wire.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore %q", wire.ValidBefore)
	}
	nonceBytes, err := hexutil.Decode(wire.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return nil, fmt.Errorf("invalid nonce %q", wire.Nonce)
	}

	auth := &eip3009.Authorization{
		From:        common.HexToAddress(wire.From),
		To:          common.HexToAddress(wire.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
	}
	copy(auth.Nonce[:], nonceBytes)
	return auth, nil
}
