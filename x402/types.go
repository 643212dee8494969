// Package x402 implements the client-side protocol layer of the x402
// pay-per-resource protocol: the 402 challenge body, the deterministic
// payment-option selection policy, the X-PAYMENT / X-PAYMENT-RESPONSE
// header codec, and the network registry.
//
// Wire format (version 1):
//   - A 402 response body is a PaymentChallenge: an "accepts" array of
//     PaymentOption plus the protocol version.
//   - The client answers with an X-PAYMENT header carrying a
//     base64-encoded PaymentPayload.
//   - The server may return an X-PAYMENT-RESPONSE header carrying a
//     base64-encoded SettleResponse.
//
// Import path: github.com/mark3labs/agentwallet-go/x402
package x402

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// X402Version is the protocol version this package speaks.
const X402Version = 1

// SchemeExact is the canonical exact-amount transfer scheme. It is the
// only scheme currently defined by the protocol.
const SchemeExact = "exact"

// PaymentOption defines a single acceptable payment method.
// This is an element in the "accepts" array of PaymentChallenge.
type PaymentOption struct {
	// Scheme is the payment scheme identifier (currently always "exact").
	Scheme string `json:"scheme"`

	// Network is the chain or ledger tag (e.g., "base").
	Network string `json:"network"`

	// MaxAmountRequired is the required amount in the asset's smallest
	// units, as a decimal integer string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Asset is the token contract address on the option's network.
	Asset string `json:"asset"`

	// Resource is the URL of the resource being paid for.
	Resource string `json:"resource"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// Extra contains scheme-specific additional data, such as a merchant
	// nonce or the asset's EIP-712 domain name and version.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentChallenge is the 402 response body sent by resource servers.
// Immutable once parsed; its lifetime is one payment attempt.
type PaymentChallenge struct {
	// X402Version is the protocol version (1).
	X402Version int `json:"x402Version"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentOption `json:"accepts"`

	// Error is an optional human-readable error message.
	Error string `json:"error,omitempty"`
}

// ParseChallenge parses and validates a 402 response body.
// The challenge must carry the supported protocol version, a non-empty
// accepts list, and every option's required fields; anything else is
// rejected here rather than deeper in the payment flow.
func ParseChallenge(body []byte) (*PaymentChallenge, error) {
	var challenge PaymentChallenge
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	if err := ValidateChallenge(&challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// ParseAtomicAmount parses a smallest-unit amount string as a
// non-negative integer.
func ParseAtomicAmount(amount string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return value, nil
}

// AtomicToDecimal converts a smallest-unit amount string to a display
// amount using the asset's decimal count. For example, "10000" with
// 6 decimals becomes 0.01.
func AtomicToDecimal(amount string, decimals int32) (decimal.Decimal, error) {
	if decimals < 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	value, err := ParseAtomicAmount(amount)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(value, -decimals), nil
}

// DecimalToAtomic converts a display amount to smallest units.
// Returns ErrInvalidAmount if the amount is negative or has more
// fractional digits than the asset supports.
func DecimalToAtomic(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if decimals < 0 || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, ErrInvalidAmount
	}
	return shifted.BigInt(), nil
}
