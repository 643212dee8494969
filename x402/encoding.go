package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// HTTP header names used by the protocol.
const (
	// PaymentHeader carries the base64-encoded PaymentPayload on the
	// retried request.
	PaymentHeader = "X-PAYMENT"

	// SettlementHeader carries the base64-encoded SettleResponse on the
	// merchant's reply, when the merchant settles.
	SettlementHeader = "X-PAYMENT-RESPONSE"
)

// PaymentPayload is the decoded X-PAYMENT header value sent to pay for
// a resource.
type PaymentPayload struct {
	// X402Version is the protocol version (1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme of the selected option.
	Scheme string `json:"scheme"`

	// Network is the network tag of the selected option.
	Network string `json:"network"`

	// Payload carries the strategy-specific proof.
	Payload ProofPayload `json:"payload"`
}

// ProofPayload carries the proof produced by the active settlement
// strategy: a signed authorization for the off-chain strategy, or a
// confirmed transaction hash for the on-chain strategy. Exactly one
// form is populated.
type ProofPayload struct {
	// Signature is the hex-encoded ECDSA signature over the
	// authorization (off-chain strategy).
	Signature string `json:"signature,omitempty"`

	// Authorization contains the EIP-3009 transfer parameters the
	// signature covers (off-chain strategy).
	Authorization *Authorization `json:"authorization,omitempty"`

	// Transaction is the confirmed transfer transaction hash (on-chain
	// strategy).
	Transaction string `json:"transaction,omitempty"`
}

// Authorization mirrors the EIP-3009 transferWithAuthorization
// parameters as wire strings.
type Authorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in smallest units.
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string to prevent replay attacks.
	Nonce string `json:"nonce"`
}

// SettleResponse is the decoded X-PAYMENT-RESPONSE header a merchant
// may attach after settling a payment.
type SettleResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// Transaction is the settlement transaction hash.
	Transaction string `json:"transaction"`

	// Network is the network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`

	// ErrorReason provides a short error code if settlement failed.
	ErrorReason string `json:"errorReason,omitempty"`
}

// EncodePayment converts a PaymentPayload to a base64-encoded JSON
// string suitable for the X-PAYMENT header.
func EncodePayment(payment PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts an X-PAYMENT header value back to a
// PaymentPayload, rejecting unsupported protocol versions.
func DecodePayment(encoded string) (*PaymentPayload, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	var payment PaymentPayload
	if err := json.Unmarshal(decoded, &payment); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	if payment.X402Version != X402Version {
		return nil, fmt.Errorf("%w: got version %d, want %d", ErrUnsupportedVersion, payment.X402Version, X402Version)
	}

	return &payment, nil
}

// EncodeSettlement converts a SettleResponse to a base64-encoded JSON
// string suitable for the X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement SettleResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// ParseSettlement decodes an X-PAYMENT-RESPONSE header value.
// Settlement info is advisory, so an empty or unparseable header
// returns nil rather than an error.
func ParseSettlement(header string) *SettleResponse {
	if header == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil
	}
	var settlement SettleResponse
	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return nil
	}
	return &settlement
}
