package x402

import "context"

// Proof is the outcome of the active settlement strategy for one
// payment attempt.
type Proof struct {
	// Header is the encoded X-PAYMENT header value.
	Header string

	// SettlementID is the transfer transaction id when the strategy
	// settles immediately (on-chain); empty for signed authorizations,
	// which settle later.
	SettlementID string

	// Payer is the paying address the proof is bound to.
	Payer string

	// FundsMoved reports whether producing the proof moved funds, as
	// opposed to producing a redeemable signature. It decides whether an
	// interrupted attempt must still leave a durable record.
	FundsMoved bool
}

// ProofProducer turns a selected payment option into proof of payment.
// Two interchangeable strategies exist: a signed off-chain
// authorization, and an on-chain transfer whose transaction id becomes
// the proof. Exactly one strategy is active per wallet; they are never
// mixed within a flow because the proof formats differ.
type ProofProducer interface {
	// Payer returns the paying address.
	Payer() string

	// ProduceProof builds proof of payment for the selected option.
	// A fresh nonce is used per call; proofs are never reused across
	// attempts.
	ProduceProof(ctx context.Context, opt PaymentOption) (*Proof, error)
}
