package x402

import "time"

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	// PaymentEventAttempt indicates a payment is being attempted.
	PaymentEventAttempt PaymentEventType = "attempt"

	// PaymentEventSuccess indicates a payment succeeded.
	PaymentEventSuccess PaymentEventType = "success"

	// PaymentEventFailure indicates a payment failed.
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent represents a payment lifecycle event, delivered to
// registered callbacks for logging, monitoring, and debugging.
type PaymentEvent struct {
	// Type is the event type (attempt, success, failure).
	Type PaymentEventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// URL is the resource being paid for.
	URL string

	// Method is the HTTP method of the paid request.
	Method string

	// Service is the counterparty host.
	Service string

	// Amount is the payment amount in display units.
	Amount string

	// Asset is the token contract address.
	Asset string

	// Network is the network tag of the selected option.
	Network string

	// Scheme is the payment scheme (e.g., "exact").
	Scheme string

	// Recipient is the payment recipient address.
	Recipient string

	// Payer is the address that made the payment.
	Payer string

	// Transaction is the settlement transaction hash (when settled).
	Transaction string

	// Error contains error details (available on failure).
	Error error

	// Duration is the time taken for the payment operation.
	Duration time.Duration

	// Metadata contains additional context-specific information.
	Metadata map[string]interface{}
}

// PaymentCallback is a function that handles payment events.
// Callbacks are invoked synchronously during payment processing, so
// they should be fast to avoid blocking the payment flow.
type PaymentCallback func(PaymentEvent)
