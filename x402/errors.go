package x402

import "errors"

// Sentinel errors for wallet payment operations.
var (
	// ErrInvalidChallenge indicates a malformed or empty 402 challenge body.
	ErrInvalidChallenge = errors.New("x402: invalid payment challenge")

	// ErrNoCompatibleOption indicates no usable option in the challenge.
	ErrNoCompatibleOption = errors.New("x402: no compatible payment option")

	// ErrLimitExceeded indicates a spend-limit policy rejection.
	ErrLimitExceeded = errors.New("x402: spend limit exceeded")

	// ErrInsufficientBalance indicates the wallet cannot cover the amount.
	ErrInsufficientBalance = errors.New("x402: insufficient balance")

	// ErrSignatureFailed indicates the payment authorization could not be signed.
	ErrSignatureFailed = errors.New("x402: payment signing failed")

	// ErrTransferFailed indicates an on-chain transfer failed or reverted.
	ErrTransferFailed = errors.New("x402: transfer failed")

	// ErrMerchantRejected indicates the retried request returned non-2xx.
	ErrMerchantRejected = errors.New("x402: merchant rejected payment")

	// ErrInvalidAmount indicates an invalid amount string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidNetwork indicates an unknown or unsupported network tag.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrMalformedHeader indicates the X-PAYMENT header is malformed.
	ErrMalformedHeader = errors.New("x402: malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")
)

// ErrorCode represents payment error codes for programmatic handling.
type ErrorCode string

const (
	// ErrCodeInvalidChallenge indicates a malformed or empty 402 body.
	ErrCodeInvalidChallenge ErrorCode = "INVALID_CHALLENGE"

	// ErrCodeNoCompatibleOption indicates the selector found nothing usable.
	ErrCodeNoCompatibleOption ErrorCode = "NO_COMPATIBLE_OPTION"

	// ErrCodeLimitExceeded indicates a policy rejection; user-correctable.
	ErrCodeLimitExceeded ErrorCode = "LIMIT_EXCEEDED"

	// ErrCodeInsufficientBalance indicates the wallet is underfunded.
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"

	// ErrCodeSignatureFailed indicates the signing step failed.
	ErrCodeSignatureFailed ErrorCode = "SIGNATURE_FAILED"

	// ErrCodeTransferFailed indicates the fund-movement step failed.
	ErrCodeTransferFailed ErrorCode = "TRANSFER_FAILED"

	// ErrCodeMerchantRejected indicates the retried request was refused.
	ErrCodeMerchantRejected ErrorCode = "MERCHANT_REJECTED"

	// ErrCodeAttestationSkipped indicates identity headers were omitted.
	// Non-fatal: the payment flow continues without them.
	ErrCodeAttestationSkipped ErrorCode = "ATTESTATION_SKIPPED"

	// ErrCodeUnexpectedError is the catch-all for unclassified failures.
	ErrCodeUnexpectedError ErrorCode = "UNEXPECTED_ERROR"
)

// PaymentError provides structured error information.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given code and message.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
