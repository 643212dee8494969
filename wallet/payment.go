package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mark3labs/agentwallet-go/attest"
	"github.com/mark3labs/agentwallet-go/audit"
	"github.com/mark3labs/agentwallet-go/guard"
	"github.com/mark3labs/agentwallet-go/history"
	"github.com/mark3labs/agentwallet-go/x402"
)

// maxBodyBytes caps how much of a response the wallet buffers.
const maxBodyBytes = 1 << 20

// PaymentResult is the outcome of one ExecutePayment call. The
// orchestrator never returns raw errors: failures surface as an
// ErrorCode and message here so agent loops stay alive.
type PaymentResult struct {
	// Success reports whether the call completed without a payment
	// failure. A resource that answers anything but 402 is passed
	// through with Success true, whatever its status.
	Success bool

	// Paid reports whether funds moved (or a redeemable authorization
	// was accepted by the merchant).
	Paid bool

	// StatusCode and Body are the final HTTP response.
	StatusCode int
	Body       []byte

	URL     string
	Method  string
	Service string

	// Amount is the payment amount in display units; Asset, Network,
	// Scheme and Recipient come from the selected option.
	Amount    string
	Asset     string
	Network   string
	Scheme    string
	Recipient string
	Payer     string

	// Description labels the attempt in the transaction history:
	// the caller's text when given, else the challenge option's.
	Description string

	// SettlementID is the settlement transaction id, when known.
	SettlementID string

	// Settlement is the decoded X-PAYMENT-RESPONSE header, when the
	// merchant sent a parseable one.
	Settlement *x402.SettleResponse

	// RecordID is the transaction history record for this attempt.
	RecordID string

	// ErrorCode and ErrorMessage are set when Success is false and
	// the failure happened inside the payment flow.
	ErrorCode    x402.ErrorCode
	ErrorMessage string

	// Duration is the end-to-end time spent.
	Duration time.Duration

	start time.Time
}

// RequestOption adjusts a single payment or transfer attempt.
type RequestOption func(*PaymentResult)

// WithDescription labels the attempt's transaction record with a
// human-readable purpose, such as "quarterly market report".
func WithDescription(text string) RequestOption {
	return func(r *PaymentResult) {
		r.Description = text
	}
}

// PayForResource requests url with the given method (GET when empty),
// paying if the resource demands it.
func (w *Wallet) PayForResource(ctx context.Context, method, url string, opts ...RequestOption) (*PaymentResult, error) {
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid request: %w", err)
	}
	return w.ExecutePayment(ctx, req, opts...), nil
}

// ExecutePayment issues req and, when the server answers 402, runs the
// payment flow and retries with proof attached. Resources that do not
// demand payment pass through untouched.
func (w *Wallet) ExecutePayment(ctx context.Context, req *http.Request, opts ...RequestOption) *PaymentResult {
	result := &PaymentResult{
		URL:     req.URL.String(),
		Method:  req.Method,
		Service: req.URL.Hostname(),
		start:   time.Now(),
	}
	for _, opt := range opts {
		opt(result)
	}

	rewind, err := bufferRequestBody(req)
	if err != nil {
		return w.fail(ctx, result, x402.ErrCodeUnexpectedError, fmt.Sprintf("failed to read request body: %v", err))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return w.fail(ctx, result, x402.ErrCodeUnexpectedError, fmt.Sprintf("request failed: %v", err))
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		body, readErr := readBody(resp)
		if readErr != nil {
			return w.fail(ctx, result, x402.ErrCodeUnexpectedError, fmt.Sprintf("failed to read response: %v", readErr))
		}
		// Whatever the resource answered is the answer, including
		// 4xx/5xx: no payment was demanded, so there is no payment
		// failure to report. Callers read StatusCode and Body.
		result.StatusCode = resp.StatusCode
		result.Body = body
		result.Success = true
		result.Duration = time.Since(result.start)
		w.logger.Debug("resource served without payment", "url", result.URL, "status", resp.StatusCode)
		return result
	}

	challengeBody, err := readBody(resp)
	if err != nil {
		return w.fail(ctx, result, x402.ErrCodeUnexpectedError, fmt.Sprintf("failed to read challenge: %v", err))
	}

	challenge, err := x402.ParseChallenge(challengeBody)
	if err != nil {
		return w.fail(ctx, result, x402.ErrCodeInvalidChallenge, fmt.Sprintf("invalid payment challenge: %v", err))
	}

	option, err := w.selector.Select(challenge.Accepts)
	if err != nil {
		return w.fail(ctx, result, x402.ErrCodeNoCompatibleOption, "no compatible payment option in challenge")
	}

	displayAmount, err := x402.AtomicToDecimal(option.MaxAmountRequired, networkDecimals(option.Network))
	if err != nil {
		return w.fail(ctx, result, x402.ErrCodeInvalidChallenge, fmt.Sprintf("invalid amount in challenge: %v", err))
	}

	result.Amount = displayAmount.String()
	result.Asset = option.Asset
	result.Network = option.Network
	result.Scheme = option.Scheme
	result.Recipient = option.PayTo
	if result.Description == "" {
		result.Description = option.Description
	}

	producer := w.producerFor(option.Network)
	if producer == nil {
		return w.fail(ctx, result, x402.ErrCodeNoCompatibleOption,
			fmt.Sprintf("no payment signer for network %q", option.Network))
	}
	result.Payer = producer.Payer()

	w.emit(x402.PaymentEventAttempt, result, nil)
	w.logger.Info("payment required",
		"url", result.URL, "amount", result.Amount, "asset", result.Asset,
		"network", result.Network, "recipient", result.Recipient)

	reservation, err := w.limiter.Reserve(ctx, result.Payer, displayAmount)
	if err != nil {
		if errors.Is(err, x402.ErrLimitExceeded) {
			return w.failRecorded(ctx, result, x402.ErrCodeLimitExceeded, err.Error())
		}
		return w.failRecorded(ctx, result, x402.ErrCodeUnexpectedError,
			fmt.Sprintf("spending guard unavailable: %v", err))
	}

	if insufficient, balErr := w.balanceShort(ctx, option.Network, result.Payer, displayAmount); balErr != nil {
		w.logger.Warn("balance check unavailable", "network", option.Network, "error", balErr)
	} else if insufficient != "" {
		w.release(ctx, reservation)
		return w.failRecorded(ctx, result, x402.ErrCodeInsufficientBalance, insufficient)
	}

	w.auditor.Action(ctx, audit.KindPaymentApproved, map[string]any{
		"resource":  result.URL,
		"amount":    result.Amount,
		"asset":     result.Asset,
		"network":   result.Network,
		"payer":     result.Payer,
		"recipient": result.Recipient,
	})

	proof, err := producer.ProduceProof(ctx, option)
	if err != nil {
		w.release(ctx, reservation)
		code, message := classifyProofError(err)
		return w.failRecorded(ctx, result, code, message)
	}
	result.SettlementID = proof.SettlementID

	// Settle-first strategies spend before the merchant answers;
	// track the in-flight funds as a pending record.
	var pendingID string
	if proof.FundsMoved {
		w.auditor.Action(ctx, audit.KindPaymentExecuted, map[string]any{
			"resource":      result.URL,
			"amount":        result.Amount,
			"network":       result.Network,
			"settlement_id": proof.SettlementID,
		})
		record := w.newRecord(result, history.StatusPending)
		record.SettlementID = proof.SettlementID
		w.appendRecord(ctx, record)
		pendingID = record.ID
		result.RecordID = record.ID
	}

	retry := req.Clone(ctx)
	retry.Body = rewind()
	retry.Header.Set(x402.PaymentHeader, proof.Header)
	w.attachAttestation(ctx, retry, result)

	resp2, err := w.httpClient.Do(retry)
	if err != nil {
		return w.proofSendFailure(ctx, result, proof, pendingID, err)
	}

	retryBody, err := readBody(resp2)
	if err != nil {
		return w.proofSendFailure(ctx, result, proof, pendingID, err)
	}

	result.StatusCode = resp2.StatusCode
	result.Body = retryBody

	if resp2.StatusCode >= 200 && resp2.StatusCode < 300 {
		result.Success = true
		result.Paid = true
		result.Settlement = x402.ParseSettlement(resp2.Header.Get(x402.SettlementHeader))
		if result.Settlement != nil && result.Settlement.Transaction != "" {
			result.SettlementID = result.Settlement.Transaction
		}

		if proof.FundsMoved {
			w.finalizeRecord(ctx, pendingID, history.StatusCompleted, result.SettlementID)
		} else {
			w.auditor.Action(ctx, audit.KindPaymentExecuted, map[string]any{
				"resource":      result.URL,
				"amount":        result.Amount,
				"network":       result.Network,
				"settlement_id": result.SettlementID,
			})
			record := w.newRecord(result, history.StatusCompleted)
			record.SettlementID = result.SettlementID
			w.appendRecord(ctx, record)
			result.RecordID = record.ID
		}

		result.Duration = time.Since(result.start)
		w.emit(x402.PaymentEventSuccess, result, nil)
		w.logger.Info("payment accepted",
			"url", result.URL, "amount", result.Amount, "network", result.Network,
			"status", resp2.StatusCode, "settlement_id", result.SettlementID)
		return result
	}

	// The merchant rejected the proof.
	message := rejectionMessage(resp2.StatusCode, retryBody)
	if proof.FundsMoved {
		// Funds are gone regardless of the verdict; the record and
		// the budget claim both stand.
		result.Paid = true
		w.finalizeRecord(ctx, pendingID, history.StatusFailed, "")
		return w.fail(ctx, result, x402.ErrCodeMerchantRejected, message)
	}
	w.release(ctx, reservation)
	return w.failRecorded(ctx, result, x402.ErrCodeMerchantRejected, message)
}

// balanceShort checks the payer's balance on networks with a ledger
// client. It returns a non-empty message when the balance cannot
// cover the amount, and an error when the check itself failed.
func (w *Wallet) balanceShort(ctx context.Context, network, payer string, amount decimal.Decimal) (string, error) {
	client, ok := w.ledgers[network]
	if !ok {
		return "", nil
	}
	bal, err := client.Balance(ctx, payer)
	if err != nil {
		return "", err
	}
	available := decimal.NewFromBigInt(bal.Amount, -bal.Decimals)
	if available.LessThan(amount) {
		return fmt.Sprintf("balance %s is below required %s", available, amount), nil
	}
	return "", nil
}

// attachAttestation signs the retry request when an attestation
// identity is configured. Attestation is best-effort: every outcome
// is audited and none of them stops the payment.
func (w *Wallet) attachAttestation(ctx context.Context, req *http.Request, result *PaymentResult) {
	if w.attestor == nil {
		w.auditor.Action(ctx, audit.KindAttestationSkipped, map[string]any{
			"resource": result.URL,
			"reason":   "not configured",
		})
		return
	}
	switch err := w.attestor.Sign(ctx, req); {
	case err == nil:
		w.auditor.Action(ctx, audit.KindAttestationIncluded, map[string]any{
			"resource": result.URL,
		})
	case errors.Is(err, attest.ErrUnavailable):
		w.auditor.Action(ctx, audit.KindAttestationSkipped, map[string]any{
			"resource": result.URL,
			"reason":   "credentials unavailable",
		})
	default:
		w.auditor.Action(ctx, audit.KindAttestationSkipped, map[string]any{
			"resource": result.URL,
			"reason":   err.Error(),
		})
		w.logger.Warn("attestation failed", "url", result.URL, "error", err)
	}
}

// proofSendFailure handles a retry request that never produced a
// verdict. For settle-first proofs the funds are already gone, so the
// record is finalized as interrupted (cancellation) or failed.
func (w *Wallet) proofSendFailure(ctx context.Context, result *PaymentResult, proof *x402.Proof, pendingID string, cause error) *PaymentResult {
	if proof.FundsMoved {
		result.Paid = true
		if ctx.Err() != nil {
			bg := context.WithoutCancel(ctx)
			w.auditor.Action(bg, audit.KindPaymentInterrupted, map[string]any{
				"resource":      result.URL,
				"settlement_id": proof.SettlementID,
				"reason":        ctx.Err().Error(),
			})
			w.finalizeRecord(bg, pendingID, history.StatusInterrupted, "")
			return w.fail(bg, result, x402.ErrCodeUnexpectedError,
				fmt.Sprintf("payment interrupted after funds moved: %v", cause))
		}
		w.finalizeRecord(ctx, pendingID, history.StatusFailed, "")
		return w.fail(ctx, result, x402.ErrCodeUnexpectedError,
			fmt.Sprintf("merchant unreachable after settlement: %v", cause))
	}
	// The signed authorization may have reached the merchant, so the
	// budget claim stays until the day rolls over.
	return w.failRecorded(ctx, result, x402.ErrCodeUnexpectedError,
		fmt.Sprintf("payment request failed: %v", cause))
}

// fail finishes the result as a failure: audit entry, event, log.
func (w *Wallet) fail(ctx context.Context, result *PaymentResult, code x402.ErrorCode, message string) *PaymentResult {
	result.Success = false
	result.ErrorCode = code
	result.ErrorMessage = message
	result.Duration = time.Since(result.start)

	kind := audit.KindPaymentFailed
	if code == x402.ErrCodeUnexpectedError {
		kind = audit.KindPaymentError
	}
	w.auditor.Action(ctx, kind, map[string]any{
		"resource": result.URL,
		"code":     string(code),
		"reason":   message,
	})
	w.emit(x402.PaymentEventFailure, result, errors.New(message))
	w.logger.Warn("payment failed", "url", result.URL, "code", string(code), "reason", message)
	return result
}

// failRecorded is fail plus a failed history record; used once an
// option was selected, so the record has amount and recipient.
func (w *Wallet) failRecorded(ctx context.Context, result *PaymentResult, code x402.ErrorCode, message string) *PaymentResult {
	record := w.newRecord(result, history.StatusFailed)
	record.Error = message
	w.appendRecord(ctx, record)
	result.RecordID = record.ID
	return w.fail(ctx, result, code, message)
}

func (w *Wallet) newRecord(result *PaymentResult, status history.Status) *history.TransactionRecord {
	return &history.TransactionRecord{
		Resource:    result.URL,
		Service:     result.Service,
		Description: result.Description,
		Amount:      result.Amount,
		Asset:       result.Asset,
		Network:     result.Network,
		Payer:       result.Payer,
		Recipient:   result.Recipient,
		Status:      status,
	}
}

func (w *Wallet) release(ctx context.Context, reservation *guard.Reservation) {
	if err := reservation.Release(ctx); err != nil {
		w.logger.Warn("failed to release reservation", "error", err)
	}
}

func (w *Wallet) emit(eventType x402.PaymentEventType, result *PaymentResult, cause error) {
	if w.callback == nil {
		return
	}
	w.callback(x402.PaymentEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		URL:         result.URL,
		Method:      result.Method,
		Service:     result.Service,
		Amount:      result.Amount,
		Asset:       result.Asset,
		Network:     result.Network,
		Scheme:      result.Scheme,
		Recipient:   result.Recipient,
		Payer:       result.Payer,
		Transaction: result.SettlementID,
		Error:       cause,
		Duration:    result.Duration,
	})
}

// classifyProofError maps a strategy failure to the result taxonomy.
func classifyProofError(err error) (x402.ErrorCode, string) {
	switch {
	case errors.Is(err, x402.ErrInsufficientBalance):
		return x402.ErrCodeInsufficientBalance, err.Error()
	case errors.Is(err, x402.ErrTransferFailed):
		return x402.ErrCodeTransferFailed, err.Error()
	case errors.Is(err, x402.ErrInvalidAmount):
		return x402.ErrCodeInvalidChallenge, err.Error()
	case errors.Is(err, x402.ErrInvalidNetwork), errors.Is(err, x402.ErrUnsupportedScheme):
		return x402.ErrCodeNoCompatibleOption, err.Error()
	case errors.Is(err, x402.ErrSignatureFailed), errors.Is(err, x402.ErrInvalidKey):
		return x402.ErrCodeSignatureFailed, err.Error()
	default:
		return x402.ErrCodeUnexpectedError, fmt.Sprintf("payment proof failed: %v", err)
	}
}

// rejectionMessage extracts the most specific reason from a merchant
// rejection: the body's error field, then its message field, then a
// generic status line.
func rejectionMessage(status int, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fmt.Sprintf("merchant rejected payment with status %d", status)
}

// bufferRequestBody drains req.Body into memory and returns a factory
// for fresh readers, so the request can be replayed with proof.
func bufferRequestBody(req *http.Request) (func() io.ReadCloser, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return func() io.ReadCloser { return nil }, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	factory := func() io.ReadCloser { return io.NopCloser(bytes.NewReader(data)) }
	req.Body = factory()
	req.ContentLength = int64(len(data))
	req.GetBody = func() (io.ReadCloser, error) { return factory(), nil }
	return factory, nil
}

// readBody drains and closes a response body, bounded by maxBodyBytes.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
