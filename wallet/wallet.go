// Package wallet is the agent-facing payment orchestrator. It owns
// the full x402 flow: probe the resource, parse the 402 challenge,
// select an option, enforce spending policy, produce the payment
// proof, attach the agent attestation, retry, and reconcile the
// merchant's verdict, recording every attempt on the way. Callers
// get a PaymentResult, never a raw error, so an agent loop cannot
// crash on a failed payment.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mark3labs/agentwallet-go/attest"
	"github.com/mark3labs/agentwallet-go/audit"
	"github.com/mark3labs/agentwallet-go/guard"
	"github.com/mark3labs/agentwallet-go/history"
	"github.com/mark3labs/agentwallet-go/ledger"
	"github.com/mark3labs/agentwallet-go/x402"
)

const defaultRequestTimeout = 60 * time.Second

// Wallet executes x402 payments on behalf of an agent.
type Wallet struct {
	httpClient      *http.Client
	defaultProducer x402.ProofProducer
	producers       map[string]x402.ProofProducer
	ledgers         map[string]ledger.Client
	selector        x402.OptionSelector
	limiter         *guard.Limiter
	store           history.Store
	auditor         audit.Logger
	attestor        *attest.Signer
	callback        x402.PaymentCallback
	logger          *slog.Logger
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(client *http.Client) Option {
	return func(w *Wallet) {
		if client != nil {
			w.httpClient = client
		}
	}
}

// WithSigner sets the default payment strategy used when no
// network-specific one is registered.
func WithSigner(producer x402.ProofProducer) Option {
	return func(w *Wallet) {
		w.defaultProducer = producer
	}
}

// WithNetworkSigner routes payments on one network to a dedicated
// strategy, overriding the default.
func WithNetworkSigner(network string, producer x402.ProofProducer) Option {
	return func(w *Wallet) {
		w.producers[network] = producer
	}
}

// WithLedger registers the balance/transfer client for a network,
// enabling pre-payment balance checks and direct transfers on it.
func WithLedger(network string, client ledger.Client) Option {
	return func(w *Wallet) {
		w.ledgers[network] = client
	}
}

// WithSelector overrides how a payment option is chosen from a
// challenge.
func WithSelector(selector x402.OptionSelector) Option {
	return func(w *Wallet) {
		if selector != nil {
			w.selector = selector
		}
	}
}

// WithLimiter sets the spending guard. Wallets without one spend
// without caps.
func WithLimiter(limiter *guard.Limiter) Option {
	return func(w *Wallet) {
		if limiter != nil {
			w.limiter = limiter
		}
	}
}

// WithHistory sets the transaction history store.
func WithHistory(store history.Store) Option {
	return func(w *Wallet) {
		if store != nil {
			w.store = store
		}
	}
}

// WithAudit sets the audit logger.
func WithAudit(logger audit.Logger) Option {
	return func(w *Wallet) {
		if logger != nil {
			w.auditor = logger
		}
	}
}

// WithAttestor enables request attestation.
func WithAttestor(signer *attest.Signer) Option {
	return func(w *Wallet) {
		w.attestor = signer
	}
}

// WithCallback registers a payment event callback.
func WithCallback(callback x402.PaymentCallback) Option {
	return func(w *Wallet) {
		w.callback = callback
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Wallet) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWallet creates a wallet. At least one payment strategy (default
// or per-network) is required.
func NewWallet(opts ...Option) (*Wallet, error) {
	w := &Wallet{
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		producers:  make(map[string]x402.ProofProducer),
		ledgers:    make(map[string]ledger.Client),
		selector:   &x402.DefaultSelector{PrimaryNetwork: x402.DefaultNetwork},
		limiter:    guard.NewLimiter(nil),
		store:      history.NewMemoryStore(),
		auditor:    audit.Nop{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.defaultProducer == nil && len(w.producers) == 0 {
		return nil, fmt.Errorf("wallet: at least one payment signer is required")
	}
	return w, nil
}

// producerFor returns the payment strategy for a network, or nil when
// the wallet cannot pay on it.
func (w *Wallet) producerFor(network string) x402.ProofProducer {
	if producer, ok := w.producers[network]; ok {
		return producer
	}
	return w.defaultProducer
}

// payerFor returns the paying address used on a network.
func (w *Wallet) payerFor(network string) string {
	if producer := w.producerFor(network); producer != nil {
		return producer.Payer()
	}
	return ""
}

// Limiter exposes the spending guard, e.g. for limit inspection tools.
func (w *Wallet) Limiter() *guard.Limiter {
	return w.limiter
}

// Payer returns the wallet's paying identity on a network, or "" when
// the wallet cannot pay there.
func (w *Wallet) Payer(network string) string {
	return w.payerFor(network)
}

// History exposes the transaction store.
func (w *Wallet) History() history.Store {
	return w.store
}

// Balance returns the wallet's token balance on a network. The
// network must have a registered ledger client.
func (w *Wallet) Balance(ctx context.Context, network string) (ledger.Balance, error) {
	client, ok := w.ledgers[network]
	if !ok {
		return ledger.Balance{}, fmt.Errorf("%w: no ledger registered for %q", x402.ErrInvalidNetwork, network)
	}
	payer := w.payerFor(network)
	if payer == "" {
		return ledger.Balance{}, fmt.Errorf("%w: no payer identity for %q", x402.ErrInvalidNetwork, network)
	}
	return client.Balance(ctx, payer)
}

// Transfer moves funds directly, outside any payment challenge. The
// amount is in display units. Transfers count against the spending
// caps like payments do.
func (w *Wallet) Transfer(ctx context.Context, network, to string, amount decimal.Decimal, opts ...RequestOption) (*ledger.TransferResult, error) {
	client, ok := w.ledgers[network]
	if !ok {
		return nil, fmt.Errorf("%w: no ledger registered for %q", x402.ErrInvalidNetwork, network)
	}

	var labels PaymentResult
	for _, opt := range opts {
		opt(&labels)
	}

	atomic, err := x402.DecimalToAtomic(amount, networkDecimals(network))
	if err != nil {
		return nil, err
	}

	payer := w.payerFor(network)
	reservation, err := w.limiter.Reserve(ctx, payer, amount)
	if err != nil {
		w.auditor.Action(ctx, audit.KindPaymentFailed, map[string]any{
			"operation": "transfer",
			"network":   network,
			"recipient": to,
			"amount":    amount.String(),
			"reason":    err.Error(),
		})
		return nil, err
	}

	record := &history.TransactionRecord{
		Resource:    "wallet:transfer",
		Description: labels.Description,
		Amount:      amount.String(),
		Network:     network,
		Payer:       payer,
		Recipient:   to,
	}

	result, err := client.Transfer(ctx, to, atomic)
	if err != nil {
		if releaseErr := reservation.Release(ctx); releaseErr != nil {
			w.logger.Warn("failed to release reservation", "error", releaseErr)
		}
		record.Status = history.StatusFailed
		record.Error = err.Error()
		w.appendRecord(ctx, record)
		w.auditor.Action(ctx, audit.KindPaymentFailed, map[string]any{
			"operation": "transfer",
			"network":   network,
			"recipient": to,
			"amount":    amount.String(),
			"reason":    err.Error(),
		})
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: %v", x402.ErrInsufficientBalance, err)
		}
		return nil, fmt.Errorf("%w: %v", x402.ErrTransferFailed, err)
	}

	record.Status = history.StatusCompleted
	record.SettlementID = result.TxID
	w.appendRecord(ctx, record)
	w.auditor.Action(ctx, audit.KindPaymentExecuted, map[string]any{
		"operation":     "transfer",
		"network":       network,
		"recipient":     to,
		"amount":        amount.String(),
		"settlement_id": result.TxID,
	})
	w.logger.Info("transfer completed",
		"network", network, "recipient", to, "amount", amount.String(), "tx_id", result.TxID)

	return &result, nil
}

// appendRecord saves a history record, logging instead of failing
// when the store is unavailable.
func (w *Wallet) appendRecord(ctx context.Context, record *history.TransactionRecord) {
	if err := w.store.Append(ctx, record); err != nil {
		w.logger.Warn("failed to record transaction", "resource", record.Resource, "error", err)
	}
}

// finalizeRecord updates a pending record, logging on failure.
func (w *Wallet) finalizeRecord(ctx context.Context, id string, status history.Status, settlementID string) {
	if id == "" {
		return
	}
	if err := w.store.Finalize(ctx, id, status, settlementID); err != nil {
		w.logger.Warn("failed to finalize transaction", "id", id, "error", err)
	}
}

// networkDecimals returns the display decimals for a network's asset,
// defaulting to USDC's six when the network is not in the registry.
func networkDecimals(network string) int32 {
	if chain, err := x402.GetChainConfig(network); err == nil {
		return chain.Decimals
	}
	return 6
}
