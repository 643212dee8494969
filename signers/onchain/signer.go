// Package onchain implements the payment strategy for ledgers where
// the wallet settles directly: funds move first, and the payment
// header carries the resulting transaction id as proof. This is the
// path for networks without EIP-3009 support, including permissioned
// ledgers reached through their own ledger.Client.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/agentwallet-go/ledger"
	"github.com/mark3labs/agentwallet-go/x402"
)

// Signer produces on-chain payment proofs by transferring funds and
// encoding the transaction id. It implements x402.ProofProducer.
type Signer struct {
	payer   string
	clients map[string]ledger.Client
	logger  *slog.Logger
}

// Option configures a Signer.
type Option func(*Signer)

// WithLedger registers the ledger client used for a network tag.
func WithLedger(network string, client ledger.Client) Option {
	return func(s *Signer) {
		s.clients[network] = client
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Signer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSigner creates an on-chain signer paying from the given address.
// At least one ledger must be registered before producing proofs.
func NewSigner(payer string, opts ...Option) (*Signer, error) {
	if payer == "" {
		return nil, fmt.Errorf("%w: payer address is required", x402.ErrInvalidKey)
	}
	s := &Signer{
		payer:   payer,
		clients: make(map[string]ledger.Client),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Payer returns the paying account's address.
func (s *Signer) Payer() string {
	return s.payer
}

// Networks lists the network tags with a registered ledger.
func (s *Signer) Networks() []string {
	networks := make([]string, 0, len(s.clients))
	for network := range s.clients {
		networks = append(networks, network)
	}
	return networks
}

// ProduceProof transfers the required amount to the merchant and
// encodes the transaction id as the payment proof. Funds have moved
// once this returns successfully; the caller must reconcile the
// merchant's response against that fact.
func (s *Signer) ProduceProof(ctx context.Context, opt x402.PaymentOption) (*x402.Proof, error) {
	if opt.Scheme != x402.SchemeExact {
		return nil, fmt.Errorf("%w: %q", x402.ErrUnsupportedScheme, opt.Scheme)
	}

	client, ok := s.clients[opt.Network]
	if !ok {
		return nil, fmt.Errorf("%w: no ledger registered for %q", x402.ErrInvalidNetwork, opt.Network)
	}

	amount, err := x402.ParseAtomicAmount(opt.MaxAmountRequired)
	if err != nil {
		return nil, err
	}

	result, err := client.Transfer(ctx, opt.PayTo, amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: %v", x402.ErrInsufficientBalance, err)
		}
		return nil, fmt.Errorf("%w: %v", x402.ErrTransferFailed, err)
	}

	s.logger.Debug("settled payment on chain",
		"network", opt.Network,
		"tx_id", result.TxID,
		"pay_to", opt.PayTo,
		"amount", amount.String())

	header, err := x402.EncodePayment(x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      opt.Scheme,
		Network:     opt.Network,
		Payload: x402.ProofPayload{
			Transaction: result.TxID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrTransferFailed, err)
	}

	return &x402.Proof{
		Header:       header,
		SettlementID: result.TxID,
		Payer:        s.payer,
		FundsMoved:   true,
	}, nil
}
