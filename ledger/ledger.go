// Package ledger defines the wallet's view of a token ledger: balance
// queries and transfers in smallest units. The EVM implementation
// lives in ledger/evm. The permissioned ledger is consumed through
// this interface only; its UTXO-style holdings and two-step,
// acceptance-based transfer flow stay behind the deployment's client.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// Sentinel errors shared by ledger implementations.
var (
	// ErrInsufficientFunds indicates the payer cannot cover the transfer.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrTransferReverted indicates the ledger rejected or reverted the
	// transfer after submission.
	ErrTransferReverted = errors.New("ledger: transfer reverted")
)

// Balance is a token balance in smallest units.
type Balance struct {
	// Amount is the balance in the asset's smallest units.
	Amount *big.Int

	// Decimals is the asset's decimal count for display conversion.
	Decimals int32
}

// TransferResult reports a submitted transfer.
type TransferResult struct {
	// TxID is the ledger's transaction identifier.
	TxID string

	// Confirmed reports whether the transfer reached finality before
	// returning. Permissioned-ledger transfers may report false while
	// awaiting recipient acceptance.
	Confirmed bool
}

// Client is the balance/transfer collaborator contract.
type Client interface {
	// Balance returns the token balance of the given address.
	Balance(ctx context.Context, address string) (Balance, error)

	// Transfer moves amount (smallest units) to the recipient and
	// returns the ledger's transaction id.
	Transfer(ctx context.Context, to string, amount *big.Int) (TransferResult, error)
}

// MockTxHash is the transaction id every mock transfer reports.
const MockTxHash = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// Mock is an in-memory Client for tests and dry-run deployments. It
// starts from a fixed balance, records transfers, and reports the
// fixed MockTxHash for each.
type Mock struct {
	mu        sync.Mutex
	balance   *big.Int
	decimals  int32
	transfers []MockTransfer
	failWith  error
}

// MockTransfer is one recorded call to Transfer.
type MockTransfer struct {
	To     string
	Amount *big.Int
}

// NewMock creates a mock ledger holding the given smallest-unit balance.
func NewMock(balance *big.Int, decimals int32) *Mock {
	return &Mock{
		balance:  new(big.Int).Set(balance),
		decimals: decimals,
	}
}

// Balance implements Client.
func (m *Mock) Balance(_ context.Context, _ string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Balance{Amount: new(big.Int).Set(m.balance), Decimals: m.decimals}, nil
}

// Transfer implements Client. The balance decreases with each
// successful transfer so sequenced spends behave like a real ledger.
func (m *Mock) Transfer(_ context.Context, to string, amount *big.Int) (TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		err := m.failWith
		m.failWith = nil
		return TransferResult{}, err
	}

	if m.balance.Cmp(amount) < 0 {
		return TransferResult{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, m.balance, amount)
	}

	m.balance.Sub(m.balance, amount)
	m.transfers = append(m.transfers, MockTransfer{To: to, Amount: new(big.Int).Set(amount)})
	return TransferResult{TxID: MockTxHash, Confirmed: true}, nil
}

// Transfers returns a copy of the recorded transfers.
func (m *Mock) Transfers() []MockTransfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockTransfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}

// FailNextTransfer makes the next Transfer call return err.
func (m *Mock) FailNextTransfer(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}
