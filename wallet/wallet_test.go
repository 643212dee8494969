package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/mark3labs/agentwallet-go/audit"
	"github.com/mark3labs/agentwallet-go/guard"
	"github.com/mark3labs/agentwallet-go/history"
	"github.com/mark3labs/agentwallet-go/ledger"
	"github.com/mark3labs/agentwallet-go/signers/onchain"
	"github.com/mark3labs/agentwallet-go/x402"
)

func TestNewWalletRequiresSigner(t *testing.T) {
	if _, err := NewWallet(); err == nil {
		t.Error("NewWallet() with no signer succeeded; want error")
	}

	signer, err := onchain.NewSigner(testAddress)
	if err != nil {
		t.Fatalf("onchain.NewSigner() error = %v", err)
	}
	if _, err := NewWallet(WithNetworkSigner("canton", signer)); err != nil {
		t.Errorf("NewWallet() with a network signer error = %v; want nil", err)
	}
}

func newLedgerWallet(t *testing.T, balance int64, opts ...Option) (*Wallet, *ledger.Mock) {
	t.Helper()
	mock := ledger.NewMock(big.NewInt(balance), 6)
	signer, err := onchain.NewSigner(testAddress, onchain.WithLedger("canton", mock))
	if err != nil {
		t.Fatalf("onchain.NewSigner() error = %v", err)
	}
	opts = append([]Option{
		WithSigner(signer),
		WithLedger("canton", mock),
	}, opts...)
	w, err := NewWallet(opts...)
	if err != nil {
		t.Fatalf("NewWallet() error = %v", err)
	}
	return w, mock
}

func TestBalance(t *testing.T) {
	w, _ := newLedgerWallet(t, 2_500_000)

	bal, err := w.Balance(context.Background(), "canton")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if bal.Amount.Cmp(big.NewInt(2_500_000)) != 0 {
		t.Errorf("Balance().Amount = %s; want 2500000", bal.Amount)
	}
	if bal.Decimals != 6 {
		t.Errorf("Balance().Decimals = %d; want 6", bal.Decimals)
	}

	if _, err := w.Balance(context.Background(), "base"); !errors.Is(err, x402.ErrInvalidNetwork) {
		t.Errorf("Balance(unregistered) error = %v; want ErrInvalidNetwork", err)
	}
}

func TestTransfer(t *testing.T) {
	recorder := &audit.Recorder{}
	limiter := guard.NewLimiter(nil, dailyLimit(t, "10.00"))
	w, mock := newLedgerWallet(t, 2_000_000, WithAudit(recorder), WithLimiter(limiter))

	result, err := w.Transfer(context.Background(), "canton", "merchant::1220abc", decimalFrom(t, "1.25"),
		WithDescription("api credit top-up"))
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if result.TxID != ledger.MockTxHash {
		t.Errorf("TxID = %q; want the mock hash", result.TxID)
	}

	transfers := mock.Transfers()
	if len(transfers) != 1 {
		t.Fatalf("ledger transfers = %d; want 1", len(transfers))
	}
	if transfers[0].Amount.Cmp(big.NewInt(1_250_000)) != 0 {
		t.Errorf("transfer amount = %s; want 1250000 atomic units", transfers[0].Amount)
	}
	if transfers[0].To != "merchant::1220abc" {
		t.Errorf("transfer recipient = %q; want merchant::1220abc", transfers[0].To)
	}

	spent, err := limiter.SpentToday(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("SpentToday() error = %v", err)
	}
	if !spent.Equal(decimalFrom(t, "1.25")) {
		t.Errorf("SpentToday() = %s; want 1.25", spent)
	}

	records, _ := w.History().List(context.Background(), 0)
	if len(records) != 1 {
		t.Fatalf("history has %d records; want 1", len(records))
	}
	if records[0].Status != history.StatusCompleted || records[0].SettlementID != ledger.MockTxHash {
		t.Errorf("record = %+v; want completed with the mock hash", records[0])
	}
	if records[0].Resource != "wallet:transfer" {
		t.Errorf("record resource = %q; want wallet:transfer", records[0].Resource)
	}

	if !containsString(recorder.Kinds(), audit.KindPaymentExecuted) {
		t.Errorf("audit kinds = %v; want payment_executed", recorder.Kinds())
	}
}

func TestTransferUnregisteredNetwork(t *testing.T) {
	w, _ := newLedgerWallet(t, 1_000_000)

	_, err := w.Transfer(context.Background(), "base", testPayTo, decimalFrom(t, "0.10"))
	if !errors.Is(err, x402.ErrInvalidNetwork) {
		t.Errorf("Transfer(unregistered) error = %v; want ErrInvalidNetwork", err)
	}
}

func TestTransferLimitExceeded(t *testing.T) {
	limiter := guard.NewLimiter(nil, perTxLimit(t, "1.00"))
	w, mock := newLedgerWallet(t, 10_000_000, WithLimiter(limiter))

	_, err := w.Transfer(context.Background(), "canton", testPayTo, decimalFrom(t, "2.00"))
	if !errors.Is(err, x402.ErrLimitExceeded) {
		t.Fatalf("Transfer() error = %v; want ErrLimitExceeded", err)
	}
	if len(mock.Transfers()) != 0 {
		t.Errorf("ledger transfers = %d; want 0", len(mock.Transfers()))
	}

	records, _ := w.History().List(context.Background(), 0)
	if len(records) != 0 {
		t.Errorf("history has %d records; want 0 for a pre-flight rejection", len(records))
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	limiter := guard.NewLimiter(nil, dailyLimit(t, "10.00"))
	w, mock := newLedgerWallet(t, 100_000, WithLimiter(limiter)) // 0.10 available

	_, err := w.Transfer(context.Background(), "canton", testPayTo, decimalFrom(t, "0.50"))
	if !errors.Is(err, x402.ErrInsufficientBalance) {
		t.Fatalf("Transfer() error = %v; want ErrInsufficientBalance", err)
	}
	if len(mock.Transfers()) != 0 {
		t.Errorf("ledger transfers = %d; want 0", len(mock.Transfers()))
	}

	// The failed attempt released its budget claim.
	spent, err := limiter.SpentToday(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("SpentToday() error = %v", err)
	}
	if !spent.IsZero() {
		t.Errorf("SpentToday() = %s; want 0 after rollback", spent)
	}

	records, _ := w.History().List(context.Background(), 0)
	if len(records) != 1 || records[0].Status != history.StatusFailed {
		t.Errorf("history = %+v; want one failed record", records)
	}
}

func TestTransferLedgerFailure(t *testing.T) {
	w, mock := newLedgerWallet(t, 10_000_000)
	mock.FailNextTransfer(errors.New("node unreachable"))

	_, err := w.Transfer(context.Background(), "canton", testPayTo, decimalFrom(t, "0.50"))
	if !errors.Is(err, x402.ErrTransferFailed) {
		t.Errorf("Transfer() error = %v; want ErrTransferFailed", err)
	}
}
