// Package guard enforces the wallet's spending policy: a
// per-transaction cap and a rolling per-day budget shared by all
// payments from one payer. Daily usage lives in a CounterStore so
// multiple wallet processes can share one budget.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mark3labs/agentwallet-go/x402"
)

// counterScale is the decimal shift applied before counting: budgets
// are tracked in millionths of a display unit.
const counterScale = 6

// Limiter checks payment amounts against the configured caps. Amounts
// are display units (e.g. "0.50" for half a USDC).
type Limiter struct {
	store  CounterStore
	perTx  decimal.Decimal
	daily  decimal.Decimal
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithPerTransactionLimit caps single payments. Zero means no cap.
func WithPerTransactionLimit(limit decimal.Decimal) Option {
	return func(l *Limiter) {
		if limit.IsPositive() {
			l.perTx = limit
		}
	}
}

// WithDailyLimit caps the total spent per payer per UTC day. Zero
// means no cap.
func WithDailyLimit(limit decimal.Decimal) Option {
	return func(l *Limiter) {
		if limit.IsPositive() {
			l.daily = limit
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLimiter creates a Limiter backed by the given counter store. A
// nil store falls back to an in-process one.
func NewLimiter(store CounterStore, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limits returns the configured caps. Zero values mean no cap.
func (l *Limiter) Limits() (perTx, daily decimal.Decimal) {
	return l.perTx, l.daily
}

// SpentToday reports how much of today's budget the payer has used.
func (l *Limiter) SpentToday(ctx context.Context, payer string) (decimal.Decimal, error) {
	total, err := l.store.Add(ctx, l.dayKey(payer), 0)
	if err != nil {
		return decimal.Zero, fmt.Errorf("guard: failed to read counter: %w", err)
	}
	return decimal.New(total, -counterScale), nil
}

// Reserve checks amount against both caps and, when a daily cap is
// set, atomically claims the amount from today's budget. A claim that
// pushes the day over its cap is rolled back before returning
// x402.ErrLimitExceeded. Callers must Release the reservation if the
// payment does not go through.
func (l *Limiter) Reserve(ctx context.Context, payer string, amount decimal.Decimal) (*Reservation, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", x402.ErrInvalidAmount, amount)
	}

	delta, err := toCounterUnits(amount)
	if err != nil {
		return nil, err
	}

	if l.perTx.IsPositive() && amount.GreaterThan(l.perTx) {
		return nil, fmt.Errorf("%w: amount %s exceeds per-transaction limit %s",
			x402.ErrLimitExceeded, amount, l.perTx)
	}

	if !l.daily.IsPositive() {
		return &Reservation{}, nil
	}

	budget, err := toCounterUnits(l.daily)
	if err != nil {
		return nil, err
	}

	key := l.dayKey(payer)
	total, err := l.store.Add(ctx, key, delta)
	if err != nil {
		return nil, fmt.Errorf("guard: failed to update counter: %w", err)
	}

	if total > budget {
		if _, rollbackErr := l.store.Add(ctx, key, -delta); rollbackErr != nil {
			l.logger.Warn("failed to roll back over-cap reservation",
				"key", key, "delta", delta, "error", rollbackErr)
		}
		spent := decimal.New(total-delta, -counterScale)
		return nil, fmt.Errorf("%w: %s spent today plus %s exceeds daily limit %s",
			x402.ErrLimitExceeded, spent, amount, l.daily)
	}

	return &Reservation{store: l.store, key: key, delta: delta}, nil
}

// dayKey is the counter key for the payer's current UTC day.
func (l *Limiter) dayKey(payer string) string {
	return fmt.Sprintf("spend:%s:%s", payer, l.now().UTC().Format("2006-01-02"))
}

// toCounterUnits converts a display amount to counter units, rejecting
// precision the counter cannot represent.
func toCounterUnits(amount decimal.Decimal) (int64, error) {
	scaled := amount.Shift(counterScale)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s has more than %d decimal places",
			x402.ErrInvalidAmount, amount, counterScale)
	}
	return scaled.IntPart(), nil
}

// Reservation is a claimed slice of the daily budget. Releasing it
// returns the claim; reservations for uncapped limiters release as a
// no-op. Release is idempotent.
type Reservation struct {
	store    CounterStore
	key      string
	delta    int64
	mu       sync.Mutex
	released bool
}

// Release returns the reserved amount to the budget.
func (r *Reservation) Release(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released || r.store == nil {
		return nil
	}
	r.released = true
	if _, err := r.store.Add(ctx, r.key, -r.delta); err != nil {
		return fmt.Errorf("guard: failed to release reservation: %w", err)
	}
	return nil
}
