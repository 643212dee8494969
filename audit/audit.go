// Package audit emits the wallet's action trail: one entry per
// security-relevant event, fire-and-forget. Entries are advisory;
// failure to record one never affects the payment it describes.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Action kinds recorded by the wallet.
const (
	KindPaymentApproved     = "payment_approved"
	KindPaymentExecuted     = "payment_executed"
	KindPaymentFailed       = "payment_failed"
	KindPaymentError        = "payment_error"
	KindPaymentInterrupted  = "payment_interrupted"
	KindAttestationIncluded = "attestation_included"
	KindAttestationSkipped  = "attestation_skipped"
)

// Logger records wallet actions.
type Logger interface {
	Action(ctx context.Context, kind string, details map[string]any)
}

// SlogLogger writes audit entries through a structured logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger; nil uses slog.Default.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Action implements Logger. Detail keys are emitted in sorted order.
func (l *SlogLogger) Action(ctx context.Context, kind string, details map[string]any) {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2+2*len(keys))
	args = append(args, "kind", kind)
	for _, k := range keys {
		args = append(args, k, details[k])
	}
	l.logger.InfoContext(ctx, "wallet action", args...)
}

// Nop discards all entries.
type Nop struct{}

// Action implements Logger.
func (Nop) Action(context.Context, string, map[string]any) {}

// Entry is one recorded action.
type Entry struct {
	Kind    string
	Details map[string]any
}

// Recorder collects entries for assertions in tests.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Action implements Logger.
func (r *Recorder) Action(_ context.Context, kind string, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[string]any, len(details))
	for k, v := range details {
		copied[k] = v
	}
	r.entries = append(r.entries, Entry{Kind: kind, Details: copied})
}

// Entries returns a copy of the recorded actions in order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Kinds returns just the action kinds in order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.entries))
	for i, e := range r.entries {
		kinds[i] = e.Kind
	}
	return kinds
}
