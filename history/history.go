// Package history records every payment attempt the wallet makes so
// an operator can audit what an agent spent and where. Records for
// settle-first payments start as pending and are finalized once the
// merchant's response is reconciled.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a transaction record's lifecycle state.
type Status string

const (
	// StatusPending marks funds in flight awaiting reconciliation.
	StatusPending Status = "pending"
	// StatusCompleted marks a payment the merchant accepted.
	StatusCompleted Status = "completed"
	// StatusFailed marks a payment that did not go through.
	StatusFailed Status = "failed"
	// StatusInterrupted marks a settle-first payment cancelled between
	// moving funds and hearing back from the merchant.
	StatusInterrupted Status = "interrupted"
)

// DefaultListLimit bounds List calls that pass no explicit limit.
const DefaultListLimit = 50

// TransactionRecord is one payment attempt.
type TransactionRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Resource     string    `json:"resource"`
	Service      string    `json:"service,omitempty"`
	Description  string    `json:"description,omitempty"`
	Amount       string    `json:"amount"`
	Asset        string    `json:"asset,omitempty"`
	Network      string    `json:"network,omitempty"`
	Payer        string    `json:"payer,omitempty"`
	Recipient    string    `json:"recipient,omitempty"`
	Status       Status    `json:"status"`
	SettlementID string    `json:"settlementId,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Store persists transaction records.
type Store interface {
	// Append saves a new record. An empty ID or zero Timestamp is
	// filled in.
	Append(ctx context.Context, record *TransactionRecord) error

	// List returns the most recent records, newest first. A
	// non-positive limit lists DefaultListLimit records.
	List(ctx context.Context, limit int) ([]TransactionRecord, error)

	// Finalize updates a pending record's status and settlement id.
	Finalize(ctx context.Context, id string, status Status, settlementID string) error
}

// normalize fills the generated fields of a record about to be saved.
func normalize(record *TransactionRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = StatusPending
	}
}

// MemoryStore keeps records in process memory, newest last. It suits
// tests and short-lived agents that do not need durable history.
type MemoryStore struct {
	mu      sync.Mutex
	records []TransactionRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, record *TransactionRecord) error {
	normalize(record)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, limit int) ([]TransactionRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	if limit > n {
		limit = n
	}
	out := make([]TransactionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Finalize implements Store.
func (s *MemoryStore) Finalize(_ context.Context, id string, status Status, settlementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Status = status
			if settlementID != "" {
				s.records[i].SettlementID = settlementID
			}
			return nil
		}
	}
	return ErrRecordNotFound
}
