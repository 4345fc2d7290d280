package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ap2-payments/internal/core/domain"

	"github.com/google/uuid"
)

// TransactionRepo is a process-local write-once transaction log, used when
// no database is configured and in tests.
type TransactionRepo struct {
	mu  sync.Mutex
	txs []domain.Transaction
}

// NewTransactionRepo creates an empty log.
func NewTransactionRepo() *TransactionRepo {
	return &TransactionRepo{}
}

// Create appends a transaction. Duplicate ids are rejected.
func (r *TransactionRepo) Create(_ context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.txs {
		if existing.ID == tx.ID {
			return fmt.Errorf("transaction %s already recorded", tx.ID)
		}
	}
	r.txs = append(r.txs, *tx)
	return nil
}

// GetByID returns a transaction; nil when absent.
func (r *TransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.ID == id {
			out := tx
			return &out, nil
		}
	}
	return nil, nil
}

// GetByPaymentMandateID returns the capture for a mandate; nil when absent.
func (r *TransactionRepo) GetByPaymentMandateID(_ context.Context, mandateID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.PaymentMandateID == mandateID && tx.TransactionType == domain.TransactionTypeCapture {
			out := tx
			return &out, nil
		}
	}
	return nil, nil
}

// ListByPayerSince returns a payer's transactions at or after since.
func (r *TransactionRepo) ListByPayerSince(_ context.Context, payerID string, since time.Time) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.txs {
		if tx.PayerID == payerID && !tx.CreatedAt.Before(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// RefundTotal sums successful refunds linked to the original transaction.
func (r *TransactionRepo) RefundTotal(_ context.Context, originalID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, tx := range r.txs {
		if tx.OriginalTransactionID != nil && *tx.OriginalTransactionID == originalID &&
			tx.TransactionType == domain.TransactionTypeRefund &&
			tx.Status == domain.TransactionStatusRefunded {
			total += tx.Amount.Value
		}
	}
	return total, nil
}
