package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ap2-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository uses; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TransactionRepo is the processor's write-once transaction log.
type TransactionRepo struct {
	db DB
}

// NewTransactionRepo creates a repository over db.
func NewTransactionRepo(db DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

const txColumns = `id, payment_mandate_id, cart_mandate_id, payer_id, merchant_id,
	currency, amount, transaction_type, status, network_transaction_id,
	authorization_code, risk_score, failure_reason, receipt_url,
	original_transaction_id, created_at`

// Create inserts a transaction. Records are immutable after insert.
func (r *TransactionRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		tx.ID, tx.PaymentMandateID, tx.CartMandateID, tx.PayerID, tx.MerchantID,
		tx.Amount.Currency, tx.Amount.Value, tx.TransactionType, tx.Status,
		tx.NetworkTransactionID, tx.AuthorizationCode, tx.RiskScore,
		tx.FailureReason, tx.ReceiptURL, tx.OriginalTransactionID, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction; nil when absent.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetByPaymentMandateID fetches the capture recorded for a mandate.
func (r *TransactionRepo) GetByPaymentMandateID(ctx context.Context, mandateID string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE payment_mandate_id = $1 AND transaction_type = $2
		ORDER BY created_at LIMIT 1`,
		mandateID, domain.TransactionTypeCapture)
	return scanTransaction(row)
}

// ListByPayerSince returns a payer's transactions at or after since,
// feeding the risk engine's velocity window.
func (r *TransactionRepo) ListByPayerSince(ctx context.Context, payerID string, since time.Time) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE payer_id = $1 AND created_at >= $2
		ORDER BY created_at DESC`,
		payerID, since)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// RefundTotal sums the refunds linked to an original transaction.
func (r *TransactionRepo) RefundTotal(ctx context.Context, originalID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE original_transaction_id = $1 AND transaction_type = $2 AND status = $3`,
		originalID, domain.TransactionTypeRefund, domain.TransactionStatusRefunded,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing refunds: %w", err)
	}
	return total, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	tx, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return tx, nil
}

func scanTransactionRow(row scannable) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.PaymentMandateID, &tx.CartMandateID, &tx.PayerID, &tx.MerchantID,
		&tx.Amount.Currency, &tx.Amount.Value, &tx.TransactionType, &tx.Status,
		&tx.NetworkTransactionID, &tx.AuthorizationCode, &tx.RiskScore,
		&tx.FailureReason, &tx.ReceiptURL, &tx.OriginalTransactionID, &tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	return &tx, nil
}
