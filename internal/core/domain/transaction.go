package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeCapture TransactionType = "CAPTURE"
	TransactionTypeRefund  TransactionType = "REFUND"
)

// TransactionStatus represents the outcome recorded for a transaction.
// Records are write-once: a refund is a new linked record, not an update.
type TransactionStatus string

const (
	TransactionStatusCaptured TransactionStatus = "captured"
	TransactionStatusFailed   TransactionStatus = "failed"
	TransactionStatusRefunded TransactionStatus = "refunded"
)

// Transaction is an immutable ledger entry written by the payment
// processor after the mandate chain has been verified.
type Transaction struct {
	ID                    uuid.UUID         `json:"id"`
	PaymentMandateID      string            `json:"payment_mandate_id"`
	CartMandateID         string            `json:"cart_mandate_id"`
	PayerID               string            `json:"payer_id"`
	MerchantID            string            `json:"merchant_id"`
	Amount                Amount            `json:"amount"`
	TransactionType       TransactionType   `json:"transaction_type"`
	Status                TransactionStatus `json:"status"`
	NetworkTransactionID  string            `json:"network_transaction_id,omitempty"`
	AuthorizationCode     string            `json:"authorization_code,omitempty"`
	RiskScore             int               `json:"risk_score"`
	FailureReason         string            `json:"failure_reason,omitempty"`
	ReceiptURL            string            `json:"receipt_url,omitempty"`
	OriginalTransactionID *uuid.UUID        `json:"original_transaction_id,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

// IsRefundable reports whether this transaction can be refunded.
func (t *Transaction) IsRefundable() bool {
	return t.TransactionType == TransactionTypeCapture &&
		t.Status == TransactionStatusCaptured
}
