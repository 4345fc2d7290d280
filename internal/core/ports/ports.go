package ports

import (
	"context"
	"time"

	"ap2-payments/internal/core/domain"

	"github.com/google/uuid"
)

// Normative TTLs for the shared keyed stores.
const (
	ReplayTTL        = 600 * time.Second // A2A message ids
	ChallengeTTL     = 60 * time.Second  // WebAuthn challenges
	StepUpSessionTTL = 600 * time.Second
	MethodTokenTTL   = 900 * time.Second // payment-method tokens
	AgentTokenTTL    = time.Hour
)

// ReplayStore enforces at-most-once consumption of a key (A2A message_id,
// JWT jti, KB nonce) within its acceptance window.
type ReplayStore interface {
	// Consume atomically records the key. It returns true if the key is
	// fresh, false if it was already consumed.
	Consume(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ChallengeStore holds single-use WebAuthn challenges keyed by id.
type ChallengeStore interface {
	Put(ctx context.Context, id string, challenge string, ttl time.Duration) error
	// Take retrieves and deletes a challenge. Returns "" when absent.
	Take(ctx context.Context, id string) (string, error)
}

// AgentTokenData is what the payment network persists per issued token.
type AgentTokenData struct {
	PaymentMandateID string `json:"payment_mandate_id"`
	PayerID          string `json:"payer_id"`
	Amount           domain.Amount `json:"amount"`
	Network          string `json:"network"`
	IssuedAt         string `json:"issued_at"`
	ExpiresAt        string `json:"expires_at"`
}

// TokenStore persists agent tokens and payment-method tokens with TTL.
type TokenStore interface {
	Save(ctx context.Context, token string, data AgentTokenData, ttl time.Duration) error
	// Get returns nil when the token is absent or expired.
	Get(ctx context.Context, token string) (*AgentTokenData, error)
	Delete(ctx context.Context, token string) error
}

// SessionStore keeps short-lived step-up sessions.
type SessionStore interface {
	Put(ctx context.Context, id string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, id string) ([]byte, error) // nil when absent
	Delete(ctx context.Context, id string) error
}

// CounterStore tracks the last seen WebAuthn sign counter per credential.
type CounterStore interface {
	Get(ctx context.Context, credentialID string) (uint32, error)
	Set(ctx context.Context, credentialID string, count uint32) error
}

// TransactionRepository is the processor's write-once transaction log.
type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByPaymentMandateID(ctx context.Context, mandateID string) (*domain.Transaction, error)
	// ListByPayerSince feeds the risk engine's velocity window.
	ListByPayerSince(ctx context.Context, payerID string, since time.Time) ([]domain.Transaction, error)
	// RefundTotal sums successful refunds linked to the original transaction.
	RefundTotal(ctx context.Context, originalID uuid.UUID) (int64, error)
}

// HealthChecker verifies a dependency is reachable.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}
