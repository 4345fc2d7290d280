package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/core/ports"
	"ap2-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TokenizeRequest asks the network to stand a token in for a payment
// method on behalf of a mandate.
type TokenizeRequest struct {
	PaymentMandateID   string        `json:"payment_mandate_id"`
	PayerID            string        `json:"payer_id"`
	PaymentMethodToken string        `json:"payment_method_token"`
	Amount             domain.Amount `json:"amount"`
}

// TokenizeResult is the issued agent token.
type TokenizeResult struct {
	AgentToken string `json:"agent_token"`
	ExpiresAt  string `json:"expires_at"`
}

// VerifyTokenResult reports a token's validity and metadata.
type VerifyTokenResult struct {
	Valid            bool          `json:"valid"`
	PaymentMandateID string        `json:"payment_mandate_id,omitempty"`
	PayerID          string        `json:"payer_id,omitempty"`
	Amount           domain.Amount `json:"amount,omitempty"`
	ExpiresAt        string        `json:"expires_at,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// ChargeRequest captures funds against a currently valid agent token.
type ChargeRequest struct {
	AgentToken string        `json:"agent_token"`
	Amount     domain.Amount `json:"amount"`
}

// ChargeResult is the network's authorization outcome. Token failures come
// back as status "failed", not as transport errors.
type ChargeResult struct {
	Status               string `json:"status"`
	NetworkTransactionID string `json:"network_transaction_id,omitempty"`
	AuthorizationCode    string `json:"authorization_code,omitempty"`
	Error                string `json:"error,omitempty"`
}

// NetworkService simulates the card network: tokenization, token
// verification, and charging. Artifacts have the same shape a real network
// would emit; no settlement happens.
type NetworkService struct {
	name   string
	tokens ports.TokenStore
	now    func() time.Time
	log    zerolog.Logger
}

// NewNetworkService creates a network named name over the token store.
func NewNetworkService(name string, tokens ports.TokenStore, log zerolog.Logger) *NetworkService {
	return &NetworkService{name: name, tokens: tokens, now: time.Now, log: log}
}

// Name returns the network name.
func (n *NetworkService) Name() string { return n.name }

// Tokenize issues an agent token for a mandate and persists it with TTL.
func (n *NetworkService) Tokenize(ctx context.Context, req TokenizeRequest) (*TokenizeResult, error) {
	if req.PaymentMandateID == "" || req.PayerID == "" {
		return nil, apperror.Validation("payment_mandate_id and payer_id are required")
	}

	now := n.now().UTC()
	expiresAt := now.Add(ports.AgentTokenTTL)

	var entropy [18]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return nil, apperror.InternalError(err)
	}
	token := fmt.Sprintf("agent_tok_%s_%s_%s",
		strings.ToLower(n.name),
		uuid.NewString()[:8],
		base64.RawURLEncoding.EncodeToString(entropy[:]))

	data := ports.AgentTokenData{
		PaymentMandateID: req.PaymentMandateID,
		PayerID:          req.PayerID,
		Amount:           req.Amount,
		Network:          n.name,
		IssuedAt:         now.Format(time.RFC3339),
		ExpiresAt:        expiresAt.Format(time.RFC3339),
	}
	if err := n.tokens.Save(ctx, token, data, ports.AgentTokenTTL); err != nil {
		return nil, apperror.InternalError(err)
	}

	n.log.Info().Str("payment_mandate_id", req.PaymentMandateID).Msg("agent token issued")
	return &TokenizeResult{AgentToken: token, ExpiresAt: data.ExpiresAt}, nil
}

// VerifyToken reports validity and metadata for an agent token.
func (n *NetworkService) VerifyToken(ctx context.Context, token string) (*VerifyTokenResult, error) {
	data, err := n.tokens.Get(ctx, token)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if data == nil {
		return &VerifyTokenResult{Valid: false, Error: "agent token not found"}, nil
	}
	return &VerifyTokenResult{
		Valid:            true,
		PaymentMandateID: data.PaymentMandateID,
		PayerID:          data.PayerID,
		Amount:           data.Amount,
		ExpiresAt:        data.ExpiresAt,
	}, nil
}

// Charge authorizes a capture against a valid token. An invalid or
// expired token yields status "failed".
func (n *NetworkService) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	data, err := n.tokens.Get(ctx, req.AgentToken)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if data == nil {
		n.log.Warn().Msg("charge against unknown agent token")
		return &ChargeResult{Status: "failed", Error: "agent token invalid or expired"}, nil
	}
	if data.Amount.Value != 0 &&
		(data.Amount.Currency != req.Amount.Currency || data.Amount.Value != req.Amount.Value) {
		return &ChargeResult{Status: "failed", Error: "amount does not match tokenized mandate"}, nil
	}

	// Single use: a token charges once.
	if err := n.tokens.Delete(ctx, req.AgentToken); err != nil {
		return nil, apperror.InternalError(err)
	}

	var code [3]byte
	if _, err := rand.Read(code[:]); err != nil {
		return nil, apperror.InternalError(err)
	}

	result := &ChargeResult{
		Status:               "captured",
		NetworkTransactionID: "net_" + uuid.NewString(),
		AuthorizationCode:    strings.ToUpper(fmt.Sprintf("%x", code)),
	}
	n.log.Info().
		Str("network_transaction_id", result.NetworkTransactionID).
		Str("payment_mandate_id", data.PaymentMandateID).
		Msg("charge captured")
	return result, nil
}

// Info describes the simulated network.
func (n *NetworkService) Info() map[string]string {
	return map[string]string{
		"network":   n.name,
		"mode":      "simulated",
		"token_ttl": ports.AgentTokenTTL.String(),
	}
}
