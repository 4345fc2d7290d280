package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/crypto"
	"ap2-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NetworkTokenizer is how the credential provider reaches the payment
// network's tokenization endpoint. *NetworkService satisfies it directly;
// deployments use the HTTP client.
type NetworkTokenizer interface {
	Tokenize(ctx context.Context, req TokenizeRequest) (*TokenizeResult, error)
}

// UserCredential is a registered passkey plus the user's payment method.
type UserCredential struct {
	UserID       string
	CredentialID string // base64url
	COSEKey      []byte
	JWK          crypto.ECJWK
	SignCount    uint32
	CardBrand    string
}

// ReceiptNotice is what the processor posts after a capture.
type ReceiptNotice struct {
	TransactionID string        `json:"transaction_id"`
	PayerID       string        `json:"payer_id"`
	Amount        domain.Amount `json:"amount"`
	ReceiptURL    string        `json:"receipt_url"`
	ReceivedAt    string        `json:"received_at,omitempty"`
}

// CredentialVerifyRequest is the processor's token-resolution call.
type CredentialVerifyRequest struct {
	Token            string        `json:"token"`
	PaymentMandateID string        `json:"payment_mandate_id"`
	PayerID          string        `json:"payer_id"`
	Amount           domain.Amount `json:"amount"`
}

// CredentialVerifyResult resolves a method token into a network charge
// credential.
type CredentialVerifyResult struct {
	PaymentMethodID string `json:"payment_method_id"`
	AgentToken      string `json:"agent_token"`
}

// CredentialService holds registered passkeys, issues tokenized payment
// methods, and resolves them for the processor via the network.
type CredentialService struct {
	mu         sync.Mutex
	users      map[string]*UserCredential
	methods    map[string]string // method token -> user id (expiry kept in methodExp)
	methodExp  map[string]time.Time
	receipts   []ReceiptNotice
	challenges ports.ChallengeStore
	sessions   ports.SessionStore
	network    NetworkTokenizer
	rpID       string
	now        func() time.Time
	log        zerolog.Logger
}

// NewCredentialService wires the provider. rpID is the relying-party id
// passkeys are bound to.
func NewCredentialService(challenges ports.ChallengeStore, sessions ports.SessionStore,
	network NetworkTokenizer, rpID string, log zerolog.Logger) *CredentialService {
	return &CredentialService{
		users:      make(map[string]*UserCredential),
		methods:    make(map[string]string),
		methodExp:  make(map[string]time.Time),
		challenges: challenges,
		sessions:   sessions,
		network:    network,
		rpID:       rpID,
		now:        time.Now,
		log:        log,
	}
}

// RPID returns the relying-party id.
func (s *CredentialService) RPID() string { return s.rpID }

func newChallenge() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", apperror.InternalError(err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// RegisterPasskey starts a registration ceremony: a single-use challenge
// the authenticator must echo in clientDataJSON.
func (s *CredentialService) RegisterPasskey(ctx context.Context, userID string) (string, error) {
	challenge, err := newChallenge()
	if err != nil {
		return "", err
	}
	if err := s.challenges.Put(ctx, "register:"+userID, challenge, ports.ChallengeTTL); err != nil {
		return "", apperror.InternalError(err)
	}
	return challenge, nil
}

// CompleteRegistration finishes the ceremony: checks the challenge,
// extracts the COSE public key from the attestation, and stores the
// credential.
func (s *CredentialService) CompleteRegistration(ctx context.Context, userID string,
	attestationObjectB64, clientDataJSONB64 string) (*UserCredential, error) {

	expected, err := s.challenges.Take(ctx, "register:"+userID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if expected == "" {
		return nil, apperror.ErrChallengeMismatch()
	}

	clientDataJSON, err := base64.RawURLEncoding.DecodeString(clientDataJSONB64)
	if err != nil {
		return nil, apperror.Validation("clientDataJSON is not base64url")
	}
	cd, err := crypto.ParseClientData(clientDataJSON)
	if err != nil {
		return nil, err
	}
	if cd.Type != "webauthn.create" || cd.Challenge != expected {
		return nil, apperror.ErrChallengeMismatch()
	}

	attRaw, err := base64.RawURLEncoding.DecodeString(attestationObjectB64)
	if err != nil {
		return nil, apperror.Validation("attestationObject is not base64url")
	}
	cred, err := crypto.ParseAttestationObject(attRaw)
	if err != nil {
		return nil, err
	}

	uc := &UserCredential{
		UserID:       userID,
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.CredentialID),
		COSEKey:      cred.COSEKey,
		JWK:          crypto.JWKFromPublicKey(cred.PublicKey),
		SignCount:    cred.SignCount,
		CardBrand:    "visa",
	}

	s.mu.Lock()
	s.users[userID] = uc
	s.mu.Unlock()

	s.log.Info().Str("user_id", userID).Str("credential_id", uc.CredentialID).Msg("passkey registered")
	return uc, nil
}

// IssueChallenge starts a payment ceremony for a user.
func (s *CredentialService) IssueChallenge(ctx context.Context, userID string) (string, error) {
	challenge, err := newChallenge()
	if err != nil {
		return "", err
	}
	if err := s.challenges.Put(ctx, "payment:"+userID, challenge, ports.ChallengeTTL); err != nil {
		return "", apperror.InternalError(err)
	}
	return challenge, nil
}

// TakeChallenge consumes a previously issued payment challenge.
func (s *CredentialService) TakeChallenge(ctx context.Context, userID string) (string, error) {
	return s.challenges.Take(ctx, "payment:"+userID)
}

// DeviceKey returns the registered passkey public key in JWK form.
func (s *CredentialService) DeviceKey(_ context.Context, userID string) (crypto.ECJWK, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uc, ok := s.users[userID]
	if !ok {
		return crypto.ECJWK{}, apperror.ErrNotFound("registered passkey")
	}
	return uc.JWK, nil
}

// TokenizedMethod issues a short-lived payment-method token for the user.
// No PAN exists anywhere in this system; the token is the method.
func (s *CredentialService) TokenizedMethod(_ context.Context, userID string) (*domain.TokenizedCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uc, ok := s.users[userID]
	if !ok {
		return nil, apperror.ErrNotFound("registered passkey")
	}

	token := "pmt_" + uuid.NewString()
	s.methods[token] = userID
	s.methodExp[token] = s.now().Add(ports.MethodTokenTTL)

	return &domain.TokenizedCard{
		CardBrand: uc.CardBrand,
		Token:     token,
		Tokenized: true,
	}, nil
}

// Verify resolves a method token for the processor: it validates the
// token, then asks the network to tokenize the charge, returning the agent
// token the network will honour.
func (s *CredentialService) Verify(ctx context.Context, req CredentialVerifyRequest) (*CredentialVerifyResult, error) {
	s.mu.Lock()
	userID, ok := s.methods[req.Token]
	exp := s.methodExp[req.Token]
	s.mu.Unlock()

	if !ok || s.now().After(exp) {
		return nil, apperror.ErrCredentialVerificationFailed(fmt.Errorf("unknown or expired method token"))
	}
	if req.PayerID != "" && req.PayerID != userID {
		return nil, apperror.ErrCredentialVerificationFailed(fmt.Errorf("method token belongs to another payer"))
	}

	tok, err := s.network.Tokenize(ctx, TokenizeRequest{
		PaymentMandateID:   req.PaymentMandateID,
		PayerID:            userID,
		PaymentMethodToken: req.Token,
		Amount:             req.Amount,
	})
	if err != nil {
		return nil, apperror.ErrCredentialVerificationFailed(err)
	}

	return &CredentialVerifyResult{
		PaymentMethodID: req.Token,
		AgentToken:      tok.AgentToken,
	}, nil
}

// SignCount returns the stored counter for a user's credential.
func (s *CredentialService) SignCount(_ context.Context, userID string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uc, ok := s.users[userID]
	if !ok {
		return 0, apperror.ErrNotFound("registered passkey")
	}
	return uc.SignCount, nil
}

// RecordReceipt stores a capture notice from the processor.
func (s *CredentialService) RecordReceipt(_ context.Context, notice ReceiptNotice) {
	notice.ReceivedAt = s.now().UTC().Format(time.RFC3339)
	s.mu.Lock()
	s.receipts = append(s.receipts, notice)
	s.mu.Unlock()
	s.log.Info().Str("transaction_id", notice.TransactionID).Msg("receipt recorded")
}

// NotifyReceipt adapts RecordReceipt to the processor's client interface.
func (s *CredentialService) NotifyReceipt(ctx context.Context, notice ReceiptNotice) error {
	s.RecordReceipt(ctx, notice)
	return nil
}

// Receipts lists recorded receipt notices.
func (s *CredentialService) Receipts(_ context.Context) []ReceiptNotice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReceiptNotice, len(s.receipts))
	copy(out, s.receipts)
	return out
}

// StartStepUp opens a step-up session when a verification needs a fresh
// passkey ceremony, returning the session id.
func (s *CredentialService) StartStepUp(ctx context.Context, userID string, reason string) (string, error) {
	id := "stepup_" + uuid.NewString()
	payload, err := json.Marshal(map[string]string{"user_id": userID, "reason": reason})
	if err != nil {
		return "", apperror.InternalError(err)
	}
	if err := s.sessions.Put(ctx, id, payload, ports.StepUpSessionTTL); err != nil {
		return "", apperror.InternalError(err)
	}
	return id, nil
}

// StepUp fetches an open step-up session; nil when absent or expired.
func (s *CredentialService) StepUp(ctx context.Context, id string) (map[string]string, error) {
	raw, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if raw == nil {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperror.InternalError(err)
	}
	return out, nil
}
