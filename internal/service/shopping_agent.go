package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/crypto"
	"ap2-payments/internal/mandate"
	"ap2-payments/internal/risk"
	"ap2-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session states.
const (
	SessionStateAwaitingChoice        = "awaiting_cart_choice"
	SessionStateAwaitingAuthorization = "awaiting_authorization"
	SessionStateCompleted             = "completed"
	SessionStateFailed                = "failed"
)

// CartCandidateRequester asks the merchant agent for signed cart
// candidates.
type CartCandidateRequester interface {
	RequestCartCandidates(ctx context.Context, intent *domain.IntentMandate) ([]a2a.Artifact, error)
}

// PaymentSubmitter delivers the payment mandate to the processor.
type PaymentSubmitter interface {
	SubmitPayment(ctx context.Context, payload *domain.PaymentMandatePayload) (*domain.PaymentResult, error)
}

// ShoppingCredentialClient is the shopping agent's view of the credential
// provider. *CredentialService satisfies it directly.
type ShoppingCredentialClient interface {
	IssueChallenge(ctx context.Context, userID string) (string, error)
	DeviceKey(ctx context.Context, userID string) (crypto.ECJWK, error)
	TokenizedMethod(ctx context.Context, userID string) (*domain.TokenizedCard, error)
}

// Session is one user action in flight. Sessions live only in memory: a
// user who abandons before authorizing leaves no state behind.
type Session struct {
	ID             string                        `json:"id"`
	UserID         string                        `json:"user_id"`
	State          string                        `json:"state"`
	Intent         *domain.IntentMandate         `json:"intent_mandate"`
	Candidates     map[string]domain.CartMandate `json:"cart_candidates"`
	ChosenCartID   string                        `json:"chosen_cart_id,omitempty"`
	Challenge      string                        `json:"-"`
	CreatedAt      time.Time                     `json:"created_at"`
	CartReceivedAt time.Time                     `json:"-"`
}

// ShoppingAgent orchestrates the full flow: intent, cart candidates, user
// approval, payment mandate, processor call.
type ShoppingAgent struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	merchant    CartCandidateRequester
	processor   PaymentSubmitter
	credentials ShoppingCredentialClient
	risk        *risk.Engine
	userKeys    *crypto.KeyStore
	merchantDID string
	cartWait    time.Duration
	intentTTL   time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// ShoppingAgentDeps wires a ShoppingAgent.
type ShoppingAgentDeps struct {
	Merchant    CartCandidateRequester
	Processor   PaymentSubmitter
	Credentials ShoppingCredentialClient
	Risk        *risk.Engine
	UserKeys    *crypto.KeyStore
	MerchantDID string
	CartWait    time.Duration
	IntentTTL   time.Duration
	Logger      zerolog.Logger
}

// NewShoppingAgent creates the orchestrator.
func NewShoppingAgent(deps ShoppingAgentDeps) *ShoppingAgent {
	if deps.CartWait <= 0 {
		deps.CartWait = 300 * time.Second
	}
	if deps.IntentTTL <= 0 {
		deps.IntentTTL = 24 * time.Hour
	}
	return &ShoppingAgent{
		sessions:    make(map[string]*Session),
		merchant:    deps.Merchant,
		processor:   deps.Processor,
		credentials: deps.Credentials,
		risk:        deps.Risk,
		userKeys:    deps.UserKeys,
		merchantDID: deps.MerchantDID,
		cartWait:    deps.CartWait,
		intentTTL:   deps.IntentTTL,
		now:         time.Now,
		log:         deps.Logger,
	}
}

// Chat builds the intent mandate from the user's utterance, requests cart
// candidates from the merchant agent (waiting at most the cart-wait
// budget), and opens a session holding the unordered candidate bag.
func (s *ShoppingAgent) Chat(ctx context.Context, userID, text string, maxAmount *domain.Amount) (*Session, error) {
	if text == "" {
		return nil, apperror.Validation("utterance is empty")
	}

	now := s.now().UTC()
	sessionID := "sess_" + uuid.NewString()
	intent := &domain.IntentMandate{
		ID:                           "intent_" + uuid.NewString(),
		UserID:                       userID,
		SessionID:                    sessionID,
		CreatedAt:                    now.Format(time.RFC3339),
		NaturalLanguageDescription:   text,
		UserCartConfirmationRequired: true,
		IntentExpiry:                 now.Add(s.intentTTL).Format(time.RFC3339),
	}
	if maxAmount != nil {
		intent.Constraints = &domain.IntentConstraints{MaxAmount: maxAmount}
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cartWait)
	defer cancel()
	artifacts, err := s.merchant.RequestCartCandidates(waitCtx, intent)
	if err != nil {
		return nil, err
	}

	// Artifacts arrive in signing-completion order; the session keys them
	// by artifactId and imposes none of its own.
	candidates := make(map[string]domain.CartMandate, len(artifacts))
	for _, art := range artifacts {
		var cm domain.CartMandate
		if err := json.Unmarshal(art.Payload, &cm); err != nil {
			s.log.Warn().Err(err).Str("artifact_id", art.ArtifactID).Msg("malformed cart candidate")
			continue
		}
		if !cm.Signed() {
			s.log.Warn().Str("artifact_id", art.ArtifactID).Msg("dropping unsigned cart candidate")
			continue
		}
		candidates[art.ArtifactID] = cm
	}

	session := &Session{
		ID:             sessionID,
		UserID:         userID,
		State:          SessionStateAwaitingChoice,
		Intent:         intent,
		Candidates:     candidates,
		CreatedAt:      now,
		CartReceivedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	s.log.Info().Str("session_id", sessionID).Int("candidates", len(candidates)).Msg("session opened")
	return session, nil
}

// ConfirmCart records the user's cart choice and starts the passkey
// ceremony, returning the challenge for the external UI.
func (s *ShoppingAgent) ConfirmCart(ctx context.Context, sessionID, cartID string) (string, error) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", apperror.ErrNotFound("session")
	}

	cart, ok := session.Candidates[cartID]
	if !ok {
		return "", apperror.ErrNotFound("cart candidate")
	}
	if cart.Expired(s.now()) {
		return "", apperror.ErrExpired("cart")
	}

	challenge, err := s.credentials.IssueChallenge(ctx, session.UserID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	session.ChosenCartID = cartID
	session.Challenge = challenge
	session.State = SessionStateAwaitingAuthorization
	s.mu.Unlock()

	return challenge, nil
}

// AuthorizePayment assembles the payment mandate from the passkey
// assertion, scores it, and submits it to the processor.
func (s *ShoppingAgent) AuthorizePayment(ctx context.Context, sessionID string, assertion domain.WebAuthnAssertion) (*domain.PaymentResult, error) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, apperror.ErrNotFound("session")
	}
	if session.State != SessionStateAwaitingAuthorization || session.ChosenCartID == "" {
		return nil, apperror.New(apperror.KindConflict, "WrongState", "session has no confirmed cart")
	}
	cart := session.Candidates[session.ChosenCartID]

	// Tokenized method; never a PAN or CVV.
	method, err := s.credentials.TokenizedMethod(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	pmc := domain.PaymentMandateContents{
		PaymentMandateID:    "pm_" + uuid.NewString(),
		PaymentDetailsID:    cart.Contents.PaymentRequest.Details.ID,
		PaymentDetailsTotal: cart.Contents.PaymentRequest.Details.Total,
		PaymentResponse: domain.PaymentResponse{
			RequestID:  cart.Contents.PaymentRequest.Details.ID,
			MethodName: "card",
			Details:    *method,
			PayerName:  session.UserID,
		},
		MerchantAgent: cart.Metadata.MerchantID,
		Timestamp:     now.Format(time.RFC3339),
	}

	cartHash, err := mandate.CartHash(&cart)
	if err != nil {
		return nil, err
	}
	paymentHash, err := mandate.PaymentHash(&pmc)
	if err != nil {
		return nil, err
	}

	deviceJWK, err := s.credentials.DeviceKey(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	userDID := "did:ap2:user:" + session.UserID
	userKey, err := s.userKeys.LoadOrGenerate(userDID, crypto.AlgES256)
	if err != nil {
		return nil, err
	}

	sigRaw, err := base64.RawURLEncoding.DecodeString(assertion.Signature)
	if err != nil {
		return nil, apperror.Validation("assertion signature is not base64url")
	}
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	userAuth, err := crypto.BuildUserAuthorization(crypto.UserAuthorizationInput{
		UserDID:      userDID,
		UserKey:      userKey,
		UserAlg:      crypto.AlgES256,
		DeviceJWK:    deviceJWK,
		AssertionSig: sigRaw,
		CartHash:     cartHash,
		PaymentHash:  paymentHash,
		Nonce:        nonce,
	})
	if err != nil {
		return nil, err
	}

	pm := domain.PaymentMandate{
		PaymentMandateContents: pmc,
		References: domain.MandateReferences{
			CartMandateID:   cart.Contents.ID,
			IntentMandateID: session.Intent.ID,
		},
		UserAuthorization: userAuth,
	}

	// Risk rides on the envelope, outside the hashed contents.
	assessment := s.risk.Assess(ctx, risk.Input{
		PayerID:       session.UserID,
		Amount:        pmc.PaymentDetailsTotal.Amount,
		Intent:        session.Intent,
		Method:        *method,
		HumanPresent:  true,
		AgentInvolved: true,
		CartCreatedAt: session.CartReceivedAt,
		AuthorizedAt:  now,
	})

	payload := &domain.PaymentMandatePayload{
		PaymentMandate:    pm,
		CartMandate:       cart,
		IntentMandate:     session.Intent,
		WebAuthnAssertion: &assertion,
		WebAuthnChallenge: session.Challenge,
		RiskScore:         assessment.RiskScore,
		FraudIndicators:   assessment.FraudIndicators,
	}

	result, err := s.processor.SubmitPayment(ctx, payload)
	if err != nil {
		s.setState(sessionID, SessionStateFailed)
		return nil, err
	}

	if result.Status == "captured" {
		s.setState(sessionID, SessionStateCompleted)
	} else {
		s.setState(sessionID, SessionStateFailed)
	}
	return result, nil
}

// Cancel discards a session; nothing persists past the in-memory entry.
func (s *ShoppingAgent) Cancel(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// GetSession returns a session; NotFound when absent.
func (s *ShoppingAgent) GetSession(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, apperror.ErrNotFound("session")
	}
	return session, nil
}

func (s *ShoppingAgent) setState(sessionID, state string) {
	s.mu.Lock()
	if session, ok := s.sessions[sessionID]; ok {
		session.State = state
	}
	s.mu.Unlock()
}

func newNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", apperror.InternalError(fmt.Errorf("reading nonce entropy: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
