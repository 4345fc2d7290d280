package service

import (
	"context"
	"sync"
	"time"

	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/crypto"
	"ap2-payments/internal/mandate"
	"ap2-payments/pkg/apperror"

	"github.com/rs/zerolog"
)

// SigningMode selects the cart approval flow.
type SigningMode string

const (
	SigningModeAuto   SigningMode = "auto"
	SigningModeManual SigningMode = "manual"
)

// CartState is the per-cart state machine position.
type CartState string

const (
	CartStatePending  CartState = "pending_merchant_signature"
	CartStateSigned   CartState = "signed"
	CartStateRejected CartState = "rejected"
	CartStateExpired  CartState = "expired"
)

// pendingTTL bounds how long a cart may sit unapproved when its own expiry
// is later.
const pendingTTL = 15 * time.Minute

// SignResult is the answer to a sign or poll request.
type SignResult struct {
	Status         CartState           `json:"status"`
	CartMandateID  string              `json:"cart_mandate_id"`
	SignedCart     *domain.CartMandate `json:"signed_cart_mandate,omitempty"`
	Reason         string              `json:"reason,omitempty"`
}

// PendingCart summarizes a cart awaiting operator action.
type PendingCart struct {
	CartMandateID string        `json:"cart_mandate_id"`
	MerchantName  string        `json:"merchant_name"`
	Total         domain.Amount `json:"total"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

type signingEntry struct {
	cart      domain.CartMandate
	state     CartState
	reason    string
	createdAt time.Time
	expiresAt time.Time
}

// SigningService is the single trusted holder of the merchant key. It owns
// the approval state machine for every unsigned cart it receives.
//
//	NEW --validate--> VALIDATED --auto--> SIGNED
//	                            --manual--> PENDING --approve--> SIGNED
//	                                                 --reject---> REJECTED
//	                                                 --expiry---> EXPIRED
type SigningService struct {
	mu         sync.Mutex
	entries    map[string]*signingEntry
	merchantID string
	mode       SigningMode
	issuer     *crypto.MerchantJWTIssuer
	now        func() time.Time
	log        zerolog.Logger
}

// NewSigningService creates the signing service for one merchant identity.
func NewSigningService(merchantID string, mode SigningMode, issuer *crypto.MerchantJWTIssuer, log zerolog.Logger) *SigningService {
	return &SigningService{
		entries:    make(map[string]*signingEntry),
		merchantID: merchantID,
		mode:       mode,
		issuer:     issuer,
		now:        time.Now,
		log:        log,
	}
}

// SubmitCart validates a cart and either signs it synchronously (auto
// mode) or queues it for operator approval (manual mode).
func (s *SigningService) SubmitCart(ctx context.Context, cm *domain.CartMandate) (*SignResult, error) {
	if err := s.validate(cm); err != nil {
		return nil, err
	}

	if s.mode == SigningModeAuto {
		signed, err := s.sign(cm)
		if err != nil {
			return nil, err
		}
		s.log.Info().Str("cart_id", cm.Contents.ID).Msg("cart auto-signed")
		return &SignResult{
			Status:        CartStateSigned,
			CartMandateID: cm.Contents.ID,
			SignedCart:    signed,
		}, nil
	}

	now := s.now()
	expiresAt := now.Add(pendingTTL)
	if exp, err := time.Parse(time.RFC3339, cm.Contents.CartExpiry); err == nil && exp.Before(expiresAt) {
		expiresAt = exp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[cm.Contents.ID]; ok {
		return nil, apperror.ErrTerminalState(string(existing.state))
	}
	s.entries[cm.Contents.ID] = &signingEntry{
		cart:      *cm,
		state:     CartStatePending,
		createdAt: now,
		expiresAt: expiresAt,
	}
	s.log.Info().Str("cart_id", cm.Contents.ID).Time("expires_at", expiresAt).
		Msg("cart queued for merchant approval")

	return &SignResult{Status: CartStatePending, CartMandateID: cm.Contents.ID}, nil
}

// Poll reports the state of a queued cart.
func (s *SigningService) Poll(_ context.Context, cartMandateID string) (*SignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[cartMandateID]
	if !ok {
		return nil, apperror.ErrNotFound("cart mandate")
	}
	s.sweepLocked(e)

	out := &SignResult{Status: e.state, CartMandateID: cartMandateID, Reason: e.reason}
	if e.state == CartStateSigned {
		cart := e.cart
		out.SignedCart = &cart
	}
	return out, nil
}

// Approve signs a pending cart.
func (s *SigningService) Approve(_ context.Context, cartMandateID string) (*SignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[cartMandateID]
	if !ok {
		return nil, apperror.ErrNotFound("cart mandate")
	}
	s.sweepLocked(e)
	if e.state != CartStatePending {
		return nil, apperror.ErrTerminalState(string(e.state))
	}

	signed, err := s.sign(&e.cart)
	if err != nil {
		return nil, err
	}
	e.cart = *signed
	e.state = CartStateSigned
	s.log.Info().Str("cart_id", cartMandateID).Msg("cart approved and signed")

	cart := e.cart
	return &SignResult{Status: CartStateSigned, CartMandateID: cartMandateID, SignedCart: &cart}, nil
}

// Reject declines a pending cart.
func (s *SigningService) Reject(_ context.Context, cartMandateID string, reason string) (*SignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[cartMandateID]
	if !ok {
		return nil, apperror.ErrNotFound("cart mandate")
	}
	s.sweepLocked(e)
	if e.state != CartStatePending {
		return nil, apperror.ErrTerminalState(string(e.state))
	}

	e.state = CartStateRejected
	if reason == "" {
		reason = "rejected by operator"
	}
	e.reason = reason
	s.log.Info().Str("cart_id", cartMandateID).Str("reason", reason).Msg("cart rejected")

	return &SignResult{Status: CartStateRejected, CartMandateID: cartMandateID, Reason: reason}, nil
}

// Pending lists carts still awaiting operator action.
func (s *SigningService) Pending(_ context.Context) []PendingCart {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PendingCart
	for id, e := range s.entries {
		s.sweepLocked(e)
		if e.state != CartStatePending {
			continue
		}
		out = append(out, PendingCart{
			CartMandateID: id,
			MerchantName:  e.cart.Contents.MerchantName,
			Total:         e.cart.Total(),
			SubmittedAt:   e.createdAt,
			ExpiresAt:     e.expiresAt,
		})
	}
	return out
}

// validate applies the submission checks: ownership, freshness, totals.
func (s *SigningService) validate(cm *domain.CartMandate) error {
	if cm.Metadata.MerchantID != s.merchantID {
		return apperror.ErrInvalidMerchant()
	}
	if cm.Expired(s.now()) {
		return apperror.ErrExpired("cart")
	}
	return mandate.ValidateCartMandate(cm)
}

// sign computes the cart hash and attaches the merchant authorization JWT.
// Contents are left untouched, so the hash is stable across signing.
func (s *SigningService) sign(cm *domain.CartMandate) (*domain.CartMandate, error) {
	cartHash, err := mandate.CartHash(cm)
	if err != nil {
		return nil, err
	}
	jwt, err := s.issuer.Issue(cartHash)
	if err != nil {
		return nil, err
	}
	signed := *cm
	signed.MerchantAuthorization = jwt
	return &signed, nil
}

// sweepLocked moves an overdue pending cart to EXPIRED. Callers hold s.mu.
func (s *SigningService) sweepLocked(e *signingEntry) {
	if e.state == CartStatePending && s.now().After(e.expiresAt) {
		e.state = CartStateExpired
		e.reason = "approval window elapsed"
	}
}
