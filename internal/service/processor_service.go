package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/crypto"
	"ap2-payments/internal/mandate"
	"ap2-payments/internal/risk"
	"ap2-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NetworkCharger is the processor's view of the payment network.
// *NetworkService satisfies it directly; deployments use the HTTP client.
type NetworkCharger interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// CredentialVerifier is the processor's view of the credential provider.
type CredentialVerifier interface {
	Verify(ctx context.Context, req CredentialVerifyRequest) (*CredentialVerifyResult, error)
	NotifyReceipt(ctx context.Context, notice ReceiptNotice) error
}

// ProcessorService validates the mandate chain and captures payments.
type ProcessorService struct {
	merchantJWT *crypto.MerchantJWTVerifier
	userAuth    *crypto.UserAuthorizationVerifier
	replay      ports.ReplayStore
	counters    ports.CounterStore
	repo        ports.TransactionRepository
	network     NetworkCharger
	credentials CredentialVerifier
	receiptBase string
	rpID        string
	chargeRPC   time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// ProcessorDeps wires a ProcessorService.
type ProcessorDeps struct {
	MerchantJWT *crypto.MerchantJWTVerifier
	UserAuth    *crypto.UserAuthorizationVerifier
	Replay      ports.ReplayStore
	Counters    ports.CounterStore
	Repo        ports.TransactionRepository
	Network     NetworkCharger
	Credentials CredentialVerifier
	ReceiptBase string // base URL receipts are served from
	RPID        string
	ChargeRPC   time.Duration
	Logger      zerolog.Logger
}

// NewProcessorService creates the processor.
func NewProcessorService(deps ProcessorDeps) *ProcessorService {
	if deps.ChargeRPC <= 0 {
		deps.ChargeRPC = 30 * time.Second
	}
	return &ProcessorService{
		merchantJWT: deps.MerchantJWT,
		userAuth:    deps.UserAuth,
		replay:      deps.Replay,
		counters:    deps.Counters,
		repo:        deps.Repo,
		network:     deps.Network,
		credentials: deps.Credentials,
		receiptBase: deps.ReceiptBase,
		rpID:        deps.RPID,
		chargeRPC:   deps.ChargeRPC,
		now:         time.Now,
		log:         deps.Logger,
	}
}

// Process runs the full verification pipeline and, when everything holds,
// charges the network and records the transaction. Verification failures
// return errors before the network is ever contacted; business declines
// (risk, charge failure) return a failed PaymentResult.
func (p *ProcessorService) Process(ctx context.Context, payload *domain.PaymentMandatePayload) (*domain.PaymentResult, error) {
	pm := &payload.PaymentMandate
	cm := &payload.CartMandate
	pmc := &pm.PaymentMandateContents

	// 1. Structure.
	if err := p.validateStructure(payload); err != nil {
		return nil, err
	}

	// 2. Chain.
	if err := mandate.ValidateMandateChain(pm, cm, p.now()); err != nil {
		return nil, err
	}

	// 3. Merchant authorization against the cart hash.
	cartHash, err := mandate.CartHash(cm)
	if err != nil {
		return nil, err
	}
	merchantClaims, err := p.merchantJWT.Verify(ctx, cm.MerchantAuthorization, cartHash)
	if err != nil {
		return nil, err
	}

	// 4. User authorization against both hashes and the passkey assertion.
	paymentHash, err := mandate.PaymentHash(pmc)
	if err != nil {
		return nil, err
	}
	assertion, err := decodeAssertion(payload.WebAuthnAssertion)
	if err != nil {
		return nil, err
	}
	credentialID := payload.WebAuthnAssertion.CredentialID
	stored, err := p.counters.Get(ctx, credentialID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	kb, newCount, err := p.userAuth.Verify(ctx, crypto.VerifyParams{
		SDJWT:             pm.UserAuthorization,
		Assertion:         assertion,
		ExpectedCartHash:  cartHash,
		ExpectedPayment:   paymentHash,
		ExpectedChallenge: payload.WebAuthnChallenge,
		RPID:              p.rpID,
		StoredSignCount:   stored,
	})
	if err != nil {
		return nil, err
	}

	// The KB nonce and the ceremony challenge are each single-use.
	fresh, err := p.replay.Consume(ctx, "kbnonce:"+kb.Nonce, ports.ReplayTTL)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if !fresh {
		return nil, apperror.ErrJTIReplay()
	}
	if payload.WebAuthnChallenge != "" {
		fresh, err := p.replay.Consume(ctx, "challenge:"+payload.WebAuthnChallenge, ports.ReplayTTL)
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		if !fresh {
			return nil, apperror.ErrChallengeMismatch()
		}
	}
	if err := p.counters.Set(ctx, credentialID, newCount); err != nil {
		return nil, apperror.InternalError(err)
	}

	// 5. Risk gate on the agent-supplied score (defence-in-depth; the
	// shopping agent already scored the mandate).
	if payload.RiskScore >= risk.DeclineAt {
		p.log.Warn().Int("risk_score", payload.RiskScore).
			Str("payment_mandate_id", pmc.PaymentMandateID).Msg("risk gate declined")
		tx := p.record(ctx, payload, merchantClaims.Issuer, domain.TransactionStatusFailed, nil, "High risk")
		return &domain.PaymentResult{Status: "failed", TransactionID: tx.ID.String(), Error: "High risk"}, nil
	}

	// 6. Credential verify: resolve the method token into an agent token.
	cred, err := p.credentials.Verify(ctx, CredentialVerifyRequest{
		Token:            pmc.PaymentResponse.Details.Token,
		PaymentMandateID: pmc.PaymentMandateID,
		PayerID:          payerID(pmc),
		Amount:           pmc.PaymentDetailsTotal.Amount,
	})
	if err != nil {
		return nil, err
	}

	// 7. Charge, bounded by the network RPC budget. No retries on this
	// write path.
	chargeCtx, cancel := context.WithTimeout(ctx, p.chargeRPC)
	defer cancel()
	charge, err := p.network.Charge(chargeCtx, ChargeRequest{
		AgentToken: cred.AgentToken,
		Amount:     pmc.PaymentDetailsTotal.Amount,
	})
	if err != nil {
		return nil, apperror.ErrUnavailable("payment network", err)
	}
	if charge.Status != "captured" {
		tx := p.record(ctx, payload, merchantClaims.Issuer, domain.TransactionStatusFailed, charge, charge.Error)
		return &domain.PaymentResult{Status: "failed", TransactionID: tx.ID.String(), Error: charge.Error}, nil
	}

	// 8-9. Persist write-once, render the receipt URL, notify the
	// credential provider.
	tx := p.record(ctx, payload, merchantClaims.Issuer, domain.TransactionStatusCaptured, charge, "")

	if err := p.credentials.NotifyReceipt(ctx, ReceiptNotice{
		TransactionID: tx.ID.String(),
		PayerID:       tx.PayerID,
		Amount:        tx.Amount,
		ReceiptURL:    tx.ReceiptURL,
	}); err != nil {
		p.log.Warn().Err(err).Msg("receipt notification failed")
	}

	p.log.Info().
		Str("transaction_id", tx.ID.String()).
		Str("payment_mandate_id", pmc.PaymentMandateID).
		Int64("amount", tx.Amount.Value).
		Msg("payment captured")

	return &domain.PaymentResult{
		Status:        "captured",
		TransactionID: tx.ID.String(),
		ReceiptURL:    tx.ReceiptURL,
	}, nil
}

// Refund records a full or partial refund of a captured transaction as a
// new write-once record linked to the original.
func (p *ProcessorService) Refund(ctx context.Context, transactionID uuid.UUID, amount *int64) (*domain.Transaction, error) {
	orig, err := p.repo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if orig == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if !orig.IsRefundable() {
		return nil, apperror.New(apperror.KindConflict, "NotRefundable", "transaction is not refundable")
	}

	refunded, err := p.repo.RefundTotal(ctx, orig.ID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	value := orig.Amount.Value - refunded
	if amount != nil {
		value = *amount
	}
	if value <= 0 || value+refunded > orig.Amount.Value {
		return nil, apperror.Validation("refund amount exceeds remaining balance")
	}

	origID := orig.ID
	refund := &domain.Transaction{
		ID:                    uuid.New(),
		PaymentMandateID:      orig.PaymentMandateID,
		CartMandateID:         orig.CartMandateID,
		PayerID:               orig.PayerID,
		MerchantID:            orig.MerchantID,
		Amount:                domain.Amount{Currency: orig.Amount.Currency, Value: value},
		TransactionType:       domain.TransactionTypeRefund,
		Status:                domain.TransactionStatusRefunded,
		OriginalTransactionID: &origID,
		CreatedAt:             p.now().UTC(),
	}
	if err := p.repo.Create(ctx, refund); err != nil {
		return nil, apperror.InternalError(err)
	}

	p.log.Info().Str("transaction_id", refund.ID.String()).
		Str("original", origID.String()).Int64("amount", value).Msg("refund recorded")
	return refund, nil
}

// GetTransaction fetches a transaction by id.
func (p *ProcessorService) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return tx, nil
}

// ReceiptPDF renders the receipt for a transaction.
func (p *ProcessorService) ReceiptPDF(ctx context.Context, id uuid.UUID) ([]byte, error) {
	tx, err := p.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	return BuildReceiptPDF(tx), nil
}

func (p *ProcessorService) validateStructure(payload *domain.PaymentMandatePayload) error {
	pm := &payload.PaymentMandate
	pmc := &pm.PaymentMandateContents

	switch {
	case pmc.PaymentMandateID == "":
		return apperror.ErrInvalidMandate("payment_mandate_id is required")
	case pmc.PaymentDetailsID == "":
		return apperror.ErrInvalidMandate("payment_details_id is required")
	case pmc.Timestamp == "":
		return apperror.ErrInvalidMandate("timestamp is required")
	case pmc.MerchantAgent == "":
		return apperror.ErrInvalidMandate("merchant_agent is required")
	case pm.UserAuthorization == "":
		return apperror.ErrInvalidMandate("user_authorization is required")
	case !payload.CartMandate.Signed():
		return apperror.ErrInvalidMandate("cart mandate is unsigned")
	case payload.WebAuthnAssertion == nil:
		return apperror.ErrInvalidMandate("webauthn assertion is required")
	}

	// PCI DSS 3.2.2: only tokenized methods cross this boundary.
	method := pmc.PaymentResponse.Details
	if !method.Tokenized || method.Token == "" {
		return apperror.ErrInvalidMandate("payment method must be tokenized")
	}
	return nil
}

func (p *ProcessorService) record(ctx context.Context, payload *domain.PaymentMandatePayload,
	merchantID string, status domain.TransactionStatus, charge *ChargeResult, failure string) *domain.Transaction {

	pmc := &payload.PaymentMandate.PaymentMandateContents
	tx := &domain.Transaction{
		ID:               uuid.New(),
		PaymentMandateID: pmc.PaymentMandateID,
		CartMandateID:    payload.PaymentMandate.References.CartMandateID,
		PayerID:          payerID(pmc),
		MerchantID:       merchantID,
		Amount:           pmc.PaymentDetailsTotal.Amount,
		TransactionType:  domain.TransactionTypeCapture,
		Status:           status,
		RiskScore:        payload.RiskScore,
		FailureReason:    failure,
		CreatedAt:        p.now().UTC(),
	}
	if charge != nil {
		tx.NetworkTransactionID = charge.NetworkTransactionID
		tx.AuthorizationCode = charge.AuthorizationCode
	}
	if status == domain.TransactionStatusCaptured {
		tx.ReceiptURL = fmt.Sprintf("%s/receipts/%s.pdf", p.receiptBase, tx.ID)
	}
	if err := p.repo.Create(ctx, tx); err != nil {
		p.log.Error().Err(err).Str("transaction_id", tx.ID.String()).Msg("recording transaction failed")
	}
	return tx
}

// payerID returns the response's payer name field, or "unknown" when it is
// empty.
func payerID(pmc *domain.PaymentMandateContents) string {
	if pmc.PaymentResponse.PayerName != "" {
		return pmc.PaymentResponse.PayerName
	}
	return "unknown"
}

func decodeAssertion(a *domain.WebAuthnAssertion) (crypto.AssertionInput, error) {
	authData, err := base64.RawURLEncoding.DecodeString(a.AuthenticatorData)
	if err != nil {
		return crypto.AssertionInput{}, apperror.Validation("authenticator_data is not base64url")
	}
	clientData, err := base64.RawURLEncoding.DecodeString(a.ClientDataJSON)
	if err != nil {
		return crypto.AssertionInput{}, apperror.Validation("client_data_json is not base64url")
	}
	sig, err := base64.RawURLEncoding.DecodeString(a.Signature)
	if err != nil {
		return crypto.AssertionInput{}, apperror.Validation("signature is not base64url")
	}
	return crypto.AssertionInput{
		AuthenticatorData: authData,
		ClientDataJSON:    clientData,
		Signature:         sig,
	}, nil
}
