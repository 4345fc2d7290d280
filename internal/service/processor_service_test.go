package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"ap2-payments/internal/core/domain"
	"ap2-payments/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalPayload builds a payload that passes structural validation and
// nothing else.
func minimalPayload(now time.Time) *domain.PaymentMandatePayload {
	cart := testCart(now)
	cart.MerchantAuthorization = "h.p.s"
	return &domain.PaymentMandatePayload{
		PaymentMandate: domain.PaymentMandate{
			PaymentMandateContents: domain.PaymentMandateContents{
				PaymentMandateID:    "pm_unit",
				PaymentDetailsID:    "details_1",
				PaymentDetailsTotal: cart.Contents.PaymentRequest.Details.Total,
				PaymentResponse: domain.PaymentResponse{
					MethodName: "card",
					Details:    domain.TokenizedCard{CardBrand: "visa", Token: "pmt_x", Tokenized: true},
					PayerName:  "user_alice",
				},
				MerchantAgent: testMerchantDID,
				Timestamp:     now.Format(time.RFC3339),
			},
			References:        domain.MandateReferences{CartMandateID: cart.Contents.ID},
			UserAuthorization: "issuer~kb~",
		},
		CartMandate: *cart,
		WebAuthnAssertion: &domain.WebAuthnAssertion{
			CredentialID:      "cred",
			ClientDataJSON:    "e30",
			AuthenticatorData: "AAAA",
			Signature:         "AAAA",
		},
	}
}

func unitProcessor(t *testing.T) *ProcessorService {
	t.Helper()
	h := newHarness(t)
	return h.processor.svc
}

func TestProcessor_RejectsMissingUserAuthorization(t *testing.T) {
	p := unitProcessor(t)
	payload := minimalPayload(time.Now().UTC())
	payload.PaymentMandate.UserAuthorization = ""

	_, err := p.Process(context.Background(), payload)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindValidation, appErr.Kind)
}

func TestProcessor_RejectsUnsignedCart(t *testing.T) {
	p := unitProcessor(t)
	payload := minimalPayload(time.Now().UTC())
	payload.CartMandate.MerchantAuthorization = ""

	_, err := p.Process(context.Background(), payload)
	require.Error(t, err)
}

func TestProcessor_RejectsNonTokenizedMethod(t *testing.T) {
	// PCI DSS 3.2.2: nothing that is not a token crosses this boundary.
	p := unitProcessor(t)
	payload := minimalPayload(time.Now().UTC())
	payload.PaymentMandate.PaymentMandateContents.PaymentResponse.Details =
		domain.TokenizedCard{CardBrand: "visa", Tokenized: false}

	_, err := p.Process(context.Background(), payload)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindValidation, appErr.Kind)
}

func TestProcessor_RejectsBrokenChainReference(t *testing.T) {
	p := unitProcessor(t)
	payload := minimalPayload(time.Now().UTC())
	payload.PaymentMandate.References.CartMandateID = "cart_other"

	_, err := p.Process(context.Background(), payload)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindAuthorization, appErr.Kind)
}

func TestProcessor_RejectsExpiredCart(t *testing.T) {
	p := unitProcessor(t)
	now := time.Now().UTC()
	payload := minimalPayload(now)
	payload.CartMandate.Contents.CartExpiry = now.Add(-time.Minute).Format(time.RFC3339)

	_, err := p.Process(context.Background(), payload)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindAuthorization, appErr.Kind)
}

func TestProcessor_GetTransactionNotFound(t *testing.T) {
	p := unitProcessor(t)
	_, err := p.GetTransaction(context.Background(), [16]byte{1})
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindNotFound, appErr.Kind)
}

func TestProcessor_RefundUnknownTransaction(t *testing.T) {
	p := unitProcessor(t)
	_, err := p.Refund(context.Background(), [16]byte{2}, nil)
	require.Error(t, err)
}
