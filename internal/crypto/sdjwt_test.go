package crypto_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"ap2-payments/internal/crypto"
	"ap2-payments/internal/crypto/cryptotest"
	"ap2-payments/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRPID = "credential-provider.local"

func buildTestAuthorization(t *testing.T, auth *cryptotest.Authenticator, cartHash, paymentHash, nonce, challenge string) (string, crypto.AssertionInput) {
	t.Helper()
	userKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	assertion := auth.Assert(challenge)
	sdjwt, err := crypto.BuildUserAuthorization(crypto.UserAuthorizationInput{
		UserDID:      "did:ap2:user:alice",
		UserKey:      userKey,
		UserAlg:      crypto.AlgES256,
		DeviceJWK:    auth.JWK(),
		AssertionSig: assertion.Signature,
		CartHash:     cartHash,
		PaymentHash:  paymentHash,
		Nonce:        nonce,
	})
	require.NoError(t, err)
	return sdjwt, assertion
}

func TestUserAuthorization_Format(t *testing.T) {
	auth := cryptotest.New(testRPID)
	sdjwt, _ := buildTestAuthorization(t, auth, "cartH", "payH", "nonce-1", "ch-1")

	// <issuer-jwt>~<kb-jwt>~
	assert.True(t, strings.HasSuffix(sdjwt, "~"))
	parts := strings.Split(sdjwt, "~")
	require.Len(t, parts, 3)
	assert.Len(t, strings.Split(parts[0], "."), 3)
	assert.Len(t, strings.Split(parts[1], "."), 3)
	assert.Empty(t, parts[2])
}

func TestUserAuthorization_VerifyHappyPath(t *testing.T) {
	// P2: transaction_data equals [cart_hash, payment_hash].
	auth := cryptotest.New(testRPID)
	cartHash := crypto.SHA256B64URL([]byte("cart"))
	paymentHash := crypto.SHA256B64URL([]byte("payment"))
	sdjwt, assertion := buildTestAuthorization(t, auth, cartHash, paymentHash, "nonce-1", "ch-1")

	verifier := crypto.NewUserAuthorizationVerifier(nil)
	kb, count, err := verifier.Verify(context.Background(), crypto.VerifyParams{
		SDJWT:             sdjwt,
		Assertion:         assertion,
		ExpectedCartHash:  cartHash,
		ExpectedPayment:   paymentHash,
		ExpectedNonce:     "nonce-1",
		ExpectedChallenge: "ch-1",
		RPID:              testRPID,
	})
	require.NoError(t, err)

	assert.Equal(t, crypto.PaymentProcessorDID, kb.Aud)
	assert.Equal(t, []string{cartHash, paymentHash}, kb.TransactionData)
	assert.Equal(t, uint32(1), count)
}

func TestUserAuthorization_HashMismatch(t *testing.T) {
	auth := cryptotest.New(testRPID)
	cartHash := crypto.SHA256B64URL([]byte("cart"))
	paymentHash := crypto.SHA256B64URL([]byte("payment"))
	sdjwt, assertion := buildTestAuthorization(t, auth, cartHash, paymentHash, "n", "ch")

	verifier := crypto.NewUserAuthorizationVerifier(nil)
	_, _, err := verifier.Verify(context.Background(), crypto.VerifyParams{
		SDJWT:            sdjwt,
		Assertion:        assertion,
		ExpectedCartHash: crypto.SHA256B64URL([]byte("tampered cart")),
		ExpectedPayment:  paymentHash,
	})

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "HashMismatch", appErr.Code)
}

func TestUserAuthorization_SDHashBindsIssuerJWT(t *testing.T) {
	auth := cryptotest.New(testRPID)
	cartHash := crypto.SHA256B64URL([]byte("cart"))
	paymentHash := crypto.SHA256B64URL([]byte("payment"))
	sdjwt, assertion := buildTestAuthorization(t, auth, cartHash, paymentHash, "n", "ch")

	// Swap the issuer JWT for another one; sd_hash must catch it.
	other, _ := buildTestAuthorization(t, auth, cartHash, paymentHash, "n", "ch")
	parts := strings.Split(sdjwt, "~")
	otherParts := strings.Split(other, "~")
	forged := otherParts[0] + "~" + parts[1] + "~"

	verifier := crypto.NewUserAuthorizationVerifier(nil)
	_, _, err := verifier.Verify(context.Background(), crypto.VerifyParams{
		SDJWT:            forged,
		Assertion:        assertion,
		ExpectedCartHash: cartHash,
		ExpectedPayment:  paymentHash,
	})
	require.Error(t, err)
}

func TestUserAuthorization_NonceMismatch(t *testing.T) {
	auth := cryptotest.New(testRPID)
	cartHash := crypto.SHA256B64URL([]byte("cart"))
	paymentHash := crypto.SHA256B64URL([]byte("payment"))
	sdjwt, assertion := buildTestAuthorization(t, auth, cartHash, paymentHash, "nonce-issued", "ch")

	verifier := crypto.NewUserAuthorizationVerifier(nil)
	_, _, err := verifier.Verify(context.Background(), crypto.VerifyParams{
		SDJWT:            sdjwt,
		Assertion:        assertion,
		ExpectedCartHash: cartHash,
		ExpectedPayment:  paymentHash,
		ExpectedNonce:    "nonce-expected",
	})

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "ChallengeMismatch", appErr.Code)
}

func TestUserAuthorization_CounterRegression(t *testing.T) {
	auth := cryptotest.New(testRPID)
	cartHash := crypto.SHA256B64URL([]byte("cart"))
	paymentHash := crypto.SHA256B64URL([]byte("payment"))
	sdjwt, assertion := buildTestAuthorization(t, auth, cartHash, paymentHash, "n", "ch")

	verifier := crypto.NewUserAuthorizationVerifier(nil)
	_, _, err := verifier.Verify(context.Background(), crypto.VerifyParams{
		SDJWT:            sdjwt,
		Assertion:        assertion,
		ExpectedCartHash: cartHash,
		ExpectedPayment:  paymentHash,
		RPID:             testRPID,
		StoredSignCount:  10,
	})

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CounterRegression", appErr.Code)
}

func TestUserAuthorization_MalformedRejected(t *testing.T) {
	verifier := crypto.NewUserAuthorizationVerifier(nil)
	_, _, err := verifier.Verify(context.Background(), crypto.VerifyParams{SDJWT: "garbage"})
	require.Error(t, err)
}
