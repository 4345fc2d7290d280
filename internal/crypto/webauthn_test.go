package crypto_test

import (
	"errors"
	"testing"

	"ap2-payments/internal/crypto"
	"ap2-payments/internal/crypto/cryptotest"
	"ap2-payments/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttestationObject(t *testing.T) {
	auth := cryptotest.New("credential-provider.local")

	cred, err := crypto.ParseAttestationObject(auth.AttestationObject())
	require.NoError(t, err)

	assert.Equal(t, auth.CredentialID, cred.CredentialID)
	assert.Equal(t, 0, auth.Key.PublicKey.X.Cmp(cred.PublicKey.X))
	assert.Equal(t, 0, auth.Key.PublicKey.Y.Cmp(cred.PublicKey.Y))
}

func TestParseCOSEPublicKey_RejectsWrongCurve(t *testing.T) {
	_, err := crypto.ParseCOSEPublicKey([]byte{0xa1, 0x01, 0x01}) // {1: 1} — kty OKP
	require.Error(t, err)
}

func TestVerifyAssertion_HappyPath(t *testing.T) {
	auth := cryptotest.New("credential-provider.local")
	in := auth.Assert("challenge-abc")

	count, err := crypto.VerifyAssertion(&auth.Key.PublicKey, in, "challenge-abc", "credential-provider.local", 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), count)
}

func TestVerifyAssertion_ChallengeMismatch(t *testing.T) {
	auth := cryptotest.New("rp.local")
	in := auth.Assert("issued-challenge")

	_, err := crypto.VerifyAssertion(&auth.Key.PublicKey, in, "different-challenge", "rp.local", 0)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "ChallengeMismatch", appErr.Code)
}

func TestVerifyAssertion_RPIDMismatch(t *testing.T) {
	auth := cryptotest.New("rp.local")
	in := auth.Assert("ch")

	_, err := crypto.VerifyAssertion(&auth.Key.PublicKey, in, "ch", "other-rp.local", 0)
	require.Error(t, err)
}

func TestVerifyAssertion_CounterRegression(t *testing.T) {
	// P7: sign_count below the stored counter is rejected.
	auth := cryptotest.New("rp.local")
	old := auth.Assert("ch-1") // count 1
	_ = auth.Assert("ch-2")    // count 2

	_, err := crypto.VerifyAssertion(&auth.Key.PublicKey, old, "ch-1", "rp.local", 2)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CounterRegression", appErr.Code)
	assert.Equal(t, apperror.KindAuthentication, appErr.Kind)
}

func TestVerifyAssertion_CounterAdvances(t *testing.T) {
	auth := cryptotest.New("rp.local")
	_ = auth.Assert("ch-1")
	in := auth.Assert("ch-2")

	count, err := crypto.VerifyAssertion(&auth.Key.PublicKey, in, "ch-2", "rp.local", 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), count)
}

func TestVerifyAssertion_WrongKey(t *testing.T) {
	auth := cryptotest.New("rp.local")
	other := cryptotest.New("rp.local")
	in := auth.Assert("ch")

	_, err := crypto.VerifyAssertion(&other.Key.PublicKey, in, "ch", "rp.local", 0)
	require.Error(t, err)
}

func TestJWK_RoundTrip(t *testing.T) {
	auth := cryptotest.New("rp.local")
	jwk := auth.JWK()

	assert.Equal(t, "EC", jwk.Kty)
	assert.Equal(t, "P-256", jwk.Crv)

	pub, err := crypto.PublicKeyFromJWK(jwk)
	require.NoError(t, err)
	assert.Equal(t, 0, auth.Key.PublicKey.X.Cmp(pub.X))
}
