package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newES256Signer(t *testing.T) *Signer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return NewSigner(key, AlgES256, "did:ap2:agent:test#key-1")
}

func TestSigner_ES256_RawRS(t *testing.T) {
	s := newES256Signer(t)
	data := []byte("canonical bytes")

	sig, err := s.Sign(data)
	require.NoError(t, err)

	assert.Equal(t, "ES256", sig.Algorithm)
	assert.Equal(t, "did:ap2:agent:test#key-1", sig.KeyID)

	raw, err := base64.RawURLEncoding.DecodeString(sig.Value)
	require.NoError(t, err)
	assert.Len(t, raw, 64, "ES256 signatures are raw R||S, not DER")

	require.NoError(t, VerifySignature(s.Public(), sig, data))
}

func TestSigner_ES256_TamperedData(t *testing.T) {
	s := newES256Signer(t)
	sig, err := s.Sign([]byte("original"))
	require.NoError(t, err)

	err = VerifySignature(s.Public(), sig, []byte("tampered"))
	require.Error(t, err)
}

func TestSigner_EdDSA(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s := NewSigner(priv, AlgEdDSA, "did:ap2:user:alice#key-2")

	data := []byte("payload")
	sig, err := s.Sign(data)
	require.NoError(t, err)
	assert.Equal(t, "EdDSA", sig.Algorithm)

	require.NoError(t, VerifySignature(s.Public(), sig, data))
	require.Error(t, VerifySignature(s.Public(), sig, []byte("other")))
}

func TestVerifyRaw_WrongLengthES256(t *testing.T) {
	s := newES256Signer(t)
	err := VerifyRaw(s.Public(), AlgES256, []byte("data"), make([]byte, 70))
	require.Error(t, err)
}

func TestPublicKeyPEM_RoundTrip(t *testing.T) {
	s := newES256Signer(t)

	pemStr, err := PublicKeyPEM(s.Public())
	require.NoError(t, err)
	assert.Contains(t, pemStr, "BEGIN PUBLIC KEY")

	parsed, err := ParsePublicKeyPEM(pemStr)
	require.NoError(t, err)

	orig := s.Public().(*ecdsa.PublicKey)
	got := parsed.(*ecdsa.PublicKey)
	assert.Equal(t, 0, orig.X.Cmp(got.X))
	assert.Equal(t, 0, orig.Y.Cmp(got.Y))
}

func TestSignature_CrossKeyRejected(t *testing.T) {
	a := newES256Signer(t)
	b := newES256Signer(t)

	sig, err := a.Sign([]byte("data"))
	require.NoError(t, err)
	require.Error(t, VerifySignature(b.Public(), sig, []byte("data")))
}
