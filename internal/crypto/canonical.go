package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"ap2-payments/pkg/apperror"

	"github.com/gowebpki/jcs"
)

// SignatureFields are removed from a mandate before canonicalization so the
// pre- and post-signature hashes coincide.
var SignatureFields = []string{
	"merchant_signature",
	"merchant_authorization",
	"user_authorization",
}

// Canonicalize returns the RFC 8785 (JCS) canonical form of v.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, apperror.ErrCanonicalization(err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, apperror.ErrCanonicalization(err)
	}
	return out, nil
}

// CanonicalizeMandate canonicalizes v with the signature-bearing top-level
// fields removed.
func CanonicalizeMandate(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, apperror.ErrCanonicalization(err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperror.ErrCanonicalization(err)
	}
	for _, f := range SignatureFields {
		delete(m, f)
	}
	stripped, err := json.Marshal(m)
	if err != nil {
		return nil, apperror.ErrCanonicalization(err)
	}
	out, err := jcs.Transform(stripped)
	if err != nil {
		return nil, apperror.ErrCanonicalization(err)
	}
	return out, nil
}

// MandateHashHex returns SHA256(RFC8785(v \ signature fields)) in lowercase
// hex, the form used where a hash is exchanged as data.
func MandateHashHex(v any) (string, error) {
	canonical, err := CanonicalizeMandate(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// MandateHashB64 returns the same digest base64url-encoded without padding,
// the form carried in JWT claims.
func MandateHashB64(v any) (string, error) {
	canonical, err := CanonicalizeMandate(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// SHA256B64URL returns the base64url (no padding) SHA-256 of data.
func SHA256B64URL(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
