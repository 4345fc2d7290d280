package crypto

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"

	"ap2-payments/pkg/apperror"
)

// PrivateKey and PublicKey alias the standard library's opaque key types.
type (
	PrivateKey = stdcrypto.PrivateKey
	PublicKey  = stdcrypto.PublicKey
)

// Signature is the proof attached to A2A messages and mandate envelopes.
// Value is the base64url-encoded raw signature: R||S (64 bytes) for ES256,
// 64 bytes for Ed25519.
type Signature struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key,omitempty"`
	Value     string `json:"value"`
}

// Signer binds a private key to its DID key id.
type Signer struct {
	alg   Algorithm
	keyID string
	key   PrivateKey
}

// NewSigner wraps a loaded private key. keyID is the full DID fragment form
// (did:ap2:...#key-1).
func NewSigner(key PrivateKey, alg Algorithm, keyID string) *Signer {
	return &Signer{alg: alg, keyID: keyID, key: key}
}

// Algorithm returns the signer's algorithm.
func (s *Signer) Algorithm() Algorithm { return s.alg }

// KeyID returns the signer's DID key id.
func (s *Signer) KeyID() string { return s.keyID }

// Key exposes the underlying private key for JWT construction.
func (s *Signer) Key() PrivateKey { return s.key }

// Public returns the corresponding public key.
func (s *Signer) Public() PublicKey {
	switch k := s.key.(type) {
	case *ecdsa.PrivateKey:
		return &k.PublicKey
	case ed25519.PrivateKey:
		return k.Public()
	default:
		return nil
	}
}

// Sign signs data and returns the structured signature. ECDSA signatures
// are serialized as raw R||S, not DER.
func (s *Signer) Sign(data []byte) (*Signature, error) {
	raw, err := SignRaw(s.key, s.alg, data)
	if err != nil {
		return nil, err
	}
	pubPEM, err := PublicKeyPEM(s.Public())
	if err != nil {
		return nil, err
	}
	return &Signature{
		Algorithm: string(s.alg),
		KeyID:     s.keyID,
		PublicKey: pubPEM,
		Value:     base64.RawURLEncoding.EncodeToString(raw),
	}, nil
}

// SignRaw produces the raw signature bytes for data.
func SignRaw(key PrivateKey, alg Algorithm, data []byte) ([]byte, error) {
	switch alg {
	case AlgES256:
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, apperror.Validation("ES256 requires an ECDSA P-256 key")
		}
		digest := sha256.Sum256(data)
		r, sVal, err := ecdsa.Sign(rand.Reader, ecKey, digest[:])
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		out := make([]byte, 64)
		r.FillBytes(out[:32])
		sVal.FillBytes(out[32:])
		return out, nil
	case AlgEdDSA:
		edKey, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, apperror.Validation("EdDSA requires an Ed25519 key")
		}
		return ed25519.Sign(edKey, data), nil
	default:
		return nil, apperror.Validation(fmt.Sprintf("unsupported algorithm %q", alg))
	}
}

// VerifyRaw checks a raw signature over data against a public key.
func VerifyRaw(pub PublicKey, alg Algorithm, data []byte, sig []byte) error {
	switch alg {
	case AlgES256:
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return apperror.ErrSignatureInvalid(fmt.Errorf("ES256 key type %T", pub))
		}
		if len(sig) != 64 {
			return apperror.ErrSignatureInvalid(fmt.Errorf("ES256 signature length %d, want 64", len(sig)))
		}
		r := new(big.Int).SetBytes(sig[:32])
		sVal := new(big.Int).SetBytes(sig[32:])
		digest := sha256.Sum256(data)
		if !ecdsa.Verify(ecPub, digest[:], r, sVal) {
			return apperror.ErrSignatureInvalid(fmt.Errorf("ecdsa verification failed"))
		}
		return nil
	case AlgEdDSA:
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return apperror.ErrSignatureInvalid(fmt.Errorf("EdDSA key type %T", pub))
		}
		if !ed25519.Verify(edPub, data, sig) {
			return apperror.ErrSignatureInvalid(fmt.Errorf("ed25519 verification failed"))
		}
		return nil
	default:
		return apperror.ErrSignatureInvalid(fmt.Errorf("unsupported algorithm %q", alg))
	}
}

// VerifySignature checks a structured Signature over data.
func VerifySignature(pub PublicKey, sig *Signature, data []byte) error {
	if sig == nil {
		return apperror.ErrSignatureInvalid(fmt.Errorf("missing signature"))
	}
	raw, err := base64.RawURLEncoding.DecodeString(sig.Value)
	if err != nil {
		return apperror.ErrSignatureInvalid(fmt.Errorf("decoding signature: %w", err))
	}
	return VerifyRaw(pub, Algorithm(sig.Algorithm), data, raw)
}

// PublicKeyPEM encodes a public key as a PKIX PEM string.
func PublicKeyPEM(pub PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", apperror.InternalError(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM decodes a PKIX PEM public key.
func ParsePublicKeyPEM(s string) (PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, apperror.Validation("not a PEM public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("parsing public key: %v", err))
	}
	return pub, nil
}
