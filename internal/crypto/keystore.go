package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ap2-payments/pkg/apperror"

	"golang.org/x/crypto/pbkdf2"
)

// Algorithm selects the signing algorithm for a key or JWT.
type Algorithm string

const (
	AlgES256 Algorithm = "ES256" // ECDSA P-256
	AlgEdDSA Algorithm = "EdDSA" // Ed25519
)

// KeyFragment returns the DID verification-method fragment conventionally
// used for this algorithm.
func (a Algorithm) KeyFragment() string {
	if a == AlgEdDSA {
		return "#key-2"
	}
	return "#key-1"
}

const (
	pbkdf2Iterations = 600_000
	saltLen          = 16
	nonceLen         = 12
	tagLen           = 16
	pemType          = "AP2 ENCRYPTED PRIVATE KEY"
)

// KeyStore holds one service identity's long-lived key pairs, encrypted at
// rest with a passphrase-derived AES-256-GCM key. The on-disk blob layout is
// salt(16) || nonce(12) || tag(16) || ciphertext.
type KeyStore struct {
	dir        string
	passphrase string
}

// NewKeyStore creates a key store rooted at dir.
func NewKeyStore(dir string, passphrase string) *KeyStore {
	return &KeyStore{dir: dir, passphrase: passphrase}
}

func keyFileName(name string, alg Algorithm) string {
	base := strings.NewReplacer(":", "_", "/", "_").Replace(name)
	if alg == AlgEdDSA {
		return base + "_ed25519_private.pem"
	}
	return base + "_private.pem"
}

func (ks *KeyStore) path(name string, alg Algorithm) string {
	return filepath.Join(ks.dir, keyFileName(name, alg))
}

// Generate creates a new key pair for name, seals it to disk, and returns
// the private key.
func (ks *KeyStore) Generate(name string, alg Algorithm) (PrivateKey, error) {
	var (
		priv PrivateKey
		err  error
	)
	switch alg {
	case AlgES256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case AlgEdDSA:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	default:
		return nil, apperror.Validation(fmt.Sprintf("unsupported algorithm %q", alg))
	}
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generating %s key: %w", alg, err))
	}
	if err := ks.store(name, alg, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

// Load reads and unseals the private key for name. It fails with
// KeyNotFound when absent and WrongPassphrase when the seal does not open.
func (ks *KeyStore) Load(name string, alg Algorithm) (PrivateKey, error) {
	data, err := os.ReadFile(ks.path(name, alg))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperror.ErrKeyNotFound(name)
		}
		return nil, apperror.InternalError(err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemType {
		return nil, apperror.Validation("key file is not an AP2 sealed key")
	}
	der, err := openBlob(block.Bytes, ks.passphrase)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("parsing PKCS#8: %w", err))
	}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		if alg != AlgES256 {
			return nil, apperror.Validation("stored key algorithm mismatch")
		}
		return k, nil
	case ed25519.PrivateKey:
		if alg != AlgEdDSA {
			return nil, apperror.Validation("stored key algorithm mismatch")
		}
		return k, nil
	default:
		return nil, apperror.Validation("stored key has unsupported type")
	}
}

// LoadOrGenerate loads an existing key or generates one when missing.
func (ks *KeyStore) LoadOrGenerate(name string, alg Algorithm) (PrivateKey, error) {
	key, err := ks.Load(name, alg)
	if err == nil {
		return key, nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Code == "KeyNotFound" {
		return ks.Generate(name, alg)
	}
	return nil, err
}

func (ks *KeyStore) store(name string, alg Algorithm, priv PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return apperror.InternalError(err)
	}
	blob, err := sealBlob(der, ks.passphrase)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(ks.dir, 0o700); err != nil {
		return apperror.InternalError(err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: blob})
	if err := os.WriteFile(ks.path(name, alg), out, 0o600); err != nil {
		return apperror.InternalError(err)
	}
	return nil
}

// sealBlob encrypts der under a PBKDF2-derived key and packs
// salt || nonce || tag || ciphertext.
func sealBlob(der []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, apperror.InternalError(err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperror.InternalError(err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	// Seal appends the tag after the ciphertext; the blob layout wants the
	// tag first.
	sealed := aead.Seal(nil, nonce, der, nil)
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	blob := make([]byte, 0, saltLen+nonceLen+tagLen+len(ct))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return blob, nil
}

func openBlob(blob []byte, passphrase string) ([]byte, error) {
	if len(blob) < saltLen+nonceLen+tagLen {
		return nil, apperror.Validation("sealed key blob too short")
	}
	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+nonceLen]
	tag := blob[saltLen+nonceLen : saltLen+nonceLen+tagLen]
	ct := blob[saltLen+nonceLen+tagLen:]

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	der, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperror.ErrWrongPassphrase()
	}
	return der, nil
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return aead, nil
}
