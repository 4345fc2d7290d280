package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"ap2-payments/pkg/apperror"

	"github.com/fxamacker/cbor/v2"
)

// ClientData is the parsed clientDataJSON of a WebAuthn ceremony.
type ClientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// AuthenticatorData is the parsed fixed prefix of WebAuthn authenticator
// data: rpIdHash(32) || flags(1) || signCount(4, big-endian) || extensions.
type AuthenticatorData struct {
	RPIDHash  [32]byte
	Flags     byte
	SignCount uint32
	Raw       []byte
}

const (
	flagUserPresent  = 0x01
	flagUserVerified = 0x04
	flagAttestedCred = 0x40
)

// UserPresent reports the UP flag.
func (a *AuthenticatorData) UserPresent() bool { return a.Flags&flagUserPresent != 0 }

// UserVerified reports the UV flag.
func (a *AuthenticatorData) UserVerified() bool { return a.Flags&flagUserVerified != 0 }

// ParseClientData decodes clientDataJSON bytes.
func ParseClientData(raw []byte) (*ClientData, error) {
	var cd ClientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return nil, apperror.Validation(fmt.Sprintf("parsing clientDataJSON: %v", err))
	}
	return &cd, nil
}

// ParseAuthenticatorData decodes the authenticator data prefix.
func ParseAuthenticatorData(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < 37 {
		return nil, apperror.Validation("authenticator data too short")
	}
	ad := &AuthenticatorData{Raw: raw}
	copy(ad.RPIDHash[:], raw[:32])
	ad.Flags = raw[32]
	ad.SignCount = binary.BigEndian.Uint32(raw[33:37])
	return ad, nil
}

// coseEC2Key is a COSE_Key of type EC2 (kty=2). Map keys per RFC 9052:
// 1=kty, 3=alg, -1=crv, -2=x, -3=y.
type coseEC2Key struct {
	Kty int    `cbor:"1,keyasint"`
	Alg int    `cbor:"3,keyasint,omitempty"`
	Crv int    `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

// ParseCOSEPublicKey reconstructs a P-256 public key from a CBOR-encoded
// COSE_Key.
func ParseCOSEPublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	var key coseEC2Key
	if err := cbor.Unmarshal(raw, &key); err != nil {
		return nil, apperror.Validation(fmt.Sprintf("decoding COSE key: %v", err))
	}
	// kty 2 = EC2, crv 1 = P-256
	if key.Kty != 2 || key.Crv != 1 {
		return nil, apperror.Validation(fmt.Sprintf("unsupported COSE key kty=%d crv=%d", key.Kty, key.Crv))
	}
	if len(key.X) == 0 || len(key.Y) == 0 {
		return nil, apperror.Validation("COSE key missing x or y coordinate")
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(key.X),
		Y:     new(big.Int).SetBytes(key.Y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, apperror.Validation("COSE key point not on P-256")
	}
	return pub, nil
}

// attestationObject is the CBOR envelope sent at registration time.
type attestationObject struct {
	Fmt      string          `cbor:"fmt"`
	AttStmt  cbor.RawMessage `cbor:"attStmt"`
	AuthData []byte          `cbor:"authData"`
}

// RegisteredCredential is the outcome of parsing a registration
// attestation: the credential id, its COSE public key, and the initial
// sign counter.
type RegisteredCredential struct {
	CredentialID []byte
	COSEKey      []byte
	PublicKey    *ecdsa.PublicKey
	SignCount    uint32
}

// ParseAttestationObject extracts the attested credential from a
// registration ceremony's attestationObject.
func ParseAttestationObject(raw []byte) (*RegisteredCredential, error) {
	var att attestationObject
	if err := cbor.Unmarshal(raw, &att); err != nil {
		return nil, apperror.Validation(fmt.Sprintf("decoding attestationObject: %v", err))
	}
	ad, err := ParseAuthenticatorData(att.AuthData)
	if err != nil {
		return nil, err
	}
	if ad.Flags&flagAttestedCred == 0 {
		return nil, apperror.Validation("attestation carries no credential data")
	}
	// attestedCredentialData: aaguid(16) || credIdLen(2) || credId || COSE key
	rest := att.AuthData[37:]
	if len(rest) < 18 {
		return nil, apperror.Validation("attested credential data too short")
	}
	credLen := int(binary.BigEndian.Uint16(rest[16:18]))
	if len(rest) < 18+credLen {
		return nil, apperror.Validation("credential id truncated")
	}
	credID := rest[18 : 18+credLen]
	coseRaw := rest[18+credLen:]

	pub, err := ParseCOSEPublicKey(coseRaw)
	if err != nil {
		return nil, err
	}
	return &RegisteredCredential{
		CredentialID: credID,
		COSEKey:      coseRaw,
		PublicKey:    pub,
		SignCount:    ad.SignCount,
	}, nil
}

// AssertionInput is a decoded WebAuthn get() assertion ready to verify.
type AssertionInput struct {
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte // ASN.1 DER, as produced by authenticators
}

// VerifyAssertion checks a WebAuthn assertion: client data type and
// challenge, rp id hash, sign counter monotonicity, then the signature over
// authenticatorData || SHA256(clientDataJSON). It returns the assertion's
// sign count for the caller to persist.
func VerifyAssertion(pub *ecdsa.PublicKey, in AssertionInput, expectedChallenge string, rpID string, storedCount uint32) (uint32, error) {
	cd, err := ParseClientData(in.ClientDataJSON)
	if err != nil {
		return 0, err
	}
	if cd.Type != "webauthn.get" {
		return 0, apperror.ErrSignatureInvalid(fmt.Errorf("clientData type %q", cd.Type))
	}
	if expectedChallenge != "" &&
		subtle.ConstantTimeCompare([]byte(cd.Challenge), []byte(expectedChallenge)) != 1 {
		return 0, apperror.ErrChallengeMismatch()
	}

	ad, err := ParseAuthenticatorData(in.AuthenticatorData)
	if err != nil {
		return 0, err
	}
	if rpID != "" {
		want := sha256.Sum256([]byte(rpID))
		if subtle.ConstantTimeCompare(ad.RPIDHash[:], want[:]) != 1 {
			return 0, apperror.ErrSignatureInvalid(fmt.Errorf("rp id hash mismatch"))
		}
	}
	if storedCount > 0 && ad.SignCount > 0 && ad.SignCount < storedCount {
		return 0, apperror.ErrCounterRegression()
	}

	clientHash := sha256.Sum256(in.ClientDataJSON)
	signed := make([]byte, 0, len(in.AuthenticatorData)+32)
	signed = append(signed, in.AuthenticatorData...)
	signed = append(signed, clientHash[:]...)

	digest := sha256.Sum256(signed)
	if !ecdsa.VerifyASN1(pub, digest[:], in.Signature) {
		return 0, apperror.ErrSignatureInvalid(fmt.Errorf("webauthn assertion signature"))
	}
	return ad.SignCount, nil
}

// ECJWK is a P-256 public key in JWK form, as carried in the issuer JWT's
// cnf claim.
type ECJWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// JWKFromPublicKey converts a P-256 key to JWK form.
func JWKFromPublicKey(pub *ecdsa.PublicKey) ECJWK {
	x := make([]byte, 32)
	y := make([]byte, 32)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)
	return ECJWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	}
}

// PublicKeyFromJWK reconstructs the P-256 key from JWK form.
func PublicKeyFromJWK(jwk ECJWK) (*ecdsa.PublicKey, error) {
	if jwk.Kty != "EC" || jwk.Crv != "P-256" {
		return nil, apperror.Validation(fmt.Sprintf("unsupported JWK kty=%q crv=%q", jwk.Kty, jwk.Crv))
	}
	xb, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, apperror.Validation("JWK x is not base64url")
	}
	yb, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, apperror.Validation("JWK y is not base64url")
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xb),
		Y:     new(big.Int).SetBytes(yb),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, apperror.Validation("JWK point not on P-256")
	}
	return pub, nil
}
