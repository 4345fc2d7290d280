// Package cryptotest provides a software WebAuthn authenticator for tests.
package cryptotest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"ap2-payments/internal/crypto"

	"github.com/fxamacker/cbor/v2"
)

// Authenticator simulates a platform passkey: it holds a P-256 device key,
// emits registration attestations and get() assertions, and keeps a sign
// counter.
type Authenticator struct {
	Key          *ecdsa.PrivateKey
	RPID         string
	CredentialID []byte
	SignCount    uint32
}

// New creates an authenticator bound to rpID.
func New(rpID string) *Authenticator {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("cryptotest: generating device key: %v", err))
	}
	credID := make([]byte, 16)
	if _, err := rand.Read(credID); err != nil {
		panic(fmt.Sprintf("cryptotest: generating credential id: %v", err))
	}
	return &Authenticator{Key: key, RPID: rpID, CredentialID: credID}
}

// JWK returns the device public key in JWK form.
func (a *Authenticator) JWK() crypto.ECJWK {
	return crypto.JWKFromPublicKey(&a.Key.PublicKey)
}

// COSEKey returns the device public key as a CBOR COSE_Key.
func (a *Authenticator) COSEKey() []byte {
	x := make([]byte, 32)
	y := make([]byte, 32)
	a.Key.PublicKey.X.FillBytes(x)
	a.Key.PublicKey.Y.FillBytes(y)
	key := map[int]any{
		1:  2,  // kty: EC2
		3:  -7, // alg: ES256
		-1: 1,  // crv: P-256
		-2: x,
		-3: y,
	}
	raw, err := cbor.Marshal(key)
	if err != nil {
		panic(fmt.Sprintf("cryptotest: encoding COSE key: %v", err))
	}
	return raw
}

func (a *Authenticator) authData(flags byte, withCredential bool) []byte {
	rpHash := sha256.Sum256([]byte(a.RPID))
	buf := make([]byte, 0, 64)
	buf = append(buf, rpHash[:]...)
	buf = append(buf, flags)
	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, a.SignCount)
	buf = append(buf, count...)
	if withCredential {
		aaguid := make([]byte, 16)
		buf = append(buf, aaguid...)
		credLen := make([]byte, 2)
		binary.BigEndian.PutUint16(credLen, uint16(len(a.CredentialID)))
		buf = append(buf, credLen...)
		buf = append(buf, a.CredentialID...)
		buf = append(buf, a.COSEKey()...)
	}
	return buf
}

// AttestationObject returns a CBOR attestationObject for registration
// (fmt "none").
func (a *Authenticator) AttestationObject() []byte {
	obj := map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": a.authData(0x45, true), // UP | UV | AT
	}
	raw, err := cbor.Marshal(obj)
	if err != nil {
		panic(fmt.Sprintf("cryptotest: encoding attestationObject: %v", err))
	}
	return raw
}

// Register performs a create() ceremony over challenge, returning the
// base64url attestationObject and clientDataJSON a registration endpoint
// expects.
func (a *Authenticator) Register(challenge string) (attestationObjectB64, clientDataJSONB64 string) {
	clientData, err := json.Marshal(map[string]string{
		"type":      "webauthn.create",
		"challenge": challenge,
		"origin":    "https://" + a.RPID,
	})
	if err != nil {
		panic(fmt.Sprintf("cryptotest: encoding clientData: %v", err))
	}
	return B64(a.AttestationObject()), B64(clientData)
}

// Assert performs a get() ceremony over challenge, incrementing the sign
// counter, and returns the pieces a verifier needs.
func (a *Authenticator) Assert(challenge string) crypto.AssertionInput {
	a.SignCount++
	authData := a.authData(0x05, false) // UP | UV

	clientData, err := json.Marshal(map[string]string{
		"type":      "webauthn.get",
		"challenge": challenge,
		"origin":    "https://" + a.RPID,
	})
	if err != nil {
		panic(fmt.Sprintf("cryptotest: encoding clientData: %v", err))
	}

	clientHash := sha256.Sum256(clientData)
	signed := append(append([]byte{}, authData...), clientHash[:]...)
	digest := sha256.Sum256(signed)
	sig, err := ecdsa.SignASN1(rand.Reader, a.Key, digest[:])
	if err != nil {
		panic(fmt.Sprintf("cryptotest: signing assertion: %v", err))
	}

	return crypto.AssertionInput{
		AuthenticatorData: authData,
		ClientDataJSON:    clientData,
		Signature:         sig,
	}
}

// B64 encodes bytes the way assertions travel on the wire.
func B64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
