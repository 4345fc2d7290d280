package crypto

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ap2-payments/pkg/apperror"

	"github.com/golang-jwt/jwt/v5"
)

// PaymentProcessorDID is the audience of key-binding JWTs.
const PaymentProcessorDID = "did:ap2:agent:payment_processor"

// IssuerJWTLifetime is exp - iat for the SD-JWT issuer JWT.
const IssuerJWTLifetime = 300 * time.Second

// FreshnessTolerance is the default clock-skew window for timestamp checks.
const FreshnessTolerance = 300 * time.Second

// cnfClaim carries the device public key inside the issuer JWT.
type cnfClaim struct {
	JWK ECJWK `json:"jwk"`
}

type issuerClaims struct {
	jwt.RegisteredClaims
	Cnf cnfClaim `json:"cnf"`
}

// KBPayload is the decoded key-binding JWT payload.
type KBPayload struct {
	Aud             string   `json:"aud"`
	Nonce           string   `json:"nonce"`
	IssuedAt        int64    `json:"iat"`
	SDHash          string   `json:"sd_hash"`
	TransactionData []string `json:"transaction_data"`
}

// UserAuthorizationInput gathers everything needed to assemble the
// SD-JWT+KB user_authorization: <issuer-jwt>~<kb-jwt>~.
type UserAuthorizationInput struct {
	UserDID     string
	UserKey     PrivateKey // signs the issuer JWT
	UserAlg     Algorithm
	DeviceJWK   ECJWK  // registered passkey public key, bound via cnf
	AssertionSig []byte // WebAuthn assertion signature, becomes the KB signature
	CartHash    string // base64url mandate hash of the signed CartMandate
	PaymentHash string // base64url mandate hash of PaymentMandateContents
	Nonce       string
	Audience    string // defaults to PaymentProcessorDID
}

// BuildUserAuthorization assembles the SD-JWT+KB string. This profile
// discloses no selective claims; the KB JWT binds the transaction hashes to
// the user's passkey, whose assertion signature rides in the KB signature
// slot so the verifier can reconstruct the signed input from the carried
// assertion.
func BuildUserAuthorization(in UserAuthorizationInput) (string, error) {
	if in.Audience == "" {
		in.Audience = PaymentProcessorDID
	}
	now := time.Now().UTC()

	claims := issuerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    in.UserDID,
			Subject:   in.UserDID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(IssuerJWTLifetime)),
			NotBefore: jwt.NewNumericDate(now),
		},
		Cnf: cnfClaim{JWK: in.DeviceJWK},
	}
	var method jwt.SigningMethod = jwt.SigningMethodES256
	if in.UserAlg == AlgEdDSA {
		method = jwt.SigningMethodEdDSA
	}
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = in.UserDID
	issuerJWT, err := token.SignedString(in.UserKey)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("signing issuer JWT: %w", err))
	}

	kbHeader := map[string]string{
		"alg": "ES256",
		"typ": "kb+jwt",
		"kid": in.UserDID,
	}
	kbPayload := KBPayload{
		Aud:             in.Audience,
		Nonce:           in.Nonce,
		IssuedAt:        now.Unix(),
		SDHash:          SHA256B64URL([]byte(issuerJWT)),
		TransactionData: []string{in.CartHash, in.PaymentHash},
	}
	headerB64, err := b64JSON(kbHeader)
	if err != nil {
		return "", err
	}
	payloadB64, err := b64JSON(kbPayload)
	if err != nil {
		return "", err
	}
	kbJWT := headerB64 + "." + payloadB64 + "." +
		base64.RawURLEncoding.EncodeToString(in.AssertionSig)

	return issuerJWT + "~" + kbJWT + "~", nil
}

// UserAuthorizationVerifier checks an SD-JWT+KB against the locally
// recomputed transaction hashes and the carried WebAuthn assertion.
type UserAuthorizationVerifier struct {
	resolver KeyResolver // optional; verifies the issuer JWT signature
	now      func() time.Time
}

// NewUserAuthorizationVerifier creates a verifier. resolver may be nil to
// skip issuer-JWT signature verification.
func NewUserAuthorizationVerifier(resolver KeyResolver) *UserAuthorizationVerifier {
	return &UserAuthorizationVerifier{resolver: resolver, now: time.Now}
}

// VerifyParams parameterizes a user_authorization verification.
type VerifyParams struct {
	SDJWT             string
	Assertion         AssertionInput
	ExpectedCartHash  string
	ExpectedPayment   string
	ExpectedNonce     string // "" skips the nonce equality check
	ExpectedChallenge string // "" skips the clientData challenge check
	RPID              string
	StoredSignCount   uint32
}

// Verify validates the SD-JWT+KB and the WebAuthn assertion. On success it
// returns the KB payload and the assertion's sign count.
func (v *UserAuthorizationVerifier) Verify(ctx context.Context, p VerifyParams) (*KBPayload, uint32, error) {
	parts := strings.Split(p.SDJWT, "~")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, 0, apperror.ErrSignatureInvalid(fmt.Errorf("malformed SD-JWT: %d parts", len(parts)))
	}
	issuerJWT, kbJWT := parts[0], parts[1]

	kbParts := strings.Split(kbJWT, ".")
	if len(kbParts) != 3 {
		return nil, 0, apperror.ErrSignatureInvalid(fmt.Errorf("malformed KB JWT"))
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(kbParts[1])
	if err != nil {
		return nil, 0, apperror.ErrSignatureInvalid(fmt.Errorf("decoding KB payload: %w", err))
	}
	var kb KBPayload
	if err := json.Unmarshal(payloadRaw, &kb); err != nil {
		return nil, 0, apperror.ErrSignatureInvalid(fmt.Errorf("parsing KB payload: %w", err))
	}

	if kb.Aud != PaymentProcessorDID {
		return nil, 0, apperror.ErrSignatureInvalid(fmt.Errorf("KB audience %q", kb.Aud))
	}
	if p.ExpectedNonce != "" &&
		subtle.ConstantTimeCompare([]byte(kb.Nonce), []byte(p.ExpectedNonce)) != 1 {
		return nil, 0, apperror.ErrChallengeMismatch()
	}
	now := v.now().UTC()
	iat := time.Unix(kb.IssuedAt, 0)
	if iat.After(now.Add(FreshnessTolerance)) || now.Sub(iat) > FreshnessTolerance {
		return nil, 0, apperror.ErrJWTExpired()
	}

	if subtle.ConstantTimeCompare([]byte(kb.SDHash), []byte(SHA256B64URL([]byte(issuerJWT)))) != 1 {
		return nil, 0, apperror.ErrHashMismatch()
	}
	if len(kb.TransactionData) != 2 {
		return nil, 0, apperror.ErrHashMismatch()
	}
	cartOK := subtle.ConstantTimeCompare([]byte(kb.TransactionData[0]), []byte(p.ExpectedCartHash)) == 1
	payOK := subtle.ConstantTimeCompare([]byte(kb.TransactionData[1]), []byte(p.ExpectedPayment)) == 1
	if !cartOK || !payOK {
		return nil, 0, apperror.ErrHashMismatch()
	}

	issuer, err := v.parseIssuerJWT(ctx, issuerJWT)
	if err != nil {
		return nil, 0, err
	}

	devicePub, err := PublicKeyFromJWK(issuer.Cnf.JWK)
	if err != nil {
		return nil, 0, err
	}
	count, err := VerifyAssertion(devicePub, p.Assertion, p.ExpectedChallenge, p.RPID, p.StoredSignCount)
	if err != nil {
		return nil, 0, err
	}
	return &kb, count, nil
}

func (v *UserAuthorizationVerifier) parseIssuerJWT(ctx context.Context, issuerJWT string) (*issuerClaims, error) {
	claims := &issuerClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"ES256", "EdDSA"}),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	if v.resolver != nil {
		token, err := parser.ParseWithClaims(issuerJWT, claims, func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("missing kid header")
			}
			return v.resolver.ResolvePublicKey(ctx, kid)
		})
		if err != nil {
			return nil, apperror.ErrSignatureInvalid(fmt.Errorf("issuer JWT: %w", err))
		}
		if !token.Valid {
			return nil, apperror.ErrSignatureInvalid(fmt.Errorf("issuer JWT not valid"))
		}
		return claims, nil
	}

	// Unverified parse: the device key in cnf is still checked against the
	// assertion signature, which is the binding that matters here.
	if _, _, err := parser.ParseUnverified(issuerJWT, claims); err != nil {
		return nil, apperror.ErrSignatureInvalid(fmt.Errorf("issuer JWT: %w", err))
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(v.now()) {
		return nil, apperror.ErrJWTExpired()
	}
	return claims, nil
}

func b64JSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", apperror.InternalError(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
