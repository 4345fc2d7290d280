package crypto

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"ap2-payments/internal/core/ports"
	"ap2-payments/pkg/apperror"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MerchantJWTAudience is the fixed audience of merchant authorization JWTs.
const MerchantJWTAudience = "payment_processor"

// MerchantJWTLifetime is exp - iat for merchant authorization JWTs.
const MerchantJWTLifetime = time.Hour

// KeyResolver resolves a DID key id (did:...#fragment) to a public key.
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, kid string) (PublicKey, error)
}

// MerchantClaims is the payload of a merchant authorization JWT.
type MerchantClaims struct {
	jwt.RegisteredClaims
	CartHash string `json:"cart_hash"`
}

// MerchantJWTIssuer builds merchant_authorization JWTs over cart hashes.
type MerchantJWTIssuer struct {
	signer *Signer
	issuer string
	now    func() time.Time
}

// NewMerchantJWTIssuer creates an issuer for the merchant identified by
// merchantDID, signing with the given signer.
func NewMerchantJWTIssuer(signer *Signer, merchantDID string) *MerchantJWTIssuer {
	return &MerchantJWTIssuer{signer: signer, issuer: merchantDID, now: time.Now}
}

// Issue produces the compact JWT binding cartHashB64 (base64url, unpadded)
// to this merchant.
func (i *MerchantJWTIssuer) Issue(cartHashB64 string) (string, error) {
	now := i.now().UTC()
	claims := MerchantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   i.issuer,
			Audience:  jwt.ClaimStrings{MerchantJWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(MerchantJWTLifetime)),
			ID:        uuid.NewString(),
		},
		CartHash: cartHashB64,
	}

	var method jwt.SigningMethod = jwt.SigningMethodES256
	if i.signer.Algorithm() == AlgEdDSA {
		method = jwt.SigningMethodEdDSA
	}
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = i.issuer + i.signer.Algorithm().KeyFragment()

	signed, err := token.SignedString(i.signer.Key())
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("signing merchant JWT: %w", err))
	}
	return signed, nil
}

// MerchantJWTVerifier verifies merchant authorization JWTs against a cart
// hash, with jti replay protection.
type MerchantJWTVerifier struct {
	resolver KeyResolver
	replay   ports.ReplayStore
	now      func() time.Time
}

// NewMerchantJWTVerifier creates a verifier. replay may be nil to skip jti
// tracking (tests only).
func NewMerchantJWTVerifier(resolver KeyResolver, replay ports.ReplayStore) *MerchantJWTVerifier {
	return &MerchantJWTVerifier{resolver: resolver, replay: replay, now: time.Now}
}

// Verify parses and validates tokenString against the expected cart hash
// (base64url). It returns the verified claims.
func (v *MerchantJWTVerifier) Verify(ctx context.Context, tokenString string, expectedCartHash string) (*MerchantClaims, error) {
	claims := &MerchantClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("missing kid header")
			}
			return v.resolver.ResolvePublicKey(ctx, kid)
		},
		jwt.WithValidMethods([]string{"ES256", "EdDSA"}),
		jwt.WithAudience(MerchantJWTAudience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, apperror.ErrJWTExpired()
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, apperror.ErrSignatureInvalid(fmt.Errorf("audience: %w", err))
		default:
			var appErr *apperror.AppError
			if errors.As(err, &appErr) && appErr.Code == "KeyNotFound" {
				return nil, appErr
			}
			return nil, apperror.ErrSignatureInvalid(err)
		}
	}
	if !token.Valid {
		return nil, apperror.ErrSignatureInvalid(fmt.Errorf("token not valid"))
	}

	if subtle.ConstantTimeCompare([]byte(claims.CartHash), []byte(expectedCartHash)) != 1 {
		return nil, apperror.ErrHashMismatch()
	}

	if v.replay != nil {
		if claims.ID == "" {
			return nil, apperror.ErrSignatureInvalid(fmt.Errorf("missing jti"))
		}
		ttl := ports.ReplayTTL
		if claims.ExpiresAt != nil && claims.IssuedAt != nil {
			if d := claims.ExpiresAt.Sub(claims.IssuedAt.Time); d > ttl {
				ttl = d
			}
		}
		fresh, err := v.replay.Consume(ctx, "jti:"+claims.ID, ttl)
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		if !fresh {
			return nil, apperror.ErrJTIReplay()
		}
	}

	return claims, nil
}
