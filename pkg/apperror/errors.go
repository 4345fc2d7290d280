package apperror

import (
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation     Kind = "Validation"     // caller passed a malformed mandate or request
	KindAuthentication Kind = "Authentication" // signature/JWT/attestation verification failed
	KindAuthorization  Kind = "Authorization"  // mandate chain broken, risk-declined, expired
	KindConflict       Kind = "Conflict"       // replay, already-terminal state
	KindNotFound       Kind = "NotFound"       // DID, product, transaction
	KindUnavailable    Kind = "Unavailable"    // downstream timed out
	KindInternal       Kind = "Internal"
)

// HTTPStatus maps a kind to its HTTP response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// AppError is a structured error that maps to HTTP and A2A error responses.
// Message is safe to show external callers; Err is logged, never serialized.
type AppError struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status for this error's kind.
func (e *AppError) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// New creates a new AppError.
func New(kind Kind, code string, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

// Wrap wraps an internal error with an AppError.
func Wrap(kind Kind, code string, message string, err error) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Err: err}
}

// ---- Crypto & verification ----

// Verification failures deliberately share one external message so callers
// cannot learn which check failed. Internal logs carry the specific code.

func ErrCanonicalization(err error) *AppError {
	return Wrap(KindValidation, "CanonicalizationError", "request cannot be canonicalized", err)
}

func ErrKeyNotFound(id string) *AppError {
	return Wrap(KindNotFound, "KeyNotFound", "key not found", fmt.Errorf("key id %q", id))
}

func ErrWrongPassphrase() *AppError {
	return New(KindAuthentication, "WrongPassphrase", "authorization failed")
}

func ErrSignatureInvalid(err error) *AppError {
	return Wrap(KindAuthentication, "SignatureInvalid", "authorization failed", err)
}

func ErrJWTExpired() *AppError {
	return New(KindAuthorization, "JWTExpired", "authorization failed")
}

func ErrJTIReplay() *AppError {
	return New(KindConflict, "JTIReplay", "authorization failed")
}

func ErrHashMismatch() *AppError {
	return New(KindAuthorization, "HashMismatch", "authorization failed")
}

func ErrChallengeMismatch() *AppError {
	return New(KindAuthentication, "ChallengeMismatch", "authorization failed")
}

func ErrCounterRegression() *AppError {
	return New(KindAuthentication, "CounterRegression", "authorization failed")
}

// ---- Mandates ----

func ErrInvalidMandate(detail string) *AppError {
	return New(KindValidation, "InvalidMandate", detail)
}

func ErrInvalidMerchant() *AppError {
	return New(KindValidation, "InvalidMerchant", "cart does not belong to this merchant")
}

func ErrExpired(what string) *AppError {
	return New(KindAuthorization, "Expired", fmt.Sprintf("%s has expired", what))
}

func ErrMalformedCart(detail string) *AppError {
	return New(KindValidation, "MalformedCart", detail)
}

func ErrRejected(reason string) *AppError {
	return New(KindAuthorization, "Rejected", reason)
}

func ErrPendingTimeout() *AppError {
	return New(KindUnavailable, "PendingTimeout", "merchant signature not obtained in time")
}

func ErrChainBroken(detail string) *AppError {
	return Wrap(KindAuthorization, "ChainBroken", "authorization failed", fmt.Errorf("%s", detail))
}

func ErrRiskDeclined() *AppError {
	return New(KindAuthorization, "RiskDeclined", "High risk")
}

// ---- Replay & state ----

func ErrMessageReplay() *AppError {
	return New(KindConflict, "MessageReplay", "message already consumed")
}

func ErrTerminalState(state string) *AppError {
	return New(KindConflict, "TerminalState", fmt.Sprintf("cart is already %s", state))
}

// ---- Lookup & downstream ----

func ErrNotFound(entity string) *AppError {
	return New(KindNotFound, "NotFound", fmt.Sprintf("%s not found", entity))
}

func ErrCredentialVerificationFailed(err error) *AppError {
	return Wrap(KindAuthentication, "CredentialVerificationFailed", "authorization failed", err)
}

func ErrUnavailable(what string, err error) *AppError {
	return Wrap(KindUnavailable, "Unavailable", fmt.Sprintf("%s did not respond in time", what), err)
}

// InternalError wraps an internal error.
func InternalError(err error) *AppError {
	return Wrap(KindInternal, "Internal", "internal server error", err)
}

// Validation returns a generic validation error.
func Validation(message string) *AppError {
	return New(KindValidation, "Validation", message)
}
