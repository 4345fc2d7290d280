package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_HTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:     http.StatusBadRequest,
		KindAuthentication: http.StatusUnauthorized,
		KindAuthorization:  http.StatusForbidden,
		KindConflict:       http.StatusConflict,
		KindNotFound:       http.StatusNotFound,
		KindUnavailable:    http.StatusGatewayTimeout,
		KindInternal:       http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), string(kind))
	}
}

func TestAppError_ErrorString(t *testing.T) {
	err := New(KindValidation, "InvalidMandate", "cart id is empty")
	assert.Equal(t, "[Validation/InvalidMandate] cart id is empty", err.Error())

	wrapped := Wrap(KindInternal, "Internal", "internal server error", fmt.Errorf("db gone"))
	assert.Contains(t, wrapped.Error(), "db gone")
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner cause")
	err := Wrap(KindUnavailable, "Unavailable", "timeout", inner)

	require.True(t, errors.Is(err, inner))

	var appErr *AppError
	require.True(t, errors.As(fmt.Errorf("outer: %w", err), &appErr))
	assert.Equal(t, "Unavailable", appErr.Code)
}

func TestVerificationErrors_DoNotLeakDetails(t *testing.T) {
	// External callers learn only "authorization failed"; the failed check
	// stays in the wrapped error and logs.
	for _, err := range []*AppError{
		ErrSignatureInvalid(fmt.Errorf("r||s mismatch at byte 3")),
		ErrJWTExpired(),
		ErrHashMismatch(),
		ErrChallengeMismatch(),
		ErrCounterRegression(),
		ErrJTIReplay(),
		ErrWrongPassphrase(),
	} {
		assert.Equal(t, "authorization failed", err.Message, err.Code)
	}
}

func TestErrorConstructors_Kinds(t *testing.T) {
	assert.Equal(t, KindConflict, ErrJTIReplay().Kind)
	assert.Equal(t, KindConflict, ErrMessageReplay().Kind)
	assert.Equal(t, KindAuthorization, ErrHashMismatch().Kind)
	assert.Equal(t, KindAuthorization, ErrRiskDeclined().Kind)
	assert.Equal(t, KindAuthentication, ErrCounterRegression().Kind)
	assert.Equal(t, KindNotFound, ErrKeyNotFound("k1").Kind)
	assert.Equal(t, KindValidation, ErrCanonicalization(fmt.Errorf("nan")).Kind)
	assert.Equal(t, KindUnavailable, ErrPendingTimeout().Kind)
}

func TestErrRiskDeclined_Message(t *testing.T) {
	assert.Equal(t, "High risk", ErrRiskDeclined().Message)
}
