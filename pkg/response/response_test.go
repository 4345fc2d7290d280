package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ap2-payments/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func performRequest(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	handler(c)
	return w
}

func TestOK_Envelope(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		OK(c, gin.H{"status": "captured"})
	})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.RequestID)
	assert.NotEmpty(t, envelope.Timestamp)
}

func TestCreated_Status(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Created(c, gin.H{"credential_id": "cred"})
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestError_MapsAppErrorByKind(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Error(c, apperror.ErrHashMismatch())
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "Authorization", envelope.Kind)
	assert.Equal(t, "HashMismatch", envelope.ErrorCode)
	assert.Equal(t, "authorization failed", envelope.Message)
}

func TestError_WrappedInternalIsNotLeaked(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Error(c, apperror.InternalError(fmt.Errorf("pgx: connection refused")))
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pgx", "internal causes stay out of responses")
}

func TestError_UnknownErrorIs500(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Error(c, fmt.Errorf("some plain error"))
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "Internal", envelope.Kind)
	assert.NotContains(t, w.Body.String(), "some plain error")
}

func TestRequestID_Propagated(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		c.Set("request_id", "req-123")
		OK(c, nil)
	})

	var envelope SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "req-123", envelope.RequestID)
}
