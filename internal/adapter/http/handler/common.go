package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/adapter/http/middleware"
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/did"
	"ap2-payments/pkg/apperror"
	"ap2-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// newEngine builds a gin engine with the shared middleware stack.
func newEngine(log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	return r
}

// HealthCheck runs the deep health checkers; any failure yields 503.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := map[string]string{}
		for _, checker := range checkers {
			if err := checker.Check(ctx); err != nil {
				deps[checker.Name()] = "down"
				status = http.StatusServiceUnavailable
			} else {
				deps[checker.Name()] = "up"
			}
		}
		c.JSON(status, gin.H{"status": statusWord(status), "dependencies": deps})
	}
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}

// WellKnownDID serves the service's DID document.
func WellKnownDID(doc *did.Document) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, doc)
	}
}

// A2AMessage feeds inbound envelopes to the dispatcher. The dispatcher
// signs every response, errors included, so the HTTP status is always 200
// unless the body is unreadable.
func A2AMessage(dispatcher *a2a.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg a2a.Message
		if err := json.NewDecoder(c.Request.Body).Decode(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"kind":       "Validation",
				"error_code": "Validation",
				"message":    "malformed a2a message",
			})
			return
		}
		resp := dispatcher.Dispatch(c.Request.Context(), &msg)
		if resp == nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"kind":       "Internal",
				"error_code": "Internal",
				"message":    "internal server error",
			})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// bindJSON decodes the request body, reporting a Validation error on
// failure. Returns false when the request was already answered.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		response.Error(c, apperror.Validation("malformed request body"))
		return false
	}
	return true
}
