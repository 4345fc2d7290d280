package handler

import (
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/did"
	"ap2-payments/internal/service"
	"ap2-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CredentialHandler exposes the credential provider.
type CredentialHandler struct {
	svc *service.CredentialService
}

// NewCredentialHandler creates the handler.
func NewCredentialHandler(svc *service.CredentialService) *CredentialHandler {
	return &CredentialHandler{svc: svc}
}

// CredentialRouterDeps wires the credential provider router.
type CredentialRouterDeps struct {
	Credentials    *service.CredentialService
	DIDDocument    *did.Document
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupCredentialRouter builds the credential provider's routes.
func SetupCredentialRouter(deps CredentialRouterDeps) *gin.Engine {
	r := newEngine(deps.Logger)
	h := NewCredentialHandler(deps.Credentials)

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/.well-known/did.json", WellKnownDID(deps.DIDDocument))

	r.POST("/verify", h.Verify)
	r.POST("/register-passkey", h.RegisterPasskey)
	r.POST("/complete-registration", h.CompleteRegistration)
	r.POST("/receipt", h.Receipt)

	// Shopping-agent surface.
	r.POST("/challenge", h.IssueChallenge)
	r.GET("/device-key/:user_id", h.DeviceKey)
	r.POST("/payment-method", h.PaymentMethod)

	return r
}

// Verify resolves a payment-method token into a network agent token.
func (h *CredentialHandler) Verify(c *gin.Context) {
	var req service.CredentialVerifyRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Verify(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

type userRequest struct {
	UserID string `json:"user_id"`
}

// RegisterPasskey starts a registration ceremony.
func (h *CredentialHandler) RegisterPasskey(c *gin.Context) {
	var req userRequest
	if !bindJSON(c, &req) {
		return
	}
	challenge, err := h.svc.RegisterPasskey(c.Request.Context(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"challenge": challenge, "rp_id": h.svc.RPID()})
}

type completeRegistrationRequest struct {
	UserID            string `json:"user_id"`
	AttestationObject string `json:"attestation_object"`
	ClientDataJSON    string `json:"client_data_json"`
}

// CompleteRegistration finishes a registration ceremony.
func (h *CredentialHandler) CompleteRegistration(c *gin.Context) {
	var req completeRegistrationRequest
	if !bindJSON(c, &req) {
		return
	}
	cred, err := h.svc.CompleteRegistration(c.Request.Context(), req.UserID, req.AttestationObject, req.ClientDataJSON)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{
		"credential_id": cred.CredentialID,
		"sign_count":    cred.SignCount,
	})
}

// Receipt records a capture notice from the processor.
func (h *CredentialHandler) Receipt(c *gin.Context) {
	var notice service.ReceiptNotice
	if !bindJSON(c, &notice) {
		return
	}
	if err := h.svc.NotifyReceipt(c.Request.Context(), notice); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"recorded": true})
}

// IssueChallenge starts a payment ceremony.
func (h *CredentialHandler) IssueChallenge(c *gin.Context) {
	var req userRequest
	if !bindJSON(c, &req) {
		return
	}
	challenge, err := h.svc.IssueChallenge(c.Request.Context(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"challenge": challenge, "rp_id": h.svc.RPID()})
}

// DeviceKey returns the user's registered passkey public key as a JWK.
func (h *CredentialHandler) DeviceKey(c *gin.Context) {
	jwk, err := h.svc.DeviceKey(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"jwk": jwk})
}

// PaymentMethod issues a tokenized payment method for a user.
func (h *CredentialHandler) PaymentMethod(c *gin.Context) {
	var req userRequest
	if !bindJSON(c, &req) {
		return
	}
	method, err := h.svc.TokenizedMethod(c.Request.Context(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, method)
}
