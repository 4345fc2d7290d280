package handler

import (
	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/did"
	"ap2-payments/internal/service"
	"ap2-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SigningHandler exposes the merchant signing service.
type SigningHandler struct {
	svc *service.SigningService
}

// NewSigningHandler creates the handler.
func NewSigningHandler(svc *service.SigningService) *SigningHandler {
	return &SigningHandler{svc: svc}
}

// SigningRouterDeps wires the merchant signing service router.
type SigningRouterDeps struct {
	Signing        *service.SigningService
	DIDDocument    *did.Document
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupSigningRouter builds the merchant service's routes.
func SetupSigningRouter(deps SigningRouterDeps) *gin.Engine {
	r := newEngine(deps.Logger)
	h := NewSigningHandler(deps.Signing)

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/.well-known/did.json", WellKnownDID(deps.DIDDocument))

	r.POST("/sign/cart", h.SignCart)
	r.POST("/poll/cart", h.PollCart)

	// Operator endpoints.
	r.GET("/pending", h.Pending)
	r.POST("/approve/:id", h.Approve)
	r.POST("/reject/:id", h.Reject)

	return r
}

type signCartRequest struct {
	CartMandate domain.CartMandate `json:"cart_mandate"`
}

// SignCart validates and signs (or queues) a cart mandate.
func (h *SigningHandler) SignCart(c *gin.Context) {
	var req signCartRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.SubmitCart(c.Request.Context(), &req.CartMandate)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

type pollCartRequest struct {
	CartMandateID string `json:"cart_mandate_id"`
}

// PollCart reports a queued cart's state.
func (h *SigningHandler) PollCart(c *gin.Context) {
	var req pollCartRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Poll(c.Request.Context(), req.CartMandateID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Pending lists carts awaiting operator action.
func (h *SigningHandler) Pending(c *gin.Context) {
	response.OK(c, gin.H{"pending": h.svc.Pending(c.Request.Context())})
}

// Approve signs a pending cart.
func (h *SigningHandler) Approve(c *gin.Context) {
	res, err := h.svc.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject declines a pending cart.
func (h *SigningHandler) Reject(c *gin.Context) {
	var req rejectRequest
	_ = c.ShouldBindJSON(&req) // body optional
	res, err := h.svc.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}
