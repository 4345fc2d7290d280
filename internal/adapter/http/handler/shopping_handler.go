package handler

import (
	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/did"
	"ap2-payments/internal/service"
	"ap2-payments/pkg/apperror"
	"ap2-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ShoppingHandler exposes the shopping agent's external surface: the chat
// entry point and the cart-approval/passkey callbacks from the UI.
type ShoppingHandler struct {
	agent *service.ShoppingAgent
}

// NewShoppingHandler creates the handler.
func NewShoppingHandler(agent *service.ShoppingAgent) *ShoppingHandler {
	return &ShoppingHandler{agent: agent}
}

// ShoppingRouterDeps wires the shopping agent router.
type ShoppingRouterDeps struct {
	Agent          *service.ShoppingAgent
	DIDDocument    *did.Document
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupShoppingRouter builds the shopping agent's routes.
func SetupShoppingRouter(deps ShoppingRouterDeps) *gin.Engine {
	r := newEngine(deps.Logger)
	h := NewShoppingHandler(deps.Agent)

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/.well-known/did.json", WellKnownDID(deps.DIDDocument))

	r.POST("/chat", h.Chat)
	r.GET("/sessions/:id", h.GetSession)
	r.POST("/sessions/:id/confirm-cart", h.ConfirmCart)
	r.POST("/sessions/:id/authorize-payment", h.AuthorizePayment)
	r.DELETE("/sessions/:id", h.Cancel)

	return r
}

type chatRequest struct {
	UserID    string         `json:"user_id"`
	Message   string         `json:"message"`
	MaxAmount *domain.Amount `json:"max_amount,omitempty"`
}

// Chat builds the intent and gathers signed cart candidates.
func (h *ShoppingHandler) Chat(c *gin.Context) {
	var req chatRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.UserID == "" {
		response.Error(c, apperror.Validation("user_id is required"))
		return
	}
	session, err := h.agent.Chat(c.Request.Context(), req.UserID, req.Message, req.MaxAmount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// GetSession returns a session snapshot.
func (h *ShoppingHandler) GetSession(c *gin.Context) {
	session, err := h.agent.GetSession(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

type confirmCartRequest struct {
	CartID string `json:"cart_id"`
}

// ConfirmCart records the user's choice and returns the passkey challenge.
func (h *ShoppingHandler) ConfirmCart(c *gin.Context) {
	var req confirmCartRequest
	if !bindJSON(c, &req) {
		return
	}
	challenge, err := h.agent.ConfirmCart(c.Request.Context(), c.Param("id"), req.CartID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"challenge": challenge})
}

type authorizePaymentRequest struct {
	WebAuthnAssertion domain.WebAuthnAssertion `json:"webauthn_assertion"`
}

// AuthorizePayment completes the flow with the passkey assertion.
func (h *ShoppingHandler) AuthorizePayment(c *gin.Context) {
	var req authorizePaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.agent.AuthorizePayment(c.Request.Context(), c.Param("id"), req.WebAuthnAssertion)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Cancel abandons a session.
func (h *ShoppingHandler) Cancel(c *gin.Context) {
	h.agent.Cancel(c.Param("id"))
	response.OK(c, gin.H{"cancelled": true})
}
