package handler

import (
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/service"
	"ap2-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NetworkHandler exposes the simulated payment network.
type NetworkHandler struct {
	svc *service.NetworkService
}

// NewNetworkHandler creates the handler.
func NewNetworkHandler(svc *service.NetworkService) *NetworkHandler {
	return &NetworkHandler{svc: svc}
}

// NetworkRouterDeps wires the network router.
type NetworkRouterDeps struct {
	Network        *service.NetworkService
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupNetworkRouter builds the network's routes.
func SetupNetworkRouter(deps NetworkRouterDeps) *gin.Engine {
	r := newEngine(deps.Logger)
	h := NewNetworkHandler(deps.Network)

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/network/info", h.Info)
	r.POST("/network/tokenize", h.Tokenize)
	r.POST("/network/verify-token", h.VerifyToken)
	r.POST("/network/charge", h.Charge)

	return r
}

// Info describes the network.
func (h *NetworkHandler) Info(c *gin.Context) {
	response.OK(c, h.svc.Info())
}

// Tokenize issues an agent token.
func (h *NetworkHandler) Tokenize(c *gin.Context) {
	var req service.TokenizeRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Tokenize(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

type verifyTokenRequest struct {
	AgentToken string `json:"agent_token"`
}

// VerifyToken reports token validity and metadata.
func (h *NetworkHandler) VerifyToken(c *gin.Context) {
	var req verifyTokenRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.VerifyToken(c.Request.Context(), req.AgentToken)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Charge captures against a valid token; token failures come back as
// status "failed" in a 200, per the network contract.
func (h *NetworkHandler) Charge(c *gin.Context) {
	var req service.ChargeRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Charge(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}
