package handler

import (
	"strconv"
	"strings"

	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/did"
	"ap2-payments/internal/service"
	"ap2-payments/pkg/apperror"
	"ap2-payments/pkg/response"

	"ap2-payments/internal/a2a"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// MerchantAgentHandler exposes the merchant agent's catalog surface; the
// mandate exchange itself travels over /a2a/message.
type MerchantAgentHandler struct {
	agent   *service.MerchantAgent
	catalog *service.Catalog
}

// NewMerchantAgentHandler creates the handler.
func NewMerchantAgentHandler(agent *service.MerchantAgent, catalog *service.Catalog) *MerchantAgentHandler {
	return &MerchantAgentHandler{agent: agent, catalog: catalog}
}

// MerchantAgentRouterDeps wires the merchant agent router.
type MerchantAgentRouterDeps struct {
	Agent          *service.MerchantAgent
	Catalog        *service.Catalog
	Dispatcher     *a2a.Dispatcher
	DIDDocument    *did.Document
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupMerchantAgentRouter builds the merchant agent's routes.
func SetupMerchantAgentRouter(deps MerchantAgentRouterDeps) *gin.Engine {
	r := newEngine(deps.Logger)
	h := NewMerchantAgentHandler(deps.Agent, deps.Catalog)

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/.well-known/did.json", WellKnownDID(deps.DIDDocument))
	r.POST("/a2a/message", A2AMessage(deps.Dispatcher))

	r.GET("/search", h.Search)
	r.POST("/create-cart", h.CreateCart)
	r.GET("/inventory", h.Inventory)
	r.POST("/inventory/update", h.UpdateInventory)

	return r
}

// Search queries the catalog: /search?query=&category=&limit=.
func (h *MerchantAgentHandler) Search(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(c, apperror.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}
	keywords := strings.Fields(c.Query("query"))
	products := h.catalog.Search(keywords, c.Query("category"), limit)
	response.OK(c, gin.H{"products": products, "count": len(products)})
}

type createCartRequest struct {
	IntentMandate domain.IntentMandate `json:"intent_mandate"`
}

// CreateCart runs the cart pipeline over a raw intent, for callers that
// do not speak A2A.
func (h *MerchantAgentHandler) CreateCart(c *gin.Context) {
	var req createCartRequest
	if !bindJSON(c, &req) {
		return
	}
	artifacts, err := h.agent.HandleIntent(c.Request.Context(), &req.IntentMandate)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"cart_candidates": artifacts})
}

// Inventory lists the catalog with stock counts.
func (h *MerchantAgentHandler) Inventory(c *gin.Context) {
	response.OK(c, gin.H{"products": h.catalog.List()})
}

type inventoryUpdateRequest struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

// UpdateInventory sets a product's stock count.
func (h *MerchantAgentHandler) UpdateInventory(c *gin.Context) {
	var req inventoryUpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.catalog.UpdateStock(req.ProductID, req.Stock); err != nil {
		response.Error(c, err)
		return
	}
	product, err := h.catalog.GetByID(req.ProductID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, product)
}
