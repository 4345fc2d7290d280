package handler

import (
	"net/http"
	"strings"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/did"
	"ap2-payments/internal/service"
	"ap2-payments/pkg/apperror"
	"ap2-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProcessorHandler exposes the payment processor.
type ProcessorHandler struct {
	svc *service.ProcessorService
}

// NewProcessorHandler creates the handler.
func NewProcessorHandler(svc *service.ProcessorService) *ProcessorHandler {
	return &ProcessorHandler{svc: svc}
}

// ProcessorRouterDeps wires the processor router.
type ProcessorRouterDeps struct {
	Processor      *service.ProcessorService
	Dispatcher     *a2a.Dispatcher
	DIDDocument    *did.Document
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupProcessorRouter builds the processor's routes.
func SetupProcessorRouter(deps ProcessorRouterDeps) *gin.Engine {
	r := newEngine(deps.Logger)
	h := NewProcessorHandler(deps.Processor)

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/.well-known/did.json", WellKnownDID(deps.DIDDocument))
	r.POST("/a2a/message", A2AMessage(deps.Dispatcher))

	r.POST("/process", h.Process)
	r.POST("/refund", h.Refund)
	r.GET("/transactions/:id", h.GetTransaction)
	r.GET("/receipts/:file", h.Receipt)

	return r
}

// Process runs the verification pipeline over a raw payload.
func (h *ProcessorHandler) Process(c *gin.Context) {
	var payload domain.PaymentMandatePayload
	if !bindJSON(c, &payload) {
		return
	}
	result, err := h.svc.Process(c.Request.Context(), &payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

type refundRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        *int64 `json:"amount,omitempty"`
}

// Refund records a full or partial refund.
func (h *ProcessorHandler) Refund(c *gin.Context) {
	var req refundRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := uuid.Parse(req.TransactionID)
	if err != nil {
		response.Error(c, apperror.Validation("transaction_id is not a UUID"))
		return
	}
	refund, err := h.svc.Refund(c.Request.Context(), id, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, refund)
}

// GetTransaction fetches a transaction by id.
func (h *ProcessorHandler) GetTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("transaction id is not a UUID"))
		return
	}
	tx, err := h.svc.GetTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tx)
}

// Receipt serves /receipts/{id}.pdf.
func (h *ProcessorHandler) Receipt(c *gin.Context) {
	file := c.Param("file")
	idStr := strings.TrimSuffix(file, ".pdf")
	if idStr == file {
		response.Error(c, apperror.Validation("receipt path must end in .pdf"))
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		response.Error(c, apperror.Validation("receipt id is not a UUID"))
		return
	}
	pdf, err := h.svc.ReceiptPDF(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Data(http.StatusOK, "application/pdf", pdf)
}
