package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/autovault/autovault/internal/transaction"
)

// Handler provides HTTP endpoints for payment operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment routes for the parties.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions/:id/payment/proof", h.SubmitProof)
	r.GET("/transactions/:id/payments", h.ListPayments)
}

// RegisterAdminRoutes sets up verification routes for back-office staff.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/transactions/:id/payment/verify", h.VerifyPayment)
	r.POST("/transactions/:id/payment/reject", h.RejectPayment)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Payment not found",
		})
	case errors.Is(err, ErrEvidenceRequired):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "evidence_required",
			"message": "Transfer evidence is required",
		})
	case errors.Is(err, ErrReasonRequired):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "reason_required",
			"message": "A rejection reason is required",
		})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_payment_status",
			"message": "Payment is not in a state that allows this operation",
		})
	case errors.Is(err, ErrLedgerInconsistency):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_inconsistency",
			"message": "Payout blocked by consistency guard",
		})
	default:
		transaction.RespondError(c, err)
	}
}

// SubmitProof handles POST /v1/transactions/:id/payment/proof
func (h *Handler) SubmitProof(c *gin.Context) {
	var req SubmitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	p, err := h.service.SubmitProof(c.Request.Context(), c.Param("id"), transaction.ActorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// VerifyPayment handles POST /v1/transactions/:id/payment/verify
func (h *Handler) VerifyPayment(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	_ = c.ShouldBindJSON(&req) // notes are optional, an empty body is fine

	p, err := h.service.Verify(c.Request.Context(), c.Param("id"), transaction.ActorFrom(c), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// RejectPayment handles POST /v1/transactions/:id/payment/reject
func (h *Handler) RejectPayment(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "reason_required",
			"message": "A rejection reason is required",
		})
		return
	}

	p, err := h.service.Reject(c.Request.Context(), c.Param("id"), transaction.ActorFrom(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// ListPayments handles GET /v1/transactions/:id/payments
func (h *Handler) ListPayments(c *gin.Context) {
	payments, err := h.service.ListByTransaction(c.Request.Context(), c.Param("id"), transaction.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}
