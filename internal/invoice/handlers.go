package invoice

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/autovault/autovault/internal/transaction"
)

// Handler provides HTTP endpoints for reading invoices.
type Handler struct {
	service *Service
	txns    *transaction.Service
}

// NewHandler creates a new invoice handler. The transaction service provides
// the visibility check.
func NewHandler(service *Service, txns *transaction.Service) *Handler {
	return &Handler{service: service, txns: txns}
}

// RegisterRoutes sets up invoice routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions/:id/invoice", h.GetInvoiceForTransaction)
}

// RegisterAdminRoutes sets up back-office invoice lookup.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/invoices/:number", h.GetInvoiceByNumber)
}

// GetInvoiceForTransaction handles GET /v1/transactions/:id/invoice
func (h *Handler) GetInvoiceForTransaction(c *gin.Context) {
	transactionID := c.Param("id")

	// Visibility is scoped by the parent transaction.
	if _, err := h.txns.Get(c.Request.Context(), transactionID, transaction.ActorFrom(c)); err != nil {
		transaction.RespondError(c, err)
		return
	}

	inv, err := h.service.ForTransaction(c.Request.Context(), transactionID)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No invoice issued for this transaction yet",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// GetInvoiceByNumber handles GET /v1/admin/invoices/:number
func (h *Handler) GetInvoiceByNumber(c *gin.Context) {
	inv, err := h.service.ByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Invoice not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}
