package bank

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/autovault/autovault/internal/validation"
)

// Handler provides HTTP endpoints for payout account management.
type Handler struct {
	service *Service
}

// NewHandler creates a new bank account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up bank account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bank-accounts", h.AddAccount)
	r.GET("/bank-accounts", h.ListAccounts)
	r.DELETE("/bank-accounts/:id", h.RemoveAccount)
}

// holderFrom derives the account holder from the authenticated actor.
func holderFrom(c *gin.Context) Holder {
	kind := HolderUser
	if c.GetString("actorRole") == "dealer" {
		kind = HolderDealer
	}
	return Holder{Kind: kind, ID: c.GetString("actorID")}
}

// AddAccount handles POST /v1/bank-accounts
func (h *Handler) AddAccount(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	a, err := h.service.Add(c.Request.Context(), holderFrom(c), req)
	if err != nil {
		var verrs validation.Errors
		switch {
		case errors.As(err, &verrs):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": verrs.Error(),
				"details": verrs,
			})
		case errors.Is(err, ErrInvalidIBAN):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_iban",
				"message": "IBAN format is invalid",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account": a})
}

// ListAccounts handles GET /v1/bank-accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.service.List(c.Request.Context(), holderFrom(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// RemoveAccount handles DELETE /v1/bank-accounts/:id
func (h *Handler) RemoveAccount(c *gin.Context) {
	err := h.service.Remove(c.Request.Context(), holderFrom(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Bank account not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
