package transaction

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/autovault/autovault/internal/ledger"
	"github.com/autovault/autovault/internal/pagination"
	"github.com/autovault/autovault/internal/validation"
)

// ActorFrom extracts the authenticated actor placed on the request context
// by the server's identity middleware.
func ActorFrom(c *gin.Context) Actor {
	return Actor{
		ID:   c.GetString("actorID"),
		Role: Role(c.GetString("actorRole")),
	}
}

// RespondError maps the package's sentinel errors to HTTP responses. Shared
// with the payment and dispute handlers so every surface speaks the same way.
func RespondError(c *gin.Context, err error) {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
	case errors.Is(err, ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Transaction not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not authorized for this operation",
		})
	case errors.Is(err, ErrAlreadyProcessed):
		// Idempotent retry of an already-applied action. Callers holding the
		// current row use RespondTransaction so the body carries it too.
		c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": "Transaction is not in a state that allows this operation",
		})
	case errors.Is(err, ErrDeadlinePassed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "deadline_passed",
			"message": "The deadline for this action has passed",
		})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a positive decimal with at most two places",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}

// RespondTransaction writes a mutation response. A retry of an action that
// already took effect reports success and echoes the current row, so retried
// requests read the same shape as the original.
func RespondTransaction(c *gin.Context, t *Transaction, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"transaction": t})
	case errors.Is(err, ErrAlreadyProcessed) && t != nil:
		c.JSON(http.StatusOK, gin.H{"status": "already_processed", "transaction": t})
	default:
		RespondError(c, err)
	}
}

// Handler provides HTTP endpoints for transaction operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up transaction routes. All routes require an actor.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.CreateTransaction)
	r.GET("/transactions", h.ListTransactions)
	r.GET("/transactions/:id", h.GetTransaction)
	r.GET("/transactions/code/:code", h.GetTransactionByCode)
	r.POST("/transactions/:id/handover", h.StartInspection)
	r.POST("/transactions/:id/confirm", h.ConfirmDelivery)
	r.POST("/transactions/:id/cancel", h.CancelTransaction)
}

// CreateTransaction handles POST /v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	t, err := h.service.Create(c.Request.Context(), req, ActorFrom(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": t})
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"), ActorFrom(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// GetTransactionByCode handles GET /v1/transactions/code/:code
func (h *Handler) GetTransactionByCode(c *gin.Context) {
	t, err := h.service.GetByCode(c.Request.Context(), c.Param("code"), ActorFrom(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ListTransactions handles GET /v1/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	f := ListFilter{
		Status: Status(c.Query("status")),
		Limit:  limit + 1, // one extra row decides has_more
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Malformed pagination cursor",
		})
		return
	}
	if cursor != nil {
		f.CreatedBefore = cursor.CreatedAt
	}

	items, err := h.service.List(c.Request.Context(), f, ActorFrom(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	page, next, more := pagination.ComputePage(items, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"transactions": page,
		"next_cursor":  next,
		"has_more":     more,
	})
}

// StartInspection handles POST /v1/transactions/:id/handover
func (h *Handler) StartInspection(c *gin.Context) {
	t, err := h.service.StartInspection(c.Request.Context(), c.Param("id"), ActorFrom(c))
	RespondTransaction(c, t, err)
}

// ConfirmDelivery handles POST /v1/transactions/:id/confirm
func (h *Handler) ConfirmDelivery(c *gin.Context) {
	t, err := h.service.ConfirmDelivery(c.Request.Context(), c.Param("id"), ActorFrom(c))
	RespondTransaction(c, t, err)
}

// CancelTransaction handles POST /v1/transactions/:id/cancel
func (h *Handler) CancelTransaction(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A cancellation reason is required",
		})
		return
	}
	if errs := validation.Validate(validation.MaxLen("reason", req.Reason, 500)); len(errs) > 0 {
		RespondError(c, errs)
		return
	}

	t, err := h.service.Cancel(c.Request.Context(), c.Param("id"), ActorFrom(c), req.Reason)
	RespondTransaction(c, t, err)
}
