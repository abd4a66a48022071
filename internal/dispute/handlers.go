package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/autovault/autovault/internal/transaction"
)

// Handler provides HTTP endpoints for dispute operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dispute routes for the parties.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions/:id/disputes", h.OpenDispute)
	r.GET("/transactions/:id/disputes", h.ListDisputes)
	r.GET("/disputes/:id", h.GetDispute)
}

// RegisterAdminRoutes sets up resolution routes for back-office staff.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/disputes/:id/status", h.UpdateDisputeStatus)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
	r.POST("/disputes/:id/close", h.CloseDispute)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute not found",
		})
	case errors.Is(err, ErrDisputeAlreadyOpen):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "dispute_already_open",
			"message": "A dispute is already open for this transaction",
		})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_dispute_status",
			"message": "Dispute is not in a state that allows this operation",
		})
	case errors.Is(err, ErrInvalidResolution):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_resolution",
			"message": "Resolution type is invalid or missing its refund amount",
		})
	default:
		transaction.RespondError(c, err)
	}
}

// OpenDispute handles POST /v1/transactions/:id/disputes
func (h *Handler) OpenDispute(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.Open(c.Request.Context(), c.Param("id"), transaction.ActorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"), transaction.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ListDisputes handles GET /v1/transactions/:id/disputes
func (h *Handler) ListDisputes(c *gin.Context) {
	disputes, err := h.service.ListByTransaction(c.Request.Context(), c.Param("id"), transaction.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"disputes": disputes})
}

// UpdateDisputeStatus handles POST /v1/disputes/:id/status
func (h *Handler) UpdateDisputeStatus(c *gin.Context) {
	var req struct {
		Status Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A target status is required",
		})
		return
	}

	d, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), transaction.ActorFrom(c), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ResolveDispute handles POST /v1/disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.Resolve(c.Request.Context(), c.Param("id"), transaction.ActorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// CloseDispute handles POST /v1/disputes/:id/close
func (h *Handler) CloseDispute(c *gin.Context) {
	var req struct {
		Note string `json:"note"`
	}
	_ = c.ShouldBindJSON(&req)

	d, err := h.service.Close(c.Request.Context(), c.Param("id"), transaction.ActorFrom(c), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}
