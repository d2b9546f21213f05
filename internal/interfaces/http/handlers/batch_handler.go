package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/batchgate/batchgate/internal/application/usecase"
)

// BatchHandler serves the batch job lifecycle routes.
type BatchHandler struct {
	usecase *usecase.BatchUseCase
	logger  *zap.Logger
}

// NewBatchHandler creates the batch handler.
func NewBatchHandler(uc *usecase.BatchUseCase, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{
		usecase: uc,
		logger:  logger,
	}
}

// Create handles POST /v1/batches
func (h *BatchHandler) Create(c *gin.Context) {
	var input usecase.CreateBatchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	batch, err := h.usecase.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}

// Get handles GET /v1/batches/:id
func (h *BatchHandler) Get(c *gin.Context) {
	batch, err := h.usecase.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// List handles GET /v1/batches
func (h *BatchHandler) List(c *gin.Context) {
	batches, err := h.usecase.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": batches})
}

// Cancel handles POST /v1/batches/:id/cancel
func (h *BatchHandler) Cancel(c *gin.Context) {
	batch, err := h.usecase.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}
