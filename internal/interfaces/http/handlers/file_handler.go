package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/batchgate/batchgate/internal/application/usecase"
)

// FileHandler serves the file upload and metadata routes.
type FileHandler struct {
	usecase *usecase.FileUseCase
	logger  *zap.Logger
}

// NewFileHandler creates the file handler.
func NewFileHandler(uc *usecase.FileUseCase, logger *zap.Logger) *FileHandler {
	return &FileHandler{
		usecase: uc,
		logger:  logger,
	}
}

// Upload handles POST /v1/files (multipart: file, purpose)
func (h *FileHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("missing file field: %v", err)})
		return
	}
	purpose := c.PostForm("purpose")

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("cannot open upload: %v", err)})
		return
	}
	defer f.Close()

	obj, err := h.usecase.Upload(c.Request.Context(), header.Filename, purpose, f)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, obj)
}

// Get handles GET /v1/files/:id
func (h *FileHandler) Get(c *gin.Context) {
	obj, err := h.usecase.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

// List handles GET /v1/files
func (h *FileHandler) List(c *gin.Context) {
	files, err := h.usecase.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": files})
}

// Content handles GET /v1/files/:id/content
func (h *FileHandler) Content(c *gin.Context) {
	rc, obj, err := h.usecase.Content(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", obj.Filename))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.logger.Warn("File download interrupted",
			zap.String("file_id", obj.ID),
			zap.Error(err))
	}
}

// Delete handles DELETE /v1/files/:id
func (h *FileHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.usecase.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "object": "file", "deleted": true})
}
