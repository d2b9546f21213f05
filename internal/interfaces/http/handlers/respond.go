package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/batchgate/batchgate/pkg/errors"
)

// respondError 统一错误应答: {"detail": "<msg>"}，状态码取自错误分类
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		message = appErr.Message
	}

	c.JSON(status, gin.H{"detail": message})
}
