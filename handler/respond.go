package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hashscope/backend/apperrors"
)

// writeError maps service errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	var apiErr *apperrors.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.Status(), apiErr)
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, apperrors.NewNotFoundError("Resource not found"))
		return
	}
	if errors.Is(err, apperrors.ErrChainUnavailable) {
		c.JSON(http.StatusServiceUnavailable, apperrors.NewChainUnavailableError(err.Error()))
		return
	}
	c.JSON(http.StatusInternalServerError, apperrors.NewInternalError("Internal server error", err.Error()))
}
