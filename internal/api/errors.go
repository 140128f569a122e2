package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/admission-criteria-server/internal/domain"
	"github.com/admission-criteria-server/internal/middleware"
)

// respondError writes the standard error envelope and aborts the chain.
func respondError(c *gin.Context, status int, code, message, details string) {
	apiErr := domain.NewAPIError(code, message, details, c.GetString(middleware.CorrelationIDKey))
	c.AbortWithStatusJSON(status, gin.H{"error": apiErr})
}

func respondValidation(c *gin.Context, verr *domain.ValidationError) {
	apiErr := domain.NewAPIError(domain.ErrValidation, verr.Message, verr.Field, c.GetString(middleware.CorrelationIDKey))
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": apiErr})
}

// isBodyTooLarge reports whether err came from an http.MaxBytesReader.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "request body too large")
}
