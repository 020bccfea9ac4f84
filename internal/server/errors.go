package server

import (
	"errors"
	"net/http"

	"orderflow/internal/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindValidation, domain.KindConflict:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope. Unclassified errors are reported as
// a generic internal error in production.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := "Internal server error"

	var de *domain.Error
	if errors.As(err, &de) {
		status = statusFor(de.Kind)
		code = de.Code
		message = de.Message
	} else if !s.opts.Production {
		message = err.Error()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
	}

	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"message": message,
			"code":    code,
		},
	})
}
