package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"orderflow/internal/domain"

	"github.com/gin-gonic/gin"
)

// RunTimeoutSweep runs one timeout sweep for the scheduler. The caller proves
// itself with the shared cron secret in X-Cron-Secret or a bearer token.
func (s *Server) RunTimeoutSweep(c *gin.Context) {
	if s.opts.CronSecret == "" {
		s.respondError(c, &domain.Error{
			Kind:    domain.KindUnexpected,
			Code:    "CRON_SECRET_NOT_CONFIGURED",
			Message: "Cron secret is not configured",
		})
		return
	}

	token := c.GetHeader("X-Cron-Secret")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.CronSecret)) != 1 {
		s.respondError(c, domain.Auth("UNAUTHORIZED", "Unauthorized"))
		return
	}

	res, err := s.sweeper.Sweep(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"message":              "Timeout check completed",
		"processedCount":       res.ProcessedCount,
		"paymentTimeouts":      res.PaymentTimeouts,
		"confirmationTimeouts": res.ConfirmationTimeouts,
		"refundsInitiated":     res.RefundsInitiated,
		"skipped":              res.Skipped,
		"errors":               res.Errors,
		"timestamp":            s.now().UTC(),
	})
}

func (s *Server) TimeoutCheckerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "timeout-checker",
		"timestamp": s.now().UTC(),
	})
}
