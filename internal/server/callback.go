package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/infrastructure/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCallbackBody = 1 << 20

type callbackPayload struct {
	Reference      string `json:"reference"`
	MerchantRef    string `json:"merchant_ref"`
	Status         string `json:"status"`
	PaidAt         *int64 `json:"paid_at"`
	AmountReceived int64  `json:"amount_received"`
	PaymentMethod  string `json:"payment_method"`
}

// TripayCallback receives payment status notifications. The signature is
// checked against the raw body before anything else is looked at.
func (s *Server) TripayCallback(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody))
	if err != nil {
		s.respondError(c, domain.Validation("INVALID_PAYLOAD", "Unable to read request body"))
		return
	}

	if !payment.VerifyCallback(s.opts.CallbackPrivateKey, body, c.GetHeader("X-Callback-Signature")) {
		s.logger.Warn("Rejected callback with invalid signature", zap.String("ip", c.ClientIP()))
		s.respondError(c, domain.Auth("INVALID_SIGNATURE", "Invalid signature"))
		return
	}

	if event := c.GetHeader("X-Callback-Event"); event != s.opts.CallbackEvent {
		s.respondError(c, domain.Validation("INVALID_EVENT", "Unrecognized callback event: "+event))
		return
	}

	var p callbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		s.respondError(c, domain.Validation("INVALID_PAYLOAD", "Invalid JSON payload"))
		return
	}
	required := []struct{ name, value string }{
		{"reference", p.Reference},
		{"merchant_ref", p.MerchantRef},
		{"status", p.Status},
	}
	for _, field := range required {
		if field.value == "" {
			s.respondError(c, domain.Validation("MISSING_FIELD", "Missing required field: "+field.name))
			return
		}
	}

	cb := domain.Callback{
		Reference:      p.Reference,
		MerchantRef:    p.MerchantRef,
		Status:         p.Status,
		AmountReceived: p.AmountReceived,
		PaymentMethod:  p.PaymentMethod,
	}
	if p.PaidAt != nil && *p.PaidAt > 0 {
		paidAt := time.Unix(*p.PaidAt, 0).UTC()
		cb.PaidAt = &paidAt
	}

	out, err := s.orders.HandleCallback(c.Request.Context(), cb)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"orderId":       out.Order.ID,
			"merchantRef":   out.Order.MerchantRef,
			"status":        out.Order.Status,
			"paymentStatus": out.Order.PaymentStatus,
			"processedAt":   out.ProcessedAt,
		},
	})
}
