package server

import (
	"net/http"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/service"

	"github.com/gin-gonic/gin"
)

type createRefundRequest struct {
	OrderID     string `json:"orderId"`
	Reason      string `json:"reason"`
	RefundType  string `json:"refundType"`
	RequestedBy string `json:"requestedBy"`
}

type refundResponse struct {
	ID                string    `json:"id"`
	OrderID           string    `json:"orderId"`
	MerchantRef       string    `json:"merchantRef"`
	ProviderReference string    `json:"providerReference,omitempty"`
	RefundAmount      int64     `json:"refundAmount"`
	OriginalAmount    int64     `json:"originalAmount"`
	Reason            string    `json:"reason"`
	RefundType        string    `json:"refundType"`
	RequestedBy       string    `json:"requestedBy"`
	Status            string    `json:"status"`
	Method            string    `json:"method,omitempty"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func toRefundResponse(r *domain.Refund) refundResponse {
	return refundResponse{
		ID:                r.ID,
		OrderID:           r.OrderID,
		MerchantRef:       r.MerchantRef,
		ProviderReference: r.ProviderReference,
		RefundAmount:      r.RefundAmount,
		OriginalAmount:    r.OriginalAmount,
		Reason:            r.Reason,
		RefundType:        string(r.RefundType),
		RequestedBy:       r.RequestedBy,
		Status:            string(r.Status),
		Method:            r.Method,
		ErrorMessage:      r.ErrorMessage,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (s *Server) CreateRefund(c *gin.Context) {
	var req createRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.Validation("INVALID_PAYLOAD", "Invalid JSON payload"))
		return
	}

	refund, err := s.refunds.Initiate(c.Request.Context(), service.RefundRequest{
		OrderID:     req.OrderID,
		Reason:      req.Reason,
		Type:        domain.RefundType(req.RefundType),
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Refund processed successfully",
		"refundId":     refund.ID,
		"refundAmount": refund.RefundAmount,
		"status":       refund.Status,
		"method":       refund.Method,
	})
}

func (s *Server) GetRefund(c *gin.Context) {
	refund, err := s.refunds.Get(c.Request.Context(), c.Query("orderId"), c.Query("refundId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"refund":  toRefundResponse(refund),
	})
}
