package service

import (
	"context"
	"errors"
	"time"

	"orderflow/internal/database"
	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/infrastructure/payment"
	"orderflow/internal/metrics"
	"orderflow/internal/repo"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultRefundReason      = "Automatic refund due to timeout"
	defaultRefundRequestedBy = "system"
)

type RefundRequest struct {
	OrderID     string
	Reason      string
	Type        domain.RefundType
	RequestedBy string
}

type RefundService interface {
	Initiate(ctx context.Context, req RefundRequest) (*domain.Refund, error)
	// Get returns the refund with refundID, or the latest refund of orderID
	// when refundID is empty.
	Get(ctx context.Context, orderID, refundID string) (*domain.Refund, error)
}

type refundService struct {
	tx        database.Transactor
	orderRepo repo.OrderRepo
	refunds   repo.RefundRepo
	provider  payment.RefundProvider
	publisher events.Publisher
	window    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewRefundService(
	tx database.Transactor,
	orderRepo repo.OrderRepo,
	refunds repo.RefundRepo,
	provider payment.RefundProvider,
	publisher events.Publisher,
	window time.Duration,
	logger *zap.Logger,
) RefundService {
	return &refundService{
		tx:        tx,
		orderRepo: orderRepo,
		refunds:   refunds,
		provider:  provider,
		publisher: publisher,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// Initiate opens a full refund for an order. The refund record and the
// order's refund fields are written in one transaction; the gateway is asked
// to return the funds afterwards.
func (s *refundService) Initiate(ctx context.Context, req RefundRequest) (*domain.Refund, error) {
	ctx, span := otel.Tracer("orderflow").Start(ctx, "InitiateRefund")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", req.OrderID))

	if req.OrderID == "" {
		return nil, domain.Validation("ORDER_ID_REQUIRED", "Order ID is required")
	}
	if req.Type == "" {
		req.Type = domain.RefundAuto
	}
	if !req.Type.Valid() {
		return nil, domain.Validation("INVALID_REFUND_TYPE", "refundType must be auto or manual")
	}
	if req.Reason == "" {
		req.Reason = defaultRefundReason
	}
	if req.RequestedBy == "" {
		req.RequestedBy = defaultRefundRequestedBy
	}

	now := s.now()
	var (
		refund *domain.Refund
		order  *domain.Order
	)
	err := s.tx.WithinTx(ctx, func(q database.Querier) error {
		var err error
		order, err = s.orderRepo.LockByID(ctx, q, req.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.NotFound("ORDER_NOT_FOUND", "Order not found")
		}
		if err != nil {
			return err
		}

		if err := domain.RefundEligibility(order, req.Type, now, s.window); err != nil {
			return err
		}

		active, err := s.refunds.HasActive(ctx, q, order.ID)
		if err != nil {
			return err
		}
		if active {
			return domain.Conflict("REFUND_EXISTS", "Refund already processed for this order")
		}

		amount := order.Amount()
		refund = &domain.Refund{
			ID:                uuid.NewString(),
			OrderID:           order.ID,
			MerchantRef:       order.MerchantRef,
			ProviderReference: order.ProviderReference,
			RefundAmount:      amount,
			OriginalAmount:    amount,
			Reason:            req.Reason,
			RefundType:        req.Type,
			RequestedBy:       req.RequestedBy,
			Status:            domain.RefundPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.refunds.CreateRefund(ctx, q, refund); err != nil {
			return err
		}

		order.RefundStatus = domain.RefundProgressPending
		order.RefundID = refund.ID
		order.RefundAmount = amount
		if order.RefundInitiatedAt == nil {
			order.RefundInitiatedAt = &now
		}
		if order.Timeline.RefundInitiated == nil {
			order.Timeline.RefundInitiated = &now
		}
		order.UpdatedAt = now
		return s.orderRepo.UpdateOrder(ctx, q, order)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.settle(ctx, refund); err != nil {
		metrics.RecordRefund(string(refund.RefundType), string(refund.Status))
		span.RecordError(err)
		return refund, err
	}
	metrics.RecordRefund(string(refund.RefundType), string(refund.Status))

	s.logger.Info("Refund initiated",
		zap.String("refund_id", refund.ID),
		zap.String("order_id", refund.OrderID),
		zap.String("refund_type", string(refund.RefundType)),
		zap.String("status", string(refund.Status)),
		zap.Int64("amount", refund.RefundAmount),
	)

	evt := domain.NewOrderEvent(events.NewID(), domain.EventRefundInitiated, order, now)
	evt.RefundID = refund.ID
	evt.Amount = refund.RefundAmount
	evt.Reason = refund.Reason
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error("Failed to publish refund event",
			zap.String("event_id", evt.ID),
			zap.String("refund_id", refund.ID),
			zap.Error(err),
		)
	}
	return refund, nil
}

// settle hands the refund to the gateway and records the outcome. Orders paid
// without a gateway reference have nothing to return through the gateway and
// keep their refund pending.
func (s *refundService) settle(ctx context.Context, refund *domain.Refund) error {
	if refund.ProviderReference == "" {
		return nil
	}

	outcome, err := s.provider.Refund(ctx, payment.RefundInstruction{
		RefundID:          refund.ID,
		MerchantRef:       refund.MerchantRef,
		ProviderReference: refund.ProviderReference,
		Amount:            refund.RefundAmount,
	})
	if err != nil {
		refund.Status = domain.RefundFailed
		refund.ErrorMessage = err.Error()
	} else {
		refund.Method = outcome.Method
		refund.Status = domain.RefundAwaitingManual
		if outcome.Settled {
			refund.Status = domain.RefundCompleted
		}
	}
	refund.UpdatedAt = s.now()

	updateErr := s.tx.WithinTx(ctx, func(q database.Querier) error {
		return s.refunds.UpdateRefundStatus(ctx, q, refund)
	})
	if err != nil {
		s.logger.Error("Refund provider failed",
			zap.String("refund_id", refund.ID),
			zap.String("order_id", refund.OrderID),
			zap.Error(err),
		)
		return domain.Provider("REFUND_PROVIDER_FAILED", "Refund processing failed", errors.Join(err, updateErr))
	}
	return updateErr
}

func (s *refundService) Get(ctx context.Context, orderID, refundID string) (*domain.Refund, error) {
	if refundID == "" && orderID == "" {
		return nil, domain.Validation("REFUND_LOOKUP_REQUIRED", "Order ID or Refund ID is required")
	}

	var refund *domain.Refund
	err := s.tx.WithinTx(ctx, func(q database.Querier) error {
		var err error
		if refundID != "" {
			refund, err = s.refunds.FindByID(ctx, q, refundID)
		} else {
			refund, err = s.refunds.FindLatestByOrderID(ctx, q, orderID)
		}
		return err
	})
	switch {
	case errors.Is(err, repo.ErrNotFound) && refundID != "":
		return nil, domain.NotFound("REFUND_NOT_FOUND", "Refund not found")
	case errors.Is(err, repo.ErrNotFound):
		return nil, domain.NotFound("REFUND_NOT_FOUND", "No refund found for this order")
	case err != nil:
		return nil, err
	}
	return refund, nil
}
