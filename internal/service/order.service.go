package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"orderflow/internal/database"
	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/metrics"
	"orderflow/internal/repo"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CallbackOptions struct {
	ConfirmationWindow time.Duration
	// CreateMissingOrders inserts a stub order for an unknown merchant
	// reference instead of rejecting the callback.
	CreateMissingOrders bool
}

type CallbackOutcome struct {
	Order       *domain.Order
	Result      domain.CallbackResult
	ProcessedAt time.Time
}

type OrderService interface {
	HandleCallback(ctx context.Context, cb domain.Callback) (*CallbackOutcome, error)
}

type orderService struct {
	tx        database.Transactor
	orderRepo repo.OrderRepo
	refunds   repo.RefundRepo
	publisher events.Publisher
	opts      CallbackOptions
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrderService(
	tx database.Transactor,
	orderRepo repo.OrderRepo,
	refunds repo.RefundRepo,
	publisher events.Publisher,
	opts CallbackOptions,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		tx:        tx,
		orderRepo: orderRepo,
		refunds:   refunds,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleCallback applies a verified gateway callback to its order. The read,
// the transition and the write happen under one row lock; events are
// published after commit.
func (s *orderService) HandleCallback(ctx context.Context, cb domain.Callback) (*CallbackOutcome, error) {
	ctx, span := otel.Tracer("orderflow").Start(ctx, "HandleCallback")
	defer span.End()
	span.SetAttributes(
		attribute.String("merchant_ref", cb.MerchantRef),
		attribute.String("provider_status", cb.Status),
	)

	now := s.now()
	var out CallbackOutcome

	err := s.tx.WithinTx(ctx, func(q database.Querier) error {
		order, err := s.orderRepo.LockByMerchantRef(ctx, q, cb.MerchantRef)
		if errors.Is(err, repo.ErrNotFound) {
			if !s.opts.CreateMissingOrders {
				return domain.NotFound("ORDER_NOT_FOUND", "Order not found")
			}
			order, err = s.createStub(ctx, q, cb.MerchantRef, now)
		}
		if err != nil {
			return err
		}

		res := order.ApplyCallback(cb, now, s.opts.ConfirmationWindow)
		if res.Changed() {
			if err := s.orderRepo.UpdateOrder(ctx, q, order); err != nil {
				return err
			}
			if strings.EqualFold(cb.Status, domain.ProviderRefund) {
				if err := s.refunds.CompleteActive(ctx, q, order.ID, now); err != nil {
					return err
				}
			}
		}

		out = CallbackOutcome{Order: order, Result: res, ProcessedAt: now}
		return nil
	})
	if err != nil {
		metrics.RecordCallback(strings.ToUpper(cb.Status), "error")
		span.RecordError(err)
		return nil, err
	}

	metrics.RecordCallback(strings.ToUpper(cb.Status), outcomeLabel(out.Result))
	s.logger.Info("Payment callback processed",
		zap.String("order_id", out.Order.ID),
		zap.String("merchant_ref", cb.MerchantRef),
		zap.String("provider_status", cb.Status),
		zap.String("transition", string(out.Result.Kind)),
		zap.Bool("duplicate", out.Result.Duplicate),
		zap.String("status", string(out.Order.Status)),
	)

	s.publishTransition(ctx, out)
	return &out, nil
}

func (s *orderService) createStub(ctx context.Context, q database.Querier, merchantRef string, now time.Time) (*domain.Order, error) {
	stub := &domain.Order{
		ID:               uuid.NewString(),
		MerchantRef:      merchantRef,
		Status:           domain.OrderAwaitingPayment,
		PaymentStatus:    domain.PaymentPending,
		PaymentExpiredAt: now,
		RefundStatus:     domain.RefundProgressNone,
		Timeline:         domain.Timeline{Created: now},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orderRepo.CreateOrder(ctx, q, stub); err != nil {
		return nil, err
	}
	s.logger.Warn("Created stub order for unknown merchant reference",
		zap.String("order_id", stub.ID),
		zap.String("merchant_ref", merchantRef),
	)
	return stub, nil
}

func (s *orderService) publishTransition(ctx context.Context, out CallbackOutcome) {
	var evt domain.Event
	switch out.Result.Kind {
	case domain.TransitionPaid:
		evt = domain.NewOrderEvent(events.NewID(), domain.EventOrderPaid, out.Order, out.ProcessedAt)
	case domain.TransitionCancelled:
		evt = domain.NewOrderEvent(events.NewID(), domain.EventOrderCancelled, out.Order, out.ProcessedAt)
		evt.Cause = domain.CausePaymentCallback
	default:
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.String("order_id", evt.OrderID),
			zap.Error(err),
		)
	}
}

func outcomeLabel(res domain.CallbackResult) string {
	switch {
	case res.Duplicate:
		return "duplicate"
	case res.Changed():
		return "applied"
	default:
		return "ignored"
	}
}
