package worker

import (
	"context"
	"fmt"
	"time"

	"orderflow/internal/database"
	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/metrics"
	"orderflow/internal/repo"
	"orderflow/internal/service"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type SweepOptions struct {
	BatchSize                 int
	PaymentTimeoutReason      string
	ConfirmationTimeoutReason string
}

type SweepResult struct {
	ProcessedCount       int      `json:"processedCount"`
	PaymentTimeouts      int      `json:"paymentTimeouts"`
	ConfirmationTimeouts int      `json:"confirmationTimeouts"`
	RefundsInitiated     int      `json:"refundsInitiated"`
	Skipped              int      `json:"skipped"`
	Errors               []string `json:"errors"`
}

// TimeoutSweeper cancels orders whose payment or confirmation deadline has
// passed. Each order is transitioned in its own transaction after re-reading
// it under lock, so a sweep racing a callback or another sweep only ever
// applies one transition.
type TimeoutSweeper struct {
	tx        database.Transactor
	orderRepo repo.OrderRepo
	refunds   service.RefundService
	publisher events.Publisher
	opts      SweepOptions
	logger    *zap.Logger
	now       func() time.Time
}

func NewTimeoutSweeper(
	tx database.Transactor,
	orderRepo repo.OrderRepo,
	refunds service.RefundService,
	publisher events.Publisher,
	opts SweepOptions,
	logger *zap.Logger,
) *TimeoutSweeper {
	return &TimeoutSweeper{
		tx:        tx,
		orderRepo: orderRepo,
		refunds:   refunds,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *TimeoutSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Timeout sweeper started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Timeout sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Timeout sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass over both timeout kinds. Per-order failures are
// collected in the result; the error is non-nil only when ctx ends the pass.
func (s *TimeoutSweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	ctx, span := otel.Tracer("orderflow").Start(ctx, "TimeoutSweep")
	defer span.End()

	now := s.now()
	res := &SweepResult{Errors: []string{}}

	s.sweepPaymentTimeouts(ctx, now, res)
	s.sweepConfirmationTimeouts(ctx, now, res)
	res.ProcessedCount = res.PaymentTimeouts + res.ConfirmationTimeouts

	span.SetAttributes(
		attribute.Int("processed", res.ProcessedCount),
		attribute.Int("errors", len(res.Errors)),
	)
	s.logger.Info("Timeout sweep completed",
		zap.Int("processed", res.ProcessedCount),
		zap.Int("payment_timeouts", res.PaymentTimeouts),
		zap.Int("confirmation_timeouts", res.ConfirmationTimeouts),
		zap.Int("refunds_initiated", res.RefundsInitiated),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", len(res.Errors)),
	)
	return res, ctx.Err()
}

func (s *TimeoutSweeper) sweepPaymentTimeouts(ctx context.Context, now time.Time, res *SweepResult) {
	candidates, err := s.findCandidates(ctx, func(q database.Querier) ([]domain.Order, error) {
		return s.orderRepo.FindPaymentOverdue(ctx, q, now, s.opts.BatchSize)
	})
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("payment timeout check: %v", err))
		return
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}
		order, applied, err := s.transition(ctx, candidate.ID, func(o *domain.Order) bool {
			return o.ExpirePayment(now, s.opts.PaymentTimeoutReason)
		})
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("payment timeout for %s: %v", candidate.ID, err))
			continue
		}
		if !applied {
			res.Skipped++
			continue
		}

		res.PaymentTimeouts++
		metrics.RecordSweepTransition("payment_timeout")
		s.logger.Info("Payment timeout processed", zap.String("order_id", order.ID))
		s.publishCancelled(ctx, order, domain.CausePaymentTimeout, now)
	}
}

func (s *TimeoutSweeper) sweepConfirmationTimeouts(ctx context.Context, now time.Time, res *SweepResult) {
	candidates, err := s.findCandidates(ctx, func(q database.Querier) ([]domain.Order, error) {
		return s.orderRepo.FindConfirmationOverdue(ctx, q, now, s.opts.BatchSize)
	})
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("confirmation timeout check: %v", err))
		return
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}
		order, applied, err := s.transition(ctx, candidate.ID, func(o *domain.Order) bool {
			return o.ExpireConfirmation(now, s.opts.ConfirmationTimeoutReason)
		})
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("confirmation timeout for %s: %v", candidate.ID, err))
			continue
		}
		if !applied {
			res.Skipped++
			continue
		}

		res.ConfirmationTimeouts++
		metrics.RecordSweepTransition("confirmation_timeout")
		s.logger.Info("Confirmation timeout processed", zap.String("order_id", order.ID))
		s.publishCancelled(ctx, order, domain.CauseConfirmationTimeout, now)

		if order.PaymentStatus != domain.PaymentPaid {
			continue
		}
		// The cancellation stays committed when the refund cannot be opened.
		refund, err := s.refunds.Initiate(ctx, service.RefundRequest{
			OrderID:     order.ID,
			Reason:      s.opts.ConfirmationTimeoutReason,
			Type:        domain.RefundAuto,
			RequestedBy: "system",
		})
		if err != nil {
			s.logger.Error("Automatic refund failed", zap.String("order_id", order.ID), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("refund for %s: %v", order.ID, err))
			continue
		}
		res.RefundsInitiated++
		s.logger.Info("Automatic refund initiated",
			zap.String("order_id", order.ID),
			zap.String("refund_id", refund.ID),
		)
	}
}

func (s *TimeoutSweeper) findCandidates(ctx context.Context, find func(q database.Querier) ([]domain.Order, error)) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.tx.WithinTx(ctx, func(q database.Querier) error {
		var err error
		orders, err = find(q)
		return err
	})
	return orders, err
}

// transition locks the order, re-checks it through apply and persists it when
// apply reports a change.
func (s *TimeoutSweeper) transition(ctx context.Context, orderID string, apply func(o *domain.Order) bool) (*domain.Order, bool, error) {
	var (
		order   *domain.Order
		applied bool
	)
	err := s.tx.WithinTx(ctx, func(q database.Querier) error {
		var err error
		order, err = s.orderRepo.LockByID(ctx, q, orderID)
		if err != nil {
			return err
		}
		if !apply(order) {
			return nil
		}
		applied = true
		return s.orderRepo.UpdateOrder(ctx, q, order)
	})
	if err != nil {
		return nil, false, err
	}
	return order, applied, nil
}

func (s *TimeoutSweeper) publishCancelled(ctx context.Context, order *domain.Order, cause domain.CancelCause, now time.Time) {
	evt := domain.NewOrderEvent(events.NewID(), domain.EventOrderCancelled, order, now)
	evt.Cause = cause
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_id", evt.ID),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}
