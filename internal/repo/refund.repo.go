package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orderflow/internal/database"
	"orderflow/internal/domain"
)

type RefundRepo interface {
	CreateRefund(ctx context.Context, q database.Querier, refund *domain.Refund) error
	FindByID(ctx context.Context, q database.Querier, id string) (*domain.Refund, error)
	FindLatestByOrderID(ctx context.Context, q database.Querier, orderID string) (*domain.Refund, error)
	HasActive(ctx context.Context, q database.Querier, orderID string) (bool, error)
	UpdateRefundStatus(ctx context.Context, q database.Querier, refund *domain.Refund) error
	// CompleteActive marks the order's open refund as settled. It is a no-op
	// when the order has none.
	CompleteActive(ctx context.Context, q database.Querier, orderID string, at time.Time) error
}

type refundRepo struct{}

func NewRefundRepo() RefundRepo {
	return &refundRepo{}
}

const refundColumns = `id, order_id, merchant_ref, provider_reference, refund_amount, original_amount,
	reason, refund_type, requested_by, status, method, error_message, created_at, updated_at`

func scanRefund(row rowScanner) (*domain.Refund, error) {
	var r domain.Refund
	err := row.Scan(
		&r.ID, &r.OrderID, &r.MerchantRef, &r.ProviderReference, &r.RefundAmount, &r.OriginalAmount,
		&r.Reason, &r.RefundType, &r.RequestedBy, &r.Status, &r.Method, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *refundRepo) CreateRefund(ctx context.Context, q database.Querier, refund *domain.Refund) error {
	_, err := q.ExecContext(ctx, `INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		refund.ID, refund.OrderID, refund.MerchantRef, refund.ProviderReference, refund.RefundAmount, refund.OriginalAmount,
		refund.Reason, refund.RefundType, refund.RequestedBy, refund.Status, refund.Method, refund.ErrorMessage,
		refund.CreatedAt, refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund for order %s: %w", refund.OrderID, err)
	}
	return nil
}

func (r *refundRepo) FindByID(ctx context.Context, q database.Querier, id string) (*domain.Refund, error) {
	refund, err := scanRefund(q.QueryRowContext(ctx, "SELECT "+refundColumns+" FROM refunds WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select refund %s: %w", id, err)
	}
	return refund, nil
}

func (r *refundRepo) FindLatestByOrderID(ctx context.Context, q database.Querier, orderID string) (*domain.Refund, error) {
	refund, err := scanRefund(q.QueryRowContext(ctx,
		"SELECT "+refundColumns+" FROM refunds WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select refund for order %s: %w", orderID, err)
	}
	return refund, nil
}

func (r *refundRepo) HasActive(ctx context.Context, q database.Querier, orderID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM refunds WHERE order_id = $1 AND status IN ($2, $3, $4))",
		orderID, domain.RefundPending, domain.RefundAwaitingManual, domain.RefundCompleted,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active refund for order %s: %w", orderID, err)
	}
	return exists, nil
}

func (r *refundRepo) UpdateRefundStatus(ctx context.Context, q database.Querier, refund *domain.Refund) error {
	res, err := q.ExecContext(ctx,
		"UPDATE refunds SET status = $2, method = $3, error_message = $4, updated_at = $5 WHERE id = $1",
		refund.ID, refund.Status, refund.Method, refund.ErrorMessage, refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update refund %s: %w", refund.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *refundRepo) CompleteActive(ctx context.Context, q database.Querier, orderID string, at time.Time) error {
	_, err := q.ExecContext(ctx,
		"UPDATE refunds SET status = $2, updated_at = $3 WHERE order_id = $1 AND status IN ($4, $5)",
		orderID, domain.RefundCompleted, at, domain.RefundPending, domain.RefundAwaitingManual,
	)
	if err != nil {
		return fmt.Errorf("complete refund for order %s: %w", orderID, err)
	}
	return nil
}
