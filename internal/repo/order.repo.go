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

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

type OrderRepo interface {
	CreateOrder(ctx context.Context, q database.Querier, order *domain.Order) error
	FindByID(ctx context.Context, q database.Querier, id string) (*domain.Order, error)
	// LockByID and LockByMerchantRef must run inside a transaction; the row
	// stays locked until it ends.
	LockByID(ctx context.Context, q database.Querier, id string) (*domain.Order, error)
	LockByMerchantRef(ctx context.Context, q database.Querier, merchantRef string) (*domain.Order, error)
	UpdateOrder(ctx context.Context, q database.Querier, order *domain.Order) error
	FindPaymentOverdue(ctx context.Context, q database.Querier, now time.Time, limit int) ([]domain.Order, error)
	FindConfirmationOverdue(ctx context.Context, q database.Querier, now time.Time, limit int) ([]domain.Order, error)
}

type orderRepo struct{}

func NewOrderRepo() OrderRepo {
	return &orderRepo{}
}

const orderColumns = `id, merchant_ref, title, status, payment_status, price, total_amount,
	client_id, freelancer_id, payment_expired_at, confirmation_deadline, paid_at,
	amount_received, payment_method, provider_reference, provider_status,
	cancelled_at, cancellation_reason, refund_status, refund_id, refund_amount,
	refund_initiated_at, timeline_created, timeline_confirmed, timeline_cancelled,
	timeline_refund_initiated, cleaned_up, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                                                domain.Order
		deadline, paidAt, cancelledAt, refundInitiatedAt sql.NullTime
		confirmed, cancelled, refundStamped              sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.MerchantRef, &o.Title, &o.Status, &o.PaymentStatus, &o.Price, &o.TotalAmount,
		&o.ClientID, &o.FreelancerID, &o.PaymentExpiredAt, &deadline, &paidAt,
		&o.AmountReceived, &o.PaymentMethod, &o.ProviderReference, &o.ProviderStatus,
		&cancelledAt, &o.CancellationReason, &o.RefundStatus, &o.RefundID, &o.RefundAmount,
		&refundInitiatedAt, &o.Timeline.Created, &confirmed, &cancelled,
		&refundStamped, &o.CleanedUp, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.ConfirmationDeadline = fromNullTime(deadline)
	o.PaidAt = fromNullTime(paidAt)
	o.CancelledAt = fromNullTime(cancelledAt)
	o.RefundInitiatedAt = fromNullTime(refundInitiatedAt)
	o.Timeline.Confirmed = fromNullTime(confirmed)
	o.Timeline.Cancelled = fromNullTime(cancelled)
	o.Timeline.RefundInitiated = fromNullTime(refundStamped)
	return &o, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, q database.Querier, o *domain.Order) error {
	_, err := q.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		 $21, $22, $23, $24, $25, $26, $27, $28, $29)`,
		o.ID, o.MerchantRef, o.Title, o.Status, o.PaymentStatus, o.Price, o.TotalAmount,
		o.ClientID, o.FreelancerID, o.PaymentExpiredAt, toNullTime(o.ConfirmationDeadline), toNullTime(o.PaidAt),
		o.AmountReceived, o.PaymentMethod, o.ProviderReference, o.ProviderStatus,
		toNullTime(o.CancelledAt), o.CancellationReason, o.RefundStatus, o.RefundID, o.RefundAmount,
		toNullTime(o.RefundInitiatedAt), o.Timeline.Created, toNullTime(o.Timeline.Confirmed), toNullTime(o.Timeline.Cancelled),
		toNullTime(o.Timeline.RefundInitiated), o.CleanedUp, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, q database.Querier, id string) (*domain.Order, error) {
	return r.findOne(ctx, q, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

func (r *orderRepo) LockByID(ctx context.Context, q database.Querier, id string) (*domain.Order, error) {
	return r.findOne(ctx, q, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (r *orderRepo) LockByMerchantRef(ctx context.Context, q database.Querier, merchantRef string) (*domain.Order, error) {
	return r.findOne(ctx, q, "SELECT "+orderColumns+" FROM orders WHERE merchant_ref = $1 FOR UPDATE", merchantRef)
}

func (r *orderRepo) findOne(ctx context.Context, q database.Querier, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

// UpdateOrder writes every mutable column of the order. Callers hold the row
// lock, so the read-modify-write cannot lose a concurrent change.
func (r *orderRepo) UpdateOrder(ctx context.Context, q database.Querier, o *domain.Order) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders SET
			status = $2,
			payment_status = $3,
			confirmation_deadline = $4,
			paid_at = $5,
			amount_received = $6,
			payment_method = $7,
			provider_reference = $8,
			provider_status = $9,
			cancelled_at = $10,
			cancellation_reason = $11,
			refund_status = $12,
			refund_id = $13,
			refund_amount = $14,
			refund_initiated_at = $15,
			timeline_confirmed = $16,
			timeline_cancelled = $17,
			timeline_refund_initiated = $18,
			cleaned_up = $19,
			updated_at = $20
		WHERE id = $1`,
		o.ID, o.Status, o.PaymentStatus, toNullTime(o.ConfirmationDeadline), toNullTime(o.PaidAt),
		o.AmountReceived, o.PaymentMethod, o.ProviderReference, o.ProviderStatus,
		toNullTime(o.CancelledAt), o.CancellationReason, o.RefundStatus, o.RefundID, o.RefundAmount,
		toNullTime(o.RefundInitiatedAt), toNullTime(o.Timeline.Confirmed), toNullTime(o.Timeline.Cancelled),
		toNullTime(o.Timeline.RefundInitiated), o.CleanedUp, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orderRepo) FindPaymentOverdue(ctx context.Context, q database.Querier, now time.Time, limit int) ([]domain.Order, error) {
	return r.findMany(ctx, q, `SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND payment_expired_at <= $2
		ORDER BY payment_expired_at
		LIMIT $3`, domain.OrderAwaitingPayment, now, limit)
}

func (r *orderRepo) FindConfirmationOverdue(ctx context.Context, q database.Querier, now time.Time, limit int) ([]domain.Order, error) {
	return r.findMany(ctx, q, `SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND confirmation_deadline <= $2
		ORDER BY confirmation_deadline
		LIMIT $3`, domain.OrderPending, now, limit)
}

func (r *orderRepo) findMany(ctx context.Context, q database.Querier, query string, args ...any) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
