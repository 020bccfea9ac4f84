package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"orderflow/internal/database"
	"orderflow/internal/domain"
	"orderflow/internal/infrastructure/payment"
	"orderflow/internal/repo"
)

var testNow = time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC)

// lockingTx serializes transactions, standing in for the row locks the
// Postgres repositories take.
type lockingTx struct {
	mu sync.Mutex
}

func (t *lockingTx) WithinTx(ctx context.Context, fn func(q database.Querier) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(nil)
}

type memOrders struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	updates int
}

func newMemOrders(orders ...*domain.Order) *memOrders {
	m := &memOrders{orders: map[string]domain.Order{}}
	for _, o := range orders {
		m.orders[o.ID] = *o
	}
	return m
}

func (m *memOrders) get(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memOrders) CreateOrder(ctx context.Context, q database.Querier, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *o
	return nil
}

func (m *memOrders) FindByID(ctx context.Context, q database.Querier, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &o, nil
}

func (m *memOrders) LockByID(ctx context.Context, q database.Querier, id string) (*domain.Order, error) {
	return m.FindByID(ctx, q, id)
}

func (m *memOrders) LockByMerchantRef(ctx context.Context, q database.Querier, merchantRef string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.MerchantRef == merchantRef {
			return &o, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memOrders) UpdateOrder(ctx context.Context, q database.Querier, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return repo.ErrNotFound
	}
	m.orders[o.ID] = *o
	m.updates++
	return nil
}

func (m *memOrders) FindPaymentOverdue(ctx context.Context, q database.Querier, now time.Time, limit int) ([]domain.Order, error) {
	return m.filter(func(o *domain.Order) bool { return o.PaymentOverdue(now) }, limit), nil
}

func (m *memOrders) FindConfirmationOverdue(ctx context.Context, q database.Querier, now time.Time, limit int) ([]domain.Order, error) {
	return m.filter(func(o *domain.Order) bool { return o.ConfirmationOverdue(now) }, limit), nil
}

func (m *memOrders) filter(match func(o *domain.Order) bool, limit int) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if match(&o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memRefunds struct {
	mu      sync.Mutex
	refunds map[string]domain.Refund
}

func newMemRefunds() *memRefunds {
	return &memRefunds{refunds: map[string]domain.Refund{}}
}

func (m *memRefunds) all() []domain.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Refund
	for _, r := range m.refunds {
		out = append(out, r)
	}
	return out
}

func (m *memRefunds) CreateRefund(ctx context.Context, q database.Querier, refund *domain.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[refund.ID] = *refund
	return nil
}

func (m *memRefunds) FindByID(ctx context.Context, q database.Querier, id string) (*domain.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &r, nil
}

func (m *memRefunds) FindLatestByOrderID(ctx context.Context, q database.Querier, orderID string) (*domain.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Refund
	for _, r := range m.refunds {
		if r.OrderID == orderID && (latest == nil || r.CreatedAt.After(latest.CreatedAt)) {
			r := r
			latest = &r
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	return latest, nil
}

func (m *memRefunds) HasActive(ctx context.Context, q database.Querier, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.refunds {
		if r.OrderID != orderID {
			continue
		}
		for _, s := range domain.ActiveRefundStatuses {
			if r.Status == s {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *memRefunds) UpdateRefundStatus(ctx context.Context, q database.Querier, refund *domain.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[refund.ID] = *refund
	return nil
}

func (m *memRefunds) CompleteActive(ctx context.Context, q database.Querier, orderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.refunds {
		if r.OrderID == orderID && (r.Status == domain.RefundPending || r.Status == domain.RefundAwaitingManual) {
			r.Status = domain.RefundCompleted
			r.UpdatedAt = at
			m.refunds[id] = r
		}
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) published() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

type fakeProvider struct {
	outcome payment.RefundOutcome
	err     error
	calls   int
}

func (p *fakeProvider) Refund(ctx context.Context, in payment.RefundInstruction) (payment.RefundOutcome, error) {
	p.calls++
	return p.outcome, p.err
}

func awaitingPaymentOrder() *domain.Order {
	return &domain.Order{
		ID:               "order-1",
		MerchantRef:      "SKILLNUSA-123",
		Title:            "Logo Design",
		Status:           domain.OrderAwaitingPayment,
		PaymentStatus:    domain.PaymentPending,
		Price:            150000,
		ClientID:         "client-1",
		FreelancerID:     "freelancer-1",
		PaymentExpiredAt: testNow.Add(time.Hour),
		RefundStatus:     domain.RefundProgressNone,
		Timeline:         domain.Timeline{Created: testNow.Add(-time.Minute)},
		CreatedAt:        testNow.Add(-time.Minute),
		UpdatedAt:        testNow.Add(-time.Minute),
	}
}

func paidOrder() *domain.Order {
	o := awaitingPaymentOrder()
	o.ApplyCallback(domain.Callback{Reference: "T-REF-1", MerchantRef: o.MerchantRef, Status: domain.ProviderPaid}, testNow, 3*time.Hour)
	return o
}
