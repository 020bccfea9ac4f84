package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/infrastructure/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type refundServiceFixture struct {
	svc       *refundService
	orders    *memOrders
	refunds   *memRefunds
	provider  *fakeProvider
	publisher *recordingPublisher
}

func setupRefundService(t *testing.T, orders ...*domain.Order) refundServiceFixture {
	t.Helper()
	f := refundServiceFixture{
		orders:    newMemOrders(orders...),
		refunds:   newMemRefunds(),
		provider:  &fakeProvider{outcome: payment.RefundOutcome{Method: payment.MethodManualProcessing}},
		publisher: &recordingPublisher{},
	}
	f.svc = NewRefundService(&lockingTx{}, f.orders, f.refunds, f.provider, f.publisher, 30*24*time.Hour, zaptest.NewLogger(t)).(*refundService)
	f.svc.now = func() time.Time { return testNow.Add(time.Hour) }
	return f
}

func TestInitiate_ManualRefundAwaitsOperator(t *testing.T) {
	f := setupRefundService(t, paidOrder())

	refund, err := f.svc.Initiate(context.Background(), RefundRequest{
		OrderID: "order-1", Reason: "Client request", Type: domain.RefundManual, RequestedBy: "admin-1",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.RefundAwaitingManual, refund.Status)
	assert.Equal(t, payment.MethodManualProcessing, refund.Method)
	assert.Equal(t, int64(150000), refund.RefundAmount)
	assert.Equal(t, "T-REF-1", refund.ProviderReference)
	assert.Equal(t, 1, f.provider.calls)

	order := f.orders.get("order-1")
	assert.Equal(t, domain.RefundProgressPending, order.RefundStatus)
	assert.Equal(t, refund.ID, order.RefundID)
	require.NotNil(t, order.RefundInitiatedAt)
	assert.Equal(t, domain.OrderPending, order.Status)

	evts := f.publisher.published()
	require.Len(t, evts, 1)
	assert.Equal(t, domain.EventRefundInitiated, evts[0].Type)
	assert.Equal(t, refund.ID, evts[0].RefundID)
	assert.Equal(t, "Client request", evts[0].Reason)
}

func TestInitiate_Defaults(t *testing.T) {
	f := setupRefundService(t, paidOrder())

	refund, err := f.svc.Initiate(context.Background(), RefundRequest{OrderID: "order-1"})

	require.NoError(t, err)
	assert.Equal(t, domain.RefundAuto, refund.RefundType)
	assert.Equal(t, "system", refund.RequestedBy)
	assert.Equal(t, "Automatic refund due to timeout", refund.Reason)
}

func TestInitiate_SecondRefundConflicts(t *testing.T) {
	f := setupRefundService(t, paidOrder())

	_, err := f.svc.Initiate(context.Background(), RefundRequest{OrderID: "order-1", Type: domain.RefundManual})
	require.NoError(t, err)
	_, err = f.svc.Initiate(context.Background(), RefundRequest{OrderID: "order-1", Type: domain.RefundManual})

	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Len(t, f.refunds.all(), 1)
}

func TestInitiate_RejectedOrders(t *testing.T) {
	completed := paidOrder()
	completed.Status = domain.OrderCompleted

	cases := []struct {
		name  string
		order *domain.Order
		req   RefundRequest
		kind  domain.ErrorKind
	}{
		{"missing order id", nil, RefundRequest{}, domain.KindValidation},
		{"invalid type", nil, RefundRequest{OrderID: "order-1", Type: "partial"}, domain.KindValidation},
		{"unknown order", nil, RefundRequest{OrderID: "order-1"}, domain.KindNotFound},
		{"completed order", completed, RefundRequest{OrderID: "order-1"}, domain.KindConflict},
		{"unpaid order", awaitingPaymentOrder(), RefundRequest{OrderID: "order-1"}, domain.KindConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var orders []*domain.Order
			if tc.order != nil {
				orders = append(orders, tc.order)
			}
			f := setupRefundService(t, orders...)

			_, err := f.svc.Initiate(context.Background(), tc.req)

			assert.Equal(t, tc.kind, domain.KindOf(err))
			assert.Empty(t, f.refunds.all())
			assert.Empty(t, f.publisher.published())
		})
	}
}

func TestInitiate_AutoRefundForTimedOutOrder(t *testing.T) {
	o := paidOrder()
	require.True(t, o.ExpireConfirmation(testNow.Add(4*time.Hour), "Freelancer confirmation timeout"))
	f := setupRefundService(t, o)
	f.svc.now = func() time.Time { return testNow.Add(4 * time.Hour) }

	refund, err := f.svc.Initiate(context.Background(), RefundRequest{OrderID: o.ID, Type: domain.RefundAuto})

	require.NoError(t, err)
	assert.Equal(t, domain.RefundAwaitingManual, refund.Status)
	stored := f.orders.get(o.ID)
	assert.Equal(t, domain.OrderCancelled, stored.Status)
	assert.Equal(t, testNow.Add(4*time.Hour), *stored.Timeline.RefundInitiated)
}

func TestInitiate_ProviderFailureMarksRefundFailed(t *testing.T) {
	f := setupRefundService(t, paidOrder())
	f.provider.err = errors.New("gateway timeout")

	refund, err := f.svc.Initiate(context.Background(), RefundRequest{OrderID: "order-1", Type: domain.RefundManual})

	assert.Equal(t, domain.KindProvider, domain.KindOf(err))
	require.NotNil(t, refund)
	stored, findErr := f.refunds.FindByID(context.Background(), nil, refund.ID)
	require.NoError(t, findErr)
	assert.Equal(t, domain.RefundFailed, stored.Status)
	assert.Equal(t, "gateway timeout", stored.ErrorMessage)
	assert.Empty(t, f.publisher.published())
}

func TestInitiate_WithoutGatewayReferenceStaysPending(t *testing.T) {
	o := paidOrder()
	o.ProviderReference = ""
	f := setupRefundService(t, o)

	refund, err := f.svc.Initiate(context.Background(), RefundRequest{OrderID: o.ID, Type: domain.RefundManual})

	require.NoError(t, err)
	assert.Equal(t, domain.RefundPending, refund.Status)
	assert.Zero(t, f.provider.calls)
}

func TestGetRefund(t *testing.T) {
	f := setupRefundService(t, paidOrder())
	created, err := f.svc.Initiate(context.Background(), RefundRequest{OrderID: "order-1", Type: domain.RefundManual})
	require.NoError(t, err)

	byID, err := f.svc.Get(context.Background(), "", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byID.ID)

	byOrder, err := f.svc.Get(context.Background(), "order-1", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byOrder.ID)

	_, err = f.svc.Get(context.Background(), "order-2", "")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = f.svc.Get(context.Background(), "", "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}
