package domain

import (
	"time"
)

type EventType string

const (
	EventOrderPaid       EventType = "order.paid"
	EventOrderCancelled  EventType = "order.cancelled"
	EventRefundInitiated EventType = "refund.initiated"
)

type CancelCause string

const (
	CausePaymentTimeout      CancelCause = "payment_timeout"
	CauseConfirmationTimeout CancelCause = "confirmation_timeout"
	CausePaymentCallback     CancelCause = "payment_callback"
)

// Event is emitted after an order transition has been committed. Consumers
// derive their own idempotency keys from ID.
type Event struct {
	ID           string      `json:"id"`
	Type         EventType   `json:"type"`
	OrderID      string      `json:"order_id"`
	MerchantRef  string      `json:"merchant_ref"`
	Title        string      `json:"title"`
	ClientID     string      `json:"client_id"`
	FreelancerID string      `json:"freelancer_id"`
	Amount       int64       `json:"amount"`
	Cause        CancelCause `json:"cause,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	RefundID     string      `json:"refund_id,omitempty"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

// NewOrderEvent snapshots the order fields consumers need.
func NewOrderEvent(id string, typ EventType, o *Order, at time.Time) Event {
	return Event{
		ID:           id,
		Type:         typ,
		OrderID:      o.ID,
		MerchantRef:  o.MerchantRef,
		Title:        o.Title,
		ClientID:     o.ClientID,
		FreelancerID: o.FreelancerID,
		Amount:       o.Amount(),
		Reason:       o.CancellationReason,
		OccurredAt:   at,
	}
}
