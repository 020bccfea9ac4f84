package domain

import (
	"time"
)

type OrderStatus string

const (
	OrderAwaitingPayment OrderStatus = "payment"
	OrderPending         OrderStatus = "pending"
	OrderConfirmed       OrderStatus = "confirmed"
	OrderInProgress      OrderStatus = "in_progress"
	OrderCompleted       OrderStatus = "completed"
	OrderCancelled       OrderStatus = "cancelled"
)

// RefundProgress is the refund state as tracked on the order itself.
type RefundProgress string

const (
	RefundProgressNone      RefundProgress = "none"
	RefundProgressPending   RefundProgress = "pending"
	RefundProgressCompleted RefundProgress = "completed"
)

// Timeline holds the named milestones of an order. Each milestone is its own
// column so stamping one never touches the others.
type Timeline struct {
	Created         time.Time
	Confirmed       *time.Time
	Cancelled       *time.Time
	RefundInitiated *time.Time
}

type Order struct {
	ID            string
	MerchantRef   string
	Title         string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Price         int64
	TotalAmount   int64
	ClientID      string
	FreelancerID  string

	PaymentExpiredAt     time.Time
	ConfirmationDeadline *time.Time
	PaidAt               *time.Time
	AmountReceived       int64
	PaymentMethod        string
	ProviderReference    string
	ProviderStatus       string

	CancelledAt        *time.Time
	CancellationReason string

	RefundStatus      RefundProgress
	RefundID          string
	RefundAmount      int64
	RefundInitiatedAt *time.Time

	Timeline  Timeline
	CleanedUp bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Amount is the captured amount of the order: the total when known, the
// package price otherwise.
func (o *Order) Amount() int64 {
	if o.TotalAmount > 0 {
		return o.TotalAmount
	}
	return o.Price
}

func (o *Order) IsTerminal() bool {
	return o.Status == OrderCancelled
}

// PaymentOverdue reports whether the order is still waiting for payment past
// its payment deadline.
func (o *Order) PaymentOverdue(now time.Time) bool {
	return o.Status == OrderAwaitingPayment && !o.PaymentExpiredAt.After(now)
}

// ConfirmationOverdue reports whether a paid order was not accepted by the
// freelancer before its confirmation deadline.
func (o *Order) ConfirmationOverdue(now time.Time) bool {
	return o.Status == OrderPending &&
		o.ConfirmationDeadline != nil &&
		!o.ConfirmationDeadline.After(now)
}

// ExpirePayment cancels an order whose payment window lapsed. It returns
// false, leaving the order untouched, when the order no longer qualifies.
func (o *Order) ExpirePayment(now time.Time, reason string) bool {
	if !o.PaymentOverdue(now) {
		return false
	}
	o.Status = OrderCancelled
	o.PaymentStatus = PaymentExpired
	o.cancel(now, reason)
	return true
}

// ExpireConfirmation cancels a paid order the freelancer did not confirm in
// time and marks the captured amount for refund.
func (o *Order) ExpireConfirmation(now time.Time, reason string) bool {
	if !o.ConfirmationOverdue(now) {
		return false
	}
	o.Status = OrderCancelled
	o.cancel(now, reason)
	o.RefundStatus = RefundProgressPending
	o.RefundAmount = o.Amount()
	o.RefundInitiatedAt = &now
	o.Timeline.RefundInitiated = &now
	return true
}

func (o *Order) cancel(now time.Time, reason string) {
	o.CancelledAt = &now
	o.CancellationReason = reason
	o.Timeline.Cancelled = &now
	o.UpdatedAt = now
}
