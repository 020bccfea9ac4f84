package domain

import (
	"time"
)

type RefundStatus string

const (
	RefundPending RefundStatus = "pending"
	// RefundAwaitingManual means the gateway cannot return the funds itself and
	// an operator has to settle the refund by hand.
	RefundAwaitingManual RefundStatus = "awaiting_manual"
	RefundCompleted      RefundStatus = "completed"
	RefundFailed         RefundStatus = "failed"
)

// ActiveRefundStatuses block the creation of another refund for the same order.
var ActiveRefundStatuses = []RefundStatus{RefundPending, RefundAwaitingManual, RefundCompleted}

type RefundType string

const (
	RefundAuto   RefundType = "auto"
	RefundManual RefundType = "manual"
)

func (t RefundType) Valid() bool {
	return t == RefundAuto || t == RefundManual
}

type Refund struct {
	ID                string
	OrderID           string
	MerchantRef       string
	ProviderReference string
	RefundAmount      int64
	OriginalAmount    int64
	Reason            string
	RefundType        RefundType
	RequestedBy       string
	Status            RefundStatus
	Method            string
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RefundEligibility checks whether a refund of the given type may be opened
// for the order at time now. Orders are refundable for window after payment.
func RefundEligibility(o *Order, refundType RefundType, now time.Time, window time.Duration) error {
	switch o.Status {
	case OrderCompleted:
		return Conflict("ORDER_COMPLETED", "Cannot refund completed orders")
	case OrderCancelled:
		// The sweeper cancels an unconfirmed order before asking for its refund.
		if refundType != RefundAuto || o.RefundStatus != RefundProgressPending {
			return Conflict("ORDER_CANCELLED", "Order is already cancelled")
		}
	}

	if o.PaymentStatus != PaymentPaid {
		return Conflict("ORDER_UNPAID", "No payment to refund")
	}

	paidAt := o.CreatedAt
	if o.PaidAt != nil {
		paidAt = *o.PaidAt
	}
	if !paidAt.IsZero() && now.Sub(paidAt) > window {
		return Conflict("REFUND_WINDOW_EXPIRED", "Refund period has expired")
	}
	return nil
}
