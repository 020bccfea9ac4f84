package domain

import (
	"strings"
	"time"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentExpired  PaymentStatus = "expired"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Statuses reported by the payment gateway in its callbacks.
const (
	ProviderPaid    = "PAID"
	ProviderExpired = "EXPIRED"
	ProviderFailed  = "FAILED"
	ProviderRefund  = "REFUND"
)

// Callback is a decoded payment-gateway notification about one transaction.
type Callback struct {
	Reference      string
	MerchantRef    string
	Status         string
	PaidAt         *time.Time
	AmountReceived int64
	PaymentMethod  string
}

type TransitionKind string

const (
	TransitionNone            TransitionKind = "none"
	TransitionPaid            TransitionKind = "paid"
	TransitionCancelled       TransitionKind = "cancelled"
	TransitionRefundCompleted TransitionKind = "refund_completed"
	TransitionPaymentPending  TransitionKind = "payment_pending"
)

type CallbackResult struct {
	Kind      TransitionKind
	Duplicate bool
}

// Changed reports whether the order was modified and must be persisted.
func (r CallbackResult) Changed() bool {
	return !r.Duplicate && r.Kind != TransitionNone
}

// MapProviderStatus translates a gateway status into the order and payment
// statuses it leads to. ok is false for statuses with no defined mapping, in
// which case the order status is left as it is and payment stays pending.
func MapProviderStatus(status string) (orderStatus OrderStatus, paymentStatus PaymentStatus, ok bool) {
	switch strings.ToUpper(status) {
	case ProviderPaid:
		return OrderPending, PaymentPaid, true
	case ProviderExpired:
		return OrderCancelled, PaymentExpired, true
	case ProviderFailed:
		return OrderCancelled, PaymentFailed, true
	case ProviderRefund:
		return OrderCancelled, PaymentRefunded, true
	default:
		return "", PaymentPending, false
	}
}

// ApplyCallback moves the order through the payment state machine. A callback
// carrying the reference and status already stored on the order is reported
// as a duplicate and changes nothing. Callbacks that do not fit the order's
// current state are ignored.
func (o *Order) ApplyCallback(cb Callback, now time.Time, confirmationWindow time.Duration) CallbackResult {
	if o.ProviderReference == cb.Reference && strings.EqualFold(o.ProviderStatus, cb.Status) {
		return CallbackResult{Kind: TransitionNone, Duplicate: true}
	}

	orderStatus, paymentStatus, known := MapProviderStatus(cb.Status)
	provider := strings.ToUpper(cb.Status)

	var kind TransitionKind
	switch {
	case !known:
		if o.Status != OrderAwaitingPayment {
			return CallbackResult{Kind: TransitionNone}
		}
		o.PaymentStatus = PaymentPending
		kind = TransitionPaymentPending

	case provider == ProviderPaid:
		if o.Status != OrderAwaitingPayment {
			return CallbackResult{Kind: TransitionNone}
		}
		paidAt := now
		if cb.PaidAt != nil {
			paidAt = *cb.PaidAt
		}
		deadline := paidAt.Add(confirmationWindow)
		o.Status = orderStatus
		o.PaymentStatus = paymentStatus
		o.PaidAt = &paidAt
		o.ConfirmationDeadline = &deadline
		o.Timeline.Confirmed = &now
		if cb.AmountReceived > 0 {
			o.AmountReceived = cb.AmountReceived
		}
		if cb.PaymentMethod != "" {
			o.PaymentMethod = cb.PaymentMethod
		}
		kind = TransitionPaid

	case provider == ProviderRefund && o.Status == OrderCancelled:
		if o.RefundStatus != RefundProgressPending {
			return CallbackResult{Kind: TransitionNone}
		}
		o.PaymentStatus = PaymentRefunded
		o.RefundStatus = RefundProgressCompleted
		kind = TransitionRefundCompleted

	case provider == ProviderRefund:
		switch o.Status {
		case OrderAwaitingPayment, OrderPending, OrderConfirmed, OrderInProgress:
		default:
			return CallbackResult{Kind: TransitionNone}
		}
		o.Status = orderStatus
		o.PaymentStatus = paymentStatus
		o.RefundStatus = RefundProgressCompleted
		o.cancel(now, "Payment "+strings.ToLower(cb.Status))
		kind = TransitionCancelled

	default:
		if o.Status != OrderAwaitingPayment {
			return CallbackResult{Kind: TransitionNone}
		}
		o.Status = orderStatus
		o.PaymentStatus = paymentStatus
		o.cancel(now, "Payment "+strings.ToLower(cb.Status))
		kind = TransitionCancelled
	}

	o.ProviderReference = cb.Reference
	o.ProviderStatus = cb.Status
	o.UpdatedAt = now
	return CallbackResult{Kind: kind}
}
