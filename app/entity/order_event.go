package entity

import "time"

const (
	EventOrderCreated    = "order_created"
	EventOrderPaid       = "order_paid"
	EventOrderClosed     = "order_closed"
	EventPaymentConflict = "payment_conflict"
	EventRefundRequested = "refund_requested"
	EventRefundCompleted = "refund_completed"
	EventRefundFailed    = "refund_failed"
)

type OrderEvent struct {
	ID uint64

	OrderID uint64

	EventType string

	OldStatus *int32
	NewStatus int32

	TradeRef *string
	Detail   *string

	CreatedAt time.Time
}
