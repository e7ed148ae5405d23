package entity

import "time"

const (
	OrderStatusPending         int32 = 1
	OrderStatusPaid            int32 = 2
	OrderStatusClosed          int32 = 3
	OrderStatusRefundRequested int32 = 4
	OrderStatusRefunded        int32 = 5
	OrderStatusRefundFailed    int32 = 6
)

type Order struct {
	ID uint64

	OrderNo  string
	UserID   uint64
	CourseID uint64

	AmountCents int64
	Status      int32

	TradeRef     *string
	RefundReason *string

	PaidAt     *time.Time
	RefundedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TerminalStatus reports whether no further transition is defined for status.
// PAID is not terminal: refunds continue from it.
func TerminalStatus(status int32) bool {
	switch status {
	case OrderStatusClosed, OrderStatusRefunded, OrderStatusRefundFailed:
		return true
	default:
		return false
	}
}

func StatusName(status int32) string {
	switch status {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusPaid:
		return "PAID"
	case OrderStatusClosed:
		return "CLOSED"
	case OrderStatusRefundRequested:
		return "REFUND_REQUESTED"
	case OrderStatusRefunded:
		return "REFUNDED"
	case OrderStatusRefundFailed:
		return "REFUND_FAILED"
	default:
		return "UNKNOWN"
	}
}
