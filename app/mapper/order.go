package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/types"
)

func OrderToResponse(item *entity.Order) *types.Order {
	if item == nil {
		return nil
	}

	return &types.Order{
		Id:           item.ID,
		OrderNo:      item.OrderNo,
		UserId:       item.UserID,
		CourseId:     item.CourseID,
		AmountCents:  item.AmountCents,
		Status:       entity.StatusName(item.Status),
		TradeRef:     derefString(item.TradeRef),
		RefundReason: derefString(item.RefundReason),
		PaidAt:       formatTime(item.PaidAt),
		RefundedAt:   formatTime(item.RefundedAt),
		CreatedAt:    item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
