package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/factory"
	"github.com/vibast-solutions/ms-go-orders/app/metrics"
	"github.com/vibast-solutions/ms-go-orders/app/notifier"
	"github.com/vibast-solutions/ms-go-orders/app/repository"
	"github.com/vibast-solutions/ms-go-orders/config"
)

type orderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	FindByID(ctx context.Context, id uint64) (*entity.Order, error)
	FindByOrderNo(ctx context.Context, orderNo string) (*entity.Order, error)
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Order, error)
	CompareAndUpdateStatus(ctx context.Context, id uint64, expected, next int32, update repository.StatusUpdate) (bool, error)
}

type orderEventRepository interface {
	Create(ctx context.Context, event *entity.OrderEvent) error
}

type countdownRegistrar interface {
	Register(ctx context.Context, orderNo string, window time.Duration) error
	Remaining(ctx context.Context, orderNo string) (time.Duration, error)
	Cancel(ctx context.Context, orderNo string) error
}

type orderClosedPublisher interface {
	PublishOrderClosed(ctx context.Context, event notifier.OrderClosedEvent) error
}

// OrderService is the single authority over order state transitions. Every
// trigger (payment callback, expiration listener, reconciliation sweep, user
// cancellation) funnels through it; each transition is a compare-and-swap on
// the durable row's status, and a lost swap is re-read and interpreted rather
// than treated as an error.
type OrderService struct {
	orderRepo orderRepository
	eventRepo orderEventRepository
	countdown countdownRegistrar
	publisher orderClosedPublisher
	ordersCfg config.OrdersConfig
	metrics   *metrics.OrderMetrics
	logger    logrus.FieldLogger
}

func NewOrderService(
	orderRepo orderRepository,
	eventRepo orderEventRepository,
	countdown countdownRegistrar,
	publisher orderClosedPublisher,
	ordersCfg config.OrdersConfig,
	m *metrics.OrderMetrics,
) *OrderService {
	return &OrderService{
		orderRepo: orderRepo,
		eventRepo: eventRepo,
		countdown: countdown,
		publisher: publisher,
		ordersCfg: ordersCfg,
		metrics:   m,
		logger:    factory.NewModuleLogger("order-service"),
	}
}

// CreateOrder inserts the pending order, then registers the countdown key.
// Registration comes strictly after the durable insert so a countdown key can
// never exist for an order that does not; a registration failure is logged and
// absorbed because the sweep closes the order without it.
func (s *OrderService) CreateOrder(ctx context.Context, userID, courseID uint64, amountCents int64) (*entity.Order, error) {
	if userID == 0 || courseID == 0 || amountCents <= 0 {
		return nil, ErrInvalidRequest
	}

	now := time.Now().UTC()
	order := &entity.Order{
		OrderNo:     "ORD-" + uuid.NewString(),
		UserID:      userID,
		CourseID:    courseID,
		AmountCents: amountCents,
		Status:      entity.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyExists) {
			return nil, ErrOrderAlreadyExists
		}
		return nil, err
	}

	if err := s.countdown.Register(ctx, order.OrderNo, s.ordersCfg.PaymentWindow); err != nil {
		s.logger.WithError(err).WithField("order_no", order.OrderNo).Warn("Countdown registration failed, sweep will cover the timeout")
	}

	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: entity.EventOrderCreated,
		NewStatus: order.Status,
		CreatedAt: now,
	})

	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id uint64) (*entity.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// RemainingSeconds reports the countdown left for an order, 0 when the key is
// absent. Callers must not infer order state from a 0 alone.
func (s *OrderService) RemainingSeconds(ctx context.Context, orderNo string) (int64, error) {
	remaining, err := s.countdown.Remaining(ctx, orderNo)
	if err != nil {
		return 0, err
	}
	return int64(remaining.Seconds()), nil
}

// MarkPaid confirms a payment against the order. Replays of the same trade
// reference succeed idempotently; a confirmation against a closed order is
// rejected with ErrPaymentConflict and flagged for operator reconciliation —
// money must never be silently accepted against a closed order.
func (s *OrderService) MarkPaid(ctx context.Context, orderNo, tradeRef string) (*entity.Order, error) {
	if orderNo == "" || tradeRef == "" {
		return nil, ErrInvalidRequest
	}

	order, err := s.orderRepo.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if order.Status == entity.OrderStatusPending {
		now := time.Now().UTC()
		oldStatus := order.Status
		swapped, err := s.orderRepo.CompareAndUpdateStatus(ctx, order.ID, entity.OrderStatusPending, entity.OrderStatusPaid, repository.StatusUpdate{
			TradeRef: &tradeRef,
			PaidAt:   &now,
		})
		if err != nil {
			return nil, err
		}
		if swapped {
			order.Status = entity.OrderStatusPaid
			order.TradeRef = &tradeRef
			order.PaidAt = &now
			order.UpdatedAt = now

			s.cancelCountdown(ctx, order.OrderNo)
			_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
				OrderID:   order.ID,
				EventType: entity.EventOrderPaid,
				OldStatus: &oldStatus,
				NewStatus: order.Status,
				TradeRef:  &tradeRef,
				CreatedAt: now,
			})
			return order, nil
		}

		// Another writer moved the order between our read and the swap.
		order, err = s.orderRepo.FindByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, ErrOrderNotFound
		}
	}

	// Duplicated callback for a payment already recorded with the same trade
	// reference: ack success so the gateway stops retrying.
	if order.Status != entity.OrderStatusClosed && order.TradeRef != nil && *order.TradeRef == tradeRef {
		return order, nil
	}

	return nil, s.flagPaymentConflict(ctx, order, tradeRef)
}

// flagPaymentConflict records the irrecoverable inconsistency of a payment
// confirmation that lost the race against a close (or carries a diverged
// trade reference). The confirmation signal is never dropped: it is logged at
// error level with full context and persisted as an audit event. Resolution
// is a compensating refund, outside this service.
func (s *OrderService) flagPaymentConflict(ctx context.Context, order *entity.Order, tradeRef string) error {
	now := time.Now().UTC()
	detail := "payment confirmation requires operator reconciliation"

	s.metrics.IncPaymentConflicts()
	s.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"order_no":  order.OrderNo,
		"trade_ref": tradeRef,
		"status":    entity.StatusName(order.Status),
		"paid_at":   order.PaidAt,
	}).Error("Payment confirmed against closed or diverged order, reconciliation needed")

	if err := s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: entity.EventPaymentConflict,
		NewStatus: order.Status,
		TradeRef:  &tradeRef,
		Detail:    &detail,
		CreatedAt: now,
	}); err != nil {
		s.logger.WithError(err).WithField("order_no", order.OrderNo).Error("Failed to persist payment conflict event")
	}

	return ErrPaymentConflict
}

// Cancel transitions a pending order to CLOSED. Racing triggers are expected:
// an already-closed order is an idempotent success, and an order that was paid
// first is a no-op success — the cancel simply arrived too late.
func (s *OrderService) Cancel(ctx context.Context, orderID, userID uint64) (*entity.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if order.Status != entity.OrderStatusPending {
		return order, nil
	}

	now := time.Now().UTC()
	oldStatus := order.Status
	swapped, err := s.orderRepo.CompareAndUpdateStatus(ctx, order.ID, entity.OrderStatusPending, entity.OrderStatusClosed, repository.StatusUpdate{})
	if err != nil {
		return nil, err
	}
	if !swapped {
		// A concurrent payment or another cancel won; whatever state the order
		// reached is the correct outcome for this caller.
		current, err := s.orderRepo.FindByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrOrderNotFound
		}
		return current, nil
	}

	order.Status = entity.OrderStatusClosed
	order.UpdatedAt = now

	s.cancelCountdown(ctx, order.OrderNo)
	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: entity.EventOrderClosed,
		OldStatus: &oldStatus,
		NewStatus: order.Status,
		CreatedAt: now,
	})

	if err := s.publisher.PublishOrderClosed(ctx, notifier.OrderClosedEvent{
		OrderID:  order.ID,
		UserID:   userID,
		OrderNo:  order.OrderNo,
		ClosedAt: now,
	}); err != nil {
		// The close already committed; the notification is advisory.
		s.logger.WithError(err).WithField("order_no", order.OrderNo).Warn("Order-closed notification publish failed")
	}

	return order, nil
}

// CancelByOrderNo resolves the order number and cancels. Used by the
// expiration listener and the gateway's trade-closed notification, which only
// carry the order number.
func (s *OrderService) CancelByOrderNo(ctx context.Context, orderNo string) (*entity.Order, error) {
	order, err := s.orderRepo.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return s.Cancel(ctx, order.ID, order.UserID)
}

// HandleGatewayClosed processes the gateway's own "trade closed" notification,
// which funnels into the same cancel path as every other trigger.
func (s *OrderService) HandleGatewayClosed(ctx context.Context, orderNo string) (*entity.Order, error) {
	if orderNo == "" {
		return nil, ErrInvalidRequest
	}
	return s.CancelByOrderNo(ctx, orderNo)
}

func (s *OrderService) RequestRefund(ctx context.Context, orderID uint64, reason string) (*entity.Order, error) {
	return s.refundTransition(ctx, orderID, entity.OrderStatusPaid, entity.OrderStatusRefundRequested, entity.EventRefundRequested, repository.StatusUpdate{
		RefundReason: &reason,
	})
}

func (s *OrderService) CompleteRefund(ctx context.Context, orderID uint64) (*entity.Order, error) {
	now := time.Now().UTC()
	return s.refundTransition(ctx, orderID, entity.OrderStatusRefundRequested, entity.OrderStatusRefunded, entity.EventRefundCompleted, repository.StatusUpdate{
		RefundedAt: &now,
	})
}

func (s *OrderService) FailRefund(ctx context.Context, orderID uint64) (*entity.Order, error) {
	return s.refundTransition(ctx, orderID, entity.OrderStatusRefundRequested, entity.OrderStatusRefundFailed, entity.EventRefundFailed, repository.StatusUpdate{})
}

// refundTransition applies one linear refund step guarded by the same CAS
// rule: replaying a step whose end state was already reached succeeds, any
// other divergence is ErrInvalidStatus.
func (s *OrderService) refundTransition(ctx context.Context, orderID uint64, expected, next int32, eventType string, update repository.StatusUpdate) (*entity.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if order.Status == next {
		return order, nil
	}
	if order.Status != expected {
		return nil, ErrInvalidStatus
	}

	now := time.Now().UTC()
	oldStatus := order.Status
	swapped, err := s.orderRepo.CompareAndUpdateStatus(ctx, order.ID, expected, next, update)
	if err != nil {
		return nil, err
	}
	if !swapped {
		current, err := s.orderRepo.FindByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrOrderNotFound
		}
		if current.Status == next {
			return current, nil
		}
		return nil, ErrInvalidStatus
	}

	order.Status = next
	order.UpdatedAt = now
	if update.RefundReason != nil {
		order.RefundReason = update.RefundReason
	}
	if update.RefundedAt != nil {
		order.RefundedAt = update.RefundedAt
	}

	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: eventType,
		OldStatus: &oldStatus,
		NewStatus: next,
		CreatedAt: now,
	})

	return order, nil
}

// cancelCountdown removes the countdown key after a pending-exit transition so
// a stale expiration cannot fire later. Best-effort: if the delete fails the
// listener's eventual cancel is a harmless no-op against the settled row.
func (s *OrderService) cancelCountdown(ctx context.Context, orderNo string) {
	if err := s.countdown.Cancel(ctx, orderNo); err != nil {
		s.logger.WithError(err).WithField("order_no", orderNo).Warn("Countdown key delete failed")
	}
}
