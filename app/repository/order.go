package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-orders/app/entity"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")
)

// StatusUpdate carries the extra columns written together with a status
// transition. Nil fields leave the existing column value untouched.
type StatusUpdate struct {
	TradeRef     *string
	RefundReason *string
	PaidAt       *time.Time
	RefundedAt   *time.Time
}

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *entity.Order) error {
	query := `
		INSERT INTO orders (
			order_no, user_id, course_id, amount_cents, status,
			trade_ref, refund_reason, paid_at, refunded_at,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		order.OrderNo,
		order.UserID,
		order.CourseID,
		order.AmountCents,
		order.Status,
		nullableStringValue(order.TradeRef),
		nullableStringValue(order.RefundReason),
		nullableTimeValue(order.PaidAt),
		nullableTimeValue(order.RefundedAt),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrOrderAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	order.ID = uint64(id)
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	query := orderSelectColumns + ` WHERE id = ?`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, id), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) FindByOrderNo(ctx context.Context, orderNo string) (*entity.Order, error) {
	query := orderSelectColumns + ` WHERE order_no = ? LIMIT 1`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, orderNo), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return order, nil
}

// ListPendingCreatedBefore returns pending orders whose creation time is at or
// before cutoff, oldest first. The reconciliation sweep feeds on this.
func (r *OrderRepository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Order, error) {
	query := orderSelectColumns + `
		WHERE status = ?
		  AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.OrderStatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*entity.Order, 0)
	for rows.Next() {
		item := &entity.Order{}
		if err := scanOrder(rows, item); err != nil {
			return nil, err
		}
		orders = append(orders, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// CompareAndUpdateStatus performs the conditional status write every state
// transition is built on: the row changes only if its status still equals
// expected. A false return means another writer moved the order first; the
// caller re-reads and interprets the current state.
func (r *OrderRepository) CompareAndUpdateStatus(ctx context.Context, id uint64, expected, next int32, update StatusUpdate) (bool, error) {
	query := `
		UPDATE orders SET
			status = ?,
			trade_ref = COALESCE(?, trade_ref),
			refund_reason = COALESCE(?, refund_reason),
			paid_at = COALESCE(?, paid_at),
			refunded_at = COALESCE(?, refunded_at),
			updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		next,
		nullableStringValue(update.TradeRef),
		nullableStringValue(update.RefundReason),
		nullableTimeValue(update.PaidAt),
		nullableTimeValue(update.RefundedAt),
		time.Now().UTC(),
		id,
		expected,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

const orderSelectColumns = `
	SELECT id, order_no, user_id, course_id, amount_cents, status,
		trade_ref, refund_reason, paid_at, refunded_at,
		created_at, updated_at
	FROM orders
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(scan rowScanner, order *entity.Order) error {
	var tradeRef sql.NullString
	var refundReason sql.NullString
	var paidAt sql.NullTime
	var refundedAt sql.NullTime

	err := scan.Scan(
		&order.ID,
		&order.OrderNo,
		&order.UserID,
		&order.CourseID,
		&order.AmountCents,
		&order.Status,
		&tradeRef,
		&refundReason,
		&paidAt,
		&refundedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return err
	}

	order.TradeRef = stringPtrFromNull(tradeRef)
	order.RefundReason = stringPtrFromNull(refundReason)
	order.PaidAt = timePtrFromNull(paidAt)
	order.RefundedAt = timePtrFromNull(refundedAt)

	return nil
}
