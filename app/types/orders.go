package types

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type Order struct {
	Id           uint64 `json:"id"`
	OrderNo      string `json:"order_no"`
	UserId       uint64 `json:"user_id"`
	CourseId     uint64 `json:"course_id"`
	AmountCents  int64  `json:"amount_cents"`
	Status       string `json:"status"`
	TradeRef     string `json:"trade_ref,omitempty"`
	RefundReason string `json:"refund_reason,omitempty"`
	PaidAt       string `json:"paid_at,omitempty"`
	RefundedAt   string `json:"refunded_at,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type OrderEnvelopeResponse struct {
	Order *Order `json:"order"`
}

type RemainingResponse struct {
	OrderNo          string `json:"order_no"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

type CreateOrderRequest struct {
	UserId      uint64 `json:"user_id"`
	CourseId    uint64 `json:"course_id"`
	AmountCents int64  `json:"amount_cents"`
}

func NewCreateOrderRequestFromContext(ctx echo.Context) (*CreateOrderRequest, error) {
	var body CreateOrderRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (r *CreateOrderRequest) Validate() error {
	if r.UserId == 0 {
		return errors.New("user_id is required")
	}
	if r.CourseId == 0 {
		return errors.New("course_id is required")
	}
	if r.AmountCents <= 0 {
		return errors.New("amount_cents must be > 0")
	}
	return nil
}

type GetOrderRequest struct {
	Id uint64
}

func NewGetOrderRequestFromContext(ctx echo.Context) (*GetOrderRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetOrderRequest{Id: id}, nil
}

func (r *GetOrderRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid order id")
	}
	return nil
}

type CancelOrderRequest struct {
	Id     uint64 `json:"-"`
	UserId uint64 `json:"user_id"`
}

func NewCancelOrderRequestFromContext(ctx echo.Context) (*CancelOrderRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	var body CancelOrderRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Id = id
	return &body, nil
}

func (r *CancelOrderRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid order id")
	}
	if r.UserId == 0 {
		return errors.New("user_id is required")
	}
	return nil
}

type RequestRefundRequest struct {
	Id     uint64 `json:"-"`
	Reason string `json:"reason"`
}

func NewRequestRefundRequestFromContext(ctx echo.Context) (*RequestRefundRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	var body RequestRefundRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Id = id
	body.Reason = strings.TrimSpace(body.Reason)
	return &body, nil
}

func (r *RequestRefundRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid order id")
	}
	if r.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

type RemainingRequest struct {
	OrderNo string
}

func NewRemainingRequestFromContext(ctx echo.Context) (*RemainingRequest, error) {
	orderNo := strings.TrimSpace(ctx.Param("order_no"))
	return &RemainingRequest{OrderNo: orderNo}, nil
}

func (r *RemainingRequest) Validate() error {
	if r.OrderNo == "" {
		return errors.New("order_no is required")
	}
	return nil
}
