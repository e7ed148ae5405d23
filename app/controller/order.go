package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-orders/app/factory"
	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/app/mapper"
	"github.com/vibast-solutions/ms-go-orders/app/service"
	"github.com/vibast-solutions/ms-go-orders/app/types"
)

type OrderController struct {
	orderService *service.OrderService
	gateway      gateway.Gateway
	logger       logrus.FieldLogger
}

func NewOrderController(orderService *service.OrderService, gw gateway.Gateway) *OrderController {
	return &OrderController{
		orderService: orderService,
		gateway:      gw,
		logger:       factory.NewModuleLogger("orders-controller"),
	}
}

func (c *OrderController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *OrderController) CreateOrder(ctx echo.Context) error {
	req, err := types.NewCreateOrderRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.CreateOrder(ctx.Request().Context(), req.UserId, req.CourseId, req.AmountCents)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrOrderAlreadyExists):
			return c.writeError(ctx, http.StatusConflict, err.Error())
		default:
			c.logger.WithError(err).Error("Create order failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) GetOrder(ctx echo.Context) error {
	req, err := types.NewGetOrderRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.GetOrder(ctx.Request().Context(), req.Id)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		}
		c.logger.WithError(err).Error("Get order failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) RemainingSeconds(ctx echo.Context) error {
	req, err := types.NewRemainingRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	remaining, err := c.orderService.RemainingSeconds(ctx.Request().Context(), req.OrderNo)
	if err != nil {
		c.logger.WithError(err).Error("Remaining seconds lookup failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.RemainingResponse{OrderNo: req.OrderNo, RemainingSeconds: remaining})
}

func (c *OrderController) CancelOrder(ctx echo.Context) error {
	req, err := types.NewCancelOrderRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.Cancel(ctx.Request().Context(), req.Id, req.UserId)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		}
		c.logger.WithError(err).Error("Cancel order failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) RequestRefund(ctx echo.Context) error {
	req, err := types.NewRequestRefundRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.RequestRefund(ctx.Request().Context(), req.Id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrInvalidStatus):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Request refund failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

// GatewayNotify handles the payment gateway's asynchronous notification. The
// response body is the gateway ack token, not JSON: "success" stops the
// gateway's retries, "fail" invites one. Already-processed outcomes and the
// payment-conflict case both ack success — the conflict is flagged internally
// and retrying it cannot change the outcome.
func (c *OrderController) GatewayNotify(ctx echo.Context) error {
	logger := factory.LoggerWithContext(c.logger, ctx)

	if err := ctx.Request().ParseForm(); err != nil {
		return ctx.String(http.StatusOK, gateway.AckFail)
	}

	notification, err := c.gateway.VerifyNotification(ctx.Request().Form)
	if err != nil {
		logger.WithError(err).Warn("Gateway notification rejected")
		return ctx.String(http.StatusOK, gateway.AckFail)
	}

	switch notification.TradeStatus {
	case gateway.TradeStatusSuccess:
		_, err = c.orderService.MarkPaid(ctx.Request().Context(), notification.OrderNo, notification.TradeRef)
		if errors.Is(err, service.ErrPaymentConflict) {
			// Alert already raised and persisted by the service; acking
			// success stops a retry loop that can never succeed.
			return ctx.String(http.StatusOK, gateway.AckSuccess)
		}
	case gateway.TradeStatusClosed:
		_, err = c.orderService.HandleGatewayClosed(ctx.Request().Context(), notification.OrderNo)
	default:
		// Intermediate statuses (e.g. awaiting payment) carry no transition;
		// ack so the gateway moves on.
		logger.WithFields(logrus.Fields{
			"order_no":     notification.OrderNo,
			"trade_status": notification.TradeStatus,
		}).Info("Ignoring gateway notification without transition")
		return ctx.String(http.StatusOK, gateway.AckSuccess)
	}

	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"order_no":     notification.OrderNo,
			"trade_ref":    notification.TradeRef,
			"trade_status": notification.TradeStatus,
		}).Error("Gateway notification processing failed")
		return ctx.String(http.StatusOK, gateway.AckFail)
	}

	return ctx.String(http.StatusOK, gateway.AckSuccess)
}

func (c *OrderController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
