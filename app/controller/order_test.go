package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/app/notifier"
	"github.com/vibast-solutions/ms-go-orders/app/repository"
	"github.com/vibast-solutions/ms-go-orders/app/service"
	"github.com/vibast-solutions/ms-go-orders/app/types"
	"github.com/vibast-solutions/ms-go-orders/config"
)

type controllerOrderRepo struct {
	mu     sync.Mutex
	orders map[uint64]*entity.Order
	nextID uint64
}

func newControllerOrderRepo() *controllerOrderRepo {
	return &controllerOrderRepo{orders: map[uint64]*entity.Order{}, nextID: 1}
}

func (r *controllerOrderRepo) Create(_ context.Context, order *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	copyItem := *order
	copyItem.ID = id
	r.orders[id] = &copyItem
	order.ID = id
	return nil
}

func (r *controllerOrderRepo) FindByID(_ context.Context, id uint64) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *controllerOrderRepo) FindByOrderNo(_ context.Context, orderNo string) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.orders {
		if item.OrderNo == orderNo {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *controllerOrderRepo) ListPendingCreatedBefore(_ context.Context, _ time.Time, _ int32) ([]*entity.Order, error) {
	return nil, nil
}

func (r *controllerOrderRepo) CompareAndUpdateStatus(_ context.Context, id uint64, expected, next int32, update repository.StatusUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.orders[id]
	if !ok || item.Status != expected {
		return false, nil
	}
	item.Status = next
	if update.TradeRef != nil {
		item.TradeRef = update.TradeRef
	}
	if update.RefundReason != nil {
		item.RefundReason = update.RefundReason
	}
	if update.PaidAt != nil {
		item.PaidAt = update.PaidAt
	}
	if update.RefundedAt != nil {
		item.RefundedAt = update.RefundedAt
	}
	item.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *controllerOrderRepo) seed(order *entity.Order) *entity.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	copyItem := *order
	copyItem.ID = id
	r.orders[id] = &copyItem
	result := copyItem
	return &result
}

type controllerEventRepo struct{}

func (controllerEventRepo) Create(_ context.Context, _ *entity.OrderEvent) error { return nil }

type controllerCountdown struct {
	mu        sync.Mutex
	remaining map[string]time.Duration
}

func newControllerCountdown() *controllerCountdown {
	return &controllerCountdown{remaining: map[string]time.Duration{}}
}

func (c *controllerCountdown) Register(_ context.Context, orderNo string, window time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining[orderNo] = window
	return nil
}

func (c *controllerCountdown) Remaining(_ context.Context, orderNo string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining[orderNo], nil
}

func (c *controllerCountdown) Cancel(_ context.Context, orderNo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.remaining, orderNo)
	return nil
}

type controllerPublisher struct{}

func (controllerPublisher) PublishOrderClosed(_ context.Context, _ notifier.OrderClosedEvent) error {
	return nil
}

const testNotifySecret = "notify-secret"

func newControllerForTest() (*OrderController, *controllerOrderRepo, *controllerCountdown) {
	orderRepo := newControllerOrderRepo()
	cd := newControllerCountdown()
	svc := service.NewOrderService(orderRepo, controllerEventRepo{}, cd, controllerPublisher{}, config.OrdersConfig{
		PaymentWindow:  30 * time.Minute,
		SweepBatchSize: 100,
		SweepMaxSkips:  3,
	}, nil)
	return NewOrderController(svc, gateway.NewHMACGateway(testNotifySecret)), orderRepo, cd
}

func newJSONContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func newNotifyContext(params url.Values) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/gateway/notify", strings.NewReader(params.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func signedNotifyParams(orderNo, tradeRef, tradeStatus string) url.Values {
	g := gateway.NewHMACGateway(testNotifySecret)
	params := url.Values{}
	params.Set("out_trade_no", orderNo)
	params.Set("trade_no", tradeRef)
	params.Set("trade_status", tradeStatus)
	params.Set("sign", g.Sign(params))
	return params
}

func seedPending(repo *controllerOrderRepo, orderNo string) *entity.Order {
	now := time.Now().UTC()
	return repo.seed(&entity.Order{
		OrderNo:     orderNo,
		UserID:      7,
		CourseID:    11,
		AmountCents: 9900,
		Status:      entity.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func TestHealth(t *testing.T) {
	controller, _, _ := newControllerForTest()
	ctx, rec := newJSONContext(http.MethodGet, "/health", "")

	if err := controller.Health(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	controller, _, cd := newControllerForTest()
	ctx, rec := newJSONContext(http.MethodPost, "/orders", `{"user_id":7,"course_id":11,"amount_cents":9900}`)

	if err := controller.CreateOrder(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp types.OrderEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Order == nil || resp.Order.Status != "PENDING" {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}

	remaining, _ := cd.Remaining(context.Background(), resp.Order.OrderNo)
	if remaining != 30*time.Minute {
		t.Fatalf("expected countdown registered for the payment window, got %s", remaining)
	}
}

func TestCreateOrderEndpointValidation(t *testing.T) {
	controller, _, _ := newControllerForTest()
	ctx, rec := newJSONContext(http.MethodPost, "/orders", `{"user_id":0,"course_id":11,"amount_cents":9900}`)

	if err := controller.CreateOrder(ctx); err != nil {
		t.Fatalf("expected handled error, got %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetOrderEndpointNotFound(t *testing.T) {
	controller, _, _ := newControllerForTest()
	ctx, rec := newJSONContext(http.MethodGet, "/orders/42", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("42")

	if err := controller.GetOrder(ctx); err != nil {
		t.Fatalf("expected handled error, got %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	controller, orderRepo, _ := newControllerForTest()
	order := seedPending(orderRepo, "ORD-C1")

	ctx, rec := newJSONContext(http.MethodPost, "/orders/1/cancel", `{"user_id":7}`)
	ctx.SetParamNames("id")
	ctx.SetParamValues("1")

	if err := controller.CancelOrder(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp types.OrderEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Order.Status != "CLOSED" {
		t.Fatalf("expected CLOSED, got %s", resp.Order.Status)
	}
	_ = order
}

func TestRemainingSecondsEndpoint(t *testing.T) {
	controller, _, cd := newControllerForTest()
	_ = cd.Register(context.Background(), "ORD-R1", 90*time.Second)

	ctx, rec := newJSONContext(http.MethodGet, "/orders/no/ORD-R1/remaining", "")
	ctx.SetParamNames("order_no")
	ctx.SetParamValues("ORD-R1")

	if err := controller.RemainingSeconds(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp types.RemainingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.RemainingSeconds != 90 {
		t.Fatalf("expected 90 seconds, got %d", resp.RemainingSeconds)
	}
}

func TestGatewayNotifyPaymentSuccess(t *testing.T) {
	controller, orderRepo, _ := newControllerForTest()
	order := seedPending(orderRepo, "ORD-G1")

	ctx, rec := newNotifyContext(signedNotifyParams("ORD-G1", "TR-G1", gateway.TradeStatusSuccess))
	if err := controller.GatewayNotify(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Body.String() != gateway.AckSuccess {
		t.Fatalf("expected success ack, got %q", rec.Body.String())
	}

	current, _ := orderRepo.FindByID(context.Background(), order.ID)
	if current.Status != entity.OrderStatusPaid {
		t.Fatalf("expected PAID, got %s", entity.StatusName(current.Status))
	}
}

func TestGatewayNotifyReplayAcksSuccess(t *testing.T) {
	controller, orderRepo, _ := newControllerForTest()
	seedPending(orderRepo, "ORD-G2")

	for i := 0; i < 2; i++ {
		ctx, rec := newNotifyContext(signedNotifyParams("ORD-G2", "TR-G2", gateway.TradeStatusSuccess))
		if err := controller.GatewayNotify(ctx); err != nil {
			t.Fatalf("notify %d failed: %v", i, err)
		}
		if rec.Body.String() != gateway.AckSuccess {
			t.Fatalf("notify %d: expected success ack, got %q", i, rec.Body.String())
		}
	}
}

func TestGatewayNotifyBadSignature(t *testing.T) {
	controller, orderRepo, _ := newControllerForTest()
	seedPending(orderRepo, "ORD-G3")

	params := signedNotifyParams("ORD-G3", "TR-G3", gateway.TradeStatusSuccess)
	params.Set("sign", "deadbeef")

	ctx, rec := newNotifyContext(params)
	if err := controller.GatewayNotify(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Body.String() != gateway.AckFail {
		t.Fatalf("expected fail ack, got %q", rec.Body.String())
	}

	current, _ := orderRepo.FindByOrderNo(context.Background(), "ORD-G3")
	if current.Status != entity.OrderStatusPending {
		t.Fatal("rejected notification must not change order state")
	}
}

func TestGatewayNotifyConflictAcksSuccess(t *testing.T) {
	controller, orderRepo, _ := newControllerForTest()
	order := seedPending(orderRepo, "ORD-G4")
	orderRepo.mu.Lock()
	orderRepo.orders[order.ID].Status = entity.OrderStatusClosed
	orderRepo.mu.Unlock()

	ctx, rec := newNotifyContext(signedNotifyParams("ORD-G4", "TR-G4", gateway.TradeStatusSuccess))
	if err := controller.GatewayNotify(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// Retrying a conflicted confirmation cannot help, so the ack stops it.
	if rec.Body.String() != gateway.AckSuccess {
		t.Fatalf("expected success ack for conflict, got %q", rec.Body.String())
	}

	current, _ := orderRepo.FindByID(context.Background(), order.ID)
	if current.Status != entity.OrderStatusClosed {
		t.Fatal("conflicted payment must not overwrite CLOSED")
	}
}

func TestGatewayNotifyTradeClosed(t *testing.T) {
	controller, orderRepo, _ := newControllerForTest()
	order := seedPending(orderRepo, "ORD-G5")

	ctx, rec := newNotifyContext(signedNotifyParams("ORD-G5", "", gateway.TradeStatusClosed))
	if err := controller.GatewayNotify(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Body.String() != gateway.AckSuccess {
		t.Fatalf("expected success ack, got %q", rec.Body.String())
	}

	current, _ := orderRepo.FindByID(context.Background(), order.ID)
	if current.Status != entity.OrderStatusClosed {
		t.Fatalf("expected CLOSED, got %s", entity.StatusName(current.Status))
	}
}

func TestGatewayNotifyIgnoresIntermediateStatus(t *testing.T) {
	controller, orderRepo, _ := newControllerForTest()
	order := seedPending(orderRepo, "ORD-G6")

	ctx, rec := newNotifyContext(signedNotifyParams("ORD-G6", "TR-G6", "WAIT_BUYER_PAY"))
	if err := controller.GatewayNotify(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Body.String() != gateway.AckSuccess {
		t.Fatalf("expected success ack, got %q", rec.Body.String())
	}

	current, _ := orderRepo.FindByID(context.Background(), order.ID)
	if current.Status != entity.OrderStatusPending {
		t.Fatal("intermediate status must not change order state")
	}
}

func TestGatewayNotifyUnknownOrderAcksFail(t *testing.T) {
	controller, _, _ := newControllerForTest()

	ctx, rec := newNotifyContext(signedNotifyParams("ORD-MISSING", "TR-X", gateway.TradeStatusSuccess))
	if err := controller.GatewayNotify(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// The order may simply not be visible yet; failing the ack makes the
	// gateway retry later.
	if rec.Body.String() != gateway.AckFail {
		t.Fatalf("expected fail ack, got %q", rec.Body.String())
	}
}
