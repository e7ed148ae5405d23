package countdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/factory"
	"github.com/vibast-solutions/ms-go-orders/app/metrics"
	"github.com/vibast-solutions/ms-go-orders/app/service"
)

const eventBufferSize = 256

type orderCanceller interface {
	CancelByOrderNo(ctx context.Context, orderNo string) (*entity.Order, error)
}

// Listener owns the single long-lived subscription to redis key-expiration
// notifications. Matching keys are decoded and fed through a bounded channel
// into one worker, so back-pressure and shutdown stay explicit. Delivery is
// best-effort: the reconciliation sweep covers lost notifications.
type Listener struct {
	rdb     *redis.Client
	db      int
	svc     orderCanceller
	metrics *metrics.OrderMetrics
	logger  logrus.FieldLogger
	pubsub  *redis.PubSub
	events  chan string
	wg      sync.WaitGroup
}

func NewListener(rdb *redis.Client, db int, svc orderCanceller, m *metrics.OrderMetrics) *Listener {
	return &Listener{
		rdb:     rdb,
		db:      db,
		svc:     svc,
		metrics: m,
		logger:  factory.NewModuleLogger("countdown-listener"),
		events:  make(chan string, eventBufferSize),
	}
}

func (l *Listener) Start(ctx context.Context) error {
	// Expired-key events are off by default; enabling them here is best-effort
	// since managed redis deployments may refuse CONFIG SET.
	if err := l.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		l.logger.WithError(err).Warn("Could not enable keyspace notifications, relying on server config")
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", l.db)
	l.pubsub = l.rdb.PSubscribe(ctx, channel)
	if _, err := l.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	l.wg.Add(2)
	go l.receive()
	go l.work(ctx)

	l.logger.WithField("channel", channel).Info("Expiration listener started")
	return nil
}

// Stop closes the subscription and drains the in-flight events.
func (l *Listener) Stop() {
	if l.pubsub != nil {
		_ = l.pubsub.Close()
	}
	l.wg.Wait()
	l.logger.Info("Expiration listener stopped")
}

func (l *Listener) receive() {
	defer l.wg.Done()
	defer close(l.events)

	for msg := range l.pubsub.Channel() {
		orderNo, ok := ParseOrderNo(msg.Payload)
		if !ok {
			// Foreign key in a shared redis: drop it.
			l.logger.WithField("key", msg.Payload).Debug("Ignoring non-countdown expired key")
			continue
		}
		l.events <- orderNo
	}
}

func (l *Listener) work(ctx context.Context) {
	defer l.wg.Done()

	for orderNo := range l.events {
		l.metrics.IncExpirationsReceived()
		if err := l.handle(ctx, orderNo); err != nil {
			l.logger.WithError(err).WithField("order_no", orderNo).Error("Expiration-triggered cancel failed")
		}
	}
}

func (l *Listener) handle(ctx context.Context, orderNo string) error {
	order, err := l.svc.CancelByOrderNo(ctx, orderNo)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			// Stale key with no backing order: log and drop, the stream goes on.
			l.logger.WithField("order_no", orderNo).Warn("Expired countdown key has no matching order")
			return nil
		}
		return err
	}

	if order.Status == entity.OrderStatusClosed {
		l.metrics.IncClosedByListener()
		l.logger.WithFields(logrus.Fields{
			"order_no": orderNo,
			"order_id": order.ID,
		}).Info("Order closed on countdown expiry")
	}
	return nil
}
