package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/factory"
	"github.com/vibast-solutions/ms-go-orders/config"
)

// skewTolerance is how much countdown time must remain before the sweep defers
// to the cache. Sub-second residue from clock skew between the durable store's
// created_at and the redis TTL start does not count as "still running".
const skewTolerance = time.Second

// TimeoutSweeper is the durability backstop behind the expiration listener: a
// periodic scan that closes every pending order older than the payment window,
// whether or not its expiry notification was ever delivered. Before closing it
// re-checks the countdown store, which holds the system's actual notion of
// "window elapsed", so an order whose clock is genuinely still running is
// skipped rather than closed out from under a completing payment.
type TimeoutSweeper struct {
	svc    *OrderService
	window time.Duration
	batch  int32

	// maxSkips bounds how many consecutive sweeps may defer to a countdown key
	// that keeps reporting remaining time on an over-aged order. Without the
	// bound, a key perpetually refreshed by a bug would keep the order pending
	// forever. The table is process-local; a restart grants a fresh budget,
	// which delays but never prevents closure.
	maxSkips int
	mu       sync.Mutex
	skips    map[uint64]int

	logger logrus.FieldLogger
}

func NewTimeoutSweeper(svc *OrderService, ordersCfg config.OrdersConfig) *TimeoutSweeper {
	maxSkips := ordersCfg.SweepMaxSkips
	if maxSkips <= 0 {
		maxSkips = 3
	}
	batch := ordersCfg.SweepBatchSize
	if batch <= 0 {
		batch = 100
	}

	return &TimeoutSweeper{
		svc:      svc,
		window:   ordersCfg.PaymentWindow,
		batch:    batch,
		maxSkips: maxSkips,
		skips:    make(map[uint64]int),
		logger:   factory.NewModuleLogger("timeout-sweeper"),
	}
}

// RunBatch processes one sweep cycle. Each candidate is handled independently;
// a failing order is logged and skipped, and the first error is returned after
// the batch completes so the caller's scheduler can surface it.
func (s *TimeoutSweeper) RunBatch(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.window)
	orders, err := s.svc.orderRepo.ListPendingCreatedBefore(ctx, cutoff, s.batch)
	if err != nil {
		return err
	}

	seen := make(map[uint64]struct{}, len(orders))
	var firstErr error
	for _, order := range orders {
		if order == nil {
			continue
		}
		seen[order.ID] = struct{}{}

		remaining, err := s.svc.countdown.Remaining(ctx, order.OrderNo)
		if err != nil {
			// Transient countdown-store error: leave the order for the next
			// tick rather than closing on durable age alone.
			s.logger.WithError(err).WithField("order_no", order.OrderNo).Warn("Countdown check failed, deferring order to next sweep")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}

		if remaining > skewTolerance {
			if s.bumpSkip(order.ID) < s.maxSkips {
				s.svc.metrics.IncSweepSkips()
				s.logger.WithFields(logrus.Fields{
					"order_no":          order.OrderNo,
					"remaining_seconds": int64(remaining.Seconds()),
					"age_seconds":       int64(time.Since(order.CreatedAt).Seconds()),
				}).Warn("Aged pending order still has countdown time, skipping this cycle")
				continue
			}
			s.svc.metrics.IncSweepForcedCloses()
			s.logger.WithFields(logrus.Fields{
				"order_no":          order.OrderNo,
				"remaining_seconds": int64(remaining.Seconds()),
				"skips":             s.maxSkips,
			}).Warn("Skip budget exhausted for aged pending order, force-closing")
		}

		closed, err := s.svc.Cancel(ctx, order.ID, order.UserID)
		if err != nil {
			s.logger.WithError(err).WithField("order_no", order.OrderNo).Error("Sweep cancel failed")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		s.clearSkip(order.ID)
		if closed.Status == entity.OrderStatusClosed {
			s.svc.metrics.IncClosedBySweep()
			s.logger.WithFields(logrus.Fields{
				"order_no": order.OrderNo,
				"order_id": order.ID,
			}).Info("Order closed by reconciliation sweep")
		}
	}

	s.pruneSkips(seen)
	return firstErr
}

func (s *TimeoutSweeper) bumpSkip(orderID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips[orderID]++
	return s.skips[orderID]
}

func (s *TimeoutSweeper) clearSkip(orderID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.skips, orderID)
}

// pruneSkips drops counters for orders that left the pending set between
// sweeps (paid or closed by another trigger), so the table cannot grow
// unbounded.
func (s *TimeoutSweeper) pruneSkips(seen map[uint64]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.skips {
		if _, ok := seen[id]; !ok {
			delete(s.skips, id)
		}
	}
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
