package countdown

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces countdown keys so the expiration listener can filter
// unrelated expiring keys in a shared redis.
const KeyPrefix = "orders:countdown:"

func Key(orderNo string) string {
	return KeyPrefix + orderNo
}

// ParseOrderNo extracts the order number from a countdown key. ok is false for
// keys outside the countdown namespace.
func ParseOrderNo(key string) (string, bool) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return "", false
	}
	orderNo := key[len(KeyPrefix):]
	if orderNo == "" {
		return "", false
	}
	return orderNo, true
}

// Registrar manages the per-order countdown keys. The keys are disposable: the
// durable order row stays authoritative, a lost key only delays the fast-path
// timeout notification.
type Registrar struct {
	rdb *redis.Client
}

func NewRegistrar(rdb *redis.Client) *Registrar {
	return &Registrar{rdb: rdb}
}

func (r *Registrar) Register(ctx context.Context, orderNo string, window time.Duration) error {
	return r.rdb.Set(ctx, Key(orderNo), "1", window).Err()
}

// Remaining returns the time left on the countdown key, or 0 when the key is
// absent. Absence is ambiguous (paid, cancelled, or never registered); callers
// must not infer order state from it alone.
func (r *Registrar) Remaining(ctx context.Context, orderNo string) (time.Duration, error) {
	ttl, err := r.rdb.TTL(ctx, Key(orderNo)).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (r *Registrar) Cancel(ctx context.Context, orderNo string) error {
	return r.rdb.Del(ctx, Key(orderNo)).Err()
}
