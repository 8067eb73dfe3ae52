package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Release and extension only touch the key while it still holds our token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

var _ Locker = (*Redis)(nil)

// Redis is a Locker backed by SET NX PX keys. While a lock is held a
// watchdog extends its TTL so long operations keep it.
type Redis struct {
	rdb    redis.UniversalClient
	opts   Options
	prefix string
	lg     *zap.Logger
}

// NewRedis creates a Redis Locker. Keys are stored as prefix+name.
func NewRedis(rdb redis.UniversalClient, prefix string, opts Options, lg *zap.Logger) *Redis {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Redis{
		rdb:    rdb,
		opts:   opts.withDefaults(),
		prefix: prefix,
		lg:     lg,
	}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, name string) (Handle, error) {
	key := r.prefix + name
	token := uuid.NewString()

	err := poll(ctx, name, r.opts, func(ctx context.Context) (bool, error) {
		ok, err := r.rdb.SetNX(ctx, key, token, r.opts.TTL).Result()
		if err != nil {
			return false, errors.Wrapf(err, "set %s", key)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	watchCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	h := &redisHandle{r: r, key: key, token: token, stop: stop, done: make(chan struct{})}
	go h.watch(watchCtx)
	return h, nil
}

type redisHandle struct {
	r     *Redis
	key   string
	token string

	once sync.Once
	stop context.CancelFunc
	done chan struct{}
}

// watch extends the key TTL at a third of its length until stopped.
func (h *redisHandle) watch(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.r.opts.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := extendScript.Run(ctx, h.r.rdb, []string{h.key}, h.token, h.r.opts.TTL.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() == nil {
					h.r.lg.Warn("Extend lock", zap.String("key", h.key), zap.Error(err))
				}
				continue
			}
			if n == 0 {
				h.r.lg.Warn("Lock lost", zap.String("key", h.key))
				return
			}
		}
	}
}

func (h *redisHandle) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		h.stop()
		<-h.done
		if rerr := releaseScript.Run(ctx, h.r.rdb, []string{h.key}, h.token).Err(); rerr != nil {
			err = errors.Wrapf(rerr, "delete %s", h.key)
		}
	})
	return err
}
