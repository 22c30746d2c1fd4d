package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle counts login attempts per client in a fixed Redis window. A nil
// Throttle allows everything.
//
// Every attempt is counted before the credentials are checked, so concurrent
// guesses from one client cannot slip past the limit. A successful login
// clears the counter.
type Throttle struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewThrottle(rdb *redis.Client, limit int, window time.Duration) *Throttle {
	return &Throttle{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "leadsvc:login-attempts:",
	}
}

// Attempt records a login attempt by client and reports whether it is within
// the limit. The counter is created together with its expiry in one
// transaction, so it can never outlive the window.
func (t *Throttle) Attempt(ctx context.Context, client string) (bool, error) {
	if t == nil {
		return true, nil
	}

	key := t.prefix + client

	var incr *redis.IntCmd
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, t.window)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("counting login attempt: %w", err)
	}

	return incr.Val() <= int64(t.limit), nil
}

// Reset forgets the attempts of client after a successful login.
func (t *Throttle) Reset(ctx context.Context, client string) error {
	if t == nil {
		return nil
	}
	return t.rdb.Del(ctx, t.prefix+client).Err()
}
