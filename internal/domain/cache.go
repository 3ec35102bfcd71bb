package domain

import (
	"context"
	"time"
)

// RateLimiter bounds how often a keyed operation may run inside a sliding
// window.
type RateLimiter interface {
	// Allow reports whether one more request under key is permitted within
	// the window, counting it when permitted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides short-lived distributed locks. Acquire returns an
// unlock function that is safe to call more than once, or ErrLockHeld when
// another party holds the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus carries ephemeral JSON event payloads between services and the
// websocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of payloads for the given channel name.
	// The subscription ends, and the returned channel closes, when ctx is
	// cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
