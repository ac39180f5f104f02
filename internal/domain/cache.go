package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking for the settlement pipeline.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// MarketCache provides fast market projection lookups for the API layer.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id int64) (Market, error)
	Invalidate(ctx context.Context, id int64) error
}

// StreamMessage is a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for settlement events and durable streams for
// consumers that must not miss one.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
