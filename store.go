package eventbus

import (
	"context"
	"time"
)

// StreamRecord is one entry returned by a blocking group read.
type StreamRecord struct {
	ID      string
	Message string // the decoded "message" field value
}

// ConsumerInfo mirrors the fields of XINFO CONSUMERS this package needs.
type ConsumerInfo struct {
	Name string
	Idle time.Duration
}

// GroupInfo mirrors the fields of XINFO GROUPS this package needs.
type GroupInfo struct {
	Name string
}

// Store is the narrow set of Redis-stream operations the bus needs. It
// exists so nothing outside store_redis.go imports the Redis client
// directly, and so tests can substitute an in-memory fake.
type Store interface {
	// XAdd appends a record with a single "message" field and returns the
	// store-assigned record id.
	XAdd(ctx context.Context, stream, message string) (string, error)

	// XGroupCreate idempotently creates group on stream (MKSTREAM), starting
	// at startID ("$" or "0"). A pre-existing group is not an error.
	XGroupCreate(ctx context.Context, stream, group, startID string) error

	// XReadGroup performs one blocking batch read of up to count new
	// records for consumer in group on stream, waiting up to block.
	XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamRecord, error)

	XAck(ctx context.Context, stream, group string, ids ...string) error

	XGroupDelConsumer(ctx context.Context, stream, group, consumer string) error
	XGroupDestroy(ctx context.Context, stream, group string) error

	XTrim(ctx context.Context, stream string, maxLen int64) error

	XInfoConsumers(ctx context.Context, stream, group string) ([]ConsumerInfo, error)
	XInfoGroups(ctx context.Context, stream string) ([]GroupInfo, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
