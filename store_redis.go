package eventbus

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/go-redis/redis/v8"
)

// redisStore is the Store implementation backed by go-redis/v8. It is a
// thin wrapper: every method is a straight translation to one Redis
// command, consistent with golly-go-plugins/redis.RedisService's thin
// pass-through wrapper, which exposes the raw *redis.Client rather than
// hiding it behind an elaborate façade.
type redisStore struct {
	client *redis.Client
}

func newRedisStore(opts *redis.Options) *redisStore {
	return &redisStore{client: redis.NewClient(opts)}
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) XAdd(ctx context.Context, stream, message string) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"message": message},
	}).Result()
	return id, err
}

// XGroupCreate creates the group with MKSTREAM semantics. A pre-existing
// group (BUSYGROUP) is treated as success, per spec.
func (s *redisStore) XGroupCreate(ctx context.Context, stream, group, startID string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, startID).Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (s *redisStore) XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamRecord, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []StreamRecord
	for _, s := range res {
		for _, m := range s.Messages {
			msg, _ := m.Values["message"].(string)
			out = append(out, StreamRecord{ID: m.ID, Message: msg})
		}
	}
	return out, nil
}

func (s *redisStore) XAck(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.client.XAck(ctx, stream, group, ids...).Err()
}

func (s *redisStore) XGroupDelConsumer(ctx context.Context, stream, group, consumer string) error {
	return s.client.XGroupDelConsumer(ctx, stream, group, consumer).Err()
}

func (s *redisStore) XGroupDestroy(ctx context.Context, stream, group string) error {
	return s.client.XGroupDestroy(ctx, stream, group).Err()
}

func (s *redisStore) XTrim(ctx context.Context, stream string, maxLen int64) error {
	return s.client.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err()
}

func (s *redisStore) XInfoConsumers(ctx context.Context, stream, group string) ([]ConsumerInfo, error) {
	res, err := s.client.XInfoConsumers(ctx, stream, group).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ConsumerInfo, 0, len(res))
	for _, c := range res {
		out = append(out, ConsumerInfo{Name: c.Name, Idle: time.Duration(c.Idle) * time.Millisecond})
	}
	return out, nil
}

func (s *redisStore) XInfoGroups(ctx context.Context, stream string) ([]GroupInfo, error) {
	res, err := s.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return nil, err
	}
	out := make([]GroupInfo, 0, len(res))
	for _, g := range res {
		out = append(out, GroupInfo{Name: g.Name})
	}
	return out, nil
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ Store = (*redisStore)(nil)
