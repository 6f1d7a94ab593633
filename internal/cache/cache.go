package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrConflict is returned by Update when the key kept changing under concurrent writers.
var ErrConflict = errors.New("cache: concurrent update conflict")

const maxUpdateAttempts = 5

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
}

// UpdateFunc receives the current value of a key and returns its replacement.
// Returning an error aborts the update and is passed back to the caller unchanged.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Lists is the subset of Redis list commands used by the task queue.
type Lists interface {
	Push(ctx context.Context, key string, value []byte) error
	MoveBlocking(ctx context.Context, src, dst string, timeout time.Duration) ([]byte, bool, error)
	Requeue(ctx context.Context, src, dst string) ([]byte, bool, error)
	RemoveOne(ctx context.Context, key string, value []byte) error
	Range(ctx context.Context, key string) ([][]byte, error)
}

// Registry tracks the members of a named set.
type Registry interface {
	AddMember(ctx context.Context, key, member string) error
	RemoveMember(ctx context.Context, key, member string) error
	Members(ctx context.Context, key string) ([]string, error)
}

// RedisCache implements the Cache, Lists and Registry interfaces using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Update performs an optimistic read-modify-write of key under WATCH.
// The write is retried when another client modifies the key in between.
func (c *RedisCache) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		found := true
		if err == redis.Nil {
			found = false
		} else if err != nil {
			return err
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := c.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrConflict
}

func (c *RedisCache) Push(ctx context.Context, key string, value []byte) error {
	return c.client.LPush(ctx, key, value).Err()
}

// MoveBlocking pops the oldest element of src and pushes it onto dst atomically,
// waiting up to timeout for one to arrive. Returns false when the wait timed out.
func (c *RedisCache) MoveBlocking(ctx context.Context, src, dst string, timeout time.Duration) ([]byte, bool, error) {
	val, err := c.client.BLMove(ctx, src, dst, "RIGHT", "LEFT", timeout).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Requeue moves the oldest element of src to the front of dst, where MoveBlocking takes it next.
// Returns false when src is empty.
func (c *RedisCache) Requeue(ctx context.Context, src, dst string) ([]byte, bool, error) {
	val, err := c.client.LMove(ctx, src, dst, "RIGHT", "RIGHT").Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) RemoveOne(ctx context.Context, key string, value []byte) error {
	return c.client.LRem(ctx, key, 1, value).Err()
}

func (c *RedisCache) Range(ctx context.Context, key string) ([][]byte, error) {
	vals, err := c.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (c *RedisCache) AddMember(ctx context.Context, key, member string) error {
	return c.client.SAdd(ctx, key, member).Err()
}

func (c *RedisCache) RemoveMember(ctx context.Context, key, member string) error {
	return c.client.SRem(ctx, key, member).Err()
}

func (c *RedisCache) Members(ctx context.Context, key string) ([]string, error) {
	return c.client.SMembers(ctx, key).Result()
}
