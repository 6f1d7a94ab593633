package queue

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/findoc/internal/cache"
	"go.uber.org/zap"
)

const (
	pollTimeout      = time.Second
	defaultHeartbeat = 30 * time.Second
)

type redisBackend interface {
	cache.Lists
	cache.Registry
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// RedisBroker is a reliable list queue. Consumers atomically move a task into
// their own processing list and remove it on ack.
//
// Every consumer registers itself and refreshes an expiring heartbeat while it
// consumes. Live consumers move the processing lists of consumers whose
// heartbeat has expired back to the front of the queue, so a task claimed by a
// worker that died is delivered again whatever name the replacement runs under.
// A consumer restarted under the same name redelivers its own list at once.
type RedisBroker struct {
	lists     redisBackend
	name      string
	logger    *zap.Logger
	heartbeat time.Duration
	closer    func() error
}

type RedisOption func(*RedisBroker)

// WithHeartbeat sets how long a silent consumer keeps its claimed tasks before
// others reclaim them.
func WithHeartbeat(ttl time.Duration) RedisOption {
	return func(b *RedisBroker) {
		if ttl > 0 {
			b.heartbeat = ttl
		}
	}
}

func NewRedisBroker(lists redisBackend, name string, logger *zap.Logger, opts ...RedisOption) *RedisBroker {
	b := &RedisBroker{lists: lists, name: name, logger: logger, heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBroker) Publish(ctx context.Context, body []byte) error {
	return b.lists.Push(ctx, cache.QueueKey(b.name), body)
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.lists.Ping(ctx)
}

func (b *RedisBroker) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

func (b *RedisBroker) Consume(ctx context.Context, consumer string) (<-chan Delivery, error) {
	if err := b.beat(ctx, consumer); err != nil {
		return nil, err
	}
	b.reclaim(ctx, consumer)

	processing := cache.ProcessingKey(b.name, consumer)
	leftover, err := b.lists.Range(ctx, processing)
	if err != nil {
		return nil, err
	}

	go b.keepAlive(ctx, consumer)

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer b.deregister(context.WithoutCancel(ctx), consumer)

		// Range returns newest first; redeliver oldest first.
		for i := len(leftover) - 1; i >= 0; i-- {
			b.logger.Warn("redelivering unacknowledged task", zap.String("consumer", consumer))
			if !b.hand(ctx, out, leftover[i], processing) {
				return
			}
		}

		for ctx.Err() == nil {
			body, ok, err := b.lists.MoveBlocking(ctx, cache.QueueKey(b.name), processing, pollTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Error("queue receive failed", zap.String("consumer", consumer), zap.Error(err))
				sleep(ctx, pollTimeout)
				continue
			}
			if !ok {
				continue
			}
			if !b.hand(ctx, out, body, processing) {
				return
			}
		}
	}()
	return out, nil
}

// beat marks consumer as alive for one heartbeat period.
func (b *RedisBroker) beat(ctx context.Context, consumer string) error {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := b.lists.Set(ctx, cache.HeartbeatKey(b.name, consumer), stamp, b.heartbeat); err != nil {
		return err
	}
	return b.lists.AddMember(ctx, cache.ConsumersKey(b.name), consumer)
}

// keepAlive refreshes the heartbeat and reclaims stale consumers until ctx ends.
func (b *RedisBroker) keepAlive(ctx context.Context, consumer string) {
	ticker := time.NewTicker(b.heartbeat / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.beat(ctx, consumer); err != nil && ctx.Err() == nil {
				b.logger.Warn("heartbeat failed", zap.String("consumer", consumer), zap.Error(err))
			}
			b.reclaim(ctx, consumer)
		}
	}
}

// reclaim returns the claimed tasks of every registered consumer whose heartbeat
// has expired to the front of the queue and forgets that consumer.
func (b *RedisBroker) reclaim(ctx context.Context, self string) {
	members, err := b.lists.Members(ctx, cache.ConsumersKey(b.name))
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("list consumers failed", zap.Error(err))
		}
		return
	}
	for _, m := range members {
		if m == self {
			continue
		}
		_, alive, err := b.lists.Get(ctx, cache.HeartbeatKey(b.name, m))
		if err != nil || alive {
			continue
		}
		n, err := b.requeueAll(ctx, cache.ProcessingKey(b.name, m))
		if n > 0 {
			b.logger.Warn("reclaimed tasks from stale consumer",
				zap.String("consumer", self), zap.String("stale", m), zap.Int("count", n))
		}
		if err != nil {
			b.logger.Warn("reclaim failed", zap.String("stale", m), zap.Error(err))
			continue
		}
		if err := b.lists.RemoveMember(ctx, cache.ConsumersKey(b.name), m); err != nil {
			b.logger.Warn("forget stale consumer failed", zap.String("stale", m), zap.Error(err))
		}
	}
}

func (b *RedisBroker) requeueAll(ctx context.Context, processing string) (int, error) {
	n := 0
	for {
		_, ok, err := b.lists.Requeue(ctx, processing, cache.QueueKey(b.name))
		if err != nil || !ok {
			return n, err
		}
		n++
	}
}

// deregister forgets a consumer that stopped with nothing claimed. A consumer
// still holding tasks stays registered until its heartbeat expires and they are reclaimed.
func (b *RedisBroker) deregister(ctx context.Context, consumer string) {
	left, err := b.lists.Range(ctx, cache.ProcessingKey(b.name, consumer))
	if err != nil || len(left) > 0 {
		return
	}
	if err := b.lists.RemoveMember(ctx, cache.ConsumersKey(b.name), consumer); err != nil {
		b.logger.Warn("deregister consumer failed", zap.String("consumer", consumer), zap.Error(err))
		return
	}
	if err := b.lists.Delete(ctx, cache.HeartbeatKey(b.name, consumer)); err != nil {
		b.logger.Warn("delete heartbeat failed", zap.String("consumer", consumer), zap.Error(err))
	}
}

// hand sends one delivery and waits until it is settled. Returns false if ctx ended first.
// A task that was never handed over goes back to the queue.
func (b *RedisBroker) hand(ctx context.Context, out chan<- Delivery, body []byte, processing string) bool {
	d := &redisDelivery{broker: b, body: body, processing: processing, done: make(chan struct{})}
	select {
	case out <- d:
	case <-ctx.Done():
		if err := d.Nack(context.WithoutCancel(ctx)); err != nil {
			b.logger.Warn("return unhanded task failed", zap.Error(err))
		}
		return false
	}
	select {
	case <-d.done:
		return true
	case <-ctx.Done():
		return false
	}
}

type redisDelivery struct {
	broker     *RedisBroker
	body       []byte
	processing string
	done       chan struct{}
	once       sync.Once
}

func (d *redisDelivery) Body() []byte { return d.body }

func (d *redisDelivery) settle() { d.once.Do(func() { close(d.done) }) }

func (d *redisDelivery) Ack(ctx context.Context) error {
	defer d.settle()
	return d.broker.lists.RemoveOne(ctx, d.processing, d.body)
}

func (d *redisDelivery) Nack(ctx context.Context) error {
	defer d.settle()
	if err := d.broker.lists.Push(ctx, cache.QueueKey(d.broker.name), d.body); err != nil {
		return err
	}
	return d.broker.lists.RemoveOne(ctx, d.processing, d.body)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
