package queue

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process FIFO for single-binary deployments and tests.
// Tasks do not survive a restart.
type MemoryBroker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  [][]byte
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *MemoryBroker) Publish(_ context.Context, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.tasks = append(b.tasks, append([]byte(nil), body...))
	b.cond.Signal()
	return nil
}

func (b *MemoryBroker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

// Len reports how many tasks are waiting.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

func (b *MemoryBroker) Consume(ctx context.Context, _ string) (<-chan Delivery, error) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer stop()
		for {
			body, ok := b.next(ctx)
			if !ok {
				return
			}
			d := &memoryDelivery{broker: b, body: body, done: make(chan struct{})}
			select {
			case out <- d:
			case <-ctx.Done():
				b.requeue(body)
				return
			}
			select {
			case <-d.done:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// next blocks until a task is available, the broker is closed or ctx is done.
func (b *MemoryBroker) next(ctx context.Context) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.tasks) == 0 {
		if b.closed || ctx.Err() != nil {
			return nil, false
		}
		b.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, false
	}
	body := b.tasks[0]
	b.tasks = b.tasks[1:]
	return body, true
}

func (b *MemoryBroker) requeue(body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append([][]byte{body}, b.tasks...)
	b.cond.Signal()
}

type memoryDelivery struct {
	broker *MemoryBroker
	body   []byte
	done   chan struct{}
	once   sync.Once
}

func (d *memoryDelivery) Body() []byte { return d.body }

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() { close(d.done) })
	return nil
}

func (d *memoryDelivery) Nack(context.Context) error {
	d.once.Do(func() {
		d.broker.requeue(d.body)
		close(d.done)
	})
	return nil
}
