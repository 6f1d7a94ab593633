package queue

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// AMQPBroker publishes to and consumes from a durable RabbitMQ queue named after the task queue.
// Each Consume call opens its own subscriber so consumers compete for messages.
type AMQPBroker struct {
	url       string
	name      string
	logger    watermill.LoggerAdapter
	publisher *amqp.Publisher

	mu   sync.Mutex
	subs []*amqp.Subscriber
}

func NewAMQPBroker(amqpURL, name string, logger watermill.LoggerAdapter) (*AMQPBroker, error) {
	cfg := amqp.NewDurableQueueConfig(amqpURL)

	// Declare the queue up front so tasks published before any worker starts are kept.
	initSub, err := amqp.NewSubscriber(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := initSub.SubscribeInitialize(name); err != nil {
		initSub.Close()
		return nil, err
	}
	if err := initSub.Close(); err != nil {
		return nil, err
	}

	publisher, err := amqp.NewPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &AMQPBroker{url: amqpURL, name: name, logger: logger, publisher: publisher}, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, body []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.SetContext(ctx)
	return b.publisher.Publish(b.name, msg)
}

func (b *AMQPBroker) Ping(context.Context) error {
	if !b.publisher.IsConnected() {
		return ErrClosed
	}
	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context, consumer string) (<-chan Delivery, error) {
	cfg := amqp.NewDurableQueueConfig(b.url)
	sub, err := amqp.NewSubscriber(cfg, b.logger.With(watermill.LogFields{"consumer": consumer}))
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	messages, err := sub.Subscribe(ctx, b.name)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for msg := range messages {
			select {
			case out <- &amqpDelivery{msg: msg}:
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if err := sub.Close(); err != nil {
			return err
		}
	}
	return b.publisher.Close()
}

// amqpDelivery settles the underlying message; watermill acks or requeues it on the channel.
type amqpDelivery struct {
	msg *message.Message
}

func (d *amqpDelivery) Body() []byte { return d.msg.Payload }

func (d *amqpDelivery) Ack(context.Context) error {
	d.msg.Ack()
	return nil
}

func (d *amqpDelivery) Nack(context.Context) error {
	d.msg.Nack()
	return nil
}
