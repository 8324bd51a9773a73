package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange = "kitchen_alert"

	KeyOrderPlaced    = "order.placed"
	KeyRestockAlert   = "inventory.restock"
	KeyInventoryReset = "inventory.reset"
)

// PublishTimeout bounds a publish that is waiting for its broker confirm.
const PublishTimeout = 5 * time.Second

var (
	ErrNacked       = errors.New("publish nacked by broker")
	ErrConfirmsLost = errors.New("broker confirm channel closed")
)

// Publisher fans business events out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
	Close() error
}

type Noop struct{}

func (Noop) Publish(context.Context, string, any) error {
	return nil
}

func (Noop) Close() error {
	return nil
}

// Rabbit publishes JSON messages to a durable topic exchange and waits for
// the broker confirm of each message.
type Rabbit struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	acks <-chan amqp.Confirmation
	mu   sync.Mutex
}

func DialRabbit(url string) (*Rabbit, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 16))

	return &Rabbit{conn: conn, ch: ch, acks: acks}, nil
}

func (r *Rabbit) Publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, PublishTimeout)
		defer cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tag := r.ch.GetNextPublishSeqNo()
	if err := r.ch.PublishWithContext(ctx, Exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}); err != nil {
		return err
	}

	return awaitConfirm(ctx, r.acks, tag)
}

// awaitConfirm waits for the confirm carrying tag. Confirms for earlier
// publishes that gave up waiting are discarded.
func awaitConfirm(ctx context.Context, acks <-chan amqp.Confirmation, tag uint64) error {
	for {
		select {
		case conf, ok := <-acks:
			if !ok {
				return ErrConfirmsLost
			}
			if conf.DeliveryTag < tag {
				continue
			}
			if conf.Ack {
				return nil
			}
			return ErrNacked
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Rabbit) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
