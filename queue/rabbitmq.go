package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rowdb/rowdb/command"
)

// RabbitMQQueue is a durable, at-least-once task queue backed by a RabbitMQ
// broker. Commands are published persistently (delivery_mode=2) to a
// durable queue; Get drains up to n messages with a non-blocking basic.get
// per message and acks them once fetched.
type RabbitMQQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	name    string
}

// NewRabbitMQQueue dials url and declares a durable queue named name.
func NewRabbitMQQueue(url, name string) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue: declare queue %q: %w", name, err)
	}
	return &RabbitMQQueue{conn: conn, channel: ch, name: name}, nil
}

// Put publishes v as a durable, persistent message.
func (q *RabbitMQQueue) Put(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: encode message: %w", err)
	}
	return q.channel.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Get performs up to n non-blocking basic.get calls, acking each message it
// retrieves. If no messages are available it returns an empty slice rather
// than blocking, since the broker has no long-poll primitive for basic.get.
func (q *RabbitMQQueue) Get(ctx context.Context, n int) ([]any, error) {
	if n <= 0 {
		n = 1
	}
	var out []any
	for i := 0; i < n; i++ {
		msg, ok, err := q.channel.Get(q.name, false)
		if err != nil {
			return out, fmt.Errorf("queue: basic.get: %w", err)
		}
		if !ok {
			break
		}
		var cmd command.Command
		if err := json.Unmarshal(msg.Body, &cmd); err != nil {
			msg.Nack(false, false)
			continue
		}
		if err := msg.Ack(false); err != nil {
			return out, fmt.Errorf("queue: ack message: %w", err)
		}
		out = append(out, cmd)
	}
	return out, nil
}

// Close closes the channel and connection to the broker.
func (q *RabbitMQQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		q.conn.Close()
		return fmt.Errorf("queue: close channel: %w", err)
	}
	return q.conn.Close()
}
