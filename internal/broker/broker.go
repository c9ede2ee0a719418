// Package broker wraps the relay's single AMQP queue: idempotent
// declaration, publish to the default exchange, and a manual-ack consumer.
// The connect/declare/publish calls follow other_examples' Tim275-oms
// orders-consumer.go; the consume side is adapted from
// datasync/chaindatafetcher/event/kafka/consumer.go's Consumer, narrowed
// from Kafka's topic/partition model to one named queue. The client returns
// a single delivery channel; it keeps no handler map and does not reconnect.
package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/pkg/errors"
)

// Client owns one AMQP connection and one channel per process (spec.md §5:
// "Broker channel: one per process; not shared across tasks").
type Client struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
}

// Connect dials url and idempotently declares queueName with durable
// defaults, matching spec.md §4.3 ("declares the configured queue with
// default options").
func Connect(url, queueName string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrap(err, "declare queue")
	}
	return &Client{conn: conn, ch: ch, queueName: queueName}, nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return errors.Wrap(err, "close channel")
	}
	return errors.Wrap(c.conn.Close(), "close connection")
}

// Publish sends body to the default exchange with a routing key equal to
// the queue name (spec.md §4.3/§6).
func (c *Client) Publish(ctx context.Context, body []byte) error {
	err := c.ch.PublishWithContext(ctx, "", c.queueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	return errors.Wrap(err, "publish")
}

// Prefetch bounds the number of unacknowledged deliveries the consumer may
// hold at once (spec.md §4.3 recommends 1-16).
func (c *Client) Prefetch(n int) error {
	return errors.Wrap(c.ch.Qos(n, 0, false), "set prefetch")
}

// Consume starts a manual-ack consumer on the client's queue and returns
// the delivery channel. The broker redelivers any delivery neither acked
// nor rejected before connection loss (spec.md §4.3).
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.Consume(c.queueName, consumerTag, false, false, false, false, nil)
	return deliveries, errors.Wrap(err, "consume")
}
