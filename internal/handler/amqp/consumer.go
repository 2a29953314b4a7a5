// Package amqp consumes gateway events from a topic exchange. Deployments
// that cannot expose a webhook endpoint to the gateway run this consumer
// instead (or alongside it; event application is idempotent, so double
// delivery across both channels is harmless).
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/service"
)

const eventRoutingKey = "gateway.event.#"

// envelope is the wire frame on the event exchange: delivery metadata plus
// the same event payload the webhook channel carries.
type envelope struct {
	Meta struct {
		TenantID   string    `json:"tenant_id"`
		EventID    string    `json:"event_id"`
		OccurredAt time.Time `json:"occurred_at"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type Consumer struct {
	conn      *amqp091.Connection
	ch        *amqp091.Channel
	exchange  string
	processor *service.EventProcessor
	log       *slog.Logger
	done      chan struct{}
	wg        sync.WaitGroup
	once      sync.Once
	workerCnt int
}

func NewConsumer(url, exchange string, processor *service.EventProcessor, logger *slog.Logger, workerCnt int) (*Consumer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &Consumer{
		conn:      conn,
		ch:        ch,
		exchange:  exchange,
		processor: processor,
		log:       logger,
		done:      make(chan struct{}),
		workerCnt: workerCnt,
	}, nil
}

func (c *Consumer) Start(queueName string) error {
	var startErr error
	c.once.Do(func() {
		msgs, err := c.setupQueue(queueName)
		if err != nil {
			startErr = err
			return
		}

		for i := 0; i < c.workerCnt; i++ {
			c.wg.Add(1)
			go c.workerLoop(msgs)
		}
		c.log.Info("event consumer started", slog.String("queue", queueName))
	})
	return startErr
}

func (c *Consumer) setupQueue(queueName string) (<-chan amqp091.Delivery, error) {
	if err := c.ch.Qos(10, 0, false); err != nil {
		return nil, err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	if err := c.ch.QueueBind(q.Name, eventRoutingKey, c.exchange, false, nil); err != nil {
		return nil, err
	}
	return c.ch.Consume(q.Name, "", false, false, false, false, nil)
}

func (c *Consumer) workerLoop(msgs <-chan amqp091.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(msg)
		}
	}
}

// handle applies one delivery. Semantically bad events (unknown tag, missing
// tenant) are acked so they leave the queue; only store-level failures are
// nacked for redelivery, which is safe because event application is
// idempotent.
func (c *Consumer) handle(msg amqp091.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var env envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		c.log.Warn("discarding undecodable event envelope",
			slog.String("key", msg.RoutingKey), "error", err.Error())
		_ = msg.Ack(false)
		return
	}
	if env.Meta.TenantID == "" {
		c.log.Warn("discarding event without tenant id", slog.String("key", msg.RoutingKey))
		_ = msg.Ack(false)
		return
	}

	event, err := domain.ParseEvent(env.Data)
	if err != nil {
		c.log.Warn("discarding undecodable event",
			slog.String("key", msg.RoutingKey),
			slog.String("eventId", env.Meta.EventID),
			"error", err.Error())
		_ = msg.Ack(false)
		return
	}

	if err := c.processor.Apply(ctx, env.Meta.TenantID, event); err != nil {
		c.log.Error("event application failed, requeueing",
			slog.String("event", string(event.EventType())),
			slog.String("eventId", env.Meta.EventID),
			"error", err.Error())
		requeue := !errors.Is(err, context.Canceled)
		_ = msg.Nack(false, requeue)
		return
	}

	_ = msg.Ack(false)
}

func (c *Consumer) Close() error {
	close(c.done)
	c.wg.Wait()
	_ = c.ch.Close()
	return c.conn.Close()
}
