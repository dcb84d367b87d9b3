package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/behzadon/livepoll/internal/config"
	"github.com/behzadon/livepoll/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type EventHandler interface {
	HandlePollCreated(ctx context.Context, poll *domain.Poll) error
	HandleVoteCast(ctx context.Context, poll *domain.Poll) error
}

// RabbitMQConsumer reads relayed envelopes from a queue bound to the
// exchange and dispatches them to an EventHandler.
type RabbitMQConsumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	handler   EventHandler
	logger    *zap.Logger
	queueName string
}

func NewRabbitMQConsumer(cfg config.RabbitMQConfig, handler EventHandler, logger *zap.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(amqpURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		cleanup(nil, conn, logger)
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		cleanup(ch, conn, logger)
		return nil, fmt.Errorf("set QoS: %w", err)
	}

	if err := declareExchange(ch, cfg.Exchange); err != nil {
		cleanup(ch, conn, logger)
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		cleanup(ch, conn, logger)
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, bindingKey, cfg.Exchange, false, nil); err != nil {
		cleanup(ch, conn, logger)
		return nil, fmt.Errorf("bind queue %s: %w", cfg.Queue, err)
	}

	return &RabbitMQConsumer{
		conn:      conn,
		channel:   ch,
		handler:   handler,
		logger:    logger,
		queueName: cfg.Queue,
	}, nil
}

func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Error("Consumer channel closed")
					return
				}
				c.settle(msg, dispatch(ctx, c.handler, msg.Body))
			}
		}
	}()

	return nil
}

// settle acks handled messages, drops undecodable ones and requeues
// messages whose handler failed.
func (c *RabbitMQConsumer) settle(msg amqp.Delivery, err error) {
	switch {
	case err == nil:
		if err := msg.Ack(false); err != nil {
			c.logger.Error("Failed to ack message", zap.Error(err))
		}
	case errors.Is(err, errMalformed):
		c.logger.Warn("Dropping malformed message",
			zap.Error(err),
			zap.String("routing_key", msg.RoutingKey),
		)
		if err := msg.Nack(false, false); err != nil {
			c.logger.Error("Failed to nack message", zap.Error(err))
		}
	default:
		c.logger.Error("Failed to handle message",
			zap.Error(err),
			zap.String("routing_key", msg.RoutingKey),
		)
		if err := msg.Nack(false, true); err != nil {
			c.logger.Error("Failed to nack message", zap.Error(err))
		}
	}
}

func dispatch(ctx context.Context, handler EventHandler, body []byte) error {
	ev, err := Decode(body)
	if err != nil {
		return err
	}

	switch ev.Topic {
	case domain.TopicPollCreated:
		return handler.HandlePollCreated(ctx, &ev.Poll)
	case domain.TopicVoteCast:
		return handler.HandleVoteCast(ctx, &ev.Poll)
	}
	return fmt.Errorf("%w: %s", errMalformed, ev.Topic)
}

func (c *RabbitMQConsumer) Close() error {
	var errs []error

	if err := c.channel.Close(); err != nil {
		c.logger.Error("Failed to close RabbitMQ channel", zap.Error(err))
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Error("Failed to close RabbitMQ connection", zap.Error(err))
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %v", errs)
	}
	return nil
}
