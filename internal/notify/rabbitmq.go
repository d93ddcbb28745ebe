package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ExchangeName is the AMQP topic exchange swap events are published to.
const ExchangeName = "swap_events"

// AMQPPublisher pushes swap events to a RabbitMQ topic exchange so external
// consumers (chat bots, alerting) can react without coupling to the engine.
type AMQPPublisher struct {
	ch     *amqp.Channel
	logger *zap.Logger
}

// NewAMQPPublisher declares the exchange and returns a publisher on ch.
func NewAMQPPublisher(ch *amqp.Channel, logger *zap.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, err
	}
	return &AMQPPublisher{ch: ch, logger: logger}, nil
}

// SwapExecuted publishes the event with routing key
// swap.<user>.<outcome>. Errors are logged and swallowed: notification is
// best-effort and must never affect a settled swap.
func (p *AMQPPublisher) SwapExecuted(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("marshal swap event", zap.Error(err))
		return
	}

	routingKey := fmt.Sprintf("swap.%s.%s", event.UserID, event.Outcome)
	if err := p.ch.PublishWithContext(ctx,
		ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	); err != nil {
		p.logger.Warn("publish swap event",
			zap.String("routing_key", routingKey),
			zap.Error(err))
	}
}
