package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/clearing/internal/ledger"
	"github.com/Checker-Finance/bond-venue/pkg/eventbus"
)

// TopicTradesRecorded is the queue downstream settlement and analytics
// systems consume cleared trades from.
const TopicTradesRecorded = "clearing.trades.recorded"

// Publisher forwards accepted trade reports to RabbitMQ. It listens on the
// event bus so the ledger never knows the broker exists.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger
}

// New connects to RabbitMQ, declares the trade queue and subscribes to
// ledger events.
func New(url string, bus *eventbus.EventBus, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(TopicTradesRecorded, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	p := &Publisher{conn: conn, channel: channel, logger: logger}
	bus.Subscribe(ledger.TradeRecordedEvent{}, func(event interface{}) {
		if e, ok := event.(ledger.TradeRecordedEvent); ok {
			p.publishTradeRecorded(e)
		}
	})
	return p, nil
}

func (p *Publisher) publishTradeRecorded(event ledger.TradeRecordedEvent) {
	body, err := json.Marshal(event.Report)
	if err != nil {
		p.logger.Error("publisher.marshal_failed", zap.Error(err))
		return
	}

	err = p.channel.PublishWithContext(
		context.Background(),
		"",                   // exchange
		TopicTradesRecorded,  // routing key
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.Uint64("rfq_id", event.Report.RfqID),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("publisher.trade_published",
		zap.Uint64("rfq_id", event.Report.RfqID),
		zap.String("reporter", event.Report.Reporter),
	)
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
