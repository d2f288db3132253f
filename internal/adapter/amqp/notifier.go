// Package amqp announces finished years on a RabbitMQ queue.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/config"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
)

const jsonContentType = "application/json"

type publishFunc func(ctx context.Context, msg amqp.Publishing) error

// Notifier publishes a year report to a durable queue. Each notification uses its own
// connection; years finish minutes apart.
// It implements pipeline.Notifier.
type Notifier struct {
	url     string
	queue   string
	publish publishFunc
	logger  *slog.Logger
}

// NewNotifier creates a notifier for the configured broker and queue.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	n := &Notifier{url: cfg.AMQPURL, queue: cfg.AMQPQueue, logger: logger}
	n.publish = n.dialAndPublish
	return n
}

// NotifyYear announces report.
func (n *Notifier) NotifyYear(ctx context.Context, report domain.YearReport) error {
	msg, err := buildPublishing(report)
	if err != nil {
		return err
	}
	if err := n.publish(ctx, msg); err != nil {
		return fmt.Errorf("notify year %d: %w", report.Year, err)
	}
	n.logger.Info("year report published", "year", report.Year, "outcome", report.Outcome, "queue", n.queue)
	return nil
}

func (n *Notifier) dialAndPublish(ctx context.Context, msg amqp.Publishing) error {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", n.queue, err)
	}
	return ch.PublishWithContext(ctx, "", n.queue, false, false, msg)
}

// buildPublishing encodes report as a persistent JSON message.
func buildPublishing(report domain.YearReport) (amqp.Publishing, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("serialize year report: %w", err)
	}
	ts := report.FinishedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return amqp.Publishing{
		ContentType:  jsonContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    report.RunID,
		Timestamp:    ts,
		Type:         "nfirs.year." + report.Outcome,
		Headers: amqp.Table{
			"year":    strconv.Itoa(report.Year),
			"outcome": report.Outcome,
		},
		Body: body,
	}, nil
}
