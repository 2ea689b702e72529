/*
Package events publishes generation reports to an AMQP exchange.

PURPOSE:
  Lets downstream systems (notification, accounting export) react to a
  generation batch without polling. Publisher implements billing.ReportSink;
  the engine calls Record after every batch and only logs its failures.

MESSAGE:
  exchange:     AMQP_EXCHANGE (topic, durable)
  routing key:  AMQP_ROUTING_KEY, suffixed with the granularity
                e.g. "payments.generated.monthly"
  body:         GenerationEvent as JSON, persistent delivery

RETRIES:
  Connection errors are retried with exponential backoff (1s, 2s, 4s ...
  capped at 30s) up to maxAttempts. Other errors fail immediately.
*/
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/warp/fee-engine/billing"
)

const maxAttempts = 3

// Channel is the subset of *amqp091.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

type Publisher struct {
	conn       *amqp091.Connection
	channel    Channel
	exchange   string
	routingKey string

	Logger  *slog.Logger
	Now     func() time.Time
	Backoff func(attempt int) time.Duration
}

var _ billing.ReportSink = (*Publisher)(nil)

// NewPublisher dials url and declares the exchange.
func NewPublisher(url, exchange, routingKey string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := NewPublisherWithChannel(channel, exchange, routingKey)
	p.conn = conn
	return p, nil
}

// NewPublisherWithChannel wraps an already open channel.
func NewPublisherWithChannel(ch Channel, exchange, routingKey string) *Publisher {
	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		Logger:     slog.Default(),
		Now:        time.Now,
		Backoff:    exponentialBackoff,
	}
}

// RoutingKey returns the key a report of granularity g is published under.
func (p *Publisher) RoutingKey(g billing.Granularity) string {
	return p.routingKey + "." + string(g)
}

// Record publishes a GenerationEvent for the report.
func (p *Publisher) Record(ctx context.Context, r *billing.GenerationReport) error {
	msg := NewGenerationEvent(r, p.Now())
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := p.RoutingKey(r.Period.Granularity)

	for attempt := 0; ; attempt++ {
		err = p.publish(ctx, key, body, msg.Timestamp)
		if err == nil {
			break
		}
		if !isConnectionError(err) || attempt+1 >= maxAttempts {
			return fmt.Errorf("publish message: %w", err)
		}
		wait := p.Backoff(attempt)
		p.Logger.WarnContext(ctx, "retrying generation event publish", "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	p.Logger.InfoContext(ctx, "published generation event",
		"period", msg.Period,
		"created", msg.Created,
		"exchange", p.exchange,
		"routing_key", key)
	return nil
}

func (p *Publisher) publish(ctx context.Context, key string, body []byte, ts time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    ts,
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func exponentialBackoff(attempt int) time.Duration {
	d := time.Second << attempt
	if attempt >= 5 || d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
