package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hpungsan/modrelay/internal/logging"
	"github.com/hpungsan/modrelay/internal/retry"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes events as persistent JSON messages to a topic exchange,
// routed by event type, and waits for the broker to confirm each one.
type AMQP struct {
	exchange string
	logger   *slog.Logger

	mu       sync.Mutex
	ch       channel
	confirms <-chan amqp.Confirmation
	conn     io.Closer
	seq      uint64 // delivery tag of the last published message
}

// DialOptions configures Dial.
type DialOptions struct {
	URL      string
	Exchange string
	Retry    retry.Policy // dial attempts; zero value tries once
	Logger   *slog.Logger
}

// Dial connects to the broker, declares the durable topic exchange and puts
// a channel in confirm mode.
func Dial(ctx context.Context, opts DialOptions) (*AMQP, error) {
	logger := logging.OrDiscard(opts.Logger)
	policy := opts.Retry
	policy.Notify = func(attempt int, err error, wait time.Duration) {
		logger.Warn("amqp dial failed", "attempt", attempt+1, "sleep", wait, "error", err)
	}

	var conn *amqp.Connection
	_, err := policy.Do(ctx, func(context.Context, int) error {
		c, err := amqp.Dial(opts.URL)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", opts.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 16))

	logger.Info("event publisher connected", "exchange", opts.Exchange)
	return newAMQP(ch, confirms, conn, opts.Exchange, logger), nil
}

func newAMQP(ch channel, confirms <-chan amqp.Confirmation, conn io.Closer, exchange string, logger *slog.Logger) *AMQP {
	return &AMQP{
		exchange: exchange,
		logger:   logging.OrDiscard(logger),
		ch:       ch,
		confirms: confirms,
		conn:     conn,
	}
}

// Emit publishes ev and blocks until the broker acks it or ctx ends.
func (a *AMQP) Emit(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	msgID := uuid.NewString()
	err = a.ch.PublishWithContext(ctx, a.exchange, ev.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msgID,
		CorrelationId: ev.SubmissionID,
		Type:          ev.Type,
		Timestamp:     ts,
		AppId:         "modrelay",
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	a.seq++
	tag := a.seq

	for {
		select {
		case c, ok := <-a.confirms:
			if !ok {
				return fmt.Errorf("publish %s: confirmation channel closed", ev.Type)
			}
			// stale confirmations from publishes whose wait was cancelled
			if c.DeliveryTag < tag {
				continue
			}
			if !c.Ack {
				return fmt.Errorf("publish %s: broker nacked message %s", ev.Type, msgID)
			}
			a.logger.Debug("event published", "type", ev.Type, "message_id", msgID)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the channel and the connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	chErr := a.ch.Close()
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			return err
		}
	}
	return chErr
}
