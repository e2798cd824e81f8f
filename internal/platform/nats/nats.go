// Package nats fans task lifecycle events out to other instances over a
// NATS subject and feeds events received from them back into a local
// handler, typically one that wakes the scheduler.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/phrazzld/lottery-keeper/internal/events"
)

// Conn is the subset of *nats.Conn used here.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

var _ Conn = (*nats.Conn)(nil)

// Connect dials the server with reconnects enabled.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	log := logger.With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from nats", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected to nats", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// Publisher is an events.EventHandler that publishes each event as JSON.
type Publisher struct {
	conn    Conn
	subject string
	logger  *slog.Logger
}

var _ events.EventHandler = (*Publisher)(nil)

// NewPublisher creates a publisher for subject.
func NewPublisher(conn Conn, subject string, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With("component", "nats_publisher", "subject", subject),
	}
}

// HandleEvent implements events.EventHandler.
func (p *Publisher) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.logger.Error("failed to publish event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err)
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}
	return nil
}

// Subscriber decodes events from a subject and hands them to a handler.
type Subscriber struct {
	conn    Conn
	subject string
	handler events.EventHandler
	timeout time.Duration
	logger  *slog.Logger
	sub     *nats.Subscription
}

// NewSubscriber creates a subscriber. Each message is handled with its own
// context bounded by a five second timeout.
func NewSubscriber(conn Conn, subject string, handler events.EventHandler, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		conn:    conn,
		subject: subject,
		handler: handler,
		timeout: 5 * time.Second,
		logger:  logger.With("component", "nats_subscriber", "subject", subject),
	}
}

// Start subscribes to the subject.
func (s *Subscriber) Start() error {
	sub, err := s.conn.Subscribe(s.subject, s.handleMsg)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	return nil
}

// Stop unsubscribes. It is a no-op if Start was not called.
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *Subscriber) handleMsg(msg *nats.Msg) {
	event, err := events.Decode(msg.Data)
	if err != nil {
		s.logger.Warn("dropping undecodable event", "error", err, "size", len(msg.Data))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.handler.HandleEvent(ctx, event); err != nil {
		s.logger.Error("event handler failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err)
	}
}
