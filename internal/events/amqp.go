package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wacompose/internal/constants"
	"wacompose/internal/retry"
	"wacompose/pkg/whatsapp/types"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// amqpPublisher owns one connection and publishes persistent JSON messages
// to a topic exchange, redialing with backoff when the connection drops.
type amqpPublisher struct {
	url      string
	exchange string
	backoff  *retry.Backoff
	logger   *logrus.Logger

	dialMu sync.Mutex
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
}

func newAMQPPublisher(ctx context.Context, url, exchange string, logger *logrus.Logger) (*amqpPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	p := &amqpPublisher{
		url:      url,
		exchange: exchange,
		backoff:  retry.NewBackoff(retry.DefaultBackoffConfig()),
		logger:   logger,
	}
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// connect dials and declares the exchange; the caller must not hold mu
func (p *amqpPublisher) connect(ctx context.Context) error {
	attempt := 0
	return p.backoff.Retry(ctx, func() error {
		attempt++
		conn, err := amqp.Dial(p.url)
		if err != nil {
			p.logger.WithError(err).WithField("attempt", attempt).Warn("AMQP dial failed")
			return fmt.Errorf("failed to dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to open channel: %w", err)
		}
		if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
		}

		p.mu.Lock()
		p.conn, p.ch = conn, ch
		p.mu.Unlock()

		if attempt > 1 {
			p.logger.WithField("attempt", attempt).Info("AMQP connected")
		}
		return nil
	})
}

func (p *amqpPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.dialMu.Lock()
	defer p.dialMu.Unlock()

	p.mu.Lock()
	ch, conn := p.ch, p.conn
	p.mu.Unlock()

	if conn != nil && !conn.IsClosed() && ch != nil && !ch.IsClosed() {
		return ch, nil
	}
	if conn != nil {
		_ = conn.Close()
	}
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch, nil
}

func (p *amqpPublisher) publish(ctx context.Context, routingKey, messageID, correlationID string, body []byte) error {
	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageID,
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}

// AMQPSink publishes bus events to a topic exchange keyed by RoutingKey
type AMQPSink struct {
	*amqpPublisher
}

func NewAMQPSink(ctx context.Context, url, exchange string, logger *logrus.Logger) (*AMQPSink, error) {
	if exchange == "" {
		exchange = constants.DefaultEventsExchange
	}
	p, err := newAMQPPublisher(ctx, url, exchange, logger)
	if err != nil {
		return nil, err
	}
	return &AMQPSink{amqpPublisher: p}, nil
}

func (s *AMQPSink) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.publish(ctx, ev.RoutingKey(), ev.ID, ev.Key.ID, body)
}

// OutboundMessage is the envelope handed to the transport through the broker
type OutboundMessage struct {
	JID     string                `json:"jid"`
	Message *types.WebMessageInfo `json:"message"`
}

// RelayRoutingKey returns the routing key for a generated message bound for jid
func RelayRoutingKey(jid string) string {
	if types.IsGroupJID(jid) {
		return "send.group"
	}
	return "send.user"
}

// AMQPRelay hands generated messages to the transport through a broker
type AMQPRelay struct {
	*amqpPublisher
}

func NewAMQPRelay(ctx context.Context, url, exchange string, logger *logrus.Logger) (*AMQPRelay, error) {
	if exchange == "" {
		exchange = constants.DefaultRelayExchange
	}
	p, err := newAMQPPublisher(ctx, url, exchange, logger)
	if err != nil {
		return nil, err
	}
	return &AMQPRelay{amqpPublisher: p}, nil
}

func (r *AMQPRelay) Relay(ctx context.Context, jid string, info *types.WebMessageInfo) error {
	body, err := json.Marshal(OutboundMessage{JID: jid, Message: info})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return r.publish(ctx, RelayRoutingKey(jid), info.Key.ID, "", body)
}
