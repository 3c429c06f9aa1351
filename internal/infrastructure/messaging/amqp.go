// Package messaging distributes payout domain events over an AMQP topic
// exchange and feeds events raised by other instances back into the local
// event handlers.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marketplace/payouts/internal/infrastructure/config"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// ExchangeKind is the AMQP exchange type used for domain events
const ExchangeKind = "topic"

// ErrClosed is returned when the client has been closed
var ErrClosed = errors.New("amqp client closed")

// Channel is the subset of *amqp.Channel the publisher and consumer use
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a broker connection and returns a channel on it together with
// a function that closes the connection.
type Dialer func(url string) (Channel, func() error, <-chan *amqp.Error, error)

// DialAMQP is the production Dialer backed by streadway/amqp
func DialAMQP(url string) (Channel, func() error, <-chan *amqp.Error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, fmt.Errorf("open amqp channel: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	return ch, conn.Close, closed, nil
}

// Client owns one AMQP connection and channel and re-dials when the broker
// closes them. The exchange is declared on every (re)connect.
type Client struct {
	url      string
	exchange string
	dial     Dialer
	logger   *zap.Logger

	mu        sync.Mutex
	channel   Channel
	closeConn func() error
	closed    bool
	done      chan struct{}
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithDialer replaces the broker dialer
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) {
		c.dial = d
	}
}

// NewClient connects to the broker and declares the event exchange
func NewClient(cfg config.MessagingConfig, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:      cfg.URL,
		exchange: cfg.Exchange,
		dial:     DialAMQP,
		logger:   logger.Named("amqp"),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Exchange returns the name of the event exchange
func (c *Client) Exchange() string {
	return c.exchange
}

// Channel returns the current channel
func (c *Client) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.channel == nil {
		return nil, errors.New("amqp channel not connected")
	}
	return c.channel, nil
}

// Close closes the channel and connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var errs []error
	if c.channel != nil {
		errs = append(errs, c.channel.Close())
	}
	if c.closeConn != nil {
		errs = append(errs, c.closeConn())
	}
	return errors.Join(errs...)
}

func (c *Client) connect() error {
	ch, closeConn, closedCh, err := c.dial(c.url)
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(c.exchange, ExchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if closeConn != nil {
			_ = closeConn()
		}
		return fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}

	c.mu.Lock()
	c.channel = ch
	c.closeConn = closeConn
	c.mu.Unlock()

	c.logger.Info("amqp connected", zap.String("exchange", c.exchange))
	if closedCh != nil {
		go c.watch(closedCh)
	}
	return nil
}

func (c *Client) watch(closedCh <-chan *amqp.Error) {
	select {
	case <-c.done:
		return
	case amqpErr := <-closedCh:
		select {
		case <-c.done:
			return
		default:
		}
		c.logger.Warn("amqp connection closed, reconnecting", zap.Any("reason", amqpErr))
	}

	c.mu.Lock()
	c.channel = nil
	c.mu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	_ = backoff.RetryNotify(c.connect, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		c.logger.Warn("amqp reconnect failed", zap.Error(err), zap.Duration("retry_in", wait))
	})
}
