package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	amqpDialTimeout    = 3 * time.Second
	amqpRetryBackoff   = 10 * time.Second
	amqpPublishTimeout = 5 * time.Second
	amqpBufferSize     = 256
)

var (
	// ErrBrokerBackoff is returned while the publisher waits out a failed dial.
	ErrBrokerBackoff = errors.New("amqp broker unavailable, retry pending")
	// ErrBrokerQueueFull is returned when the delivery buffer is full and the event is dropped.
	ErrBrokerQueueFull = errors.New("amqp delivery buffer full")
	// ErrPublisherClosed is returned by Handle after Close.
	ErrPublisherClosed = errors.New("amqp publisher closed")
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher forwards lifecycle events to a durable RabbitMQ queue. Handle only enqueues;
// a single delivery goroutine owns the connection, which is opened lazily with a bounded
// dial and not retried until the backoff after a failed dial has passed.
type AMQPPublisher struct {
	url    string
	queue  string
	logger *zap.Logger

	dialTimeout time.Duration
	backoff     time.Duration

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      amqpChannel
	retryAt time.Time
	dial    func(url string, timeout time.Duration) (*amqp.Connection, amqpChannel, error)
	now     func() time.Time

	pending   chan Event
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewAMQPPublisher builds a publisher for queue on the broker at url.
func NewAMQPPublisher(url, queue string, logger *zap.Logger) *AMQPPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{
		url:         url,
		queue:       queue,
		logger:      logger,
		dialTimeout: amqpDialTimeout,
		backoff:     amqpRetryBackoff,
		dial:        dialAMQP,
		now:         time.Now,
		pending:     make(chan Event, amqpBufferSize),
		done:        make(chan struct{}),
	}
}

func dialAMQP(url string, timeout time.Duration) (*amqp.Connection, amqpChannel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	return conn, ch, nil
}

// Register subscribes the publisher to every lifecycle event and starts delivery.
func (p *AMQPPublisher) Register(d Dispatcher) {
	p.Start()
	SubscribeAll(d, p.Handle)
}

// Start launches the delivery goroutine. Calling it again is a no-op.
func (p *AMQPPublisher) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

func (p *AMQPPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case event := <-p.pending:
			ctx, cancel := context.WithTimeout(context.Background(), amqpPublishTimeout)
			if err := p.Publish(ctx, event); err != nil {
				p.logger.Warn("amqp delivery failed",
					zap.String("event_id", event.ID),
					zap.String("event_type", string(event.Type)),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// Handle queues an event for delivery and never waits on the broker. A full buffer drops
// the event.
func (p *AMQPPublisher) Handle(_ context.Context, event Event) error {
	select {
	case <-p.done:
		return ErrPublisherClosed
	default:
	}
	select {
	case p.pending <- event:
		return nil
	default:
		return ErrBrokerQueueFull
	}
}

// Publish delivers one event as a persistent JSON message on the calling goroutine.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// channel returns the open channel, dialing and declaring the queue first when needed.
func (p *AMQPPublisher) channel() (amqpChannel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	if now := p.now(); now.Before(p.retryAt) {
		return nil, ErrBrokerBackoff
	}
	conn, ch, err := p.dial(p.url, p.dialTimeout)
	if err != nil {
		p.retryAt = p.now().Add(p.backoff)
		return nil, err
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if conn != nil {
			_ = conn.Close()
		}
		p.retryAt = p.now().Add(p.backoff)
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.retryAt = time.Time{}
	p.logger.Info("amqp publisher connected", zap.String("queue", p.queue))
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close stops delivery and releases the broker connection. Events still buffered are
// discarded.
func (p *AMQPPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if dropped := len(p.pending); dropped > 0 {
		p.logger.Warn("amqp publisher closed with undelivered events", zap.Int("dropped", dropped))
	}
	p.reset()
}
