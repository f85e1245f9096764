package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/svcbus/contracts"
)

const defaultPrefetchCount = 10

// Handler processes an application event
type Handler = contracts.Handler

// ConsumerState is the position of a Consumer in its lifecycle
type ConsumerState int32

const (
	StateIdle ConsumerState = iota
	StateAwaitingConnection
	StateDeclaring
	StateConsuming
	StateStopped
	StateFatal
)

func (s ConsumerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConnection:
		return "awaiting_connection"
	case StateDeclaring:
		return "declaring"
	case StateConsuming:
		return "consuming"
	case StateStopped:
		return "stopped"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Consumer runs the consumption loop of a service's main queue
type Consumer struct {
	conn          ChannelOpener
	cfg           BrokerConfig
	topology      *TopologyManager
	pending       *PendingResponses
	prefetchCount int
	consumerTag   string
	requeueOnce   bool
	logger        *slog.Logger
	state         atomic.Int32
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequeueOnce controls whether a failed message gets one more delivery
// before it is dead-lettered. When disabled, failures are dead-lettered at once.
func WithRequeueOnce(enabled bool) ConsumerOption {
	return func(c *Consumer) {
		c.requeueOnce = enabled
	}
}

// WithConsumerPendingResponses shares a registry with a Publisher in the same process
func WithConsumerPendingResponses(pending *PendingResponses) ConsumerOption {
	return func(c *Consumer) {
		if pending != nil {
			c.pending = pending
		}
	}
}

// NewConsumer creates a new consumer
func NewConsumer(conn ChannelOpener, cfg BrokerConfig, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		conn:          conn,
		cfg:           cfg,
		prefetchCount: defaultPrefetchCount,
		requeueOnce:   true,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.pending == nil {
		c.pending = NewPendingResponses()
	}
	if c.consumerTag == "" {
		c.consumerTag = c.cfg.RoutingKey + "-" + uuid.NewString()[:8]
	}
	c.topology = NewTopologyManager(cfg, c.logger)

	return c
}

// State returns the current lifecycle state
func (c *Consumer) State() ConsumerState {
	return ConsumerState(c.state.Load())
}

// Pending returns the registry replies are resolved into
func (c *Consumer) Pending() *PendingResponses {
	return c.pending
}

func (c *Consumer) setState(state ConsumerState, args ...any) {
	c.state.Store(int32(state))
	args = append([]any{"state", state.String(), "queue", c.cfg.RoutingKey}, args...)
	if state == StateFatal {
		c.logger.Error("consumer state changed", args...)
		return
	}
	c.logger.Info("consumer state changed", args...)
}

// Consume declares the topology, binds the extra exchanges and processes
// deliveries until ctx is cancelled or the delivery stream ends. It returns
// ctx.Err() on cancellation; any other return is fatal to this run.
func (c *Consumer) Consume(ctx context.Context, handler Handler, extra ...contracts.Binding) error {
	c.setState(StateAwaitingConnection)
	ch, err := c.conn.Channel(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}
	defer closeChannel(ch)

	c.setState(StateDeclaring, "extraBindings", len(extra))
	queue, err := c.topology.Declare(ch, extra...)
	if err != nil {
		return c.fail(ctx, err)
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		return c.fail(ctx, c.consumerError(queue.Name, "qos", err))
	}

	deliveries, err := ch.Consume(queue.Name, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		return c.fail(ctx, c.consumerError(queue.Name, "consume", err))
	}

	c.setState(StateConsuming, "consumerTag", c.consumerTag, "prefetchCount", c.prefetchCount)

	for {
		select {
		case <-ctx.Done():
			c.setState(StateStopped)
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return c.fail(ctx, c.consumerError(queue.Name, "consume", ErrConsumerCancelled))
			}

			c.process(ctx, d, handler)

			if err := ctx.Err(); err != nil {
				c.setState(StateStopped)
				return err
			}
		}
	}
}

func (c *Consumer) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		c.setState(StateStopped)
		return ctx.Err()
	}
	c.setState(StateFatal, "error", err)
	return err
}

func (c *Consumer) consumerError(queue, op string, err error) *ConsumerError {
	return &ConsumerError{
		Queue:       queue,
		ConsumerTag: c.consumerTag,
		Op:          op,
		Err:         err,
		Timestamp:   time.Now(),
	}
}

// process handles one delivery and settles it exactly once
func (c *Consumer) process(ctx context.Context, d amqp.Delivery, handler Handler) {
	logger := c.logger.With(
		"messageId", d.MessageId,
		"deliveryTag", d.DeliveryTag,
		"redelivered", d.Redelivered)

	err := c.dispatch(ctx, d, handler)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	requeue := c.requeueOnce && !d.Redelivered
	if ctx.Err() != nil {
		requeue = true
	}

	logger.Error("failed to process message", "error", err, "requeue", requeue)
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		logger.Error("failed to nack message", "error", nackErr, "originalError", err)
	}
}

// dispatch decodes d and routes it to the reply path or to handler
func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	in, err := contracts.Decode(d.Body, d.CorrelationId, d.ReplyTo)
	if err != nil {
		return err
	}

	switch m := in.(type) {
	case *contracts.Reply:
		return c.ResolveResponse(m)
	case *contracts.Event:
		m.Metadata = contracts.Metadata{
			Exchange:    d.Exchange,
			RoutingKey:  d.RoutingKey,
			MessageID:   d.MessageId,
			Timestamp:   d.Timestamp,
			Redelivered: d.Redelivered,
		}
		c.logger.Debug("event received", "exchange", d.Exchange, "request", m.IsRequest())
		return handler(ctx, m)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedMessage, in)
	}
}

// Reply answers original on its reply-to queue with the same correlation ID.
// Failures are logged, never returned: the requester sees a timeout instead.
func (c *Consumer) Reply(ctx context.Context, original *contracts.Event, response map[string]any) {
	if original == nil || original.ReplyTo == "" {
		c.logger.Warn("cannot reply to a message without reply-to")
		return
	}
	logger := c.logger.With("replyTo", original.ReplyTo, "correlationId", original.CorrelationID)

	body, err := contracts.Encode(contracts.Normalize(response))
	if err != nil {
		logger.Error("failed to encode reply", "error", err)
		return
	}

	ch, err := c.conn.Channel(ctx)
	if err != nil {
		logger.Error("failed to open channel for reply", "error", err)
		return
	}
	defer closeChannel(ch)

	msg := amqp.Publishing{
		ContentType:   contentTypeJSON,
		CorrelationId: original.CorrelationID,
		MessageId:     uuid.NewString(),
		Timestamp:     time.Now(),
		Body:          body,
	}
	if err := publish(ctx, ch, false, 0, "", original.ReplyTo, msg); err != nil {
		logger.Error("failed to send reply", "error", err)
		return
	}

	logger.Info("reply sent")
}

// ResolveResponse completes the pending request matching msg. msg may be an
// amqp.Delivery, *amqp.Delivery, *contracts.Reply or a decoded body; any other
// type yields ErrUnsupportedMessage. Unknown or late replies are discarded.
func (c *Consumer) ResolveResponse(msg any) error {
	return resolveResponse(c.pending, c.logger, msg)
}
