package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/svcbus/contracts"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultConfirmTimeout = 5 * time.Second
	contentTypeJSON       = "application/json"
)

// ChannelOpener opens broker channels. *ConnectionManager implements it.
type ChannelOpener interface {
	Channel(ctx context.Context) (Channel, error)
}

// Publisher sends events to the service exchange and requests to other services
type Publisher struct {
	conn           ChannelOpener
	cfg            BrokerConfig
	topology       *TopologyManager
	pending        *PendingResponses
	requestTimeout time.Duration
	confirmTimeout time.Duration
	confirms       bool
	logger         *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithRequestTimeout sets the default time a request waits for its reply
func WithRequestTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.requestTimeout = timeout
	}
}

// WithConfirmTimeout sets the confirmation timeout
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublisherConfirms enables or disables publisher confirms
func WithPublisherConfirms(enabled bool) PublisherOption {
	return func(p *Publisher) {
		p.confirms = enabled
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPendingResponses shares a registry, e.g. with a Consumer in the same process
func WithPendingResponses(pending *PendingResponses) PublisherOption {
	return func(p *Publisher) {
		if pending != nil {
			p.pending = pending
		}
	}
}

// NewPublisher creates a new publisher
func NewPublisher(conn ChannelOpener, cfg BrokerConfig, options ...PublisherOption) *Publisher {
	p := &Publisher{
		conn:           conn,
		cfg:            cfg,
		requestTimeout: defaultRequestTimeout,
		confirmTimeout: defaultConfirmTimeout,
		confirms:       true,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	if p.pending == nil {
		p.pending = NewPendingResponses()
	}
	p.topology = NewTopologyManager(cfg, p.logger)

	return p
}

// Pending returns the publisher's registry of in-flight requests
func (p *Publisher) Pending() *PendingResponses {
	return p.pending
}

// PublishEvent publishes message to the service exchange. Every queue bound
// to the exchange receives a copy.
func (p *Publisher) PublishEvent(ctx context.Context, message map[string]any) error {
	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return err
	}
	defer closeChannel(ch)

	if _, err := p.topology.Declare(ch); err != nil {
		return err
	}

	body, err := contracts.Encode(message)
	if err != nil {
		return publishError(p.cfg.ExchangeName, "", err)
	}

	msg := amqp.Publishing{
		ContentType: contentTypeJSON,
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        body,
	}

	if err := publish(ctx, ch, p.confirms, p.confirmTimeout, p.cfg.ExchangeName, "", msg); err != nil {
		return err
	}

	p.logger.Info("event published",
		"exchange", p.cfg.ExchangeName,
		"messageId", msg.MessageId,
		"bytes", len(body))
	return nil
}

// RequestOption configures a single request
type RequestOption func(*requestOptions)

type requestOptions struct {
	exchange      string
	routingKey    string
	correlationID string
	timeout       time.Duration
}

// WithTargetExchange publishes the request to exchange instead of the default exchange
func WithTargetExchange(exchange string) RequestOption {
	return func(o *requestOptions) {
		o.exchange = exchange
	}
}

// WithTargetRoutingKey addresses the request, usually to another service's queue
func WithTargetRoutingKey(routingKey string) RequestOption {
	return func(o *requestOptions) {
		o.routingKey = routingKey
	}
}

// WithCorrelationID uses id instead of a generated correlation ID
func WithCorrelationID(id string) RequestOption {
	return func(o *requestOptions) {
		o.correlationID = id
	}
}

// WithTimeout overrides the publisher's request timeout
func WithTimeout(timeout time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = timeout
	}
}

// Request publishes message with a reply-to address and waits for the reply.
// A missing reply yields contracts.TimeoutResult, not an error. The registry
// entry and the reply queue are always cleaned up before Request returns.
func (p *Publisher) Request(ctx context.Context, message map[string]any, opts ...RequestOption) (contracts.Result, error) {
	o := requestOptions{
		routingKey: p.cfg.RoutingKey,
		timeout:    p.requestTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.correlationID == "" {
		o.correlationID = uuid.NewString()
	}
	logger := p.logger.With("correlationId", o.correlationID, "routingKey", o.routingKey)

	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return contracts.Result{}, err
	}

	var (
		replyQueue string
		registered bool
	)
	defer func() {
		if registered {
			p.pending.Remove(o.correlationID)
		}
		if replyQueue != "" {
			if err := p.topology.DeleteQueue(ch, replyQueue); err != nil {
				logger.Error("request cleanup failed", "replyQueue", replyQueue, "error", err)
			}
		}
		closeChannel(ch)
	}()

	queue, err := p.topology.DeclareReplyQueue(ch)
	if err != nil {
		return contracts.Result{}, err
	}
	replyQueue = queue.Name

	waiter, err := p.pending.Register(o.correlationID)
	if err != nil {
		return contracts.Result{}, err
	}
	registered = true

	replies, err := ch.Consume(replyQueue, "", true, true, false, false, nil)
	if err != nil {
		return contracts.Result{}, &ConsumerError{
			Queue:     replyQueue,
			Op:        "consume",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	go func() {
		for d := range replies {
			if err := resolveResponse(p.pending, p.logger, d); err != nil {
				p.logger.Error("could not resolve reply", "replyQueue", d.RoutingKey, "error", err)
			}
		}
	}()

	body, err := encodeRequest(message, o.correlationID, replyQueue)
	if err != nil {
		return contracts.Result{}, publishError(o.exchange, o.routingKey, err)
	}

	msg := amqp.Publishing{
		ContentType:   contentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: o.correlationID,
		ReplyTo:       replyQueue,
		MessageId:     uuid.NewString(),
		Timestamp:     time.Now(),
		Body:          body,
	}
	if err := publish(ctx, ch, p.confirms, p.confirmTimeout, o.exchange, o.routingKey, msg); err != nil {
		return contracts.Result{}, err
	}

	logger.Info("request sent", "replyQueue", replyQueue, "timeout", o.timeout)

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case reply := <-waiter:
		logger.Info("reply received")
		return contracts.RepliedResult(o.correlationID, reply), nil
	case <-timer.C:
		logger.Error("request timed out", "timeout", o.timeout)
		return contracts.TimeoutResult(o.correlationID), nil
	case <-ctx.Done():
		return contracts.Result{}, ctx.Err()
	}
}

// encodeRequest copies the addressing into the body so responders that only
// read the body can still answer
func encodeRequest(message map[string]any, correlationID, replyTo string) ([]byte, error) {
	body := maps.Clone(message)
	if body == nil {
		body = map[string]any{}
	}
	body[contracts.FieldCorrelationID] = correlationID
	body[contracts.FieldReplyTo] = replyTo
	return contracts.Encode(body)
}

// publish sends msg on ch, waiting for the broker confirm when confirms is set
func publish(ctx context.Context, ch Channel, confirms bool, confirmTimeout time.Duration, exchange, routingKey string, msg amqp.Publishing) error {
	var acks chan amqp.Confirmation
	if confirms {
		if err := ch.Confirm(false); err != nil {
			return publishError(exchange, routingKey, fmt.Errorf("enable confirms: %w", err))
		}
		acks = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return publishError(exchange, routingKey, err)
	}

	if acks == nil {
		return nil
	}

	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-acks:
		if !ok {
			return publishError(exchange, routingKey, ErrChannelClosed)
		}
		if !confirm.Ack {
			return publishError(exchange, routingKey, ErrPublishNotConfirmed)
		}
		return nil
	case <-timer.C:
		return publishError(exchange, routingKey, ErrConfirmTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveResponse completes the waiter matching msg. msg may be an
// amqp.Delivery, *amqp.Delivery, *contracts.Reply or a decoded body.
// Replies nobody waits for are logged and discarded.
func resolveResponse(pending *PendingResponses, logger *slog.Logger, msg any) error {
	var (
		correlationID string
		body          map[string]any
	)

	switch m := msg.(type) {
	case amqp.Delivery:
		return resolveResponse(pending, logger, &m)
	case *amqp.Delivery:
		if m == nil {
			return fmt.Errorf("%w: nil delivery", ErrUnsupportedMessage)
		}
		if err := json.Unmarshal(m.Body, &body); err != nil || body == nil {
			if err == nil {
				err = contracts.ErrNotAnObject
			}
			return contracts.NewDecodeError(m.Body, err)
		}
		correlationID = m.CorrelationId
		if correlationID == "" {
			correlationID, _ = body[contracts.FieldCorrelationID].(string)
		}
	case *contracts.Reply:
		if m == nil {
			return fmt.Errorf("%w: nil reply", ErrUnsupportedMessage)
		}
		correlationID, body = m.CorrelationID, m.Body
	case map[string]any:
		correlationID, _ = m[contracts.FieldCorrelationID].(string)
		body = m
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedMessage, msg)
	}

	if correlationID == "" {
		logger.Warn("response has no correlation id, discarding")
		return nil
	}
	if !pending.Resolve(correlationID, body) {
		logger.Warn("no pending request for response, discarding", "correlationId", correlationID)
		return nil
	}

	logger.Debug("response resolved", "correlationId", correlationID)
	return nil
}

func publishError(exchange, routingKey string, err error) *PublishError {
	return &PublishError{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Err:        err,
		Timestamp:  time.Now(),
	}
}
