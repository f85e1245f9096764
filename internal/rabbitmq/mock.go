package rabbitmq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const mockDeliveryBuffer = 256

// MockBroker is an in-memory AMQP broker for tests. It implements the parts of
// RabbitMQ semantics svcbus relies on: fanout and direct routing, the default
// exchange, server-named, exclusive and auto-delete queues, manual and
// automatic acks, requeue, dead-lettering and publisher confirms.
// Mismatched redeclarations fail with 406 and close the channel, like RabbitMQ.
type MockBroker struct {
	mu        sync.Mutex
	exchanges map[string]*mockExchange
	queues    map[string]*mockQueue
	conns     map[*mockConnection]struct{}

	dials     int
	failDials int
	dialErr   error
}

type mockExchange struct {
	name       string
	kind       string
	durable    bool
	autoDelete bool
	bindings   []mockBinding
}

type mockBinding struct {
	queue string
	key   string
}

type mockQueue struct {
	name        string
	durable     bool
	autoDelete  bool
	exclusive   bool
	owner       *mockConnection
	args        amqp.Table
	messages    []mockMessage
	consumers   []*mockConsumer
	hadConsumer bool
	next        int
}

type mockMessage struct {
	exchange    string
	routingKey  string
	publishing  amqp.Publishing
	redelivered bool
}

type mockConsumer struct {
	tag        string
	ch         *mockChannel
	queue      *mockQueue
	autoAck    bool
	deliveries chan amqp.Delivery
}

type mockUnacked struct {
	queue   *mockQueue
	message mockMessage
}

// NewMockBroker creates a broker with the predeclared amq.* exchanges
func NewMockBroker() *MockBroker {
	b := &MockBroker{
		exchanges: make(map[string]*mockExchange),
		queues:    make(map[string]*mockQueue),
		conns:     make(map[*mockConnection]struct{}),
	}
	for name, kind := range map[string]string{
		"amq.direct": amqp.ExchangeDirect,
		"amq.fanout": amqp.ExchangeFanout,
		"amq.topic":  amqp.ExchangeTopic,
	} {
		b.exchanges[name] = &mockExchange{name: name, kind: kind, durable: true}
	}
	return b
}

// Dial opens a connection. It has the Dialer signature.
func (b *MockBroker) Dial(string) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.failDials > 0 {
		b.failDials--
		return nil, b.dialErr
	}

	conn := &mockConnection{broker: b}
	b.conns[conn] = struct{}{}
	return conn, nil
}

// FailDials makes the next n dials fail with err
func (b *MockBroker) FailDials(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = &amqp.Error{Code: amqp.ConnectionForced, Reason: "connection refused"}
	}
	b.failDials = n
	b.dialErr = err
}

// Dials returns the number of dial attempts so far
func (b *MockBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// DropConnections closes every open connection as if the broker went away
func (b *MockBroker) DropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for conn := range b.conns {
		b.closeConnection(conn, &amqp.Error{
			Code:    amqp.ConnectionForced,
			Reason:  "CONNECTION_FORCED - broker forced connection closure",
			Server:  true,
			Recover: true,
		})
	}
}

// QueueExists reports whether queue is declared
func (b *MockBroker) QueueExists(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// ExchangeExists reports whether exchange is declared
func (b *MockBroker) ExchangeExists(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.exchanges[name]
	return ok
}

// QueueDepth returns the number of ready messages in queue
func (b *MockBroker) QueueDepth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.messages)
	}
	return 0
}

// ConsumerCount returns the number of consumers on queue
func (b *MockBroker) ConsumerCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.consumers)
	}
	return 0
}

// Queues returns the names of all declared queues
func (b *MockBroker) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	return names
}

// Bindings returns the exchanges queue is bound to
func (b *MockBroker) Bindings(queue string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var exchanges []string
	for _, ex := range b.exchanges {
		for _, binding := range ex.bindings {
			if binding.queue == queue {
				exchanges = append(exchanges, ex.name)
				break
			}
		}
	}
	return exchanges
}

// Messages returns a snapshot of the ready messages in queue
func (b *MockBroker) Messages(queue string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	out := make([]amqp.Publishing, len(q.messages))
	for i, m := range q.messages {
		out[i] = m.publishing
	}
	return out
}

// Publish routes msg as if a client had published it
func (b *MockBroker) Publish(exchange, routingKey string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.route(exchange, routingKey, msg)
}

// route delivers msg to the queues bound to exchange; caller holds b.mu
func (b *MockBroker) route(exchange, routingKey string, msg amqp.Publishing) error {
	message := mockMessage{exchange: exchange, routingKey: routingKey, publishing: msg}

	if exchange == "" {
		if q, ok := b.queues[routingKey]; ok {
			b.enqueue(q, message, false)
		}
		return nil
	}

	ex, ok := b.exchanges[exchange]
	if !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no exchange '%s'", exchange)}
	}

	seen := make(map[string]bool)
	for _, binding := range ex.bindings {
		if seen[binding.queue] {
			continue
		}
		if ex.kind != amqp.ExchangeFanout && binding.key != routingKey {
			continue
		}
		if q, ok := b.queues[binding.queue]; ok {
			seen[binding.queue] = true
			b.enqueue(q, message, false)
		}
	}
	return nil
}

// enqueue appends, or prepends for a requeue, and dispatches; caller holds b.mu
func (b *MockBroker) enqueue(q *mockQueue, m mockMessage, front bool) {
	if front {
		q.messages = append([]mockMessage{m}, q.messages...)
	} else {
		q.messages = append(q.messages, m)
	}
	b.dispatch(q)
}

// dispatch hands ready messages to consumers with spare prefetch; caller holds b.mu
func (b *MockBroker) dispatch(q *mockQueue) {
	for len(q.messages) > 0 && len(q.consumers) > 0 {
		consumer := b.nextConsumer(q)
		if consumer == nil {
			return
		}

		m := q.messages[0]
		q.messages = q.messages[1:]

		ch := consumer.ch
		ch.deliveryTag++
		if !consumer.autoAck {
			ch.unacked[ch.deliveryTag] = mockUnacked{queue: q, message: m}
		}

		pub := m.publishing
		consumer.deliveries <- amqp.Delivery{
			Acknowledger:    ch,
			Headers:         pub.Headers,
			ContentType:     pub.ContentType,
			ContentEncoding: pub.ContentEncoding,
			DeliveryMode:    pub.DeliveryMode,
			Priority:        pub.Priority,
			CorrelationId:   pub.CorrelationId,
			ReplyTo:         pub.ReplyTo,
			Expiration:      pub.Expiration,
			MessageId:       pub.MessageId,
			Timestamp:       pub.Timestamp,
			Type:            pub.Type,
			UserId:          pub.UserId,
			AppId:           pub.AppId,
			ConsumerTag:     consumer.tag,
			DeliveryTag:     ch.deliveryTag,
			Redelivered:     m.redelivered,
			Exchange:        m.exchange,
			RoutingKey:      m.routingKey,
			Body:            pub.Body,
		}
	}
}

// nextConsumer picks, round robin, a consumer that can take one more message
func (b *MockBroker) nextConsumer(q *mockQueue) *mockConsumer {
	for i := 0; i < len(q.consumers); i++ {
		idx := (q.next + i) % len(q.consumers)
		c := q.consumers[idx]
		if len(c.deliveries) >= cap(c.deliveries) {
			continue
		}
		if !c.autoAck && c.ch.prefetch > 0 && len(c.ch.unacked) >= c.ch.prefetch {
			continue
		}
		q.next = idx + 1
		return c
	}
	return nil
}

// deadLetter routes m to the queue's dead-letter exchange, if any; caller holds b.mu
func (b *MockBroker) deadLetter(q *mockQueue, m mockMessage, reason string) {
	dlx, _ := q.args["x-dead-letter-exchange"].(string)
	if dlx == "" {
		return
	}
	key := m.routingKey
	if k, ok := q.args["x-dead-letter-routing-key"].(string); ok {
		key = k
	}

	pub := m.publishing
	headers := amqp.Table{}
	for k, v := range pub.Headers {
		headers[k] = v
	}
	if _, ok := headers["x-first-death-queue"]; !ok {
		headers["x-first-death-queue"] = q.name
		headers["x-first-death-reason"] = reason
		headers["x-first-death-exchange"] = m.exchange
	}
	pub.Headers = headers

	_ = b.route(dlx, key, pub)
}

// deleteQueue removes q, cancelling its consumers; caller holds b.mu
func (b *MockBroker) deleteQueue(q *mockQueue) int {
	for _, c := range q.consumers {
		c.ch.removeConsumer(c)
		close(c.deliveries)
	}
	q.consumers = nil
	delete(b.queues, q.name)
	for _, ex := range b.exchanges {
		kept := ex.bindings[:0]
		for _, binding := range ex.bindings {
			if binding.queue != q.name {
				kept = append(kept, binding)
			}
		}
		ex.bindings = kept
	}
	return len(q.messages)
}

// cancelConsumer detaches c from its queue; caller holds b.mu
func (b *MockBroker) cancelConsumer(c *mockConsumer) {
	q := c.queue
	for i, other := range q.consumers {
		if other == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
	close(c.deliveries)

	if q.autoDelete && q.hadConsumer && len(q.consumers) == 0 {
		if _, ok := b.queues[q.name]; ok {
			b.deleteQueue(q)
		}
	}
}

// closeConnection closes conn and its channels; caller holds b.mu
func (b *MockBroker) closeConnection(conn *mockConnection, reason *amqp.Error) {
	if conn.closed {
		return
	}
	conn.closed = true
	delete(b.conns, conn)

	for _, ch := range conn.channels {
		ch.close(reason)
	}
	conn.channels = nil

	for _, q := range b.queues {
		if q.exclusive && q.owner == conn {
			b.deleteQueue(q)
		}
	}

	for _, receiver := range conn.notify {
		if reason != nil {
			select {
			case receiver <- reason:
			default:
			}
		}
		close(receiver)
	}
	conn.notify = nil
}

type mockConnection struct {
	broker   *MockBroker
	closed   bool
	channels []*mockChannel
	notify   []chan *amqp.Error
}

func (c *mockConnection) Channel() (Channel, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &mockChannel{
		conn:    c,
		unacked: make(map[uint64]mockUnacked),
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *mockConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *mockConnection) IsClosed() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closed
}

func (c *mockConnection) Close() error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	b.closeConnection(c, nil)
	return nil
}

type mockChannel struct {
	conn        *mockConnection
	closed      bool
	confirm     bool
	publishSeq  uint64
	confirms    []chan amqp.Confirmation
	consumers   []*mockConsumer
	deliveryTag uint64
	unacked     map[uint64]mockUnacked
	prefetch    int
}

func (ch *mockChannel) broker() *MockBroker {
	return ch.conn.broker
}

// close releases the channel's consumers and requeues its unacked messages; caller holds b.mu
func (ch *mockChannel) close(reason *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true
	b := ch.broker()

	for _, c := range append([]*mockConsumer(nil), ch.consumers...) {
		b.cancelConsumer(c)
	}
	ch.consumers = nil

	requeued := make(map[*mockQueue]bool)
	for tag := uint64(1); tag <= ch.deliveryTag; tag++ {
		u, ok := ch.unacked[tag]
		if !ok {
			continue
		}
		if _, exists := b.queues[u.queue.name]; !exists {
			continue
		}
		u.message.redelivered = true
		u.queue.messages = append(u.queue.messages, u.message)
		requeued[u.queue] = true
	}
	ch.unacked = make(map[uint64]mockUnacked)

	for _, receiver := range ch.confirms {
		close(receiver)
	}
	ch.confirms = nil

	for q := range requeued {
		b.dispatch(q)
	}
}

// fail closes the channel with a channel-level exception; caller holds b.mu
func (ch *mockChannel) fail(code int, format string, args ...any) error {
	err := &amqp.Error{Code: code, Reason: fmt.Sprintf(format, args...), Server: true}
	ch.close(err)
	for i, other := range ch.conn.channels {
		if other == ch {
			ch.conn.channels = append(ch.conn.channels[:i], ch.conn.channels[i+1:]...)
			break
		}
	}
	return err
}

func (ch *mockChannel) removeConsumer(c *mockConsumer) {
	for i, other := range ch.consumers {
		if other == c {
			ch.consumers = append(ch.consumers[:i], ch.consumers[i+1:]...)
			return
		}
	}
}

func (ch *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if ex, ok := b.exchanges[name]; ok {
		if ex.kind != kind || ex.durable != durable || ex.autoDelete != autoDelete {
			return ch.fail(amqp.PreconditionFailed,
				"PRECONDITION_FAILED - inequivalent arg for exchange '%s'", name)
		}
		return nil
	}
	if name == "" || strings.HasPrefix(name, "amq.") {
		return ch.fail(amqp.AccessRefused, "ACCESS_REFUSED - exchange name '%s' contains reserved prefix 'amq.*'", name)
	}

	b.exchanges[name] = &mockExchange{name: name, kind: kind, durable: durable, autoDelete: autoDelete}
	return nil
}

func (ch *mockChannel) ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := b.exchanges[name]; !ok {
		return ch.fail(amqp.NotFound, "NOT_FOUND - no exchange '%s'", name)
	}
	return nil
}

func (ch *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if name == "" {
		name = "amq.gen-" + uuid.NewString()
	}

	if q, ok := b.queues[name]; ok {
		if q.exclusive && q.owner != ch.conn {
			return amqp.Queue{}, ch.fail(amqp.ResourceLocked,
				"RESOURCE_LOCKED - cannot obtain exclusive access to locked queue '%s'", name)
		}
		if q.durable != durable || q.autoDelete != autoDelete || q.exclusive != exclusive ||
			fmt.Sprint(q.args["x-dead-letter-exchange"]) != fmt.Sprint(args["x-dead-letter-exchange"]) {
			return amqp.Queue{}, ch.fail(amqp.PreconditionFailed,
				"PRECONDITION_FAILED - inequivalent arg for queue '%s'", name)
		}
		return amqp.Queue{Name: name, Messages: len(q.messages), Consumers: len(q.consumers)}, nil
	}

	q := &mockQueue{
		name:       name,
		durable:    durable,
		autoDelete: autoDelete,
		exclusive:  exclusive,
		args:       args,
	}
	if exclusive {
		q.owner = ch.conn
	}
	b.queues[name] = q
	return amqp.Queue{Name: name}, nil
}

func (ch *mockChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, ok := b.queues[name]
	if !ok {
		return amqp.Queue{}, ch.fail(amqp.NotFound, "NOT_FOUND - no queue '%s'", name)
	}
	return amqp.Queue{Name: name, Messages: len(q.messages), Consumers: len(q.consumers)}, nil
}

func (ch *mockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := b.queues[name]; !ok {
		return ch.fail(amqp.NotFound, "NOT_FOUND - no queue '%s'", name)
	}
	ex, ok := b.exchanges[exchange]
	if !ok {
		return ch.fail(amqp.NotFound, "NOT_FOUND - no exchange '%s'", exchange)
	}

	for _, binding := range ex.bindings {
		if binding.queue == name && binding.key == key {
			return nil
		}
	}
	ex.bindings = append(ex.bindings, mockBinding{queue: name, key: key})
	return nil
}

func (ch *mockChannel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return 0, amqp.ErrClosed
	}
	q, ok := b.queues[name]
	if !ok {
		return 0, nil
	}
	if ifUnused && len(q.consumers) > 0 {
		return 0, ch.fail(amqp.PreconditionFailed, "PRECONDITION_FAILED - queue '%s' in use", name)
	}
	if ifEmpty && len(q.messages) > 0 {
		return 0, ch.fail(amqp.PreconditionFailed, "PRECONDITION_FAILED - queue '%s' not empty", name)
	}
	return b.deleteQueue(q), nil
}

func (ch *mockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

func (ch *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return nil, ch.fail(amqp.NotFound, "NOT_FOUND - no queue '%s'", queue)
	}
	if q.exclusive && q.owner != ch.conn {
		return nil, ch.fail(amqp.ResourceLocked,
			"RESOURCE_LOCKED - cannot obtain exclusive access to locked queue '%s'", queue)
	}
	if consumer == "" {
		consumer = "amq.ctag-" + uuid.NewString()
	}

	c := &mockConsumer{
		tag:        consumer,
		ch:         ch,
		queue:      q,
		autoAck:    autoAck,
		deliveries: make(chan amqp.Delivery, mockDeliveryBuffer),
	}
	q.consumers = append(q.consumers, c)
	q.hadConsumer = true
	ch.consumers = append(ch.consumers, c)

	b.dispatch(q)
	return c.deliveries, nil
}

func (ch *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := b.route(exchange, key, msg); err != nil {
		if amqpErr, ok := err.(*amqp.Error); ok {
			return ch.fail(amqpErr.Code, "%s", amqpErr.Reason)
		}
		return err
	}

	if ch.confirm {
		ch.publishSeq++
		for _, receiver := range ch.confirms {
			select {
			case receiver <- amqp.Confirmation{DeliveryTag: ch.publishSeq, Ack: true}:
			default:
			}
		}
	}
	return nil
}

func (ch *mockChannel) Confirm(noWait bool) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirm = true
	return nil
}

func (ch *mockChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		close(confirm)
		return confirm
	}
	ch.confirms = append(ch.confirms, confirm)
	return confirm
}

func (ch *mockChannel) Close() error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.close(nil)
	conn := ch.conn
	for i, other := range conn.channels {
		if other == ch {
			conn.channels = append(conn.channels[:i], conn.channels[i+1:]...)
			break
		}
	}
	return nil
}

// Ack implements amqp.Acknowledger
func (ch *mockChannel) Ack(tag uint64, multiple bool) error {
	return ch.settle(tag, multiple, func(b *MockBroker, u mockUnacked) {})
}

// Nack implements amqp.Acknowledger
func (ch *mockChannel) Nack(tag uint64, multiple, requeue bool) error {
	return ch.settle(tag, multiple, func(b *MockBroker, u mockUnacked) {
		if requeue {
			u.message.redelivered = true
			u.queue.messages = append([]mockMessage{u.message}, u.queue.messages...)
			return
		}
		b.deadLetter(u.queue, u.message, "rejected")
	})
}

// Reject implements amqp.Acknowledger
func (ch *mockChannel) Reject(tag uint64, requeue bool) error {
	return ch.Nack(tag, false, requeue)
}

func (ch *mockChannel) settle(tag uint64, multiple bool, fn func(*MockBroker, mockUnacked)) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}

	tags := []uint64{tag}
	if multiple {
		tags = tags[:0]
		for t := uint64(1); t <= tag; t++ {
			tags = append(tags, t)
		}
	}

	touched := make(map[*mockQueue]bool)
	settled := false
	for _, t := range tags {
		u, ok := ch.unacked[t]
		if !ok {
			continue
		}
		delete(ch.unacked, t)
		settled = true
		if _, exists := b.queues[u.queue.name]; exists {
			fn(b, u)
			touched[u.queue] = true
		}
	}

	if !settled {
		return ch.fail(amqp.PreconditionFailed, "PRECONDITION_FAILED - unknown delivery tag %d", tag)
	}

	for q := range touched {
		b.dispatch(q)
	}
	// freed prefetch may unblock other queues consumed on this channel
	for _, c := range ch.consumers {
		b.dispatch(c.queue)
	}
	return nil
}
