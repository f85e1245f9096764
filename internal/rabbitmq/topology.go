package rabbitmq

import (
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/svcbus/contracts"
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// QueueBinding defines a queue-to-exchange binding
type QueueBinding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// TopologyManager declares the broker objects of one service
type TopologyManager struct {
	cfg    BrokerConfig
	logger *slog.Logger
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(cfg BrokerConfig, logger *slog.Logger) *TopologyManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopologyManager{cfg: cfg, logger: logger}
}

// DeadLetterExchange returns the dead-letter exchange declaration
func (tm *TopologyManager) DeadLetterExchange() ExchangeDeclaration {
	return ExchangeDeclaration{Name: tm.cfg.DeadLetterExchange, Type: amqp.ExchangeFanout}
}

// DeadLetterQueue returns the dead-letter queue declaration
func (tm *TopologyManager) DeadLetterQueue() QueueDeclaration {
	return QueueDeclaration{Name: tm.cfg.DeadLetterQueue}
}

// MainExchange returns the service exchange declaration
func (tm *TopologyManager) MainExchange() ExchangeDeclaration {
	return ExchangeDeclaration{Name: tm.cfg.ExchangeName, Type: amqp.ExchangeFanout}
}

// MainQueue returns the service queue declaration. Rejected and expired
// messages are routed to the dead-letter exchange.
func (tm *TopologyManager) MainQueue() QueueDeclaration {
	return QueueDeclaration{
		Name:    tm.cfg.RoutingKey,
		Durable: true,
		Arguments: amqp.Table{
			"x-dead-letter-exchange": tm.cfg.DeadLetterExchange,
		},
	}
}

// Declare declares, in order, the dead-letter exchange and queue, the service
// exchange and queue, and one exchange plus binding per extra binding.
// The first failure aborts the sequence.
func (tm *TopologyManager) Declare(ch Channel, extra ...contracts.Binding) (amqp.Queue, error) {
	dlx := tm.DeadLetterExchange()
	if err := tm.declareExchange(ch, dlx); err != nil {
		return amqp.Queue{}, err
	}

	dlq := tm.DeadLetterQueue()
	if _, err := tm.declareQueue(ch, dlq); err != nil {
		return amqp.Queue{}, err
	}
	if err := tm.bindQueue(ch, QueueBinding{Queue: dlq.Name, Exchange: dlx.Name}); err != nil {
		return amqp.Queue{}, err
	}

	exchange := tm.MainExchange()
	if err := tm.declareExchange(ch, exchange); err != nil {
		return amqp.Queue{}, err
	}

	queue, err := tm.declareQueue(ch, tm.MainQueue())
	if err != nil {
		return amqp.Queue{}, err
	}
	if err := tm.bindQueue(ch, QueueBinding{Queue: queue.Name, Exchange: exchange.Name, RoutingKey: tm.cfg.RoutingKey}); err != nil {
		return amqp.Queue{}, err
	}

	for _, b := range extra {
		if err := tm.declareExchange(ch, ExchangeDeclaration{Name: b.ExchangeName, Type: amqp.ExchangeFanout}); err != nil {
			return amqp.Queue{}, err
		}
		if err := tm.bindQueue(ch, QueueBinding{Queue: queue.Name, Exchange: b.ExchangeName, RoutingKey: b.RoutingKey}); err != nil {
			return amqp.Queue{}, err
		}
	}

	tm.logger.Debug("topology declared",
		"exchange", exchange.Name,
		"queue", queue.Name,
		"deadLetterExchange", dlx.Name,
		"extraBindings", len(extra))

	return queue, nil
}

// DeclareReplyQueue declares a server-named, exclusive, auto-delete queue
func (tm *TopologyManager) DeclareReplyQueue(ch Channel) (amqp.Queue, error) {
	return tm.declareQueue(ch, QueueDeclaration{AutoDelete: true, Exclusive: true})
}

// DeleteQueue deletes a queue
func (tm *TopologyManager) DeleteQueue(ch Channel, name string) error {
	if _, err := ch.QueueDelete(name, false, false, false); err != nil {
		return topologyError("queue", name, "delete", err)
	}
	return nil
}

func (tm *TopologyManager) declareExchange(ch Channel, exchange ExchangeDeclaration) error {
	err := ch.ExchangeDeclare(
		exchange.Name,
		exchange.Type,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		exchange.Arguments,
	)
	if err != nil {
		return topologyError("exchange", exchange.Name, "declare", err)
	}
	return nil
}

func (tm *TopologyManager) declareQueue(ch Channel, queue QueueDeclaration) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
	if err != nil {
		return amqp.Queue{}, topologyError("queue", queue.Name, "declare", err)
	}
	return q, nil
}

func (tm *TopologyManager) bindQueue(ch Channel, binding QueueBinding) error {
	err := ch.QueueBind(
		binding.Queue,
		binding.RoutingKey,
		binding.Exchange,
		false, // no-wait
		binding.Arguments,
	)
	if err != nil {
		return topologyError("binding", binding.Queue+"->"+binding.Exchange, "declare", err)
	}
	return nil
}

func topologyError(component, name, op string, err error) *TopologyError {
	return &TopologyError{
		Component: component,
		Name:      name,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}
