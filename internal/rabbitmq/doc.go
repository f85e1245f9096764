// Package rabbitmq provides the RabbitMQ integration used by every svcbus service.
//
// This package includes:
//   - BrokerConfig: naming of a service's exchange, queue and dead-letter objects
//   - ConnectionManager: connects with fixed-delay retries and recovers lost connections
//   - TopologyManager: declares the service exchange, queue, DLX, DLQ and extra bindings
//   - Publisher: fire-and-forget events and correlation-ID based requests
//   - Consumer: the ack-after-success consumption loop and the RPC reply helper
//   - PendingResponses: the per-instance registry of in-flight requests
//   - MockBroker: an in-memory broker used by tests
//
// Every broker object is declared idempotently, so publishers and consumers can
// run the full declaration each time they open a channel.
package rabbitmq
