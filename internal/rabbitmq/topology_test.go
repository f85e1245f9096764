package rabbitmq

import (
	"strings"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/svcbus/contracts"
)

func TestTopologyManager(t *testing.T) {
	cfg := testConfig("user")

	t.Run("declares the service objects", func(t *testing.T) {
		broker := NewMockBroker()
		tm := NewTopologyManager(cfg, testLogger)

		queue, err := tm.Declare(newTestChannel(t, broker))
		require.NoError(t, err)

		assert.Equal(t, "user_routing_key", queue.Name)
		assert.True(t, broker.ExchangeExists("user_exchange"))
		assert.True(t, broker.ExchangeExists("user_dlx"))
		assert.True(t, broker.QueueExists("user_dlq"))
		assert.True(t, broker.QueueExists("user_routing_key"))
		assert.ElementsMatch(t, []string{"user_exchange"}, broker.Bindings("user_routing_key"))
		assert.ElementsMatch(t, []string{"user_dlx"}, broker.Bindings("user_dlq"))
	})

	t.Run("main queue is durable and dead-letters to the DLX", func(t *testing.T) {
		tm := NewTopologyManager(cfg, nil)

		q := tm.MainQueue()
		assert.True(t, q.Durable)
		assert.Equal(t, "user_dlx", q.Arguments["x-dead-letter-exchange"])

		assert.False(t, tm.DeadLetterQueue().Durable)
		assert.False(t, tm.DeadLetterExchange().Durable)
		assert.Equal(t, amqp.ExchangeFanout, tm.DeadLetterExchange().Type)
		assert.Equal(t, amqp.ExchangeFanout, tm.MainExchange().Type)
		assert.False(t, tm.MainExchange().Durable)
	})

	t.Run("extra bindings attach the queue to other exchanges", func(t *testing.T) {
		broker := NewMockBroker()
		tm := NewTopologyManager(testConfig("auth"), testLogger)

		_, err := tm.Declare(newTestChannel(t, broker),
			contracts.Binding{ExchangeName: "user_exchange", RoutingKey: "auth_routing_key"})
		require.NoError(t, err)

		assert.True(t, broker.ExchangeExists("user_exchange"))
		assert.ElementsMatch(t, []string{"auth_exchange", "user_exchange"}, broker.Bindings("auth_routing_key"))
	})

	t.Run("declaring twice is a no-op", func(t *testing.T) {
		broker := NewMockBroker()
		tm := NewTopologyManager(cfg, testLogger)
		extra := contracts.Binding{ExchangeName: "auth_exchange", RoutingKey: "user_routing_key"}

		ch := newTestChannel(t, broker)
		_, err := tm.Declare(ch, extra)
		require.NoError(t, err)
		before := broker.Queues()

		_, err = tm.Declare(ch, extra)
		require.NoError(t, err)

		// and again on a fresh connection
		_, err = tm.Declare(newTestChannel(t, broker), extra)
		require.NoError(t, err)

		assert.ElementsMatch(t, before, broker.Queues())
		assert.Len(t, broker.Bindings("user_routing_key"), 2)
	})

	t.Run("aborts on the first failure", func(t *testing.T) {
		broker := NewMockBroker()
		other := newTestChannel(t, broker)
		// an incompatible queue with the same name already exists
		_, err := other.QueueDeclare("user_routing_key", false, false, false, false, nil)
		require.NoError(t, err)

		tm := NewTopologyManager(cfg, testLogger)
		_, err = tm.Declare(newTestChannel(t, broker))

		var topoErr *TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "queue", topoErr.Component)
		assert.Equal(t, "user_routing_key", topoErr.Name)

		var amqpErr *amqp.Error
		require.ErrorAs(t, err, &amqpErr)
		assert.Equal(t, amqp.PreconditionFailed, amqpErr.Code)

		assert.Empty(t, broker.Bindings("user_routing_key"))
	})

	t.Run("reserved extra exchange name fails", func(t *testing.T) {
		broker := NewMockBroker()
		tm := NewTopologyManager(cfg, testLogger)

		_, err := tm.Declare(newTestChannel(t, broker),
			contracts.Binding{ExchangeName: "amq.reserved", RoutingKey: "x"})

		var topoErr *TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "exchange", topoErr.Component)
	})

	t.Run("reply queue is server named and deletable", func(t *testing.T) {
		broker := NewMockBroker()
		tm := NewTopologyManager(cfg, testLogger)
		ch := newTestChannel(t, broker)

		q, err := tm.DeclareReplyQueue(ch)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(q.Name, "amq.gen-"))
		assert.True(t, broker.QueueExists(q.Name))

		require.NoError(t, tm.DeleteQueue(ch, q.Name))
		assert.False(t, broker.QueueExists(q.Name))
	})
}
