package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/svcbus/internal/rabbitmq"
	"github.com/glimte/svcbus/internal/reliability"
)

// RabbitMQChecker checks RabbitMQ connection health
type RabbitMQChecker struct {
	connManager *rabbitmq.ConnectionManager
	logger      *slog.Logger
}

// NewRabbitMQChecker creates a new RabbitMQ health checker
func NewRabbitMQChecker(connManager *rabbitmq.ConnectionManager, logger *slog.Logger) *RabbitMQChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RabbitMQChecker{
		connManager: connManager,
		logger:      logger,
	}
}

func (c *RabbitMQChecker) Name() string {
	return "rabbitmq"
}

func (c *RabbitMQChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	conn, err := c.connManager.GetConnection()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to get connection"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	ch, err := conn.Channel()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to create channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer ch.Close()

	// a passive declare of a predeclared exchange round-trips to the broker
	err = ch.ExchangeDeclarePassive("amq.direct", "direct", true, false, false, false, nil)
	if err != nil {
		c.logger.Warn("broker probe failed", "error", err)
		result.Status = StatusDegraded
		result.Message = "Exchange check failed"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "Connection is healthy"
	}

	result.Duration = time.Since(start)
	result.Details["connection_open"] = !conn.IsClosed()
	result.Details["response_time_ms"] = result.Duration.Milliseconds()

	return result
}

// ConsumerChecker reports the lifecycle state of a consumer
type ConsumerChecker struct {
	consumer *rabbitmq.Consumer
}

// NewConsumerChecker creates a new consumer health checker
func NewConsumerChecker(consumer *rabbitmq.Consumer) *ConsumerChecker {
	return &ConsumerChecker{consumer: consumer}
}

func (c *ConsumerChecker) Name() string {
	return "consumer"
}

func (c *ConsumerChecker) Check(ctx context.Context) CheckResult {
	state := c.consumer.State()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Message:   fmt.Sprintf("Consumer is %s", state),
		Details:   map[string]any{"state": state.String()},
	}

	switch state {
	case rabbitmq.StateConsuming:
		result.Status = StatusHealthy
	case rabbitmq.StateFatal, rabbitmq.StateStopped:
		result.Status = StatusUnhealthy
	default:
		result.Status = StatusDegraded
	}
	return result
}

// SupervisorChecker reports consumer restarts. Any restart degrades health;
// reaching unhealthyAfter restarts makes it unhealthy.
type SupervisorChecker struct {
	supervisor     *reliability.Supervisor
	unhealthyAfter int64
}

// NewSupervisorChecker creates a new supervisor health checker. A zero
// unhealthyAfter never reports unhealthy.
func NewSupervisorChecker(supervisor *reliability.Supervisor, unhealthyAfter int64) *SupervisorChecker {
	return &SupervisorChecker{supervisor: supervisor, unhealthyAfter: unhealthyAfter}
}

func (c *SupervisorChecker) Name() string {
	return "supervisor"
}

func (c *SupervisorChecker) Check(ctx context.Context) CheckResult {
	restarts := c.supervisor.Restarts()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]any{"restarts": restarts},
	}
	if err := c.supervisor.LastError(); err != nil {
		result.Error = err.Error()
	}

	switch {
	case c.unhealthyAfter > 0 && restarts >= c.unhealthyAfter:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Consumer restarted %d times", restarts)
	case restarts > 0:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Consumer restarted %d times", restarts)
	default:
		result.Status = StatusHealthy
		result.Message = "Consumer has not restarted"
	}
	return result
}

// PendingChecker reports in-flight requests. A request older than maxAge
// degrades health: its reply is overdue.
type PendingChecker struct {
	pending *rabbitmq.PendingResponses
	maxAge  time.Duration
}

// NewPendingChecker creates a new pending-request health checker
func NewPendingChecker(pending *rabbitmq.PendingResponses, maxAge time.Duration) *PendingChecker {
	return &PendingChecker{pending: pending, maxAge: maxAge}
}

func (c *PendingChecker) Name() string {
	return "pending_requests"
}

func (c *PendingChecker) Check(ctx context.Context) CheckResult {
	stats := c.pending.Stats()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("%d requests in flight", stats.Pending),
		Details: map[string]any{
			"pending":       stats.Pending,
			"oldest_age_ms": stats.Oldest.Milliseconds(),
		},
	}
	if c.maxAge > 0 && stats.Oldest > c.maxAge {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Oldest request waiting for %s", stats.Oldest.Round(time.Millisecond))
	}
	return result
}

// ConnectionTracker records connection state changes. Register it with
// ConnectionManager.AddStateListener.
type ConnectionTracker struct {
	mu           sync.Mutex
	connected    bool
	disconnects  int
	reconnecting int
	lastError    error
	lastChange   time.Time
}

// NewConnectionTracker creates a tracker in the disconnected state
func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{lastChange: time.Now()}
}

func (t *ConnectionTracker) OnConnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	t.reconnecting = 0
	t.lastChange = time.Now()
}

func (t *ConnectionTracker) OnDisconnected(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.disconnects++
	t.lastError = err
	t.lastChange = time.Now()
}

func (t *ConnectionTracker) OnReconnecting(attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnecting = attempt
}

func (t *ConnectionTracker) Name() string {
	return "connection_state"
}

func (t *ConnectionTracker) Check(ctx context.Context) CheckResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := CheckResult{
		Name:      t.Name(),
		Timestamp: time.Now(),
		Details: map[string]any{
			"connected":   t.connected,
			"disconnects": t.disconnects,
			"since":       t.lastChange,
		},
	}
	if t.lastError != nil {
		result.Error = t.lastError.Error()
	}

	switch {
	case t.connected:
		result.Status = StatusHealthy
		result.Message = "Connected"
	case t.reconnecting > 0:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Reconnecting, attempt %d", t.reconnecting)
	default:
		result.Status = StatusUnhealthy
		result.Message = "Disconnected"
	}
	return result
}
