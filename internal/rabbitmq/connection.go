package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/svcbus/internal/reliability"
)

const (
	defaultMaxRetries     = 10
	defaultReconnectDelay = 5 * time.Second
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// ConnectionManager owns one broker connection. It connects with a bounded
// number of fixed-delay attempts and reconnects in the background when the
// broker drops the connection.
type ConnectionManager struct {
	url            string
	name           string
	dial           Dialer
	reconnectDelay time.Duration
	maxRetries     int
	logger         *slog.Logger

	// connectMu serializes dialing; mu guards the fields below it.
	connectMu   sync.Mutex
	mu          sync.RWMutex
	conn        Connection
	isConnected bool
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc

	stateListeners []ConnectionStateListener
	listenersMu    sync.RWMutex
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		if logger != nil {
			cm.logger = logger
		}
	}
}

// WithReconnectDelay sets the fixed delay between connection attempts
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxRetries sets the number of connection attempts before giving up
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		if retries < 1 {
			retries = 1
		}
		cm.maxRetries = retries
	}
}

// WithDialer replaces the amqp091 dialer, e.g. with MockBroker.Dial
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// WithConnectionName sets the client connection name shown by the broker
func WithConnectionName(name string) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.name = name
	}
}

// NewConnectionManager creates a new connection manager. It does not connect.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		reconnectDelay: defaultReconnectDelay,
		maxRetries:     defaultMaxRetries,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	if cm.dial == nil {
		cm.dial = DialAMQP(cm.name)
	}
	cm.ctx, cm.cancel = context.WithCancel(context.Background())

	return cm
}

// Connect establishes the connection. It is a no-op when already connected.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.connectMu.Lock()
	defer cm.connectMu.Unlock()

	cm.mu.RLock()
	closed, connected := cm.closed, cm.isConnected && cm.conn != nil && !cm.conn.IsClosed()
	cm.mu.RUnlock()

	if closed {
		return ErrManagerClosed
	}
	if connected {
		return nil
	}

	conn, err := cm.dialWithRetry(ctx, "connect")
	if err != nil {
		return err
	}

	cm.setConnection(conn)
	return nil
}

// dialWithRetry makes up to maxRetries dial attempts separated by reconnectDelay
func (cm *ConnectionManager) dialWithRetry(ctx context.Context, op string) (Connection, error) {
	var (
		conn     Connection
		attempts int
		started  = time.Now()
	)

	policy := reliability.NewFixedDelay(cm.reconnectDelay, cm.maxRetries-1)
	err := reliability.RetryNotify(ctx, policy, func() error {
		attempts++
		if op == "reconnect" {
			cm.notifyReconnecting(attempts)
		}

		c, err := cm.dial(cm.url)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		cm.logger.Warn("connection attempt failed",
			"op", op,
			"attempt", attempt+1,
			"maxRetries", cm.maxRetries,
			"error", err,
			"retryIn", delay)
	})

	if err != nil {
		connErr := &ConnectionError{
			Op:        op,
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  attempts,
		}
		if ctx.Err() == nil {
			connErr.Err = fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
			cm.logger.Error("could not connect to RabbitMQ",
				"op", op,
				"attempts", attempts,
				"duration", time.Since(started),
				"error", err)
		}
		return nil, connErr
	}

	cm.logger.Info("connected to RabbitMQ",
		"url", SanitizeURL(cm.url),
		"op", op,
		"attempts", attempts)
	return conn, nil
}

func (cm *ConnectionManager) setConnection(conn Connection) {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		_ = conn.Close()
		return
	}
	cm.conn = conn
	cm.isConnected = true
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	cm.mu.Unlock()

	cm.notifyConnected()

	go cm.handleReconnect(conn, notifyClose)
}

// Channel opens a fresh channel, connecting first if needed. Callers own the channel.
func (cm *ConnectionManager) Channel(ctx context.Context) (Channel, error) {
	conn, err := cm.GetConnection()
	if err != nil {
		if err := cm.Connect(ctx); err != nil {
			return nil, err
		}
		if conn, err = cm.GetConnection(); err != nil {
			return nil, err
		}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "open",
			Err:       fmt.Errorf("%w: %w", ErrChannelCreationFailed, err),
			Timestamp: time.Now(),
		}
	}
	return ch, nil
}

// GetConnection returns the current connection
func (cm *ConnectionManager) GetConnection() (Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.closed {
		return nil, ErrManagerClosed
	}
	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	return cm.conn, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// Close closes the connection and stops recovery. It is safe to call more than once.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return nil
	}
	cm.closed = true
	cm.isConnected = false
	conn := cm.conn
	cm.conn = nil
	cm.mu.Unlock()

	cm.cancel()

	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

// handleReconnect waits for conn to close and reconnects when the close was not requested
func (cm *ConnectionManager) handleReconnect(conn Connection, notifyClose <-chan *amqp.Error) {
	select {
	case amqpErr, ok := <-notifyClose:
		cm.mu.Lock()
		current := cm.conn == conn
		if current {
			cm.isConnected = false
			cm.conn = nil
		}
		cm.mu.Unlock()

		if !ok || amqpErr == nil {
			// graceful close
			return
		}

		cm.logger.Error("connection lost", "error", amqpErr)
		cm.notifyDisconnected(amqpErr)
		if current {
			cm.reconnect()
		}

	case <-cm.ctx.Done():
	}
}

// reconnect restores the connection using the same retry discipline as Connect
func (cm *ConnectionManager) reconnect() {
	cm.connectMu.Lock()
	defer cm.connectMu.Unlock()

	if cm.IsConnected() || cm.ctx.Err() != nil {
		return
	}

	conn, err := cm.dialWithRetry(cm.ctx, "reconnect")
	if err != nil {
		if cm.ctx.Err() == nil {
			cm.notifyDisconnected(err)
		}
		return
	}

	cm.setConnection(conn)
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

// RemoveStateListener removes a connection state listener
func (cm *ConnectionManager) RemoveStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()

	for i, l := range cm.stateListeners {
		if l == listener {
			cm.stateListeners = append(cm.stateListeners[:i], cm.stateListeners[i+1:]...)
			break
		}
	}
}

func (cm *ConnectionManager) notifyConnected() {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnReconnecting(attempt)
	}
}
