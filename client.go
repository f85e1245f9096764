// Copyright 2024 Svcbus Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package svcbus connects a logical service to RabbitMQ: it publishes the
// service's events, sends requests to other services and runs the supervised
// consumption loop of the service's queue.
package svcbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/svcbus/contracts"
	"github.com/glimte/svcbus/internal/rabbitmq"
	"github.com/glimte/svcbus/internal/reliability"
)

// BrokerConfig names the broker objects owned by one service
type BrokerConfig = rabbitmq.BrokerConfig

// Handler processes the application events of a service
type Handler = rabbitmq.Handler

// ErrInvalidConfiguration is wrapped by NewService for an invalid BrokerConfig
var ErrInvalidConfiguration = rabbitmq.ErrInvalidConfiguration

// ServiceConfig derives the conventional <service>_exchange, <service>_routing_key,
// <service>_dlx and <service>_dlq names
func ServiceConfig(service, url string) BrokerConfig {
	return rabbitmq.ServiceConfig(service, url)
}

// RequestOption configures a single request
type RequestOption = rabbitmq.RequestOption

// Request options
var (
	WithTargetExchange   = rabbitmq.WithTargetExchange
	WithTargetRoutingKey = rabbitmq.WithTargetRoutingKey
	WithCorrelationID    = rabbitmq.WithCorrelationID
	WithTimeout          = rabbitmq.WithTimeout
)

// Service is the bus facade of one logical service
type Service struct {
	cfg        rabbitmq.BrokerConfig
	conn       *rabbitmq.ConnectionManager
	publisher  *rabbitmq.Publisher
	consumer   *rabbitmq.Consumer
	pending    *rabbitmq.PendingResponses
	supervisor *reliability.Supervisor
	logger     *slog.Logger
}

// NewService validates cfg and wires the service's components. It does not connect.
func NewService(cfg BrokerConfig, options ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sc := &serviceConfig{
		logger:         slog.Default(),
		maxRetries:     10,
		reconnectDelay: 5 * time.Second,
		requestTimeout: 30 * time.Second,
		prefetchCount:  10,
		requeueOnce:    true,
		confirms:       true,
		restartInitial: 5 * time.Second,
		restartMax:     time.Minute,
	}
	for _, opt := range options {
		opt(sc)
	}

	logger := sc.logger.With("service", cfg.ExchangeName)

	connOpts := []rabbitmq.ConnectionOption{
		rabbitmq.WithLogger(logger),
		rabbitmq.WithMaxRetries(sc.maxRetries),
		rabbitmq.WithReconnectDelay(sc.reconnectDelay),
		rabbitmq.WithConnectionName(sc.connectionName),
	}
	if sc.dialer != nil {
		connOpts = append(connOpts, rabbitmq.WithDialer(sc.dialer))
	}
	conn := rabbitmq.NewConnectionManager(cfg.URL, connOpts...)

	pending := rabbitmq.NewPendingResponses()

	publisher := rabbitmq.NewPublisher(conn, cfg,
		rabbitmq.WithPublisherLogger(logger),
		rabbitmq.WithRequestTimeout(sc.requestTimeout),
		rabbitmq.WithPublisherConfirms(sc.confirms),
		rabbitmq.WithPendingResponses(pending),
	)

	consumer := rabbitmq.NewConsumer(conn, cfg,
		rabbitmq.WithConsumerLogger(logger),
		rabbitmq.WithPrefetchCount(sc.prefetchCount),
		rabbitmq.WithRequeueOnce(sc.requeueOnce),
		rabbitmq.WithConsumerPendingResponses(pending),
	)

	backoff := reliability.NewExponentialBackoff(sc.restartInitial, sc.restartMax, 2.0, 0)
	supervisor := reliability.NewSupervisor(
		reliability.WithBackoff(backoff),
		reliability.WithStartDelay(sc.startDelay),
		reliability.WithMaxRestarts(sc.maxRestarts),
		reliability.WithStopOn(rabbitmq.IsFatal),
		reliability.WithSupervisorLogger(logger),
	)

	return &Service{
		cfg:        cfg,
		conn:       conn,
		publisher:  publisher,
		consumer:   consumer,
		pending:    pending,
		supervisor: supervisor,
		logger:     logger,
	}, nil
}

// Config returns the service's broker configuration
func (s *Service) Config() BrokerConfig {
	return s.cfg
}

// Connection returns the service's connection manager
func (s *Service) Connection() *rabbitmq.ConnectionManager {
	return s.conn
}

// Consumer returns the service's consumer
func (s *Service) Consumer() *rabbitmq.Consumer {
	return s.consumer
}

// Supervisor returns the supervisor of the consumption loop
func (s *Service) Supervisor() *reliability.Supervisor {
	return s.supervisor
}

// Pending returns the registry of in-flight requests
func (s *Service) Pending() *rabbitmq.PendingResponses {
	return s.pending
}

// Connect connects to the broker, retrying with the configured delay
func (s *Service) Connect(ctx context.Context) error {
	return s.conn.Connect(ctx)
}

// PublishEvent publishes message to every queue bound to the service exchange
func (s *Service) PublishEvent(ctx context.Context, message map[string]any) error {
	return s.publisher.PublishEvent(ctx, message)
}

// Request sends message and waits for the reply, or for the timeout result
func (s *Service) Request(ctx context.Context, message map[string]any, opts ...RequestOption) (contracts.Result, error) {
	return s.publisher.Request(ctx, message, opts...)
}

// Reply answers a request event. Failures are logged only.
func (s *Service) Reply(ctx context.Context, original *contracts.Event, response map[string]any) {
	s.consumer.Reply(ctx, original, response)
}

// Consume runs the consumption loop once, without restarts
func (s *Service) Consume(ctx context.Context, handler Handler, bindings ...contracts.Binding) error {
	return s.consumer.Consume(ctx, handler, bindings...)
}

// Run runs the consumption loop under the supervisor until ctx is cancelled
// or the loop fails with a fatal error.
func (s *Service) Run(ctx context.Context, handler Handler, bindings ...contracts.Binding) error {
	err := s.supervisor.Run(ctx, s.cfg.RoutingKey, func(ctx context.Context) error {
		return s.consumer.Consume(ctx, handler, bindings...)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("svcbus: consumer for %s stopped: %w", s.cfg.RoutingKey, err)
	}
	return err
}

// Restarts returns how many times the consumption loop was restarted
func (s *Service) Restarts() int64 {
	return s.supervisor.Restarts()
}

// Close closes the broker connection
func (s *Service) Close() error {
	return s.conn.Close()
}

// serviceConfig holds service configuration
type serviceConfig struct {
	logger         *slog.Logger
	dialer         rabbitmq.Dialer
	connectionName string
	maxRetries     int
	reconnectDelay time.Duration
	requestTimeout time.Duration
	prefetchCount  int
	requeueOnce    bool
	confirms       bool
	restartInitial time.Duration
	restartMax     time.Duration
	startDelay     time.Duration
	maxRestarts    int
}

// ServiceOption configures the service
type ServiceOption func(*serviceConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(cfg *serviceConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDialer replaces the AMQP dialer
func WithDialer(dial rabbitmq.Dialer) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.dialer = dial
	}
}

// WithConnectionName names the connection in the broker's management UI
func WithConnectionName(name string) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.connectionName = name
	}
}

// WithConnectRetries sets the connection attempts and the fixed delay between them
func WithConnectRetries(attempts int, delay time.Duration) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.maxRetries = attempts
		cfg.reconnectDelay = delay
	}
}

// WithRequestTimeout sets the default request timeout
func WithRequestTimeout(timeout time.Duration) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.requestTimeout = timeout
	}
}

// WithPrefetchCount sets the consumer prefetch count
func WithPrefetchCount(count int) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.prefetchCount = count
	}
}

// WithRequeueOnce controls whether failed messages get a second delivery
func WithRequeueOnce(enabled bool) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.requeueOnce = enabled
	}
}

// WithPublisherConfirms enables or disables publisher confirms
func WithPublisherConfirms(enabled bool) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.confirms = enabled
	}
}

// WithRestartBackoff sets the first and the largest delay between consumer restarts
func WithRestartBackoff(initial, max time.Duration) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.restartInitial = initial
		cfg.restartMax = max
	}
}

// WithStartDelay delays the first consumer run
func WithStartDelay(delay time.Duration) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.startDelay = delay
	}
}

// WithMaxRestarts bounds consumer restarts; zero means unlimited
func WithMaxRestarts(n int) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.maxRestarts = n
	}
}
