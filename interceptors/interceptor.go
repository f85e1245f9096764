package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/svcbus/contracts"
)

// Interceptor processes events before they reach the final handler
type Interceptor interface {
	// Intercept handles e and calls next to continue the chain
	Intercept(ctx context.Context, e *contracts.Event, next contracts.Handler) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, e *contracts.Event, next contracts.Handler) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, e *contracts.Event, next contracts.Handler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, e *contracts.Event, next contracts.Handler) error {
	return i.fn(ctx, e, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages a chain of interceptors
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Then returns final wrapped by the chain's interceptors
func (c *InterceptorChain) Then(final contracts.Handler) contracts.Handler {
	names := make([]string, len(c.interceptors))
	for i, interceptor := range c.interceptors {
		names[i] = interceptor.Name()
	}
	c.logger.Debug("interceptor chain built", "interceptors", names)

	handler := final
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := handler
		handler = func(ctx context.Context, e *contracts.Event) error {
			return interceptor.Intercept(ctx, e, next)
		}
	}
	return handler
}

// Execute runs e through the chain and final
func (c *InterceptorChain) Execute(ctx context.Context, e *contracts.Event, final contracts.Handler) error {
	return c.Then(final)(ctx, e)
}

// LoggingInterceptor logs event processing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, e *contracts.Event, next contracts.Handler) error {
	start := time.Now()
	logger := i.logger.With(
		"messageId", e.Metadata.MessageID,
		"exchange", e.Metadata.Exchange,
		"correlationId", e.CorrelationID,
		"redelivered", e.Metadata.Redelivered,
	)

	logger.Info("processing event")

	err := next(ctx, e)
	duration := time.Since(start)

	if err != nil {
		logger.Error("event processing failed", "duration", duration, "error", err)
	} else {
		logger.Info("event processed", "duration", duration)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// TimeoutInterceptor bounds the time a handler may take
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor. A handler still running at the deadline
// keeps running with a cancelled context; its result is discarded.
func (i *TimeoutInterceptor) Intercept(ctx context.Context, e *contracts.Event, next contracts.Handler) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- next(timeoutCtx, e)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("event processing timeout after %v for message %s", i.timeout, e.Metadata.MessageID)
	}
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}
