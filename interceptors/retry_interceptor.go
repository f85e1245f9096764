package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/svcbus/contracts"
	"github.com/glimte/svcbus/internal/reliability"
)

// RetryInterceptor retries a failing handler in-process before the failure
// reaches the broker and the message is requeued or dead-lettered
type RetryInterceptor struct {
	retryPolicy reliability.RetryPolicy
	logger      *slog.Logger
}

// NewRetryInterceptor retries up to maxRetries times with exponential
// backoff starting at initial
func NewRetryInterceptor(maxRetries int, initial, max time.Duration) *RetryInterceptor {
	return &RetryInterceptor{
		retryPolicy: reliability.NewExponentialBackoff(initial, max, 2.0, maxRetries),
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the retry interceptor
func (r *RetryInterceptor) WithLogger(logger *slog.Logger) *RetryInterceptor {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Intercept implements the Interceptor interface
func (r *RetryInterceptor) Intercept(ctx context.Context, e *contracts.Event, next contracts.Handler) error {
	return reliability.RetryNotify(ctx, r.retryPolicy, func() error {
		return next(ctx, e)
	}, func(attempt int, err error, delay time.Duration) {
		if delay > 0 {
			r.logger.Warn("handler failed, retrying",
				"messageId", e.Metadata.MessageID,
				"attempt", attempt+1,
				"retryIn", delay,
				"error", err)
		}
	})
}

// Name returns the interceptor name
func (r *RetryInterceptor) Name() string {
	return "RetryInterceptor"
}
