package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/svcbus/health"
)

// QueueChecker exposes a queue's health to a health.Registry
type QueueChecker struct {
	inspector  *QueueInspector
	queueName  string
	deadLetter bool
}

// NewQueueChecker checks a work queue
func NewQueueChecker(inspector *QueueInspector, queueName string) *QueueChecker {
	return &QueueChecker{inspector: inspector, queueName: queueName}
}

// NewDeadLetterChecker checks a dead-letter queue
func NewDeadLetterChecker(inspector *QueueInspector, queueName string) *QueueChecker {
	return &QueueChecker{inspector: inspector, queueName: queueName, deadLetter: true}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queueName)
}

func (c *QueueChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	var (
		qh  *QueueHealth
		err error
	)
	if c.deadLetter {
		qh, err = c.inspector.GetDeadLetterHealth(ctx, c.queueName)
	} else {
		qh, err = c.inspector.GetServiceQueueHealth(ctx, c.queueName)
	}

	result := health.CheckResult{
		Name:      c.Name(),
		Status:    qh.Status,
		Message:   qh.Message,
		Timestamp: start,
		Duration:  time.Since(start),
		Details: map[string]any{
			"message_count":  qh.Messages,
			"consumer_count": qh.Consumers,
		},
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
