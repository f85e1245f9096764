// Package monitor inspects a service's queues over AMQP, without the HTTP
// management API: queue depth, consumers and dead-lettered messages.
package monitor

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/svcbus/health"
	"github.com/glimte/svcbus/internal/rabbitmq"
)

// Depth thresholds of a healthy queue
const (
	elevatedMessageCount = 1000
	highMessageCount     = 10000
)

// QueueInfo is what a passive declare tells about a queue
type QueueInfo struct {
	Name      string `json:"name"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

// QueueHealth represents basic queue health information from AMQP inspection
type QueueHealth struct {
	QueueName string        `json:"queue_name"`
	Status    health.Status `json:"status"`
	Message   string        `json:"message"`
	Messages  int           `json:"messages"`
	Consumers int           `json:"consumers"`
}

// ServiceReport describes the main queue and dead-letter queue of a service
type ServiceReport struct {
	Status          health.Status `json:"status"`
	Queue           *QueueHealth  `json:"queue"`
	DeadLetterQueue *QueueHealth  `json:"dead_letter_queue"`
}

// QueueInspector provides AMQP-based queue inspection
type QueueInspector struct {
	conn rabbitmq.ChannelOpener
}

// NewQueueInspector creates a new AMQP-based queue inspector
func NewQueueInspector(conn rabbitmq.ChannelOpener) *QueueInspector {
	return &QueueInspector{conn: conn}
}

// InspectQueue passively declares queueName. A missing queue yields an
// *amqp.Error with code 404.
func (qi *QueueInspector) InspectQueue(ctx context.Context, queueName string) (*QueueInfo, error) {
	ch, err := qi.conn.Channel(ctx)
	if err != nil {
		return nil, err
	}
	// a failed passive declare closes the channel, so each inspection gets its own
	defer ch.Close()

	queue, err := ch.QueueDeclarePassive(queueName, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue %s: %w", queueName, err)
	}

	return &QueueInfo{
		Name:      queue.Name,
		Messages:  queue.Messages,
		Consumers: queue.Consumers,
	}, nil
}

// CheckQueueExists checks if a queue exists without getting full details
func (qi *QueueInspector) CheckQueueExists(ctx context.Context, queueName string) (bool, error) {
	_, err := qi.InspectQueue(ctx, queueName)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check queue existence: %w", err)
	}
	return true, nil
}

// GetServiceQueueHealth performs basic health assessment of a work queue
func (qi *QueueInspector) GetServiceQueueHealth(ctx context.Context, queueName string) (*QueueHealth, error) {
	info, err := qi.InspectQueue(ctx, queueName)
	if err != nil {
		return &QueueHealth{
			QueueName: queueName,
			Status:    health.StatusUnhealthy,
			Message:   fmt.Sprintf("Failed to inspect queue: %v", err),
		}, err
	}

	qh := &QueueHealth{
		QueueName: queueName,
		Messages:  info.Messages,
		Consumers: info.Consumers,
	}

	switch {
	case info.Messages > highMessageCount:
		qh.Status = health.StatusDegraded
		qh.Message = fmt.Sprintf("High message count: %d messages", info.Messages)
	case info.Messages > elevatedMessageCount:
		qh.Status = health.StatusDegraded
		qh.Message = fmt.Sprintf("Elevated message count: %d messages", info.Messages)
	case info.Consumers == 0 && info.Messages > 0:
		qh.Status = health.StatusUnhealthy
		qh.Message = fmt.Sprintf("No consumers for %d messages", info.Messages)
	default:
		qh.Status = health.StatusHealthy
		qh.Message = "Queue is healthy"
	}

	return qh, nil
}

// GetDeadLetterHealth assesses a dead-letter queue: any message in it is a
// failure that needs attention.
func (qi *QueueInspector) GetDeadLetterHealth(ctx context.Context, queueName string) (*QueueHealth, error) {
	info, err := qi.InspectQueue(ctx, queueName)
	if err != nil {
		return &QueueHealth{
			QueueName: queueName,
			Status:    health.StatusUnhealthy,
			Message:   fmt.Sprintf("Failed to inspect queue: %v", err),
		}, err
	}

	qh := &QueueHealth{
		QueueName: queueName,
		Messages:  info.Messages,
		Consumers: info.Consumers,
		Status:    health.StatusHealthy,
		Message:   "No dead-lettered messages",
	}
	if info.Messages > 0 {
		qh.Status = health.StatusDegraded
		qh.Message = fmt.Sprintf("%d dead-lettered messages", info.Messages)
	}
	return qh, nil
}

// InspectService reports on the main queue and the dead-letter queue of cfg
func (qi *QueueInspector) InspectService(ctx context.Context, cfg rabbitmq.BrokerConfig) (*ServiceReport, error) {
	queue, qErr := qi.GetServiceQueueHealth(ctx, cfg.RoutingKey)
	dlq, dErr := qi.GetDeadLetterHealth(ctx, cfg.DeadLetterQueue)

	report := &ServiceReport{
		Status:          health.StatusHealthy,
		Queue:           queue,
		DeadLetterQueue: dlq,
	}
	for _, qh := range []*QueueHealth{queue, dlq} {
		switch qh.Status {
		case health.StatusUnhealthy:
			report.Status = health.StatusUnhealthy
		case health.StatusDegraded:
			if report.Status == health.StatusHealthy {
				report.Status = health.StatusDegraded
			}
		}
	}
	return report, errors.Join(qErr, dErr)
}

func isNotFound(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound
}
