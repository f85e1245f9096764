package user

import (
	"context"
	"fmt"
	"log/slog"
)

// Publisher announces user lifecycle events on the user exchange
type Publisher struct {
	bus    Bus
	logger *slog.Logger
}

// NewPublisher creates a new publisher
func NewPublisher(bus Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bus: bus, logger: logger}
}

// PublishUserEvent publishes {"event_type": event, "user_data": data}
func (p *Publisher) PublishUserEvent(ctx context.Context, event Event, data Data) error {
	if !event.Valid() {
		return fmt.Errorf("unknown user event %q", event)
	}

	message := map[string]any{
		"event_type": string(event),
		"user_data":  data.Map(),
	}
	if err := p.bus.PublishEvent(ctx, message); err != nil {
		p.logger.Error("failed to publish user event", "event", event, "username", data.Username, "error", err)
		return fmt.Errorf("publish %s: %w", event, err)
	}

	p.logger.Info("user event published", "event", event, "username", data.Username)
	return nil
}
