package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/svcbus/internal/rabbitmq"
	"github.com/glimte/svcbus/internal/services/user"
)

// Publisher sends the auth service's requests and token events
type Publisher struct {
	bus            Bus
	userRoutingKey string
	logger         *slog.Logger
}

// NewPublisher creates a new publisher addressing the user service at user.RoutingKey
func NewPublisher(bus Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		bus:            bus,
		userRoutingKey: user.RoutingKey,
		logger:         logger,
	}
}

// RequestUserData asks the user service for username's record
func (p *Publisher) RequestUserData(ctx context.Context, username string) (user.Data, error) {
	result, err := p.bus.Request(ctx, map[string]any{
		"action":   user.ActionGetUserData,
		"username": username,
	}, rabbitmq.WithTargetRoutingKey(p.userRoutingKey))
	if err != nil {
		return user.Data{}, fmt.Errorf("request user data: %w", err)
	}

	if result.TimedOut() {
		p.logger.Error("user data request timed out", "username", username, "correlationId", result.CorrelationID)
		return user.Data{}, ErrUserServiceTimeout
	}

	if msg, ok := result.Body["error"].(string); ok {
		if msg == user.ErrNotFound.Error() {
			return user.Data{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return user.Data{}, fmt.Errorf("%w: %s", ErrUserService, msg)
	}

	return user.DataFromMap(result.Body)
}

// PublishTokenIssued announces that a token was issued for the user
func (p *Publisher) PublishTokenIssued(ctx context.Context, userID int, username string) error {
	return p.publish(ctx, EventTokenIssued, map[string]any{
		"user_id":  userID,
		"username": username,
	})
}

// PublishTokenValidated announces that a token of the user was validated
func (p *Publisher) PublishTokenValidated(ctx context.Context, username string) error {
	return p.publish(ctx, EventTokenValidated, map[string]any{
		"username": username,
	})
}

func (p *Publisher) publish(ctx context.Context, event string, data map[string]any) error {
	if err := p.bus.PublishEvent(ctx, map[string]any{"event": event, "data": data}); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	p.logger.Info("token event published", "event", event, "username", data["username"])
	return nil
}
