// Package auth holds the bus adapters of the auth service: it asks the user
// service for user data, announces token events and mirrors user lifecycle
// events into its own store.
package auth

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/glimte/svcbus/contracts"
	"github.com/glimte/svcbus/internal/rabbitmq"
	"github.com/glimte/svcbus/internal/services/user"
)

// Service wiring names of the auth service
const (
	ServiceName = "auth"
	Exchange    = "auth_exchange"
	RoutingKey  = "auth_routing_key"
)

// Token event types published by the auth service
const (
	EventTokenIssued    = "token_issued"
	EventTokenValidated = "token_validated"
)

var (
	// ErrUserNotFound is returned for users unknown to the user service or the store
	ErrUserNotFound = errors.New("user not found")
	// ErrUserServiceTimeout is returned when the user service did not answer in time
	ErrUserServiceTimeout = errors.New("user service did not reply")
	// ErrUserService is returned when the user service answered with an error
	ErrUserService = errors.New("user service error")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Bus is the part of the service bus used by the auth adapters
type Bus interface {
	PublishEvent(ctx context.Context, message map[string]any) error
	Request(ctx context.Context, message map[string]any, opts ...rabbitmq.RequestOption) (contracts.Result, error)
}

// UserStore keeps the auth service's copy of the users
type UserStore interface {
	Create(ctx context.Context, u user.Data) error
	Update(ctx context.Context, u user.Data) error
	Delete(ctx context.Context, username string) error
}

// Bindings returns the extra bindings of the auth queue: it receives the
// user service's lifecycle events.
func Bindings() []contracts.Binding {
	return []contracts.Binding{
		{ExchangeName: user.Exchange, RoutingKey: RoutingKey},
	}
}
