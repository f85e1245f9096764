// Package user holds the bus adapters of the user service: it announces user
// lifecycle events and answers get_user_data requests.
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glimte/svcbus/contracts"
)

// Service wiring names of the user service
const (
	ServiceName = "user"
	Exchange    = "user_exchange"
	RoutingKey  = "user_routing_key"
)

// ActionGetUserData is the request action answered by Handler
const ActionGetUserData = "get_user_data"

// ErrNotFound is returned by a Directory for an unknown username
var ErrNotFound = errors.New("user not found")

// Event is a user lifecycle event type
type Event string

const (
	EventCreated Event = "user.created"
	EventUpdated Event = "user.updated"
	EventDeleted Event = "user.deleted"
)

// Valid reports whether e is a known event type
func (e Event) Valid() bool {
	switch e {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}

// Data is the user record carried in events and replies
type Data struct {
	ID             int    `json:"id"`
	Username       string `json:"username" validate:"required"`
	Email          string `json:"email" validate:"omitempty,email"`
	HashedPassword string `json:"hashed_password"`
	IsActive       bool   `json:"is_active"`
}

// Map returns d as a message body fragment
func (d Data) Map() map[string]any {
	return map[string]any{
		"id":              d.ID,
		"username":        d.Username,
		"email":           d.Email,
		"hashed_password": d.HashedPassword,
		"is_active":       d.IsActive,
	}
}

// DataFromMap decodes a user record from a message body fragment
func DataFromMap(m map[string]any) (Data, error) {
	var d Data
	raw, err := json.Marshal(m)
	if err != nil {
		return d, fmt.Errorf("encode user data: %w", err)
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("decode user data: %w", err)
	}
	return d, nil
}

// Bus is the part of the service bus used by the user adapters
type Bus interface {
	PublishEvent(ctx context.Context, message map[string]any) error
	Reply(ctx context.Context, original *contracts.Event, response map[string]any)
}

// Directory looks users up by name
type Directory interface {
	Lookup(ctx context.Context, username string) (Data, error)
}
