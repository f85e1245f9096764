package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/svcbus/contracts"
	"github.com/glimte/svcbus/internal/services/user"
)

// ErrIncompleteEvent is returned for user events missing event_type or user_data
var ErrIncompleteEvent = errors.New("incomplete user event")

// Handler consumes the auth service queue
type Handler struct {
	store  UserStore
	logger *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(store UserStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Handle applies user lifecycle events to the store. Payloads that fail
// validation are logged and dropped; store failures and unknown event types
// are returned so the message is retried and then dead-lettered.
func (h *Handler) Handle(ctx context.Context, e *contracts.Event) error {
	// token events published by this service come back through the auth exchange
	if event := e.String("event"); event != "" {
		h.logger.Debug("ignoring own event", "event", event)
		return nil
	}

	eventType := user.Event(e.String("event_type"))
	payload := e.Map("user_data")
	if eventType == "" || payload == nil {
		return ErrIncompleteEvent
	}

	u, err := user.DataFromMap(payload)
	if err == nil {
		err = validate.Struct(u)
	}
	if err != nil {
		h.logger.Error("invalid user data", "event", eventType, "error", err)
		return nil
	}

	if err := h.apply(ctx, eventType, u); err != nil {
		return fmt.Errorf("%s %s: %w", eventType, u.Username, err)
	}

	h.logger.Info("user event processed", "event", eventType, "username", u.Username)
	return nil
}

func (h *Handler) apply(ctx context.Context, eventType user.Event, u user.Data) error {
	switch eventType {
	case user.EventCreated:
		return h.store.Create(ctx, u)
	case user.EventUpdated:
		return h.store.Update(ctx, u)
	case user.EventDeleted:
		return h.store.Delete(ctx, u.Username)
	default:
		return fmt.Errorf("unknown event type %q", eventType)
	}
}
