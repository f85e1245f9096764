package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glimte/svcbus/contracts"
)

// errInvalidRequest is the error body sent back for malformed requests
const errInvalidRequest = "invalid request"

// Handler consumes the user service queue
type Handler struct {
	bus       Bus
	directory Directory
	logger    *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(bus Bus, directory Directory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{bus: bus, directory: directory, logger: logger}
}

// Handle answers requests and processes auth events
func (h *Handler) Handle(ctx context.Context, e *contracts.Event) error {
	if e.IsRequest() {
		return h.handleRequest(ctx, e)
	}

	// the user exchange also routes our own lifecycle events back to us
	if strings.HasPrefix(e.String("event_type"), "user.") {
		h.logger.Debug("ignoring own user event", "event", e.String("event_type"))
		return nil
	}

	h.handleAuthEvent(e)
	return nil
}

func (h *Handler) handleRequest(ctx context.Context, e *contracts.Event) error {
	action := e.String("action")
	username := e.String("username")
	logger := h.logger.With("action", action, "username", username, "correlationId", e.CorrelationID)

	if action != ActionGetUserData || username == "" {
		logger.Warn("invalid request")
		h.bus.Reply(ctx, e, map[string]any{"error": errInvalidRequest})
		return nil
	}

	u, err := h.directory.Lookup(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Info("user not found")
		h.bus.Reply(ctx, e, map[string]any{"error": ErrNotFound.Error()})
		return nil
	case err != nil:
		return fmt.Errorf("lookup %s: %w", username, err)
	}

	response := u.Map()
	response[contracts.FieldCorrelationID] = e.CorrelationID
	h.bus.Reply(ctx, e, response)

	logger.Info("user data sent")
	return nil
}

func (h *Handler) handleAuthEvent(e *contracts.Event) {
	event := e.String("event")
	data := e.Map("data")

	switch event {
	case "token_issued":
		h.logger.Info("token issued", "userId", data["user_id"], "username", data["username"])
	case "token_validated":
		h.logger.Info("token validated", "username", data["username"])
	default:
		h.logger.Warn("unknown event", "event", event)
	}
}
