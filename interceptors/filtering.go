package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/glimte/svcbus/contracts"
)

// EventFilter decides whether an event should be processed
type EventFilter interface {
	ShouldProcess(ctx context.Context, e *contracts.Event) (bool, error)
}

// EventFilterFunc is a function adapter for EventFilter
type EventFilterFunc func(ctx context.Context, e *contracts.Event) (bool, error)

// ShouldProcess implements EventFilter
func (f EventFilterFunc) ShouldProcess(ctx context.Context, e *contracts.Event) (bool, error) {
	return f(ctx, e)
}

// SkipBehavior defines what happens when an event is filtered out
type SkipBehavior int

const (
	// SkipSilently acknowledges the event without processing it
	SkipSilently SkipBehavior = iota
	// SkipWithError fails the event so it is requeued or dead-lettered
	SkipWithError
	// SkipWithLog acknowledges the event and logs that it was skipped
	SkipWithLog
)

// FilteringInterceptor stops events rejected by its filter
type FilteringInterceptor struct {
	filter       EventFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter EventFilter, skipBehavior SkipBehavior, logger *slog.Logger) *FilteringInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       logger,
	}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, e *contracts.Event, next contracts.Handler) error {
	shouldProcess, err := i.filter.ShouldProcess(ctx, e)
	if err != nil {
		return fmt.Errorf("filter error: %w", err)
	}

	if !shouldProcess {
		switch i.skipBehavior {
		case SkipWithError:
			return fmt.Errorf("event filtered: id=%s", e.Metadata.MessageID)
		case SkipWithLog:
			i.logger.Info("event skipped by filter", "messageId", e.Metadata.MessageID)
			return nil
		default:
			return nil
		}
	}

	return next(ctx, e)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// FieldFilter accepts events whose string field has one of the allowed values
type FieldFilter struct {
	field   string
	allowed []string
}

// NewFieldFilter creates a filter on the body field named field
func NewFieldFilter(field string, allowed ...string) *FieldFilter {
	return &FieldFilter{field: field, allowed: allowed}
}

// ShouldProcess implements EventFilter
func (f *FieldFilter) ShouldProcess(ctx context.Context, e *contracts.Event) (bool, error) {
	return slices.Contains(f.allowed, e.String(f.field)), nil
}

// CompositeFilter accepts events accepted by all of its filters
type CompositeFilter struct {
	filters []EventFilter
}

// NewCompositeFilter creates a new AND filter
func NewCompositeFilter(filters ...EventFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements EventFilter
func (f *CompositeFilter) ShouldProcess(ctx context.Context, e *contracts.Event) (bool, error) {
	for _, filter := range f.filters {
		ok, err := filter.ShouldProcess(ctx, e)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// OrFilter accepts events accepted by any of its filters
type OrFilter struct {
	filters []EventFilter
}

// NewOrFilter creates a new OR filter
func NewOrFilter(filters ...EventFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// ShouldProcess implements EventFilter
func (f *OrFilter) ShouldProcess(ctx context.Context, e *contracts.Event) (bool, error) {
	for _, filter := range f.filters {
		ok, err := filter.ShouldProcess(ctx, e)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// RequestFilter accepts only events that expect a reply
var RequestFilter EventFilterFunc = func(ctx context.Context, e *contracts.Event) (bool, error) {
	return e.IsRequest(), nil
}
