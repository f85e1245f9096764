package interceptors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/glimte/svcbus/contracts"
)

func TestFilteringInterceptor(t *testing.T) {
	ctx := context.Background()
	filter := NewFieldFilter("event_type", "user.created", "user.deleted")

	tests := []struct {
		name     string
		behavior SkipBehavior
		body     map[string]any
		called   bool
		wantErr  bool
	}{
		{"accepted", SkipSilently, map[string]any{"event_type": "user.created"}, true, false},
		{"skipped silently", SkipSilently, map[string]any{"event_type": "user.updated"}, false, false},
		{"skipped with log", SkipWithLog, map[string]any{"event_type": "user.updated"}, false, false},
		{"skipped with error", SkipWithError, map[string]any{}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			i := NewFilteringInterceptor(filter, tt.behavior, testLogger)
			err := i.Intercept(ctx, testEvent(tt.body), func(context.Context, *contracts.Event) error {
				called = true
				return nil
			})

			assert.Equal(t, tt.called, called)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("filter errors fail the event", func(t *testing.T) {
		boom := errors.New("boom")
		failing := EventFilterFunc(func(context.Context, *contracts.Event) (bool, error) { return false, boom })
		err := NewFilteringInterceptor(failing, SkipSilently, testLogger).Intercept(ctx, testEvent(nil),
			func(context.Context, *contracts.Event) error { return nil })
		assert.ErrorIs(t, err, boom)
	})
}

func TestCompositeFilters(t *testing.T) {
	ctx := context.Background()
	created := NewFieldFilter("event_type", "user.created")
	request := &contracts.Event{Body: map[string]any{"event_type": "user.created"}, ReplyTo: "amq.gen-1"}
	event := &contracts.Event{Body: map[string]any{"event_type": "user.created"}}

	and := NewCompositeFilter(created, RequestFilter)
	ok, _ := and.ShouldProcess(ctx, request)
	assert.True(t, ok)
	ok, _ = and.ShouldProcess(ctx, event)
	assert.False(t, ok)

	or := NewOrFilter(NewFieldFilter("event_type", "user.deleted"), RequestFilter)
	ok, _ = or.ShouldProcess(ctx, request)
	assert.True(t, ok)
	ok, _ = or.ShouldProcess(ctx, event)
	assert.False(t, ok)
}
