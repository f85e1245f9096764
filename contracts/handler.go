package contracts

import "context"

// Handler processes an application event. Returning an error, or panicking,
// leaves the message unacknowledged.
type Handler func(ctx context.Context, event *Event) error
