package contracts

// Status tells how a request ended
type Status string

const (
	StatusReplied Status = "replied"
	StatusTimeout Status = "timeout"
)

// TimeoutMessage is the message carried by the timeout body
const TimeoutMessage = "Request timeout"

// Result is the outcome of a request. A timeout is a value, not an error.
type Result struct {
	Status        Status
	CorrelationID string
	Body          map[string]any
}

// TimeoutBody returns the body reported to callers when no reply arrived in time
func TimeoutBody() map[string]any {
	return map[string]any{
		"status":  "error",
		"message": TimeoutMessage,
	}
}

// TimeoutResult builds the timeout variant
func TimeoutResult(correlationID string) Result {
	return Result{
		Status:        StatusTimeout,
		CorrelationID: correlationID,
		Body:          TimeoutBody(),
	}
}

// RepliedResult builds the reply variant
func RepliedResult(correlationID string, body map[string]any) Result {
	return Result{
		Status:        StatusReplied,
		CorrelationID: correlationID,
		Body:          body,
	}
}

// TimedOut reports whether the request timed out
func (r Result) TimedOut() bool {
	return r.Status == StatusTimeout
}
