package contracts

import (
	"errors"
	"fmt"
)

// ErrNotAnObject is returned when a body is valid JSON but not a JSON object
var ErrNotAnObject = errors.New("contracts: message body is not a JSON object")

// maxErrorBody bounds how much of an undecodable body is kept for logging
const maxErrorBody = 256

// DecodeError reports a message body that could not be decoded
type DecodeError struct {
	Body []byte
	Err  error
}

// NewDecodeError creates a DecodeError, keeping at most maxErrorBody bytes of body
func NewDecodeError(body []byte, err error) *DecodeError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	kept := make([]byte, len(body))
	copy(kept, body)
	return &DecodeError{Body: kept, Err: err}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("contracts: cannot decode message body: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
