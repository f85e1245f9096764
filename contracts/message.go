package contracts

import (
	"encoding/json"
)

// Well-known body fields understood by the broker layer
const (
	FieldCorrelationID = "correlation_id"
	FieldReplyTo       = "reply_to"
)

// Incoming is a decoded delivery: either *Event or *Reply
type Incoming interface {
	Payload() map[string]any
	isIncoming()
}

// Event is an application message for a business handler.
type Event struct {
	Body          map[string]any
	CorrelationID string
	ReplyTo       string
	Metadata      Metadata
}

func (*Event) isIncoming() {}

// Payload returns the decoded body
func (e *Event) Payload() map[string]any { return e.Body }

// IsRequest reports whether the sender expects a reply
func (e *Event) IsRequest() bool { return e.ReplyTo != "" }

// String returns the string field key, or "" when absent or not a string
func (e *Event) String(key string) string {
	s, _ := e.Body[key].(string)
	return s
}

// Map returns the object field key, or nil when absent or not an object
func (e *Event) Map(key string) map[string]any {
	m, _ := e.Body[key].(map[string]any)
	return m
}

// Reply answers a request issued by this process
type Reply struct {
	CorrelationID string
	Body          map[string]any
}

func (*Reply) isIncoming() {}

// Payload returns the decoded body
func (r *Reply) Payload() map[string]any { return r.Body }

// Decode parses body and picks its variant. correlationID and replyTo are the
// transport properties; when empty, the correlation_id and reply_to body fields
// are used instead. A message with a correlation ID and no reply-to is a Reply.
func Decode(body []byte, correlationID, replyTo string) (Incoming, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewDecodeError(body, err)
	}
	if payload == nil {
		return nil, NewDecodeError(body, ErrNotAnObject)
	}

	if correlationID == "" {
		correlationID, _ = payload[FieldCorrelationID].(string)
	}
	if replyTo == "" {
		replyTo, _ = payload[FieldReplyTo].(string)
	}

	if correlationID != "" && replyTo == "" {
		return &Reply{CorrelationID: correlationID, Body: payload}, nil
	}

	return &Event{
		Body:          payload,
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
	}, nil
}

// Encode serializes a message body as UTF-8 JSON text
func Encode(body map[string]any) ([]byte, error) {
	if body == nil {
		body = map[string]any{}
	}
	return json.Marshal(body)
}

// Normalize returns a copy of body in which byte slices, including those in
// nested objects and arrays, are replaced by their text.
func Normalize(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case json.RawMessage:
		return string(val)
	case map[string]any:
		return Normalize(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = normalizeValue(item)
		}
		return items
	default:
		return v
	}
}
