// Package contracts provides the message types that cross the broker boundary.
//
// Incoming bodies are decoded once, at the edge, into one of two variants:
//   - Reply: the answer to a request this process issued (correlation ID, no reply-to)
//   - Event: everything else; a request is an Event that carries a reply-to address
//
// Request outcomes are returned as a Result value, with an explicit timeout
// variant, instead of an error.
package contracts
