// ABOUTME: Typed error kinds for the protocol client.
// ABOUTME: NetworkError, HTTPError and ProtocolError per failure class.

package protocol

import (
	stdjson "encoding/json"
	"fmt"
)

// NetworkError wraps a transport-level failure: connection refused, DNS,
// aborted request.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError reports a non-success HTTP status code.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Status)
}

// ProtocolError reports a well-formed transport response that carries a
// JSON-RPC error envelope, or one missing its result.
type ProtocolError struct {
	Code    int
	Message string
	Data    stdjson.RawMessage
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}
