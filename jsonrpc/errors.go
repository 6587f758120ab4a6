package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("jsonrpc: client closed")

	// ErrTransport matches every *TransportError. Transport failures are
	// candidates for retry with backoff.
	ErrTransport = errors.New("jsonrpc: transport failure")

	// ErrMalformedResponse matches every *MalformedResponse. The peer broke
	// the protocol; retrying will not help.
	ErrMalformedResponse = errors.New("jsonrpc: malformed response")
)

// TransportError reports that the exchange itself failed: connection
// refused, timeout, or a non-success status.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("jsonrpc: %s: transport: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// MalformedResponse reports a response that violates the protocol.
type MalformedResponse struct {
	Method string
	Reason string
	Body   []byte
	Err    error
}

func (e *MalformedResponse) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jsonrpc: %s: malformed response: %s: %v", e.Method, e.Reason, e.Err)
	}
	return fmt.Sprintf("jsonrpc: %s: malformed response: %s", e.Method, e.Reason)
}

func (e *MalformedResponse) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedResponse}
	}
	return []error{ErrMalformedResponse, e.Err}
}

// RemoteError is an application error reported by the remote service.
type RemoteError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s (Error Code: %d)", e.Message, e.Code)
}

// Is matches another *RemoteError by code, so callers can test
// errors.Is(err, &RemoteError{Code: CodeMethodNotFound}).
func (e *RemoteError) Is(target error) bool {
	t, ok := target.(*RemoteError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeServerError is the generic implementation-defined server error.
	CodeServerError = -32000
)
