// Package jsonrpc is a JSON-RPC 2.0 client over request/response
// transports such as HTTP POST.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the only protocol version spoken by this package.
const Version = "2.0"

// ID is a request id: a string, a number, or unset.
type ID struct {
	str   string
	num   int64
	isNum bool
	set   bool
}

func StringID(s string) ID { return ID{str: s, set: true} }

func NumberID(n int64) ID { return ID{num: n, isNum: true, set: true} }

// IsSet reports whether the id was present and non-null.
func (id ID) IsSet() bool { return id.set }

func (id ID) String() string {
	switch {
	case !id.set:
		return "<unset>"
	case id.isNum:
		return strconv.FormatInt(id.num, 10)
	default:
		return strconv.Quote(id.str)
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case !id.set:
		return []byte("null"), nil
	case id.isNum:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	default:
		return json.Marshal(id.str)
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = NumberID(n)
	return nil
}

// Request is a call envelope. Params is sent as null when empty.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Notification is a request without an id; no response is expected.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a reply envelope. A valid response carries exactly one of
// Result and Error; a JSON null result counts as absent.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload is the error member of a response.
type ErrorPayload struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func hasResult(r json.RawMessage) bool {
	r = bytes.TrimSpace(r)
	return len(r) > 0 && !bytes.Equal(r, []byte("null"))
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}
