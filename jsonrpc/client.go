package jsonrpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/signadot/zotero-ls/debug"
)

// Transport carries one serialized envelope to endpoint and returns the
// serialized reply. A non-nil error means the exchange failed, independent
// of the payload.
type Transport interface {
	RoundTrip(ctx context.Context, endpoint string, body []byte) ([]byte, error)
	Close() error
}

// Client issues correlated calls over a Transport. It is safe for
// concurrent use; concurrent calls are matched to their replies by id.
// The client never retries.
type Client struct {
	transport Transport
	log       *slog.Logger
	newID     func() ID

	mu       sync.Mutex
	inflight map[ID]string
	wg       sync.WaitGroup
	closed   bool

	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for wire debugging.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithIDGenerator replaces the default uuid request ids.
func WithIDGenerator(f func() ID) Option {
	return func(c *Client) { c.newID = f }
}

// NewClient returns a client that owns t; closing the client closes t.
func NewClient(t Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		log:       slog.Default(),
		newID:     func() ID { return StringID(uuid.New().String()) },
		inflight:  map[ID]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends method with params to endpoint and waits for its result.
// params is marshalled to JSON; nil is sent as null. The result is
// returned undecoded.
func (c *Client) Call(ctx context.Context, endpoint, method string, params any) (json.RawMessage, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	id := c.newID()
	if err := c.begin(id, method); err != nil {
		return nil, err
	}
	defer c.end(id)

	body, err := json.Marshal(&Request{JSONRPC: Version, ID: id, Method: method, Params: raw})
	if err != nil {
		return nil, err
	}
	c.trace("send", method, body)
	reply, err := c.transport.RoundTrip(ctx, endpoint, body)
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	c.trace("recv", method, reply)
	return decodeResponse(method, id, reply)
}

func decodeResponse(method string, id ID, reply []byte) (json.RawMessage, error) {
	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, &MalformedResponse{Method: method, Reason: "invalid JSON", Body: reply, Err: err}
	}
	if resp.JSONRPC != Version {
		return nil, &MalformedResponse{Method: method, Reason: "unsupported jsonrpc version " + resp.JSONRPC, Body: reply}
	}
	result := hasResult(resp.Result)
	switch {
	case result && resp.Error != nil:
		return nil, &MalformedResponse{Method: method, Reason: "both result and error set", Body: reply}
	case !result && resp.Error == nil:
		return nil, &MalformedResponse{Method: method, Reason: "neither result nor error set", Body: reply}
	case resp.Error != nil:
		// Error replies may carry a null id when the service could not
		// attribute the failure to a request.
		if resp.ID.IsSet() && resp.ID != id {
			return nil, &MalformedResponse{Method: method, Reason: "error for id " + resp.ID.String() + ", want " + id.String(), Body: reply}
		}
		return nil, &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
	}
	if resp.ID != id {
		return nil, &MalformedResponse{Method: method, Reason: "result for id " + resp.ID.String() + ", want " + id.String(), Body: reply}
	}
	return resp.Result, nil
}

// Notify sends method without an id and does not look at the reply.
// Only transport failures are reported.
func (c *Client) Notify(ctx context.Context, endpoint, method string, params any) error {
	raw, err := encodeParams(params)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	body, err := json.Marshal(&Notification{JSONRPC: Version, Method: method, Params: raw})
	if err != nil {
		return err
	}
	c.trace("notify", method, body)
	if _, err := c.transport.RoundTrip(ctx, endpoint, body); err != nil {
		return &TransportError{Method: method, Err: err}
	}
	return nil
}

func (c *Client) begin(id ID, method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.inflight[id] = method
	c.wg.Add(1)
	return nil
}

func (c *Client) end(id ID) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
	c.wg.Done()
}

// InFlight returns the number of calls awaiting a reply.
func (c *Client) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Close rejects new calls, waits for in-flight calls to finish and then
// closes the transport. Calling Close again returns nil.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.wg.Wait()
		err = c.transport.Close()
	})
	return err
}

func (c *Client) trace(dir, method string, body []byte) {
	if !debug.RPC() {
		return
	}
	c.log.Debug("jsonrpc "+dir, "method", method, "body", string(body))
}
