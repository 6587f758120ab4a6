package lsp

import (
	"context"
	"sync"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

// completionCanceller cancels the completion request in progress when the
// editor sends a newer one. It runs in the connection's read loop, ahead
// of the queue that orders requests.
type completionCanceller struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func (c *completionCanceller) supersede(next jsonrpc2.Handler) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		if req.Method() != protocol.MethodTextDocumentCompletion {
			return next(ctx, reply, req)
		}
		ctx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.gen++
		gen := c.gen
		c.cancel = cancel
		c.mu.Unlock()

		done := func(rctx context.Context, result interface{}, err error) error {
			c.mu.Lock()
			if c.gen == gen {
				c.cancel = nil
			}
			c.mu.Unlock()
			cancel()
			return reply(rctx, result, err)
		}
		return next(ctx, done, req)
	}
}
