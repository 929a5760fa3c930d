// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/drillsergeant/coach/internal/llm"
)

// Reply is one scripted answer. Err wins over Text.
type Reply struct {
	Text string
	Err  error
}

// Client answers calls from a queue of replies, or from Func when set.
type Client struct {
	mu      sync.Mutex
	replies []Reply
	calls   []llm.Request

	// Func, when non-nil, answers every call instead of the queue.
	Func func(ctx context.Context, req llm.Request) (string, error)
}

// New returns a client that answers with texts in order.
func New(texts ...string) *Client {
	c := &Client{}
	for _, t := range texts {
		c.replies = append(c.replies, Reply{Text: t})
	}
	return c
}

// Push queues another reply.
func (c *Client) Push(r Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, r)
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	fn := c.Func
	if fn != nil {
		c.mu.Unlock()
		return fn(ctx, req)
	}
	if len(c.replies) == 0 {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: no scripted reply", llm.ErrTransport)
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrTransport, err)
	}
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

// Calls returns a copy of every request received.
func (c *Client) Calls() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.calls...)
}
