// Package logclient is the requesting side of the log command protocol.
package logclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/mattjoyce/tasklog/internal/command"
	"github.com/mattjoyce/tasklog/internal/transport"
)

// Sender is the subset of *transport.Client used here.
type Sender interface {
	Send(ctx context.Context, cmd *command.Command) (*command.Command, error)
	Close() error
	Done() <-chan struct{}
}

// Client issues typed log commands to one worker.
type Client struct {
	sender Sender
}

// New wraps a connected Sender.
func New(s Sender) *Client {
	return &Client{sender: s}
}

// GetLogBytes fetches the raw content of path. Missing files yield empty data.
func (c *Client) GetLogBytes(ctx context.Context, path string) ([]byte, error) {
	var resp command.GetLogBytesResponse
	if err := c.call(ctx, command.TypeGetLogBytesRequest, &command.GetLogBytesRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ViewLog fetches the whole of path as "\r\n"-terminated lines.
func (c *Client) ViewLog(ctx context.Context, path string) (string, error) {
	var resp command.ViewLogResponse
	if err := c.call(ctx, command.TypeViewWholeLogRequest, &command.ViewLogRequest{Path: path}, &resp); err != nil {
		return "", err
	}
	return resp.Msg, nil
}

// RollViewLog fetches at most limit lines of path after skipping skip lines.
func (c *Client) RollViewLog(ctx context.Context, path string, skip, limit int) (string, error) {
	var resp command.RollViewLogResponse
	req := &command.RollViewLogRequest{Path: path, SkipLineNum: skip, Limit: limit}
	if err := c.call(ctx, command.TypeRollViewLogRequest, req, &resp); err != nil {
		return "", err
	}
	return resp.Msg, nil
}

// RemoveTaskLog deletes paths on the worker. The status covers the whole batch.
func (c *Client) RemoveTaskLog(ctx context.Context, paths []string) (bool, error) {
	if paths == nil {
		paths = []string{}
	}
	var resp command.RemoveTaskLogResponse
	if err := c.call(ctx, command.TypeRemoveTaskLogRequest, &command.RemoveTaskLogRequest{Path: paths}, &resp); err != nil {
		return false, err
	}
	return resp.Status, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.sender.Close()
}

func (c *Client) call(ctx context.Context, t command.Type, req, resp any) error {
	cmd, err := command.NewRequest(t, req)
	if err != nil {
		return err
	}
	reply, err := c.sender.Send(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	want, _ := t.ResponseType()
	if reply.Type != want {
		return fmt.Errorf("%s: unexpected response type %s", t, reply.Type)
	}
	if err := command.Decode(reply.Body, resp); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	return nil
}

// DialFunc opens a Sender to addr.
type DialFunc func(ctx context.Context, addr string) (Sender, error)

// TransportDialer returns a DialFunc backed by transport.Dial with codec.
func TransportDialer(codec *transport.Codec) DialFunc {
	return func(ctx context.Context, addr string) (Sender, error) {
		c, err := transport.Dial(ctx, addr, codec)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Pool keeps one Client per worker address and redials dead connections.
type Pool struct {
	dial DialFunc

	mu      sync.Mutex
	clients map[string]*pooled
	closed  bool
}

type pooled struct {
	client *Client
	sender Sender
}

// NewPool creates a Pool that opens connections with dial.
func NewPool(dial DialFunc) *Pool {
	return &Pool{dial: dial, clients: make(map[string]*pooled)}
}

// Get returns a live Client for addr, dialing if needed. The dial runs
// without the pool lock, so a slow worker only delays its own callers.
func (p *Pool) Get(ctx context.Context, addr string) (*Client, error) {
	if c, err := p.cached(addr); c != nil || err != nil {
		return c, err
	}

	s, err := p.dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = s.Close()
		return nil, transport.ErrClientClosed
	}
	// Another caller may have connected while we dialed.
	if pc, ok := p.live(addr); ok {
		_ = s.Close()
		return pc.client, nil
	}
	pc := &pooled{client: New(s), sender: s}
	p.clients[addr] = pc
	return pc.client, nil
}

func (p *Pool) cached(addr string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, transport.ErrClientClosed
	}
	if pc, ok := p.live(addr); ok {
		return pc.client, nil
	}
	return nil, nil
}

// live returns the cached entry for addr, evicting it if its connection died.
// p.mu must be held.
func (p *Pool) live(addr string) (*pooled, bool) {
	pc, ok := p.clients[addr]
	if !ok {
		return nil, false
	}
	select {
	case <-pc.sender.Done():
		delete(p.clients, addr)
		return nil, false
	default:
		return pc, true
	}
}

// Close closes every cached connection. Subsequent Get calls fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var first error
	for addr, pc := range p.clients {
		if err := pc.sender.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.clients, addr)
	}
	return first
}
