package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/tasklog/internal/command"
	"github.com/mattjoyce/tasklog/internal/log"
)

// ErrClientClosed is returned for requests that cannot complete because the
// connection went away.
var ErrClientClosed = errors.New("client closed")

// Client multiplexes requests over one connection, matching responses by opaque.
type Client struct {
	nc     net.Conn
	codec  *Codec
	logger *slog.Logger

	next atomic.Uint64
	wmu  sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan *command.Command
	err     error
	done    chan struct{}
}

// Dial connects to a command server at addr.
func Dial(ctx context.Context, addr string, codec *Codec) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return NewClient(nc, codec), nil
}

// NewClient wraps an established connection and starts its read loop.
func NewClient(nc net.Conn, codec *Codec) *Client {
	c := &Client{
		nc:      nc,
		codec:   codec,
		logger:  log.WithComponent("client").With("remote", nc.RemoteAddr().String()),
		pending: make(map[uint64]chan *command.Command),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Send assigns cmd a fresh opaque, writes it and waits for the matching response.
func (c *Client) Send(ctx context.Context, cmd *command.Command) (*command.Command, error) {
	opaque := c.next.Add(1)
	cmd.Opaque = opaque
	ch := make(chan *command.Command, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[opaque] = ch
	c.mu.Unlock()

	c.wmu.Lock()
	err := c.codec.WriteFrame(c.nc, cmd)
	c.wmu.Unlock()
	if err != nil {
		c.forget(opaque)
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		c.forget(opaque)
		// A response may have raced the shutdown.
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		return nil, c.Err()
	case <-ctx.Done():
		c.forget(opaque)
		return nil, ctx.Err()
	}
}

// Close closes the connection and fails every pending request.
func (c *Client) Close() error {
	err := c.nc.Close()
	<-c.done
	return err
}

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the client stopped, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) forget(opaque uint64) {
	c.mu.Lock()
	delete(c.pending, opaque)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	r := bufio.NewReader(c.nc)
	var cause error
	for {
		resp, err := c.codec.ReadFrame(r)
		if err != nil {
			cause = err
			break
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.Opaque]
		delete(c.pending, resp.Opaque)
		c.mu.Unlock()

		if !ok {
			c.logger.Warn("response for unknown opaque", "command", resp.String())
			continue
		}
		ch <- resp
	}

	c.mu.Lock()
	c.err = fmt.Errorf("%w: %v", ErrClientClosed, cause)
	c.pending = make(map[uint64]chan *command.Command)
	c.mu.Unlock()
	close(c.done)
	c.logger.Debug("client read loop exited", "cause", cause)
}
