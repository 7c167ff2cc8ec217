package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/mattjoyce/tasklog/internal/command"
	"github.com/mattjoyce/tasklog/internal/log"
)

// Handler processes a request and writes its response to ch, possibly later.
// A returned error closes the connection the request arrived on.
type Handler interface {
	Process(ctx context.Context, ch command.Channel, cmd *command.Command) error
}

// Server accepts framed command connections and routes each request to the
// Handler registered for its type.
type Server struct {
	codec    *Codec
	handlers map[command.Type]Handler
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a Server that frames with codec.
func NewServer(codec *Codec) *Server {
	return &Server{
		codec:    codec,
		handlers: make(map[command.Type]Handler),
		logger:   log.WithComponent("transport"),
		conns:    make(map[*conn]struct{}),
	}
}

// Register routes every type in types to h. Call before Serve.
func (s *Server) Register(h Handler, types ...command.Type) {
	for _, t := range types {
		s.handlers[t] = h
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// open connection and waits for their read loops to exit.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("command server listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeAll()
				s.wg.Wait()
				s.logger.Info("command server stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.closeAll()
			s.wg.Wait()
			return fmt.Errorf("accept failed: %w", err)
		}
		s.ServeConn(ctx, nc)
	}
}

// ServeConn serves a single already-established connection in the background.
func (s *Server) ServeConn(ctx context.Context, nc net.Conn) {
	c := &conn{nc: nc, codec: s.codec, remote: nc.RemoteAddr().String()}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
			_ = c.Close()
		}()
		s.readLoop(ctx, c)
	}()
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	logger := log.WithConn(c.remote)
	logger.Debug("connection opened")

	r := bufio.NewReader(c.nc)
	for {
		cmd, err := s.codec.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Debug("connection closed")
			} else {
				logger.Warn("dropping connection", "error", err)
			}
			return
		}

		h, ok := s.handlers[cmd.Type]
		if !ok {
			logger.Warn("no handler for command type", "command", cmd.String())
			continue
		}
		if err := h.Process(ctx, c, cmd); err != nil {
			logger.Error("command rejected, closing connection", "command", cmd.String(), "error", err)
			return
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// conn is the server side of one connection. Writes from pool workers are
// serialized so frames never interleave.
type conn struct {
	nc     net.Conn
	codec  *Codec
	remote string

	wmu sync.Mutex
}

func (c *conn) Write(cmd *command.Command) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.codec.WriteFrame(c.nc, cmd)
}

func (c *conn) RemoteAddr() string { return c.remote }

func (c *conn) Close() error { return c.nc.Close() }
