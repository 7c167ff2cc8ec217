package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/tasklog/internal/audit"
	"github.com/mattjoyce/tasklog/internal/command"
	"github.com/mattjoyce/tasklog/internal/log"
	"github.com/mattjoyce/tasklog/internal/oscmd"
)

// Submitter runs tasks off the caller's goroutine. *pool.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, task func()) error
}

// Processor routes log commands to their handlers.
type Processor struct {
	pool      Submitter
	native    oscmd.Native
	recorders []audit.Recorder
	maxBody   int
	logger    *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithNative overrides the platform command builder used for deletion.
func WithNative(n oscmd.Native) Option {
	return func(p *Processor) { p.native = n }
}

// WithRecorder adds a recorder notified after every response is written.
func WithRecorder(r audit.Recorder) Option {
	return func(p *Processor) { p.recorders = append(p.recorders, r) }
}

// WithMaxBody refuses to load logs larger than n bytes; such requests get the
// degraded response. Zero means no limit.
func WithMaxBody(n int) Option {
	return func(p *Processor) { p.maxBody = n }
}

// New creates a Processor that runs handlers on pool.
func New(pool Submitter, opts ...Option) *Processor {
	p := &Processor{
		pool:   pool,
		native: oscmd.Current(),
		logger: log.WithComponent("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Types lists the request types Process accepts.
func (p *Processor) Types() []command.Type {
	return []command.Type{
		command.TypeGetLogBytesRequest,
		command.TypeViewWholeLogRequest,
		command.TypeRollViewLogRequest,
		command.TypeRemoveTaskLogRequest,
	}
}

// outcome is what a handler hands back to the response writer.
type outcome struct {
	body  any
	paths []string
	ok    bool
	bytes int
}

// Process decodes cmd and schedules its handler on the pool. The response is
// written to ch asynchronously. A non-nil error means nothing will be written.
func (p *Processor) Process(ctx context.Context, ch command.Channel, cmd *command.Command) error {
	p.logger.Debug("received command", "command", cmd.String(), "remote", ch.RemoteAddr())

	var job func(ctx context.Context) outcome

	switch cmd.Type {
	case command.TypeGetLogBytesRequest:
		var req command.GetLogBytesRequest
		if err := command.Decode(cmd.Body, &req); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		job = func(context.Context) outcome {
			data, ok := p.getLogBytes(req.Path)
			return outcome{body: &command.GetLogBytesResponse{Data: data}, paths: []string{req.Path}, ok: ok, bytes: len(data)}
		}

	case command.TypeViewWholeLogRequest:
		var req command.ViewLogRequest
		if err := command.Decode(cmd.Body, &req); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		job = func(context.Context) outcome {
			msg, ok := p.viewWholeLog(req.Path)
			return outcome{body: &command.ViewLogResponse{Msg: msg}, paths: []string{req.Path}, ok: ok, bytes: len(msg)}
		}

	case command.TypeRollViewLogRequest:
		var req command.RollViewLogRequest
		if err := command.Decode(cmd.Body, &req); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		job = func(context.Context) outcome {
			lines, ok := p.rollViewLog(req.Path, req.SkipLineNum, req.Limit)
			msg := joinLines(lines)
			return outcome{body: &command.RollViewLogResponse{Msg: msg}, paths: []string{req.Path}, ok: ok, bytes: len(msg)}
		}

	case command.TypeRemoveTaskLogRequest:
		var req command.RemoveTaskLogRequest
		if err := command.Decode(cmd.Body, &req); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		job = func(ctx context.Context) outcome {
			status := p.removeTaskLog(ctx, req.Path)
			return outcome{body: &command.RemoveTaskLogResponse{Status: status}, paths: req.Path, ok: status}
		}

	default:
		// Reaching here means the transport routed a type we never registered.
		panic(fmt.Sprintf("processor: unknown command type %s", cmd.Type))
	}

	respType, _ := cmd.Type.ResponseType()
	// Handlers run to completion even if the connection goes away.
	runCtx := context.WithoutCancel(ctx)

	if err := p.pool.Submit(ctx, func() { p.respond(runCtx, ch, cmd, respType, job) }); err != nil {
		return fmt.Errorf("submit %s: %w", cmd.Type, err)
	}
	return nil
}

// respond runs job on a pool worker and writes exactly one response.
func (p *Processor) respond(ctx context.Context, ch command.Channel, req *command.Command, respType command.Type, job func(context.Context) outcome) {
	logger := log.WithCommand(req.Opaque).With("type", req.Type.String())
	start := time.Now()

	out := job(ctx)

	resp, err := command.NewResponse(respType, req.Opaque, out.body)
	if err != nil {
		logger.Error("failed to encode response", "error", err)
		return
	}
	err = ch.Write(resp)
	if errors.Is(err, command.ErrBodyTooLarge) {
		// The caller still gets exactly one answer, just an empty one.
		logger.Warn("response too large, sending empty response", "paths", out.paths, "error", err)
		out.ok, out.bytes = false, 0
		if resp, err = command.NewResponse(respType, req.Opaque, emptyBody(respType)); err == nil {
			err = ch.Write(resp)
		}
	}
	if err != nil {
		logger.Warn("failed to write response", "remote", ch.RemoteAddr(), "error", err)
	}

	elapsed := time.Since(start)
	logger.Debug("command served", "ok", out.ok, "bytes", out.bytes, "duration_ms", elapsed.Milliseconds())

	if len(p.recorders) == 0 {
		return
	}
	entry := audit.Entry{
		Type:     req.Type.String(),
		Opaque:   req.Opaque,
		Remote:   ch.RemoteAddr(),
		Paths:    out.paths,
		OK:       out.ok,
		Bytes:    out.bytes,
		Duration: elapsed,
		At:       start,
	}
	for _, r := range p.recorders {
		if err := r.Record(ctx, entry); err != nil {
			logger.Warn("failed to record command", "error", err)
		}
	}
}

// emptyBody is the degraded response body for t.
func emptyBody(t command.Type) any {
	switch t {
	case command.TypeGetLogBytesResponse:
		return &command.GetLogBytesResponse{Data: []byte{}}
	case command.TypeViewWholeLogResponse:
		return &command.ViewLogResponse{}
	case command.TypeRollViewLogResponse:
		return &command.RollViewLogResponse{}
	case command.TypeRemoveTaskLogResponse:
		return &command.RemoveTaskLogResponse{Status: false}
	default:
		panic(fmt.Sprintf("processor: no response body for %s", t))
	}
}
