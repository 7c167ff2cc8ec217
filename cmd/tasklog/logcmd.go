package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/tasklog/internal/command"
	"github.com/mattjoyce/tasklog/internal/config"
	"github.com/mattjoyce/tasklog/internal/logclient"
	"github.com/mattjoyce/tasklog/internal/transport"
)

func runLogNoun(args []string) int {
	if len(args) < 1 {
		printLogNounHelp(stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printLogNounHelp(stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "get", "view", "roll", "rm":
		return runLogAction(action, actionArgs)
	default:
		fmt.Fprintf(stderr, "Unknown log action: %s\n", action)
		return 1
	}
}

func printLogNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: tasklog log <action> --host HOST:PORT [flags] <path>...")
	fmt.Fprintln(w, "Actions: get, view, roll, rm")
	fmt.Fprintln(w, "Common flags: --config PATH, --timeout DURATION")
	fmt.Fprintln(w, "roll flags:   --skip N, --limit N, --follow, --interval DURATION")
	fmt.Fprintln(w, "get flags:    --out FILE")
}

type logFlags struct {
	host     string
	config   string
	timeout  time.Duration
	skip     int
	limit    int
	follow   bool
	interval time.Duration
	out      string
}

func runLogAction(action string, args []string) int {
	var f logFlags
	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.host, "host", "", "Worker address (host:port)")
	fs.StringVar(&f.config, "config", "", "Path to configuration file or directory")
	fs.DurationVar(&f.timeout, "timeout", 0, "Per-request timeout (default client.timeout)")
	if action == "roll" {
		fs.IntVar(&f.skip, "skip", 0, "Lines to skip")
		fs.IntVar(&f.limit, "limit", 100, "Maximum lines per request")
		fs.BoolVar(&f.follow, "follow", false, "Keep polling for new lines; a partial last line is completed in place")
		fs.DurationVar(&f.interval, "interval", time.Second, "Poll interval with --follow")
	}
	if action == "get" {
		fs.StringVar(&f.out, "out", "", "Write bytes to FILE instead of stdout")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if f.host == "" {
		fmt.Fprintln(stderr, "Error: --host is required")
		return 1
	}
	paths := fs.Args()
	if action != "rm" && len(paths) != 1 {
		fmt.Fprintf(stderr, "Usage: tasklog log %s --host HOST:PORT <path>\n", action)
		return 1
	}
	if action == "rm" && len(paths) == 0 {
		fmt.Fprintln(stderr, "Usage: tasklog log rm --host HOST:PORT <path>...")
		return 1
	}
	if f.skip < 0 || f.limit < 0 {
		fmt.Fprintln(stderr, "Error: --skip and --limit must be non-negative")
		return 1
	}

	cfg := clientConfig(f.config)
	if f.timeout <= 0 {
		f.timeout = cfg.Client.Timeout
	}

	codec, err := transport.NewCodec(cfg.Server.MaxFrameSize, 0)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer codec.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, f.timeout)
	conn, err := transport.Dial(dialCtx, f.host, codec)
	cancel()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	client := logclient.New(conn)
	defer client.Close()

	switch action {
	case "get":
		err = logGet(ctx, client, f, paths[0])
	case "view":
		err = logView(ctx, client, f, paths[0])
	case "roll":
		err = logRoll(ctx, client, f, paths[0])
	case "rm":
		err = logRemove(ctx, client, f, paths)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// clientConfig returns the loaded config, or Defaults when none is found.
// Log commands only need client-side settings.
func clientConfig(path string) *config.Config {
	cfg, err := loadConfig(path)
	if err != nil {
		if path != "" {
			fmt.Fprintf(stderr, "Warning: %v (using defaults)\n", err)
		}
		return config.Defaults()
	}
	return cfg
}

func logGet(ctx context.Context, c *logclient.Client, f logFlags, path string) error {
	rctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	data, err := c.GetLogBytes(rctx, path)
	if err != nil {
		return err
	}
	if f.out != "" {
		return os.WriteFile(f.out, data, 0o644)
	}
	_, err = stdout.Write(data)
	return err
}

func logView(ctx context.Context, c *logclient.Client, f logFlags, path string) error {
	rctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	msg, err := c.ViewLog(rctx, path)
	if err != nil {
		return err
	}
	_, err = io.WriteString(stdout, toLocalLines(msg))
	return err
}

// logRoll prints one window, or with --follow keeps polling from the last
// line received until interrupted.
func logRoll(ctx context.Context, c *logclient.Client, f logFlags, path string) error {
	if !f.follow {
		rctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		msg, err := c.RollViewLog(rctx, path, f.skip, f.limit)
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, toLocalLines(msg))
		return err
	}

	// The last line of a window needs a line after it to be known complete.
	limit := max(f.limit, 2)
	fl := &follower{skip: f.skip}
	defer fl.finish(stdout)
	for {
		rctx, cancel := context.WithTimeout(ctx, f.timeout)
		msg, err := c.RollViewLog(rctx, path, fl.skip, limit)
		cancel()
		if err != nil {
			return err
		}
		n := splitWindow(msg)
		if _, err := io.WriteString(stdout, fl.feed(n)); err != nil {
			return err
		}
		if len(n) >= limit {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.interval):
		}
	}
}

// follower tails a file through roll windows. A window's final line may still
// be growing, so it is printed without its newline and re-read from skip on
// the next poll; only the new tail of it is printed then.
type follower struct {
	skip    int
	pending string
	open    bool
}

// feed consumes one window starting at f.skip and returns the text to print.
func (f *follower) feed(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	for i, line := range lines {
		if i == 0 && f.open {
			if strings.HasPrefix(line, f.pending) {
				line = line[len(f.pending):]
			} else {
				// Rewritten under us; start a fresh line.
				b.WriteString("\n")
			}
		}
		b.WriteString(line)
		if i < len(lines)-1 {
			b.WriteString("\n")
		}
	}
	f.skip += len(lines) - 1
	f.pending = lines[len(lines)-1]
	f.open = true
	return b.String()
}

// finish terminates a final line left open by feed.
func (f *follower) finish(w io.Writer) {
	if f.open {
		_, _ = io.WriteString(w, "\n")
	}
}

// splitWindow breaks a roll response into its lines.
func splitWindow(msg string) []string {
	if msg == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(msg, command.LineTerminator), command.LineTerminator)
}

func logRemove(ctx context.Context, c *logclient.Client, f logFlags, paths []string) error {
	rctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ok, err := c.RemoveTaskLog(rctx, paths)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("worker reported failure removing %d path(s)", len(paths))
	}
	fmt.Fprintf(stdout, "removed %d path(s)\n", len(paths))
	return nil
}

func toLocalLines(msg string) string {
	return strings.ReplaceAll(msg, command.LineTerminator, "\n")
}
