package oscmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattjoyce/tasklog/internal/log"
)

// Result describes a finished shell invocation.
type Result struct {
	ExitCode int
	// Drained counts the bytes discarded from stdout and stderr.
	Drained int64
}

// Run executes line through the Native shell and waits for it to exit.
//
// Stdout and stderr are piped and each read to EOF by its own goroutine while
// the caller waits. A child that writes more than the pipe buffer would
// otherwise block forever on write while we block on Wait.
//
// A non-zero exit is reported in Result with a nil error. err is non-nil only
// when the process could not be started or waited on.
func Run(ctx context.Context, n Native, line string) (Result, error) {
	name, flag := n.Shell()
	cmd := exec.CommandContext(ctx, name, flag, line)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start process: %w", err)
	}

	drained := Drain(stdout, stderr)

	// Wait closes the pipes, so every drain must hit EOF first.
	total := drained()
	waitErr := cmd.Wait()

	res := Result{ExitCode: 0, Drained: total}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, fmt.Errorf("wait for process: %w", waitErr)
	}
	return res, nil
}

// Drain starts one goroutine per reader that discards everything until EOF.
// The returned func blocks until all readers are exhausted and reports the
// number of bytes consumed.
func Drain(readers ...io.Reader) func() int64 {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	logger := log.WithComponent("oscmd")

	wg.Add(len(readers))
	for i, r := range readers {
		go func(idx int, r io.Reader) {
			defer wg.Done()
			n, err := io.Copy(io.Discard, r)
			if err != nil {
				logger.Debug("drain stopped early", "stream", idx, "error", err)
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}(i, r)
	}

	return func() int64 {
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		return total
	}
}
