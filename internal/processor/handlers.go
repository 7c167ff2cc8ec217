package processor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/mattjoyce/tasklog/internal/command"
	"github.com/mattjoyce/tasklog/internal/oscmd"
)

// getLogBytes returns the file content, or an empty slice if it can't be read
// or is larger than the body limit.
func (p *Processor) getLogBytes(path string) ([]byte, bool) {
	f, err := os.Open(path)
	if err != nil {
		p.logger.Error("get file bytes error", "path", path, "error", err)
		return []byte{}, false
	}
	defer f.Close()

	var r io.Reader = f
	if p.maxBody > 0 {
		r = io.LimitReader(f, int64(p.maxBody)+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		p.logger.Error("get file bytes error", "path", path, "error", err)
		return []byte{}, false
	}
	if p.maxBody > 0 && len(data) > p.maxBody {
		p.logger.Warn("log exceeds body limit", "path", path, "limit", p.maxBody)
		return []byte{}, false
	}
	return data, true
}

// viewWholeLog returns every line of the file followed by the line terminator.
func (p *Processor) viewWholeLog(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		p.logger.Error("read file error", "path", path, "error", err)
		return "", false
	}
	defer f.Close()

	var b strings.Builder
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			b.WriteString(trimEOL(line))
			b.WriteString(command.LineTerminator)
			if p.maxBody > 0 && b.Len() > p.maxBody {
				p.logger.Warn("log exceeds body limit", "path", path, "limit", p.maxBody)
				return "", false
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.logger.Error("read file error", "path", path, "error", err)
			return "", false
		}
	}
	return b.String(), true
}

// rollViewLog streams the file and returns at most limit lines after skipping
// skip of them. Reading stops once the window is filled.
func (p *Processor) rollViewLog(path string, skip, limit int) ([]string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		p.logger.Info("file path not exists", "path", path)
		return nil, false
	}

	f, err := os.Open(path)
	if err != nil {
		p.logger.Error("read file error", "path", path, "error", err)
		return nil, false
	}
	defer f.Close()

	lines, err := readWindow(bufio.NewReader(f), skip, limit)
	if err != nil {
		p.logger.Error("read file error", "path", path, "error", err)
		return nil, false
	}
	return lines, true
}

// removeTaskLog deletes every path with a single shell invocation.
func (p *Processor) removeTaskLog(ctx context.Context, paths []string) bool {
	if len(paths) == 0 {
		return true
	}

	line, err := oscmd.DeleteCommandLine(p.native, paths)
	if err != nil {
		p.logger.Error("remove task log refused", "paths", paths, "error", err)
		return false
	}
	res, err := oscmd.Run(ctx, p.native, line)
	if err != nil {
		p.logger.Error("remove task log error", "paths", paths, "error", err)
		return false
	}
	if res.ExitCode != 0 {
		p.logger.Warn("remove task log exited non-zero", "paths", paths, "exit_code", res.ExitCode)
		return false
	}
	return true
}

// readWindow skips skip lines of r, then collects up to limit lines.
// A final line without a newline still counts as a line.
func readWindow(r *bufio.Reader, skip, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	for i := 0; i < skip; i++ {
		more, err := discardLine(r)
		if err != nil {
			return nil, err
		}
		if !more {
			return nil, nil
		}
	}

	var lines []string
	for len(lines) < limit {
		line, err := r.ReadString('\n')
		if line != "" {
			lines = append(lines, trimEOL(line))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return lines, nil
}

// discardLine consumes through the next newline without allocating the line.
// It reports false when r was already at EOF.
func discardLine(r *bufio.Reader) (bool, error) {
	consumed := false
	for {
		frag, err := r.ReadSlice('\n')
		if len(frag) > 0 {
			consumed = true
		}
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return consumed, nil
		default:
			return consumed, err
		}
	}
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// joinLines appends the terminator after every line, the last included.
func joinLines(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString(command.LineTerminator)
	}
	return b.String()
}
