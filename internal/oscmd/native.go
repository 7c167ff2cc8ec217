// Package oscmd builds platform shell commands and runs them with both output
// pipes drained.
package oscmd

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrUnsafePath is returned for a path the target shell cannot quote safely.
var ErrUnsafePath = errors.New("path cannot be quoted for the shell")

// Native supplies the platform-specific pieces of a shell command line.
type Native interface {
	// DeleteFileCmd returns the fragment that deletes a single path.
	DeleteFileCmd(path string) string
	// Separator joins fragments into one command line.
	Separator() string
	// Shell returns the interpreter and the flag that takes a command string.
	Shell() (name string, flag string)
}

// ForOS returns the Native implementation for goos.
func ForOS(goos string) Native {
	if goos == "windows" {
		return Windows{}
	}
	return Unix{}
}

// Current returns the Native implementation for the running platform.
func Current() Native {
	return ForOS(runtime.GOOS)
}

// Unix targets POSIX sh.
type Unix struct{}

func (Unix) DeleteFileCmd(path string) string { return "rm -rf " + shQuote(path) }
func (Unix) Separator() string                { return ";" }
func (Unix) Shell() (string, string)          { return "sh", "-c" }

// shQuote wraps s in single quotes so the shell treats it as one literal word.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// PathChecker is implemented by Natives that cannot quote every path.
type PathChecker interface {
	CheckPath(path string) error
}

// Windows targets cmd.exe.
type Windows struct{}

func (Windows) DeleteFileCmd(path string) string { return `del /F /Q "` + path + `"` }
func (Windows) Separator() string                { return "&" }
func (Windows) Shell() (string, string)          { return "cmd", "/C" }

// cmd.exe has no escape inside double quotes, and % expands even there.
const windowsUnsafe = "\"%&|<>^!\r\n\x00"

// CheckPath rejects paths that could end the quoted argument or expand.
func (Windows) CheckPath(path string) error {
	if i := strings.IndexAny(path, windowsUnsafe); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", ErrUnsafePath, path, path[i])
	}
	return nil
}

// DeleteCommandLine joins one delete fragment per path, each followed by the
// separator. It returns "" for no paths. Nothing is built if any path fails
// the Native's CheckPath.
func DeleteCommandLine(n Native, paths []string) (string, error) {
	if pc, ok := n.(PathChecker); ok {
		for _, p := range paths {
			if err := pc.CheckPath(p); err != nil {
				return "", err
			}
		}
	}
	var b strings.Builder
	for _, p := range paths {
		b.WriteString(n.DeleteFileCmd(p))
		b.WriteString(n.Separator())
	}
	return b.String(), nil
}
