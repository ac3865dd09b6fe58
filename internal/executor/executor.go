// Package executor implements the command execution strategies used to
// drive poudriere: Local (exec on this host) and Docker (exec inside a
// long-running builder container).
package executor

import (
	"context"
	"fmt"
	"strings"
)

// ExitNotFound is the exit code reported when the binary could not be started.
const ExitNotFound = 127

// Command is one external program invocation.
type Command struct {
	Path string
	Args []string
	Env  []string // appended to the executor's base environment
	Dir  string
}

// String renders the command the way it would be typed in a shell.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Result holds the captured output and exit status of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Executor is the interface for command execution strategies.
type Executor interface {
	// Run executes cmd and waits for it. A non-zero exit is reported
	// both in Result.ExitCode and as an *ExitError.
	Run(ctx context.Context, cmd Command) (Result, error)

	// Exists reports whether path exists where commands run. Creation
	// guards use it so they are evaluated next to the tool.
	Exists(ctx context.Context, path string) (bool, error)
}

// ExitError is returned when a command ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, e.Stderr)
}

func newExitError(cmd Command, res Result) *ExitError {
	return &ExitError{
		Command:  cmd.String(),
		ExitCode: res.ExitCode,
		Stderr:   strings.TrimSpace(string(res.Stderr)),
	}
}
