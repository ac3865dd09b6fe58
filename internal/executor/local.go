package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the command
// exits or is killed. Forked helpers can keep them open indefinitely.
const waitDelay = 5 * time.Second

// maxLogLine caps a single logged output line; Result keeps everything.
const maxLogLine = 4096

// LocalExecutor runs commands directly on the host.
type LocalExecutor struct {
	logger *slog.Logger
}

// NewLocalExecutor creates a local command executor. Output lines are
// logged at debug level as they arrive, so long jail builds show progress.
func NewLocalExecutor(logger *slog.Logger) *LocalExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalExecutor{logger: logger.With("component", "local-exec")}
}

// Run executes the command and captures its output. The command runs in
// its own process group, and the whole group is killed when ctx ends.
func (le *LocalExecutor) Run(ctx context.Context, c Command) (Result, error) {
	le.logger.Info("exec", "cmd", c.String())

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stdout := &lineWriter{logger: le.logger, stream: "stdout"}
	stderr := &lineWriter{logger: le.logger, stream: "stderr"}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		code := 1
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, os.ErrNotExist) {
			code = ExitNotFound
		}
		return Result{ExitCode: code}, fmt.Errorf("start %s: %w", c.Path, err)
	}

	waitErr := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	res := Result{Stdout: stdout.buf.Bytes(), Stderr: stderr.buf.Bytes()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case errors.Is(waitErr, exec.ErrWaitDelay):
			le.logger.Warn("output still held open after exit", "cmd", c.Path)
			res.ExitCode = cmd.ProcessState.ExitCode()
		default:
			le.logger.Warn("wait error", "cmd", c.Path, "error", waitErr)
			res.ExitCode = -1
		}
	}

	if ctx.Err() != nil {
		return res, fmt.Errorf("%s: %w", c.String(), ctx.Err())
	}
	if res.ExitCode != 0 {
		return res, newExitError(c, res)
	}
	return res, nil
}

// lineWriter keeps everything written to it and logs each complete line.
type lineWriter struct {
	logger *slog.Logger
	stream string
	buf    bytes.Buffer
	logged int
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	pending := w.buf.Bytes()[w.logged:]
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		w.log(pending[:i])
		w.logged += i + 1
		pending = pending[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing line that has no newline.
func (w *lineWriter) Flush() {
	if rest := w.buf.Bytes()[w.logged:]; len(rest) > 0 {
		w.log(rest)
		w.logged = w.buf.Len()
	}
}

func (w *lineWriter) log(line []byte) {
	if !w.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if len(line) > maxLogLine {
		line = line[:maxLogLine]
	}
	w.logger.Debug(string(line), "stream", w.stream)
}

// Exists stats path on this host.
func (le *LocalExecutor) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}
