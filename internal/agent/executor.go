// ABOUTME: Runs shell commands as subprocesses with separately captured stdout and stderr.
// ABOUTME: Launch failures and abnormal termination are reported as exit code 127, never as errors.

package agent

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/2389/coven-fleet/internal/protocol"
)

// TruncationMarker is appended to a stream that exceeded the output cap.
const TruncationMarker = "\n[output truncated]\n"

// Outcome is what a command produced.
type Outcome struct {
	Exit   int
	Stdout string
	Stderr string
}

// Executor runs commands through a shell. It has no timeout and no
// cancellation: Run blocks until the command exits.
type Executor struct {
	shell     []string
	maxOutput int
	logger    *slog.Logger
}

// NewExecutor creates an executor. shell is the interpreter and its flag,
// such as "bash -c"; empty selects sh -c (cmd /C on Windows). A maxOutput
// of zero or less leaves output uncapped.
func NewExecutor(shell string, maxOutput int, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	argv := strings.Fields(shell)
	if len(argv) == 0 {
		argv = defaultShell()
	}
	return &Executor{shell: argv, maxOutput: maxOutput, logger: logger}
}

func defaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"/bin/sh", "-c"}
}

// Run executes command and waits for it.
func (e *Executor) Run(command string) Outcome {
	stdout := &cappedBuffer{max: e.maxOutput}
	stderr := &cappedBuffer{max: e.maxOutput}

	args := append(append([]string{}, e.shell[1:]...), command)
	cmd := exec.Command(e.shell[0], args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()

	out := Outcome{}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.Exit = exitErr.ExitCode()
		if out.Exit < 0 {
			out.Exit = protocol.ExitLaunchFailure
			fmt.Fprintf(stderr, "command terminated abnormally: %s", exitErr.ProcessState)
		}
	default:
		out.Exit = protocol.ExitLaunchFailure
		fmt.Fprintf(stderr, "failed to run command: %v", err)
		e.logger.Error("command failed to start", "command", command, "error", err)
	}
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()

	e.logger.Info("command finished",
		"command", command,
		"exit", out.Exit,
		"duration", time.Since(start).Round(time.Millisecond),
		"stdout_bytes", len(out.Stdout),
		"stderr_bytes", len(out.Stderr),
	)
	return out
}

// cappedBuffer keeps the first max bytes written and silently discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	room := b.max - b.buf.Len()
	if len(p) > room {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + TruncationMarker
	}
	return b.buf.String()
}
