// Package proc runs external commands in their own process group so that a
// cancelled context kills the whole tree, not just the direct child.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// waitDelay bounds how long Wait blocks on output pipes after the kill.
const waitDelay = 5 * time.Second

// ErrTimeout is returned when the context deadline ended the process.
var ErrTimeout = errors.New("process timed out")

// Spec describes one command execution.
type Spec struct {
	Cmd    []string
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes spec and returns its exit code. A non-zero exit is not an
// error; failing to start, or being killed by ctx, is.
func Run(ctx context.Context, spec Spec) (int, error) {
	if len(spec.Cmd) == 0 {
		return -1, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, spec.Cmd[0], spec.Cmd[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = spec.Stdin
	cmd.Stdout = orDiscard(spec.Stdout)
	cmd.Stderr = orDiscard(spec.Stderr)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		log.Debug().Int("pid", cmd.Process.Pid).Strs("cmd", spec.Cmd).Msg("killing process group")
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return -1, ErrTimeout
		}
		return -1, ctxErr
	}
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("run %s: %w", spec.Cmd[0], err)
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
