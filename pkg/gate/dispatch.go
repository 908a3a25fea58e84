package gate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
)

// DispatchConfig holds the subset of daemon configuration the
// Dispatcher needs.
type DispatchConfig struct {
	Command       string
	TimeoutSec    float64
	WorkspacePath string
}

// CommandDispatcher invokes the downstream agent command with the
// session's accumulated text on its stdin.
type CommandDispatcher struct {
	cfg DispatchConfig
	log Logger
}

// NewDispatcher builds a Dispatcher for the given config.
func NewDispatcher(cfg DispatchConfig, log Logger) *CommandDispatcher {
	if log == nil {
		log = NoOpLogger{}
	}
	return &CommandDispatcher{cfg: cfg, log: log}
}

// Dispatch tokenizes the configured command line, spawns it with the
// parent environment plus YATAGARASU_CWD, writes text to its stdin, and
// enforces dispatch_timeout_sec. A non-zero exit is logged as a
// warning; a timeout is logged as an error. Both are non-fatal: the
// core resumes listening either way, so Dispatch never returns an error
// that should abort the run loop -- callers only log it.
func (d *CommandDispatcher) Dispatch(text string) error {
	args, err := shlex.Split(d.cfg.Command)
	if err != nil || len(args) == 0 {
		return fmt.Errorf("dispatch: invalid command %q: %w", d.cfg.Command, err)
	}

	timeout := d.cfg.TimeoutSec
	if timeout <= 0 {
		timeout = 20.0
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout*float64(time.Second)))
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), "YATAGARASU_CWD="+d.cfg.WorkspacePath)
	cmd.Stdin = strings.NewReader(text)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		d.log.Error("dispatch timed out", "timeout_sec", timeout, "output", out.String())
		return fmt.Errorf("dispatch: timed out after %.1fs", timeout)
	}
	if runErr != nil {
		d.log.Warn("dispatch exited non-zero", "error", runErr, "output", out.String())
		return nil
	}
	d.log.Debug("dispatch completed", "output", out.String())
	return nil
}
