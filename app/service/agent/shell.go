package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/tools"
)

const (
	ToolShell = "shell"

	maxShellOutput = 20000
)

func newShellTool(cfg config.Shell) tools.Tool {
	return &agentTool{
		name: ToolShell,
		description: fmt.Sprintf("Run a shell command with sh -c and return its combined stdout and stderr with the exit code. "+
			"Input is the command line. Commands run in %q and are killed after %s.", cfg.WorkDir, cfg.Timeout),
		call: func(ctx context.Context, input string) (string, error) {
			return runShell(ctx, cfg, input)
		},
	}
}

func runShell(ctx context.Context, cfg config.Shell, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", oops.In("agent").Errorf("command is empty")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cfg.WorkDir
	cmd.Stdout = &out
	cmd.Stderr = &out
	// children that outlive sh keep the output pipe open
	cmd.WaitDelay = time.Second

	err := cmd.Run()

	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", oops.In("agent").With("command", command).Errorf("command timed out after %s: %s", timeout, truncate(out.String()))
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
	case err != nil:
		return "", oops.In("agent").With("command", command).Errorf("failed to run command: %w", err)
	}

	return fmt.Sprintf("%s\n[exit code: %d]", strings.TrimRight(truncate(out.String()), "\n"), exitCode), nil
}

func truncate(s string) string {
	if len(s) <= maxShellOutput {
		return s
	}
	return s[:maxShellOutput] + "\n... output truncated"
}
