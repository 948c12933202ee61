package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/asset-graph/pkg/telemetry"
)

// Shard describes one unit of work handed to a worker process.
type Shard struct {
	Index      int
	Entries    int
	TaskPath   string
	ResultPath string
}

// Launcher runs one worker for a shard and waits for it to exit. A non-nil
// error means the worker failed; its result file may still exist.
type Launcher interface {
	Launch(ctx context.Context, shard Shard) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, shard Shard) error

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, shard Shard) error {
	return f(ctx, shard)
}

// ProcessLauncher re-executes a binary as a worker process:
//
//	<Executable> <Args...> --task <task> --result <result> <ExtraArgs...>
type ProcessLauncher struct {
	Executable string
	Args       []string
	ExtraArgs  []string
	Env        []string
	Stdout     io.Writer
	Stderr     io.Writer
}

// NewProcessLauncher creates a launcher that re-executes the current binary
// with the "worker" subcommand, forwarding extraArgs.
func NewProcessLauncher(extraArgs []string) (*ProcessLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ProcessLauncher{
		Executable: exe,
		Args:       []string{"worker"},
		ExtraArgs:  extraArgs,
		Stdout:     os.Stderr,
		Stderr:     os.Stderr,
	}, nil
}

// Launch implements Launcher. Cancelling ctx kills the process.
func (l *ProcessLauncher) Launch(ctx context.Context, shard Shard) error {
	args := make([]string, 0, len(l.Args)+len(l.ExtraArgs)+4)
	args = append(args, l.Args...)
	args = append(args, "--task", shard.TaskPath, "--result", shard.ResultPath)
	args = append(args, l.ExtraArgs...)

	cmd := exec.CommandContext(ctx, l.Executable, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, telemetry.InjectEnv(ctx)...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("worker %d: %w", shard.Index, err)
	}
	return nil
}
