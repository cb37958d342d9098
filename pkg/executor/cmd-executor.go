package executor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/convoyinc/conservator/pkg/metrics"
)

// ErrStopped is returned by OnWatchEvent after Stop.
var ErrStopped = errors.New("executor stopped")

// Result describes a finished command.
type Result struct {
	Invocation Invocation
	Pid        int
	ExitCode   int
	Err        error
	Duration   time.Duration
}

// CmdExecutor runs every invocation as its own process and never waits for
// it: overlapping runs of the same command are possible when files change
// faster than the command finishes.
type CmdExecutor struct {
	logger  *slog.Logger
	dir     string
	env     []string
	stdout  io.Writer
	stderr  io.Writer
	onExit  func(Result)
	metrics *metrics.Metrics

	mu      sync.Mutex
	stopped bool
	running sync.WaitGroup
}

type CmdExecutorArgs struct {
	Logger *slog.Logger
	// Dir is the working directory of launched commands, the current one if empty.
	Dir string
	// Env is appended to the environment of this process.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	// OnExit, if set, is called from a background goroutine after each command exits.
	OnExit  func(Result)
	Metrics *metrics.Metrics
}

func NewCmdExecutor(args CmdExecutorArgs) *CmdExecutor {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}
	if args.Stdout == nil {
		args.Stdout = os.Stdout
	}
	if args.Stderr == nil {
		args.Stderr = os.Stderr
	}

	return &CmdExecutor{
		logger:  args.Logger.With("component", "cmd-executor"),
		dir:     args.Dir,
		env:     args.Env,
		stdout:  args.Stdout,
		stderr:  args.Stderr,
		onExit:  args.OnExit,
		metrics: args.Metrics,
	}
}

// OnWatchEvent implements Executor.
func (ex *CmdExecutor) OnWatchEvent(inv Invocation) error {
	if len(inv.Command) == 0 {
		return errors.New("empty command")
	}

	ex.mu.Lock()
	if ex.stopped {
		ex.mu.Unlock()
		return ErrStopped
	}
	ex.running.Add(1)
	ex.mu.Unlock()

	cmd := exec.Command(inv.Command[0], inv.Command[1:]...)
	cmd.Dir = ex.dir
	cmd.Stdout = ex.stdout
	cmd.Stderr = ex.stderr
	if len(ex.env) > 0 {
		cmd.Env = append(os.Environ(), ex.env...)
	}
	// own process group, so an interrupt aimed at us does not reach the command
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	line := strings.Join(inv.Command, " ")
	start := time.Now()
	if err := cmd.Start(); err != nil {
		ex.running.Done()
		ex.metrics.ObserveExit(metrics.ExitSpawnError)
		return fmt.Errorf("failed to start %q: %w", line, err)
	}

	ex.logger.Info(fmt.Sprintf("[RUNNING] %s", line), "pid", cmd.Process.Pid, "trigger", inv.Trigger)

	go func() {
		defer ex.running.Done()

		err := cmd.Wait()
		res := Result{
			Invocation: inv,
			Pid:        cmd.Process.Pid,
			Err:        err,
			Duration:   time.Since(start),
		}

		var exitErr *exec.ExitError
		switch {
		case err == nil:
			ex.metrics.ObserveExit(metrics.ExitOK)
			ex.logger.Debug("process finished", "command", line, "pid", res.Pid, "took", res.Duration.String())
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			ex.metrics.ObserveExit(metrics.ExitFailed)
			ex.logger.Warn("process failed", "command", line, "pid", res.Pid, "exit-code", res.ExitCode)
		default:
			res.ExitCode = -1
			ex.metrics.ObserveExit(metrics.ExitFailed)
			ex.logger.Error("while waiting, got", "command", line, "pid", res.Pid, "err", err)
		}

		if ex.onExit != nil {
			ex.onExit(res)
		}
	}()

	return nil
}

// Start implements Executor.
func (ex *CmdExecutor) Start() error {
	return nil
}

// Stop implements Executor. Commands already running are left alone; use
// Wait to block until they finish.
func (ex *CmdExecutor) Stop() error {
	ex.mu.Lock()
	ex.stopped = true
	ex.mu.Unlock()
	return nil
}

// Wait blocks until every launched command has exited.
func (ex *CmdExecutor) Wait() {
	ex.running.Wait()
}

var _ Executor = (*CmdExecutor)(nil)
