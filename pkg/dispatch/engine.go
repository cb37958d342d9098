// Package dispatch matches filesystem events against registered watches and
// turns every match into a command invocation.
//
// An Engine runs once:
//
//	Idle -> Watching -> Draining -> Stopped   (context cancelled)
//	Idle -> Watching -> Failed                (event source failed)
//
// Events are handled one at a time, in the order the event source delivers
// them. Executors must not block, so a slow command never delays the next
// event.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/convoyinc/conservator/pkg/executor"
	"github.com/convoyinc/conservator/pkg/glob"
	"github.com/convoyinc/conservator/pkg/metrics"
	"github.com/convoyinc/conservator/pkg/registry"
	"github.com/convoyinc/conservator/pkg/watch"
	"github.com/convoyinc/conservator/pkg/watcher"
)

type State int32

const (
	Idle State = iota
	Watching
	Draining
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Watching:
		return "watching"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Subscription is a live stream of file events. Errors carries failures
// after which the stream cannot be trusted.
type Subscription interface {
	Events() <-chan watcher.Event
	Errors() <-chan error
	Close() error
}

// SubscribeFunc starts delivering events for files matching any of globs.
type SubscribeFunc func(ctx context.Context, globs []string) (Subscription, error)

// ExpandFunc resolves a target glob to the files it currently names.
type ExpandFunc func(pattern string) ([]string, error)

type EngineArgs struct {
	Logger    *slog.Logger
	Registry  *registry.Registry
	Subscribe SubscribeFunc
	Executors []executor.Executor
	Metrics   *metrics.Metrics

	// Expand, if set, replaces targets containing glob syntax with the
	// files they match. Targets matching nothing are dropped.
	Expand ExpandFunc
}

type Engine struct {
	logger    *slog.Logger
	registry  *registry.Registry
	subscribe SubscribeFunc
	executors []executor.Executor
	metrics   *metrics.Metrics
	expand    ExpandFunc

	state   atomic.Int32
	counter int
}

func NewEngine(args EngineArgs) *Engine {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}
	if args.Registry == nil {
		args.Registry = registry.New()
	}

	return &Engine{
		logger:    args.Logger.With("component", "dispatch"),
		registry:  args.Registry,
		subscribe: args.Subscribe,
		executors: args.Executors,
		metrics:   args.Metrics,
		expand:    args.Expand,
	}
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Start freezes the registry, subscribes to its globs and dispatches events
// until ctx is cancelled, in which case it returns nil, or until the event
// source fails, in which case it returns a *SubscriptionFatalError. Commands
// already launched keep running after Start returns.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(Idle), int32(Watching)) {
		return ErrAlreadyStarted
	}

	if e.subscribe == nil {
		e.state.Store(int32(Failed))
		return ErrNoEventSource
	}

	e.registry.Freeze()
	regs := e.registry.Registrations()
	if len(regs) == 0 {
		e.state.Store(int32(Failed))
		return ErrNoRegistrations
	}

	globs := e.registry.AllSourceGlobs()
	sub, err := e.subscribe(ctx, globs)
	if err != nil {
		e.state.Store(int32(Failed))
		return &SubscriptionFatalError{Err: err}
	}

	var wg sync.WaitGroup
	for i, ex := range e.executors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ex.Start(); err != nil {
				e.logger.Error("executor failed to start", "executor", i, "err", err)
			}
			e.logger.Debug("executor start finished", "executor", i)
		}()
	}

	e.logger.Info("watching for changes", "globs", len(globs), "commands", len(regs))
	loopErr := e.loop(ctx, regs, sub)

	if loopErr != nil {
		e.state.Store(int32(Failed))
	} else {
		e.state.Store(int32(Draining))
	}

	if err := sub.Close(); err != nil {
		e.logger.Warn("closing subscription", "err", err)
	}
	for i, ex := range e.executors {
		if err := ex.Stop(); err != nil {
			e.logger.Warn("stopping executor", "executor", i, "err", err)
		}
	}
	wg.Wait()

	if loopErr != nil {
		return loopErr
	}
	e.state.Store(int32(Stopped))
	return nil
}

func (e *Engine) loop(ctx context.Context, regs []registry.Registration, sub Subscription) error {
	events := sub.Events()
	errs := sub.Errors()

	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("stopping", "reason", "context closed")
			return nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return &SubscriptionFatalError{Err: err}

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return &SubscriptionFatalError{Err: ErrSubscriptionClosed}
			}
			e.dispatch(regs, ev)
		}
	}
}

func (e *Engine) dispatch(regs []registry.Registration, ev watcher.Event) {
	e.metrics.ObserveEvent(string(ev.Op))
	e.logger.Debug("received", "event.op", ev.Op, "event.path", ev.Path)

	matched := false
	for _, reg := range regs {
		for _, w := range reg.Watches {
			match, ok := w.Pattern.Match(ev.Path)
			if !ok {
				continue
			}

			if !matched {
				matched = true
				e.counter++
				e.logger.Info(fmt.Sprintf("[CHANGED (%d)] %s", e.counter, ev.Path), "op", ev.Op)
			}

			targets, err := e.resolve(w, ev.Path, match)
			if err != nil {
				merr := &MatchError{Command: reg.Command, Source: w.Source, Path: ev.Path, Err: err}
				e.metrics.ObserveTransformError()
				e.logger.Error("skipping command", "err", merr)
				continue
			}
			if len(targets) == 0 {
				e.logger.Info("skipping command, targets match no files", "source", w.Source, "path", ev.Path)
				continue
			}

			command := make([]string, 0, len(reg.Command)+len(targets))
			command = append(command, reg.Command...)
			command = append(command, targets...)

			e.invoke(executor.Invocation{
				Command: command,
				Trigger: ev.Path,
				Op:      string(ev.Op),
				Source:  w.Source,
				Targets: targets,
			})
		}
	}

	if !matched {
		e.logger.Debug("no watch matches", "event.path", ev.Path)
	}
}

func (e *Engine) resolve(w watch.NormalizedWatch, path string, match []string) (targets []string, err error) {
	if w.Transform == nil {
		return []string{path}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			targets, err = nil, fmt.Errorf("transform panicked: %v", r)
		}
	}()

	targets, err = w.Transform(path, match)
	if err != nil {
		return nil, err
	}

	if e.expand == nil {
		return targets, nil
	}

	expanded := make([]string, 0, len(targets))
	for _, t := range targets {
		if !glob.HasMagic(t) {
			expanded = append(expanded, t)
			continue
		}
		files, err := e.expand(t)
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", t, err)
		}
		expanded = append(expanded, files...)
	}
	return expanded, nil
}

func (e *Engine) invoke(inv executor.Invocation) {
	e.metrics.ObserveInvocation()
	for i, ex := range e.executors {
		if err := ex.OnWatchEvent(inv); err != nil {
			e.logger.Error("failed to run command", "executor", i, "command", inv.Command, "err", err)
		}
	}
}
