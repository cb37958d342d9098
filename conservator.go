// Package conservator runs commands when the files they depend on change.
//
//	c := conservator.New(conservator.Options{})
//	c.Run([]string{"npm", "test"}, map[string]string{"src/(*).js": "test/${1}.test.js"})
//	c.Run([]string{"npm", "run", "lint"}, "src/**/*.js")
//	err := c.Start(ctx)
//
// Saving src/foo.js then runs "npm test test/foo.test.js" and
// "npm run lint src/foo.js".
package conservator

import (
	"context"
	"log/slog"
	"time"

	"github.com/convoyinc/conservator/pkg/dispatch"
	"github.com/convoyinc/conservator/pkg/executor"
	"github.com/convoyinc/conservator/pkg/glob"
	"github.com/convoyinc/conservator/pkg/metrics"
	"github.com/convoyinc/conservator/pkg/registry"
	"github.com/convoyinc/conservator/pkg/watcher"
)

type Options struct {
	Logger *slog.Logger

	// Root is the directory globs are relative to and commands run in, the
	// current directory if empty.
	Root string
	// Cooldown is how long a file must stay quiet before its change is
	// dispatched.
	Cooldown   *time.Duration
	IgnoreList []string

	// Executors receive every invocation. When empty, each invocation is run
	// as a process.
	Executors []executor.Executor
	Metrics   *metrics.Metrics

	// ExpandTargets resolves targets containing glob syntax to the files
	// they match under Root.
	ExpandTargets bool

	// Subscribe replaces the filesystem watcher as the source of events.
	Subscribe dispatch.SubscribeFunc
}

type Conservator struct {
	opts     Options
	logger   *slog.Logger
	registry *registry.Registry
	engine   *dispatch.Engine
	cmd      *executor.CmdExecutor
}

func New(opts Options) *Conservator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Conservator{
		opts:     opts,
		logger:   opts.Logger,
		registry: registry.New(),
	}

	executors := opts.Executors
	if len(executors) == 0 {
		c.cmd = executor.NewCmdExecutor(executor.CmdExecutorArgs{
			Logger:  opts.Logger,
			Dir:     opts.Root,
			Metrics: opts.Metrics,
		})
		executors = []executor.Executor{c.cmd}
	}

	subscribe := opts.Subscribe
	if subscribe == nil {
		subscribe = c.subscribe
	}

	var expand dispatch.ExpandFunc
	if opts.ExpandTargets {
		root := opts.Root
		if root == "" {
			root = "."
		}
		expand = func(pattern string) ([]string, error) {
			return glob.Expand(root, pattern)
		}
	}

	c.engine = dispatch.NewEngine(dispatch.EngineArgs{
		Logger:    opts.Logger,
		Registry:  c.registry,
		Subscribe: subscribe,
		Executors: executors,
		Metrics:   opts.Metrics,
		Expand:    expand,
	})

	return c
}

// Run registers command to be run whenever a file matching watches changes.
// See watch.Normalize for the accepted watch shapes. Run fails once Start
// has been called.
func (c *Conservator) Run(command []string, watches ...any) error {
	return c.registry.Register(command, watches...)
}

func (c *Conservator) Registrations() []registry.Registration {
	return c.registry.Registrations()
}

// Start watches until ctx is cancelled or watching fails. It can only be
// called once.
func (c *Conservator) Start(ctx context.Context) error {
	return c.engine.Start(ctx)
}

func (c *Conservator) State() dispatch.State {
	return c.engine.State()
}

// Wait blocks until the commands launched by the default executor exit. It
// returns immediately when Options.Executors was set.
func (c *Conservator) Wait() {
	if c.cmd != nil {
		c.cmd.Wait()
	}
}

func (c *Conservator) subscribe(ctx context.Context, globs []string) (dispatch.Subscription, error) {
	w, err := watcher.Subscribe(ctx, watcher.WatcherArgs{
		Logger:           c.logger,
		Root:             c.opts.Root,
		Globs:            globs,
		IgnoreList:       c.opts.IgnoreList,
		CooldownDuration: c.opts.Cooldown,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}
