package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/convoyinc/conservator"
	"github.com/convoyinc/conservator/pkg/config"
	"github.com/convoyinc/conservator/pkg/executor"
	"github.com/convoyinc/conservator/pkg/logging"
	"github.com/convoyinc/conservator/pkg/metrics"
	"github.com/convoyinc/conservator/pkg/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

var (
	ProgramName = "conservator"
	Version     = "dev"
)

func newApp() *cli.App {
	return &cli.App{
		Name:                   ProgramName,
		Usage:                  "runs commands when the files they depend on change",
		ArgsUsage:              "[command [args...]]",
		Version:                Version,
		UseShortOptionHandling: true,
		// globs and templates use ',' inside braces
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    "config",
				Usage:   "config file, used when no command is given",
				Value:   config.DefaultPath,
				Aliases: []string{"c"},
			},

			&cli.BoolFlag{
				Name:  "debug",
				Usage: "toggles showing debug logs",
			},

			&cli.PathFlag{
				Name:    "root",
				Usage:   "directory globs are relative to and commands run in",
				Aliases: []string{"r"},
			},

			&cli.StringSliceFlag{
				Name:    "watch",
				Usage:   "GLOB[=TEMPLATE] (triggers the command given as arguments)",
				Aliases: []string{"w"},
			},

			&cli.StringSliceFlag{
				Name:    "ignore-list",
				Usage:   "paths never watched (replaces the default list)",
				Value:   cli.NewStringSlice(watcher.DefaultIgnoreList...),
				Aliases: []string{"I"},
			},

			&cli.DurationFlag{
				Name:  "cooldown",
				Usage: "how long a file must stay quiet before its change runs commands",
				Value: 100 * time.Millisecond,
			},

			&cli.BoolFlag{
				Name:  "expand",
				Usage: "replace targets containing glob syntax with the files they match",
			},

			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text, logfmt or json",
			},

			&cli.StringFlag{
				Name:  "sse-addr",
				Usage: "serve invocations as Server Sent Events (SSE) on this address",
			},

			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve prometheus metrics on this address",
			},
		},
		Action: run,
	}
}

func main() {
	app := newApp()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if c.Bool("debug") {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Writer:     os.Stderr,
		Level:      level,
		Format:     cfg.Log.Format,
		ShowCaller: c.Bool("debug"),
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		go func() {
			if err := metrics.Serve(c.Context, cfg.MetricsAddr, reg, logger); err != nil {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	cmdExecutor := executor.NewCmdExecutor(executor.CmdExecutorArgs{
		Logger:  logger,
		Dir:     cfg.Root,
		Metrics: m,
	})
	executors := []executor.Executor{cmdExecutor}
	if cfg.SSEAddr != "" {
		executors = append(executors, executor.NewSSEExecutor(executor.SSEExecutorArgs{
			Addr:   cfg.SSEAddr,
			Logger: logger,
		}))
	}

	cons := conservator.New(conservator.Options{
		Logger:        logger,
		Root:          cfg.Root,
		Cooldown:      cfg.Cooldown,
		IgnoreList:    cfg.Ignore,
		Executors:     executors,
		Metrics:       m,
		ExpandTargets: cfg.ExpandTargets,
	})

	for _, cmd := range cfg.Commands {
		if err := cons.Run(cmd.Command, cmd.Watch...); err != nil {
			return fmt.Errorf("registering %v: %w", cmd.Command, err)
		}
	}

	fmt.Fprint(os.Stderr, summary(cons.Registrations()))

	err = cons.Start(c.Context)

	logger.Debug("waiting for running commands to exit")
	cmdExecutor.Wait()

	return err
}

// loadConfig builds the config from the command line when a command is
// given, and from the config file otherwise. Flags set explicitly override
// the file.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config

	if c.NArg() > 0 {
		cmd, err := commandFromArgs(c.Args().Slice(), c.StringSlice("watch"))
		if err != nil {
			return nil, err
		}
		cfg = &config.Config{Root: ".", Commands: []config.Command{cmd}}
		if root := os.Getenv("CONSERVATOR_ROOT"); root != "" {
			cfg.Root = root
		}
		cfg.Log.Level = os.Getenv("CONSERVATOR_LOG_LEVEL")
	} else {
		loaded, err := config.Load(c.Path("config"))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("no command given and %s not found", c.Path("config"))
			}
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("root") {
		cfg.Root = c.Path("root")
	}
	if c.IsSet("cooldown") || cfg.Cooldown == nil {
		d := c.Duration("cooldown")
		cfg.Cooldown = &d
	}
	if c.IsSet("ignore-list") || cfg.Ignore == nil {
		cfg.Ignore = c.StringSlice("ignore-list")
	}
	if c.Bool("expand") {
		cfg.ExpandTargets = true
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("sse-addr") {
		cfg.SSEAddr = c.String("sse-addr")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}

	return cfg, nil
}
