// Package logging builds the slog.Logger every component logs through,
// rendered by charmbracelet/log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

type Options struct {
	Writer io.Writer
	// Level is one of debug, info, warn, error.
	Level string
	// Format is one of text, logfmt, json.
	Format string
	Prefix string

	ShowCaller    bool
	ShowTimestamp bool
}

func New(opts Options) (*slog.Logger, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var formatter log.Formatter
	switch opts.Format {
	case "", "text":
		formatter = log.TextFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	case "json":
		formatter = log.JSONFormatter
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	handler := log.NewWithOptions(opts.Writer, log.Options{
		ReportCaller:    opts.ShowCaller,
		ReportTimestamp: opts.ShowTimestamp,
		TimeFormat:      time.Kitchen,
		Prefix:          opts.Prefix,
		Formatter:       formatter,
		Level:           level,
	})

	return slog.New(handler), nil
}
