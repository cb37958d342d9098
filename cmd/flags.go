package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/convoyinc/conservator/pkg/config"
	"github.com/convoyinc/conservator/pkg/watch"
)

// parseWatchFlag turns one --watch value into a watch: a bare glob, or
// GLOB=TEMPLATE for a glob whose matches are transformed.
func parseWatchFlag(s string) (any, error) {
	glob, template, found := strings.Cut(s, "=")
	if glob == "" {
		return nil, fmt.Errorf("invalid --watch %q: glob is empty", s)
	}
	if !found {
		return glob, nil
	}
	if template == "" {
		return nil, fmt.Errorf("invalid --watch %q: template is empty", s)
	}
	return watch.Map{{Glob: glob, Mapper: template}}, nil
}

func commandFromArgs(args []string, watchFlags []string) (config.Command, error) {
	if len(watchFlags) == 0 {
		return config.Command{}, errors.New("a command needs at least one --watch")
	}

	cmd := config.Command{Command: args}
	for _, f := range watchFlags {
		w, err := parseWatchFlag(f)
		if err != nil {
			return config.Command{}, err
		}
		cmd.Watch = append(cmd.Watch, w)
	}
	return cmd, nil
}
