package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/convoyinc/conservator/pkg/watch"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "conservator.yml"

// Config is the contents of a conservator.yml file:
//
//	cooldown: 100ms
//	commands:
//	  - command: [npm, test]
//	    watch:
//	      - "src/(*).js": "test/${1}.test.js"
//	  - command: [npm, run, lint]
//	    watch: "src/**/*.js"
type Config struct {
	Root          string         `yaml:"root"`
	Cooldown      *time.Duration `yaml:"cooldown" validate:"omitempty,min=0"`
	Ignore        []string       `yaml:"ignore"`
	ExpandTargets bool           `yaml:"expand_targets"`
	Log           Log            `yaml:"log"`
	SSEAddr       string         `yaml:"sse_addr" validate:"omitempty,hostname_port"`
	MetricsAddr   string         `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	Commands      []Command      `yaml:"commands" validate:"required,min=1,dive"`
}

type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text logfmt json"`
}

type Command struct {
	Command []string  `yaml:"command" validate:"required,min=1,dive,required"`
	Watch   WatchList `yaml:"watch" validate:"required,min=1"`
}

// WatchList holds watches in the shapes watch.Normalize accepts: bare globs
// and ordered watch.Maps.
type WatchList []any

// UnmarshalYAML accepts a single glob, a single mapping, or a list of both.
// Mappings keep the order they are written in.
func (w *WatchList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode, yaml.MappingNode:
		item, err := decodeWatch(node)
		if err != nil {
			return err
		}
		*w = WatchList{item}
		return nil

	case yaml.SequenceNode:
		list := make(WatchList, 0, len(node.Content))
		for _, n := range node.Content {
			item, err := decodeWatch(n)
			if err != nil {
				return err
			}
			list = append(list, item)
		}
		*w = list
		return nil
	}

	return fmt.Errorf("line %d: watch must be a glob, a mapping or a list", node.Line)
}

func decodeWatch(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value, nil

	case yaml.MappingNode:
		m := make(watch.Map, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: watch glob must be a string", key.Line)
			}

			mapper, err := decodeMapper(val)
			if err != nil {
				return nil, err
			}
			m = append(m, watch.Entry{Glob: key.Value, Mapper: mapper})
		}
		return m, nil
	}

	return nil, fmt.Errorf("line %d: watch must be a glob or a mapping", node.Line)
}

func decodeMapper(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value, nil

	case yaml.SequenceNode:
		templates := make([]string, 0, len(node.Content))
		for _, n := range node.Content {
			if n.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: transform must be a string", n.Line)
			}
			templates = append(templates, n.Value)
		}
		return templates, nil
	}

	return nil, fmt.Errorf("line %d: transform must be a string or a list of strings", node.Line)
}

// Load reads and validates the config file at path. CONSERVATOR_ROOT and
// CONSERVATOR_LOG_LEVEL override the file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a config document.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config is empty")
		}
		return nil, err
	}

	if root := os.Getenv("CONSERVATOR_ROOT"); root != "" {
		cfg.Root = root
	}
	if level := os.Getenv("CONSERVATOR_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Root == "" {
		cfg.Root = "."
	}

	return &cfg, nil
}
