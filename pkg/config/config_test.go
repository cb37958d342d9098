package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/convoyinc/conservator/pkg/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
cooldown: 250ms
ignore: [dist, "*.tmp"]
log:
  level: debug
  format: logfmt
metrics_addr: ":9090"
commands:
  - command: [npm, test]
    watch:
      - "src/(*).js": "test/${1}.test.js"
        "lib/(*).js": ["test/${1}.test.js", "bench/${1}.js"]
      - "*.json"
  - command: [npm, run, lint]
    watch: "src/**/*.js"
`

func Test_Parse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Root)
	require.NotNil(t, cfg.Cooldown)
	assert.Equal(t, 250*time.Millisecond, *cfg.Cooldown)
	assert.Equal(t, []string{"dist", "*.tmp"}, cfg.Ignore)
	assert.Equal(t, Log{Level: "debug", Format: "logfmt"}, cfg.Log)
	assert.Equal(t, ":9090", cfg.MetricsAddr)

	require.Len(t, cfg.Commands, 2)
	assert.Equal(t, []string{"npm", "test"}, cfg.Commands[0].Command)
	assert.Equal(t, WatchList{
		watch.Map{
			{Glob: "src/(*).js", Mapper: "test/${1}.test.js"},
			{Glob: "lib/(*).js", Mapper: []string{"test/${1}.test.js", "bench/${1}.js"}},
		},
		"*.json",
	}, cfg.Commands[0].Watch)
	assert.Equal(t, WatchList{"src/**/*.js"}, cfg.Commands[1].Watch)

	// decoded watches are accepted as they are
	for _, c := range cfg.Commands {
		_, err := watch.Normalize(c.Watch...)
		assert.NoError(t, err)
	}
}

func Test_Parse_MappingKeepsOrder(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
commands:
  - command: [make]
    watch:
      "z/*.c": "z"
      "a/*.c": "a"
      "m/*.c": "m"
`))
	require.NoError(t, err)

	m, ok := cfg.Commands[0].Watch[0].(watch.Map)
	require.True(t, ok)
	var globs []string
	for _, e := range m {
		globs = append(globs, e.Glob)
	}
	assert.Equal(t, []string{"z/*.c", "a/*.c", "m/*.c"}, globs)
}

func Test_Parse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "1. empty document",
			doc:     "",
			wantErr: "config is empty",
		},
		{
			name:    "2. no commands",
			doc:     "cooldown: 1s\n",
			wantErr: "Commands",
		},
		{
			name:    "3. command without a program",
			doc:     "commands:\n  - command: []\n    watch: '*.go'\n",
			wantErr: "Command",
		},
		{
			name:    "4. missing watch",
			doc:     "commands:\n  - command: [go, test]\n",
			wantErr: "Watch",
		},
		{
			name:    "5. nested mapping as a transform",
			doc:     "commands:\n  - command: [go]\n    watch:\n      '*.go': {a: b}\n",
			wantErr: "transform must be a string",
		},
		{
			name:    "6. unknown field",
			doc:     "comands: []\n",
			wantErr: "comands",
		},
		{
			name:    "7. unknown log format",
			doc:     "log: {format: xml}\ncommands:\n  - command: [go]\n    watch: '*.go'\n",
			wantErr: "Format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func Test_Load_EnvOverrides(t *testing.T) {
	fp := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, os.WriteFile(fp, []byte(sample), 0o644))

	t.Setenv("CONSERVATOR_ROOT", "/srv/app")
	t.Setenv("CONSERVATOR_LOG_LEVEL", "warn")

	cfg, err := Load(fp)
	require.NoError(t, err)
	assert.Equal(t, "/srv/app", cfg.Root)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func Test_Load_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
