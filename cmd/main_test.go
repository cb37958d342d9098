package main

import (
	"strings"
	"testing"

	"github.com/convoyinc/conservator/pkg/config"
	"github.com/urfave/cli/v2"
	"github.com/convoyinc/conservator/pkg/registry"
	"github.com/convoyinc/conservator/pkg/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseWatchFlag(t *testing.T) {
	tests := []struct {
		in      string
		want    any
		wantErr bool
	}{
		{in: "src/**/*.js", want: "src/**/*.js"},
		{in: "src/(*).js=test/${1}.test.js", want: watch.Map{{Glob: "src/(*).js", Mapper: "test/${1}.test.js"}}},
		{in: "a/(*).go=${1}_test.go=x", want: watch.Map{{Glob: "a/(*).go", Mapper: "${1}_test.go=x"}}},
		{in: "=test/x.js", wantErr: true},
		{in: "src/*.js=", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWatchFlag(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_CommandFromArgs(t *testing.T) {
	_, err := commandFromArgs([]string{"npm", "test"}, nil)
	assert.Error(t, err)

	cmd, err := commandFromArgs([]string{"npm", "test"}, []string{"src/(*).js=test/${1}.test.js", "*.json"})
	require.NoError(t, err)
	assert.Equal(t, []string{"npm", "test"}, cmd.Command)
	require.Len(t, cmd.Watch, 2)

	normalized, err := watch.Normalize(cmd.Watch...)
	require.NoError(t, err)
	targets, err := normalized[0].Transform("src/foo.js", []string{"src/foo.js", "foo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"test/foo.test.js"}, targets)
	assert.Nil(t, normalized[1].Transform)
}

func Test_Summary(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register([]string{"npm", "test"}, map[string]string{"src/(*).js": "test/${1}.test.js"}))
	require.NoError(t, reg.Register([]string{"npm", "run", "lint"}, "src/**/*.js"))

	out := summary(reg.Registrations())
	assert.Contains(t, out, "npm test")
	assert.Contains(t, out, "src/(*).js (transformed)")
	assert.Contains(t, out, "src/**/*.js")
	assert.True(t, strings.HasSuffix(out, "2 command(s) registered\n"))

	assert.Empty(t, summary(nil))
}

func Test_App_BraceGlobsSurviveFlagParsing(t *testing.T) {
	var cfg *config.Config
	app := newApp()
	app.Action = func(c *cli.Context) error {
		var err error
		cfg, err = loadConfig(c)
		return err
	}

	err := app.Run([]string{
		"conservator",
		"-w", "src/{a,b}.js",
		"-w", "src/(*).js=test/{unit,e2e}/${1}.js",
		"-I", "{dist,build}",
		"echo",
	})
	require.NoError(t, err)

	require.Len(t, cfg.Commands, 1)
	assert.Equal(t, []string{"echo"}, cfg.Commands[0].Command)
	assert.Equal(t, config.WatchList{
		"src/{a,b}.js",
		watch.Map{{Glob: "src/(*).js", Mapper: "test/{unit,e2e}/${1}.js"}},
	}, cfg.Commands[0].Watch)
	assert.Equal(t, []string{"{dist,build}"}, cfg.Ignore)

	normalized, err := watch.Normalize(cfg.Commands[0].Watch...)
	require.NoError(t, err)
	_, ok := normalized[0].Pattern.Match("src/b.js")
	assert.True(t, ok)
}
