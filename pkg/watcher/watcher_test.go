package watcher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	fp := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(fp), 0o755))
	require.NoError(t, os.WriteFile(fp, []byte(content), 0o644))
}

func nextEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case err := <-w.Errors():
		t.Fatalf("unexpected watcher error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return Event{}
}

func noEvent(t *testing.T, w *Watcher, within time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(within):
	}
}

func newTestWatcher(t *testing.T, root string, globs ...string) *Watcher {
	t.Helper()
	cooldown := 30 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	w, err := Subscribe(ctx, WatcherArgs{
		Root:             root,
		Globs:            globs,
		CooldownDuration: &cooldown,
	})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func Test_Watcher_Events(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/existing.js", "a")

	w := newTestWatcher(t, root, "src/*.js")

	// create + write within one cooldown collapse into a single add
	writeFile(t, root, "src/new.js", "x")
	assert.Equal(t, Event{Op: OpAdd, Path: "src/new.js"}, nextEvent(t, w))

	writeFile(t, root, "src/existing.js", "b")
	assert.Equal(t, Event{Op: OpChange, Path: "src/existing.js"}, nextEvent(t, w))

	require.NoError(t, os.Remove(filepath.Join(root, "src", "existing.js")))
	assert.Equal(t, Event{Op: OpUnlink, Path: "src/existing.js"}, nextEvent(t, w))

	// files outside the subscribed globs are not reported
	writeFile(t, root, "src/readme.md", "x")
	noEvent(t, w, 150*time.Millisecond)
}

func Test_Watcher_NewDirectories(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root, "src/**/*.go")

	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0o755))
	// give the watcher time to pick up the new directories
	time.Sleep(100 * time.Millisecond)

	writeFile(t, root, "src/pkg/a.go", "package pkg")
	ev := nextEvent(t, w)
	assert.Equal(t, "src/pkg/a.go", ev.Path)
}

func Test_Watcher_Ignore(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root, "**/*.js")

	writeFile(t, root, "node_modules/dep/index.js", "x")
	writeFile(t, root, "app.js~", "x")
	noEvent(t, w, 150*time.Millisecond)

	writeFile(t, root, "app.js", "x")
	assert.Equal(t, "app.js", nextEvent(t, w).Path)
}

func Test_Watcher_Close(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root, "*.txt")

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel was not closed")
	}
}

func Test_IgnoreRules(t *testing.T) {
	rules, err := compileIgnoreList(append([]string{"build/**", "dist"}, DefaultIgnoreList...))
	require.NoError(t, err)

	tests := map[string]bool{
		"node_modules/x/index.js": true,
		"a/b/.git/HEAD":           true,
		"server.log":              true,
		"build/out/main.js":       true,
		"dist":                    true,
		"src/dist/a.js":           true,
		"src/main.js":             false,
		"src/distant.js":          false,
	}
	for rel, want := range tests {
		assert.Equal(t, want, rules.match(rel), rel)
	}
}

func Test_Merge(t *testing.T) {
	assert.Equal(t, OpAdd, merge(OpAdd, OpChange))
	assert.Equal(t, OpUnlink, merge(OpAdd, OpUnlink))
	assert.Equal(t, OpChange, merge(OpUnlink, OpChange))
}

func Test_NewWatcher_MissingRoot(t *testing.T) {
	_, err := NewWatcher(WatcherArgs{Root: filepath.Join(t.TempDir(), "gone"), Globs: []string{"*.go"}})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func Test_Watcher_RootRemoved(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	require.NoError(t, os.MkdirAll(root, 0o755))

	w := newTestWatcher(t, root, "*.txt")
	require.NoError(t, os.RemoveAll(root))

	select {
	case err := <-w.Errors():
		assert.True(t, errors.Is(err, ErrRootRemoved), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("root removal was not reported")
	}
}

func Test_NewWatcher_WarnsAboutIgnoredGlobs(t *testing.T) {
	tests := []struct {
		name   string
		glob   string
		warned bool
	}{
		{name: "1. extension in the ignore list", glob: "logs/*.log", warned: true},
		{name: "2. base inside an ignored directory", glob: "node_modules/dep/*.js", warned: true},
		{name: "3. unrelated glob", glob: "src/(*).js", warned: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWatcher(WatcherArgs{
				Logger: slog.New(slog.NewTextHandler(&buf, nil)),
				Root:   t.TempDir(),
				Globs:  []string{tt.glob},
			})
			require.NoError(t, err)
			t.Cleanup(func() { w.Close() })

			assert.Equal(t, tt.warned, strings.Contains(buf.String(), "covered by the ignore list"), buf.String())
		})
	}
}
