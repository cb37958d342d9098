package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/convoyinc/conservator/pkg/glob"
	"github.com/fsnotify/fsnotify"
)

type Op string

const (
	OpAdd    Op = "add"
	OpChange Op = "change"
	OpUnlink Op = "unlink"
)

// Event is a debounced change to a single file. Path is relative to the
// watch root and slash separated, or absolute when the file lies outside it.
type Event struct {
	Op   Op
	Path string
}

// ErrRootRemoved is reported on Errors when the watch root disappears.
var ErrRootRemoved = errors.New("watch root was removed")

type Watcher struct {
	watcher *fsnotify.Watcher
	root    string

	directoryCount int

	Logger   *slog.Logger
	patterns []*glob.Pattern
	ignore   ignoreRules

	watchingDirs map[string]struct{}

	cooldownDuration time.Duration

	eventsCh chan Event
	errorsCh chan error

	done      chan struct{}
	closeOnce sync.Once

	shouldLogWatchEvents bool
}

type WatcherArgs struct {
	Logger *slog.Logger

	// Root is the directory event paths are reported relative to, the
	// current directory if empty.
	Root string
	// Globs selects the files events are reported for. The nearest existing
	// directory of each glob's static prefix is watched recursively.
	Globs []string

	IgnoreList []string

	CooldownDuration *time.Duration

	ShouldLogWatchEvents bool
}

const defaultCooldown = 100 * time.Millisecond

// Events implements dispatch.Subscription.
func (f *Watcher) Events() <-chan Event {
	return f.eventsCh
}

// Errors carries errors after which the watcher can no longer be trusted.
func (f *Watcher) Errors() <-chan error {
	return f.errorsCh
}

func isFatal(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EMFILE) || errors.Is(err, ErrRootRemoved)
}

func (f *Watcher) fatal(err error) {
	f.Logger.Error("watcher failed", "err", err)
	select {
	case f.errorsCh <- err:
	default:
	}
}

func (f *Watcher) relPath(name string) string {
	rel, err := filepath.Rel(f.root, name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(name)
	}
	return filepath.ToSlash(rel)
}

func (f *Watcher) ignoreEvent(rel string) (ignore bool, reason string) {
	if ignore, reason := isEditorTempFile(rel); ignore {
		return true, reason
	}

	if f.ignore.match(rel) {
		return true, "event is generating from an ignored path"
	}

	for _, p := range f.patterns {
		if _, ok := p.Match(rel); ok {
			return false, "event matches " + p.String()
		}
	}

	return true, "event does not match any watched glob"
}

func opFor(op fsnotify.Op) (Op, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return OpAdd, true
	case op.Has(fsnotify.Write):
		return OpChange, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpUnlink, true
	}
	return "", false
}

// merge folds a newer event for the same path into a pending one.
func merge(pending, next Op) Op {
	// a file created and then written within one cooldown is still new
	if pending == OpAdd && next == OpChange {
		return OpAdd
	}
	return next
}

type pendingEvent struct {
	op  Op
	due time.Time
}

// Watch delivers events until ctx is done or Close is called. Repeated
// events for one path within the cooldown are collapsed into one, delivered
// once the path has been quiet for the cooldown.
func (f *Watcher) Watch(ctx context.Context) {
	defer close(f.eventsCh)

	pending := make(map[string]pendingEvent)
	var order []string

	var timer *time.Timer
	var timerC <-chan time.Time
	arm := func(d time.Duration) {
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		timerC = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	emit := func(ev Event) bool {
		select {
		case f.eventsCh <- ev:
			return true
		case <-f.done:
			return false
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			t := time.Now()

			if f.shouldLogWatchEvents {
				f.Logger.Debug(fmt.Sprintf("event %+v received", event))
			}

			if event.Has(fsnotify.Create) {
				fi, _ := os.Stat(event.Name)
				if fi != nil && fi.IsDir() {
					if err := f.RecursiveAdd(event.Name); err != nil && isFatal(err) {
						f.fatal(err)
					}
					continue
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if filepath.Clean(event.Name) == f.root {
					f.fatal(fmt.Errorf("%w: %s", ErrRootRemoved, f.root))
					continue
				}
				delete(f.watchingDirs, event.Name)
			}

			op, ok := opFor(event.Op)
			if !ok {
				continue
			}

			rel := f.relPath(event.Name)
			if ignore, reason := f.ignoreEvent(rel); ignore {
				if f.shouldLogWatchEvents {
					f.Logger.Debug("IGNORING", "event.name", rel, "reason", reason)
				}
				continue
			}

			if f.cooldownDuration <= 0 {
				if !emit(Event{Op: op, Path: rel}) {
					return
				}
				continue
			}

			p, exists := pending[rel]
			if exists {
				p.op = merge(p.op, op)
				if f.shouldLogWatchEvents {
					f.Logger.Debug(fmt.Sprintf("too many events under %s, collapsing...", f.cooldownDuration.String()), "event.name", rel)
				}
			} else {
				p.op = op
				order = append(order, rel)
			}
			p.due = t.Add(f.cooldownDuration)
			pending[rel] = p

			if timerC == nil {
				arm(f.cooldownDuration)
			}

		case <-timerC:
			timerC = nil
			now := time.Now()

			var next time.Time
			remaining := order[:0]
			var ready []Event
			for _, rel := range order {
				p := pending[rel]
				if !p.due.After(now) {
					ready = append(ready, Event{Op: p.op, Path: rel})
					delete(pending, rel)
					continue
				}
				remaining = append(remaining, rel)
				if next.IsZero() || p.due.Before(next) {
					next = p.due
				}
			}
			order = remaining

			for _, ev := range ready {
				if f.shouldLogWatchEvents {
					f.Logger.Debug("PROCESSING", "event.name", ev.Path, "event.op", ev.Op)
				}
				if !emit(ev) {
					return
				}
			}

			if len(order) > 0 {
				arm(time.Until(next))
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			switch {
			case errors.Is(err, fsnotify.ErrEventOverflow):
				f.Logger.Warn("event queue overflowed, some changes were missed", "err", err)
			case isFatal(err):
				f.fatal(err)
			default:
				f.Logger.Error("watcher error", "err", err)
			}

		case <-f.done:
			return

		case <-ctx.Done():
			if f.shouldLogWatchEvents {
				f.Logger.Debug("watcher is closing", "reason", "context closed")
			}
			return
		}
	}
}

func (f *Watcher) RecursiveAdd(dirs ...string) error {
	for _, dir := range dirs {
		if _, ok := f.watchingDirs[dir]; ok {
			continue
		}

		fi, err := os.Lstat(dir)
		if err != nil {
			// INFO: instead of returning and error, seems like ignore is a better choice
			continue
		}

		if !fi.IsDir() {
			continue
		}

		if dir != f.root && f.ignore.match(f.relPath(dir)) {
			if f.shouldLogWatchEvents {
				f.Logger.Debug("EXCLUDED from watchlist", "dir", dir)
			}
			continue
		}

		if err := f.addToWatchList(dir); err != nil {
			return err
		}

		ls, err := os.ReadDir(dir)
		if err != nil {
			return err
		}

		de := make([]string, 0, len(ls))
		for _, l := range ls {
			if !l.IsDir() {
				continue
			}
			de = append(de, filepath.Join(dir, l.Name()))
		}

		if err := f.RecursiveAdd(de...); err != nil {
			return err
		}
	}

	return nil
}

func (f *Watcher) addToWatchList(dir string) error {
	if err := f.watcher.Add(dir); err != nil {
		f.Logger.Error("failed to add directory", "dir", dir, "err", err)
		if isFatal(err) {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		return nil
	}
	f.watchingDirs[dir] = struct{}{}
	f.directoryCount++
	if f.shouldLogWatchEvents {
		f.Logger.Debug("ADDED to watchlist", "dir", dir, "count", f.directoryCount)
	}
	return nil
}

// Close stops Watch and releases the underlying OS watches. It is safe to
// call more than once.
func (f *Watcher) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.watcher.Close()
	})
	return err
}

// nearestDir returns dir, or its closest ancestor that exists.
func nearestDir(dir string) string {
	for {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func NewWatcher(args WatcherArgs) (*Watcher, error) {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.IgnoreList == nil {
		args.IgnoreList = DefaultIgnoreList
	}

	cooldown := defaultCooldown
	if args.CooldownDuration != nil {
		cooldown = *args.CooldownDuration
	}

	root := args.Root
	if root == "" {
		dir, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = dir
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if fi, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}

	patterns := make([]*glob.Pattern, 0, len(args.Globs))
	for _, g := range args.Globs {
		p, err := glob.Compile(g)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	ignore, err := compileIgnoreList(args.IgnoreList)
	if err != nil {
		return nil, fmt.Errorf("invalid ignore list: %w", err)
	}
	for _, g := range args.Globs {
		if ignore.shadowed(g) {
			args.Logger.Warn("glob is covered by the ignore list, its files will never trigger", "glob", g)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		args.Logger.Error("failed to create watcher, got", "err", err)
		return nil, err
	}

	fsw := &Watcher{
		watcher:          watcher,
		root:             root,
		Logger:           args.Logger.With("component", "watcher"),
		patterns:         patterns,
		ignore:           ignore,
		cooldownDuration: cooldown,
		watchingDirs:     make(map[string]struct{}),

		shouldLogWatchEvents: args.ShouldLogWatchEvents,
		eventsCh:             make(chan Event),
		errorsCh:             make(chan error, 1),
		done:                 make(chan struct{}),
	}

	dirs := make([]string, 0, len(args.Globs))
	for _, g := range args.Globs {
		base := filepath.FromSlash(glob.Base(g))
		if !filepath.IsAbs(base) {
			base = filepath.Join(root, base)
		}
		dirs = append(dirs, nearestDir(base))
	}

	if err := fsw.RecursiveAdd(dirs...); err != nil {
		watcher.Close()
		return nil, err
	}

	// the root is always watched, so its removal is noticed
	if _, ok := fsw.watchingDirs[root]; !ok {
		if err := fsw.addToWatchList(root); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	return fsw, nil
}

// Subscribe creates a Watcher and starts delivering its events.
func Subscribe(ctx context.Context, args WatcherArgs) (*Watcher, error) {
	w, err := NewWatcher(args)
	if err != nil {
		return nil, err
	}
	go w.Watch(ctx)
	return w, nil
}
