package watcher

import (
	"path/filepath"
	"strings"

	gobwas "github.com/gobwas/glob"
)

// DefaultIgnoreList is list of paths that are mostly ignored. Entries without
// a '/' match any single path segment, the others match the whole relative path.
// The ignore list wins over watched globs: with the defaults, "logs/*.log"
// never fires unless the list is replaced.
var DefaultIgnoreList = []string{
	".git", ".svn", ".hg", // version control
	".idea", ".vscode", // IDEs
	".direnv",      // direnv nix
	"node_modules", // node
	".DS_Store",    // macOS
	"*.log",        // logs
}

type ignoreRules struct {
	segments []gobwas.Glob
	paths    []gobwas.Glob
}

func compileIgnoreList(list []string) (ignoreRules, error) {
	var rules ignoreRules
	for _, item := range list {
		item = strings.TrimPrefix(item, "./")
		if item == "" {
			continue
		}

		g, err := gobwas.Compile(item, '/')
		if err != nil {
			return ignoreRules{}, err
		}

		if strings.Contains(item, "/") {
			rules.paths = append(rules.paths, g)
			continue
		}
		rules.segments = append(rules.segments, g)
	}
	return rules, nil
}

// match reports whether rel, a slash separated path, is ignored.
func (r ignoreRules) match(rel string) bool {
	for _, g := range r.paths {
		if g.Match(rel) {
			return true
		}
	}

	if len(r.segments) == 0 {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		for _, g := range r.segments {
			if g.Match(seg) {
				return true
			}
		}
	}
	return false
}

// isEditorTempFile reports files editors create while saving.
func isEditorTempFile(name string) (bool, string) {
	// Vim/Neovim creates this temporary file to see whether it can write
	// into a target directory.
	// [source](https://brandur.org/live-reload)
	if filepath.Base(name) == "4913" {
		return true, "event is from a temporary file created by vim/neovim"
	}

	// vim creates files with ~ suffixes, which we don't want to watch.
	if strings.HasSuffix(name, "~") {
		return true, "event is from a special file from vim/neovim which ends in ~"
	}

	return false, ""
}

// shadowed reports whether the ignore list covers g read as a literal path:
// "logs/*.log" is covered by "*.log".
func (r ignoreRules) shadowed(g string) bool {
	return r.match(strings.TrimPrefix(g, "./"))
}
