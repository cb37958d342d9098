package glob

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"sort"

	gobwas "github.com/gobwas/glob"
)

// Expand returns the files under root whose slash-separated relative path
// matches pattern, sorted. Capture groups are not supported here: pattern is
// expected to be the output of a transform, not a source glob. A missing base
// directory yields no matches rather than an error.
func Expand(root string, pattern string) ([]string, error) {
	pattern = cleanPath(pattern)

	g, err := gobwas.Compile(pattern, '/')
	if err != nil {
		return nil, errors.Join(ErrBadPattern, err)
	}

	abs := path.IsAbs(pattern)
	base := Base(pattern)
	start := filepath.FromSlash(base)
	if !abs {
		start = filepath.Join(root, start)
	}

	var matches []string
	err = filepath.WalkDir(start, func(fp string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		name := filepath.ToSlash(fp)
		if !abs {
			rel, err := filepath.Rel(root, fp)
			if err != nil {
				return err
			}
			name = filepath.ToSlash(rel)
		}

		if g.Match(name) {
			matches = append(matches, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(matches)
	return matches, nil
}
