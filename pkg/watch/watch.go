// Package watch turns the loosely shaped watch descriptions users write into
// a flat, ordered list of compiled (source glob, transform) pairs.
//
// A watch is either a bare glob:
//
//	"src/*.js"
//
// meaning the changed file itself is passed to the command, or a mapping from
// a source glob to one or more transforms:
//
//	watch.Map{{Glob: "src/(*).js", Mapper: "test/unit/${1}.js"}}
//
// in which case the command receives the derived paths instead.
package watch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/convoyinc/conservator/pkg/glob"
	"github.com/convoyinc/conservator/pkg/transform"
)

// Entry is one source glob of a Map and what it maps to. Mapper is a
// template string, a slice of template strings, or a transform function.
type Entry struct {
	Glob   string
	Mapper any
}

// Map is an ordered mapping from source globs to mappers. Use it instead of a
// Go map when the order of the resulting watches matters.
type Map []Entry

// NormalizedWatch is a compiled source glob with an optional transform. A nil
// Transform means the changed file is itself the target.
type NormalizedWatch struct {
	Source    string
	Pattern   *glob.Pattern
	Transform transform.Func
}

// InvalidSpecError reports a watch description that cannot be normalized.
type InvalidSpecError struct {
	Value  any
	Reason string
	Err    error
}

func (e *InvalidSpecError) Error() string {
	msg := fmt.Sprintf("invalid watch %#v: %s", e.Value, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidSpecError) Unwrap() error {
	return e.Err
}

// Normalize flattens watches into compiled NormalizedWatch entries, in the
// order they are encountered. Accepted shapes are a glob string, a Map, a Go
// map keyed by glob (visited in sorted key order), and slices of any of
// these. Templates are compiled here, so a malformed template fails now and
// never at dispatch time.
func Normalize(watches ...any) ([]NormalizedWatch, error) {
	var out []NormalizedWatch
	for _, w := range watches {
		entries, err := normalizeOne(w)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}

	if len(out) == 0 {
		return nil, &InvalidSpecError{Value: watches, Reason: "no watches given"}
	}
	return out, nil
}

func normalizeOne(w any) ([]NormalizedWatch, error) {
	switch v := w.(type) {
	case string:
		p, err := compileSource(v)
		if err != nil {
			return nil, err
		}
		return []NormalizedWatch{{Source: v, Pattern: p}}, nil

	case Map:
		return normalizeMap(v)

	case map[string]any:
		return normalizeMap(sortedMap(v))

	case map[string]string:
		m := make(map[string]any, len(v))
		for k, val := range v {
			m[k] = val
		}
		return normalizeMap(sortedMap(m))

	case map[string][]string:
		m := make(map[string]any, len(v))
		for k, val := range v {
			m[k] = val
		}
		return normalizeMap(sortedMap(m))

	case []string:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return normalizeList(items)

	case []Map:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return normalizeList(items)

	case []any:
		return normalizeList(v)
	}

	return nil, &InvalidSpecError{Value: w, Reason: fmt.Sprintf("unsupported watch type %T", w)}
}

func normalizeList(items []any) ([]NormalizedWatch, error) {
	var out []NormalizedWatch
	for _, item := range items {
		entries, err := normalizeOne(item)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func normalizeMap(m Map) ([]NormalizedWatch, error) {
	var out []NormalizedWatch
	for _, e := range m {
		p, err := compileSource(e.Glob)
		if err != nil {
			return nil, err
		}

		fns, err := mappers(e.Glob, e.Mapper)
		if err != nil {
			return nil, err
		}

		for _, fn := range fns {
			out = append(out, NormalizedWatch{Source: e.Glob, Pattern: p, Transform: fn})
		}
	}
	return out, nil
}

// mappers returns one transform per template or function in mapper.
func mappers(source string, mapper any) ([]transform.Func, error) {
	switch v := mapper.(type) {
	case string:
		fn, err := transform.Compile(v)
		if err != nil {
			return nil, err
		}
		return []transform.Func{fn}, nil

	case []string:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return mapperList(source, items)

	case []any:
		return mapperList(source, v)

	case transform.Func:
		if v == nil {
			break
		}
		return []transform.Func{transform.FromFunc(v)}, nil

	case func(string, []string) ([]string, error):
		if v == nil {
			break
		}
		return []transform.Func{transform.FromFunc(v)}, nil

	case func(string, []string) []string:
		if v == nil {
			break
		}
		return []transform.Func{transform.FromFunc(func(p string, m []string) ([]string, error) {
			return v(p, m), nil
		})}, nil

	case func(string, []string) string:
		if v == nil {
			break
		}
		return []transform.Func{transform.FromFunc(func(p string, m []string) ([]string, error) {
			return []string{v(p, m)}, nil
		})}, nil
	}

	return nil, &InvalidSpecError{Value: mapper, Reason: fmt.Sprintf("unsupported mapper type %T for %q", mapper, source)}
}

func mapperList(source string, items []any) ([]transform.Func, error) {
	if len(items) == 0 {
		return nil, &InvalidSpecError{Value: items, Reason: fmt.Sprintf("empty mapper list for %q", source)}
	}

	fns := make([]transform.Func, 0, len(items))
	for _, item := range items {
		tmpl, ok := item.(string)
		if !ok {
			return nil, &InvalidSpecError{Value: item, Reason: fmt.Sprintf("mapper list for %q may only hold templates", source)}
		}
		fn, err := transform.Compile(tmpl)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

func compileSource(source string) (*glob.Pattern, error) {
	if source == "" {
		return nil, &InvalidSpecError{Value: source, Reason: "empty glob"}
	}
	p, err := glob.Compile(source)
	if err != nil {
		return nil, &InvalidSpecError{Value: source, Reason: "bad glob", Err: err}
	}
	return p, nil
}

func sortedMap(m map[string]any) Map {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Map, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Glob: k, Mapper: m[k]})
	}
	return out
}

// IsInvalidSpec reports whether err is, or wraps, an InvalidSpecError.
func IsInvalidSpec(err error) bool {
	var target *InvalidSpecError
	return errors.As(err, &target)
}
