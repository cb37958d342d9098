// Package transform compiles path templates such as "test/${1}.test.js" into
// functions mapping a changed file (and the capture groups of the glob that
// matched it) to the globs a command should be run against.
//
// A template is parsed once into literal text and placeholders. Evaluation
// only concatenates those parts, so nothing in a template is ever executed:
// backticks, backslashes and quote characters come out exactly as written.
package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Func maps a changed path and its capture groups (index 0 the whole match)
// to one or more globs.
type Func func(path string, match []string) ([]string, error)

// ErrNoTargets is returned when a transform produces an empty result.
var ErrNoTargets = errors.New("transform produced no targets")

// CompileError reports a malformed template.
type CompileError struct {
	Template string
	Offset   int
	Reason   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("invalid transform %q at offset %d: %s", e.Template, e.Offset, e.Reason)
}

type part struct {
	literal string
	// group is the 1-based capture index, 0 for a literal part
	group int
}

// Compile parses template. Every "${" must be followed by one or more ASCII
// digits and a closing "}", and the index must be at least 1; anything else
// is a CompileError. A "$" not followed by "{" is plain text.
func Compile(template string) (Func, error) {
	parts, err := parse(template)
	if err != nil {
		return nil, err
	}

	return func(_ string, match []string) ([]string, error) {
		var b strings.Builder
		for _, p := range parts {
			if p.group == 0 {
				b.WriteString(p.literal)
				continue
			}
			if p.group < len(match) {
				b.WriteString(match[p.group])
			}
		}
		return []string{b.String()}, nil
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(template string) Func {
	fn, err := Compile(template)
	if err != nil {
		panic(err)
	}
	return fn
}

func parse(template string) ([]part, error) {
	var parts []part
	var lit strings.Builder

	for i := 0; i < len(template); i++ {
		if template[i] != '$' || i+1 >= len(template) || template[i+1] != '{' {
			lit.WriteByte(template[i])
			continue
		}

		start := i
		j := i + 2
		for j < len(template) && template[j] >= '0' && template[j] <= '9' {
			j++
		}

		switch {
		case j >= len(template):
			return nil, &CompileError{Template: template, Offset: start, Reason: "unterminated placeholder"}
		case j == i+2:
			return nil, &CompileError{Template: template, Offset: start, Reason: "placeholder must be a group number"}
		case template[j] != '}':
			return nil, &CompileError{Template: template, Offset: start, Reason: "placeholder must be a group number"}
		}

		n, err := strconv.Atoi(template[i+2 : j])
		if err != nil {
			return nil, &CompileError{Template: template, Offset: start, Reason: err.Error()}
		}
		if n < 1 {
			return nil, &CompileError{Template: template, Offset: start, Reason: "group numbers start at 1"}
		}

		if lit.Len() > 0 {
			parts = append(parts, part{literal: lit.String()})
			lit.Reset()
		}
		parts = append(parts, part{group: n})
		i = j
	}

	if lit.Len() > 0 {
		parts = append(parts, part{literal: lit.String()})
	}
	return parts, nil
}

// FromFunc wraps a user supplied mapping so that a panic or an empty result
// surfaces as an error instead of escaping into the caller.
func FromFunc(fn Func) Func {
	return func(path string, match []string) (targets []string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("transform panicked: %v", r)
			}
		}()

		targets, err = fn(path, match)
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return nil, ErrNoTargets
		}
		return targets, nil
	}
}
