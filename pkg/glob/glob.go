// Package glob implements shell-style globs with regex-style capture groups.
//
// Syntax, matched against slash-separated relative paths:
//
//	*        any run of characters except '/'
//	**       as a whole path segment, any number of segments (including none);
//	         it may open a group or braces, as in "src/(**/*).js"
//	?        a single character except '/'
//	[abc]    character class, [!abc] or [^abc] negates it
//	{a,b}    alternation, not captured
//	(...)    capture group, '|' separates alternatives inside it
//	\x       the literal character x
//
// Capture groups are numbered from 1 in the order their opening parenthesis
// appears, so "src/(*)/(*).js" binds the directory to 1 and the file stem to 2.
package glob

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// ErrBadPattern is wrapped by every error returned from Compile.
var ErrBadPattern = errors.New("syntax error in glob pattern")

// metaChars are the characters that end the static prefix of a glob.
const metaChars = `*?[{(\|`

// Pattern is a compiled glob. It is safe for concurrent use.
type Pattern struct {
	glob string
	re   *regexp.Regexp
}

// Compile parses a glob. A leading "./" is ignored.
func Compile(glob string) (*Pattern, error) {
	if glob == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrBadPattern)
	}

	expr, err := translate(cleanPath(glob))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrBadPattern, glob, err.Error())
	}

	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrBadPattern, glob, err.Error())
	}

	return &Pattern{glob: glob, re: re}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(glob string) *Pattern {
	p, err := Compile(glob)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the glob the pattern was compiled from.
func (p *Pattern) String() string {
	return p.glob
}

// Groups returns the number of capture groups in the pattern.
func (p *Pattern) Groups() int {
	return p.re.NumSubexp()
}

// Match reports whether fp matches the pattern. On a match it also returns the
// capture groups: index 0 holds the whole path, index n the n-th group, and
// groups that did not participate in the match are empty strings.
func (p *Pattern) Match(fp string) ([]string, bool) {
	m := p.re.FindStringSubmatch(cleanPath(fp))
	if m == nil {
		return nil, false
	}
	return m, true
}

// HasMagic reports whether s contains wildcard syntax that would need
// expanding against the filesystem to name concrete files.
func HasMagic(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// Base returns the longest leading directory of glob that contains no glob
// syntax, or "." when the first segment already does.
func Base(glob string) string {
	segments := strings.Split(cleanPath(glob), "/")

	static := make([]string, 0, len(segments))
	for i, seg := range segments {
		// last segment names files, never a directory
		if i == len(segments)-1 || strings.ContainsAny(seg, metaChars) {
			break
		}
		static = append(static, seg)
	}

	if len(static) == 0 {
		return "."
	}
	if len(static) == 1 && static[0] == "" {
		return "/"
	}
	return path.Clean(strings.Join(static, "/"))
}

func cleanPath(p string) string {
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

// segmentStart reports whether glob[i] begins a path segment, ignoring any
// unescaped '(' or '{' opened right before it.
func segmentStart(glob string, i int) bool {
	for i > 0 && (glob[i-1] == '(' || glob[i-1] == '{') && (i < 2 || glob[i-2] != '\\') {
		i--
	}
	return i == 0 || glob[i-1] == '/'
}

func translate(glob string) (string, error) {
	var b strings.Builder
	parens, braces := 0, 0

	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '\\':
			if i+1 == len(glob) {
				return "", errors.New("trailing backslash")
			}
			i++
			b.WriteString(regexp.QuoteMeta(glob[i : i+1]))

		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' && segmentStart(glob, i) {
				j := i + 2
				if j == len(glob) {
					b.WriteString(".*")
					i = j - 1
					continue
				}
				if glob[j] == '/' {
					b.WriteString("(?:[^/]*/)*")
					i = j
					continue
				}
			}
			for i+1 < len(glob) && glob[i+1] == '*' {
				i++
			}
			b.WriteString("[^/]*")

		case '?':
			b.WriteString("[^/]")

		case '[':
			end := classEnd(glob, i)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			body := glob[i+1 : end]
			b.WriteString("[")
			if strings.HasPrefix(body, "!") || strings.HasPrefix(body, "^") {
				b.WriteString("^/")
				body = body[1:]
			}
			if strings.HasPrefix(body, "]") {
				body = `\]` + body[1:]
			}
			b.WriteString(strings.ReplaceAll(body, "[", `\[`))
			b.WriteString("]")
			i = end

		case '{':
			braces++
			b.WriteString("(?:")

		case '}':
			if braces == 0 {
				b.WriteString(`\}`)
				continue
			}
			braces--
			b.WriteString(")")

		case ',':
			if braces > 0 {
				b.WriteString("|")
				continue
			}
			b.WriteString(",")

		case '(':
			parens++
			b.WriteString("(")

		case ')':
			if parens == 0 {
				return "", fmt.Errorf("unexpected ')' at offset %d", i)
			}
			parens--
			b.WriteString(")")

		case '|':
			if parens > 0 || braces > 0 {
				b.WriteString("|")
				continue
			}
			b.WriteString(`\|`)

		default:
			b.WriteString(regexp.QuoteMeta(glob[i : i+1]))
		}
	}

	if parens > 0 {
		return "", errors.New("unclosed capture group")
	}
	if braces > 0 {
		return "", errors.New("unclosed '{'")
	}

	return b.String(), nil
}

// classEnd returns the index of the ']' closing the class opened at i, or -1.
func classEnd(glob string, i int) int {
	j := i + 1
	if j < len(glob) && (glob[j] == '!' || glob[j] == '^') {
		j++
	}
	// a ']' right after the opening bracket is a member, not the end
	if j < len(glob) && glob[j] == ']' {
		j++
	}
	for ; j < len(glob); j++ {
		if glob[j] == ']' {
			return j
		}
	}
	return -1
}
