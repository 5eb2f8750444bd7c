// Package patterns validates operator-supplied filter expressions before they
// are compiled and matches field names against a fixed set of PII patterns.
package patterns

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxPatternLength bounds user-supplied expressions.
const MaxPatternLength = 200

// ValidationError rejects an unsafe or malformed pattern.
type ValidationError struct {
	Pattern string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
}

type shape struct {
	re     *regexp.Regexp
	reason string
}

// Shapes known to backtrack catastrophically in engines that backtrack.
// Go's RE2 engine is linear, but patterns are also written to audit records
// and shared with other tooling, so they are held to the stricter rule.
var unsafeShapes = []shape{
	{regexp.MustCompile(`\(\?<?[=!][^()]*\)\s*[+*?{]`), "quantified lookaround"},
	{regexp.MustCompile(`\.[+*]\??\.[+*]`), "adjacent wildcard repetition"},
	{regexp.MustCompile(`\)[+*]\??\(.*\)[+*]`), "adjacent quantified groups"},
}

// Validate checks pattern for length and unsafe shapes without compiling it.
func Validate(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return &ValidationError{Pattern: pattern, Reason: "empty pattern"}
	}
	if len(pattern) > MaxPatternLength {
		return &ValidationError{
			Pattern: pattern[:MaxPatternLength] + "...",
			Reason:  fmt.Sprintf("longer than %d characters", MaxPatternLength),
		}
	}
	if hasNestedQuantifier(pattern) {
		return &ValidationError{Pattern: pattern, Reason: "nested quantifier"}
	}
	for _, s := range unsafeShapes {
		if s.re.MatchString(pattern) {
			return &ValidationError{Pattern: pattern, Reason: s.reason}
		}
	}
	return nil
}

// hasNestedQuantifier reports whether a group that contains a quantifier, at
// any depth, is itself repeated. An optional group ("(a+)?") matches at most
// once and is allowed.
func hasNestedQuantifier(p string) bool {
	// quantified[d] is set once the group open at depth d holds a quantifier.
	var quantified []bool
	mark := func() {
		if len(quantified) > 0 {
			quantified[len(quantified)-1] = true
		}
	}

	for i := 0; i < len(p); {
		switch p[i] {
		case '\\':
			i += 2
			continue
		case '[':
			i = skipClass(p, i)
			continue
		case '(':
			quantified = append(quantified, false)
			i = skipGroupPrefix(p, i+1)
			continue
		case ')':
			i++
			if len(quantified) == 0 {
				continue
			}
			inner := quantified[len(quantified)-1]
			quantified = quantified[:len(quantified)-1]
			_, repeats, ok := quantifierAt(p, i)
			if inner && repeats {
				return true
			}
			if inner || ok {
				mark()
			}
			continue
		}

		if width, _, ok := quantifierAt(p, i); ok {
			mark()
			i += width
			if i < len(p) && p[i] == '?' {
				i++
			}
			continue
		}
		i++
	}
	return false
}

// quantifierAt reports whether a quantifier starts at p[i], its width and
// whether it can match its operand more than once.
func quantifierAt(p string, i int) (width int, repeats, ok bool) {
	if i >= len(p) {
		return 0, false, false
	}
	switch p[i] {
	case '*', '+':
		return 1, true, true
	case '?':
		return 1, false, true
	case '{':
		end := strings.IndexByte(p[i:], '}')
		if end < 0 {
			return 0, false, false
		}
		lo, hi, isRange := strings.Cut(p[i+1:i+end], ",")
		if !isDigits(lo) {
			return 0, false, false
		}
		if !isRange {
			hi = lo
		}
		if hi == "" {
			return end + 1, true, true
		}
		if !isDigits(hi) {
			return 0, false, false
		}
		n, _ := strconv.Atoi(hi)
		return end + 1, n > 1, true
	}
	return 0, false, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// skipClass returns the index just past the character class opening at p[i].
func skipClass(p string, i int) int {
	j := i + 1
	if j < len(p) && p[j] == '^' {
		j++
	}
	if j < len(p) && p[j] == ']' {
		j++
	}
	for j < len(p) {
		switch {
		case p[j] == '\\':
			j += 2
		case p[j] == '[' && strings.HasPrefix(p[j:], "[:"):
			if end := strings.Index(p[j+2:], ":]"); end >= 0 {
				j += end + 4
			} else {
				j++
			}
		case p[j] == ']':
			return j + 1
		default:
			j++
		}
	}
	return len(p)
}

// skipGroupPrefix skips "?:", "?i:", "?P<name>" and lookaround markers after
// an opening parenthesis at p[i-1].
func skipGroupPrefix(p string, i int) int {
	if i >= len(p) || p[i] != '?' {
		return i
	}
	i++
	if i < len(p) && p[i] == 'P' {
		i++
	}
	if i < len(p) && p[i] == '<' {
		if i+1 < len(p) && (p[i+1] == '=' || p[i+1] == '!') {
			return i + 2
		}
		if end := strings.IndexByte(p[i:], '>'); end >= 0 {
			return i + end + 1
		}
		return len(p)
	}
	if i < len(p) && (p[i] == '=' || p[i] == '!') {
		return i + 1
	}
	for i < len(p) && (p[i] == '-' || (p[i] >= 'a' && p[i] <= 'z') || (p[i] >= 'A' && p[i] <= 'Z')) {
		i++
	}
	if i < len(p) && p[i] == ':' {
		i++
	}
	return i
}

// Compile validates pattern and then compiles it case-insensitively.
func Compile(pattern string) (*regexp.Regexp, error) {
	if err := Validate(pattern); err != nil {
		return nil, err
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, &ValidationError{Pattern: pattern, Reason: err.Error()}
	}
	return re, nil
}

// Filter keeps names matching any include pattern and no exclude pattern.
// An empty include list keeps everything.
type Filter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewFilter compiles include and exclude lists. The first unsafe pattern
// fails the whole filter, so no partial filter is ever applied.
func NewFilter(include, exclude []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range include {
		re, err := Compile(p)
		if err != nil {
			return nil, err
		}
		f.include = append(f.include, re)
	}
	for _, p := range exclude {
		re, err := Compile(p)
		if err != nil {
			return nil, err
		}
		f.exclude = append(f.exclude, re)
	}
	return f, nil
}

// Match reports whether name passes the filter.
func (f *Filter) Match(name string) bool {
	if f == nil {
		return true
	}
	for _, re := range f.exclude {
		if re.MatchString(name) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, re := range f.include {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
