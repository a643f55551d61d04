package revset

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/grafana/regexp"

	"github.com/sourcegraph/sourcegraph/lib/errors"
)

// Matcher tests a string against a compiled StringPattern.
type Matcher interface {
	Match(s string) bool
}

type exactMatcher string
type substringMatcher string
type globMatcher struct{ g glob.Glob }
type regexMatcher struct{ re *regexp.Regexp }

func (m exactMatcher) Match(s string) bool     { return string(m) == s }
func (m substringMatcher) Match(s string) bool { return strings.Contains(s, string(m)) }
func (m globMatcher) Match(s string) bool      { return m.g.Match(s) }
func (m regexMatcher) Match(s string) bool     { return m.re.MatchString(s) }

// Compile builds a Matcher for a StringPattern. Regex kinds go through
// grafana/regexp, a drop-in stdlib replacement with linear-time matching,
// so a hostile pattern in a revset can't blow up evaluation.
func Compile(p StringPattern) (Matcher, error) {
	switch p.Kind {
	case PatternExact:
		return exactMatcher(p.Value), nil
	case PatternSubstring:
		return substringMatcher(p.Value), nil
	case PatternGlob:
		g, err := glob.Compile(p.Value, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "compiling glob pattern %q", p.Value)
		}
		return globMatcher{g: g}, nil
	case PatternRegex:
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling regex pattern %q", p.Value)
		}
		return regexMatcher{re: re}, nil
	case PatternIRegex:
		re, err := regexp.Compile("(?i)" + p.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling case-insensitive regex pattern %q", p.Value)
		}
		return regexMatcher{re: re}, nil
	default:
		return nil, errors.Newf("unknown string pattern kind %d", p.Kind)
	}
}
