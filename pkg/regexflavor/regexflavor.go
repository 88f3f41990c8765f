// Package regexflavor compiles a user pattern under a named regex flavor
// (PCRE-like, ERE, or BRE) into a single internal matcher, and compiles a
// sed-style replacement template into a token list that normalizes
// flavor-specific backreference syntax into one evaluator.
//
// There is one matcher engine underneath (Go's RE2-based regexp package);
// the three flavors are frontends that translate their own metacharacter
// and backreference conventions into it at compile time.
package regexflavor

import (
	"fmt"
	"regexp"
	"strings"

	"sedx/pkg/core"
)

// Flavor selects which dialect compile uses for metacharacter and
// backreference syntax.
type Flavor int

const (
	// PCRE is the default: standard modern regex syntax, $1..$9/${name} and
	// \1..\9 backreferences, & or $& for the whole match.
	PCRE Flavor = iota
	// ERE is POSIX extended regex: unescaped (, ), |, +, ?, {m,n} are
	// metacharacters. Replacement uses \1..\9, & for the whole match.
	ERE
	// BRE is POSIX basic regex: \(, \), \|, \+, \? are the escape-metas;
	// unescaped + and ? are literal. Replacement syntax matches ERE.
	BRE
)

func (f Flavor) String() string {
	switch f {
	case PCRE:
		return "pcre"
	case ERE:
		return "ere"
	case BRE:
		return "bre"
	default:
		return "unknown"
	}
}

// ParseFlavor maps a CLI-facing name to a Flavor.
func ParseFlavor(name string) (Flavor, bool) {
	switch strings.ToLower(name) {
	case "", "pcre", "default":
		return PCRE, true
	case "ere", "extended":
		return ERE, true
	case "bre", "basic":
		return BRE, true
	}
	return 0, false
}

// Options carries the per-match flags that affect compilation (i, m).
// The g/N/p flags are evaluated at substitution time, not compile time;
// see pkg/vm.
type Options struct {
	CaseInsensitive bool
	Multiline bool
}

// Matcher wraps the compiled pattern plus enough flavor context to compile
// matching replacement templates.
type Matcher struct {
	re     *regexp.Regexp
	flavor Flavor
}

// Compile compiles pattern under flavor into a Matcher.
func Compile(flavor Flavor, pattern string, opts Options, pos core.Position) (*Matcher, error) {
	translated, err := translate(flavor, pattern)
	if err != nil {
		return nil, &core.RegexError{Pos: pos, Message: err.Error()}
	}

	var prefix strings.Builder
	prefix.WriteByte('(')
	prefix.WriteByte('?')
	if opts.CaseInsensitive {
		prefix.WriteByte('i')
	}
	if opts.Multiline {
		prefix.WriteByte('m')
	}
	prefix.WriteByte(')')
	full := translated
	if opts.CaseInsensitive || opts.Multiline {
		full = prefix.String() + translated
	}

	re, err := regexp.Compile(full)
	if err != nil {
		return nil, &core.RegexError{Pos: pos, Message: err.Error()}
	}
	return &Matcher{re: re, flavor: flavor}, nil
}

// Regexp exposes the underlying compiled matcher for direct use by the VM
// (ReplaceAll, FindStringIndex, etc. are driven from pkg/vm so it can
// implement the N/g interplay described in the substitution semantics).
func (m *Matcher) Regexp() *regexp.Regexp { return m.re }

// MatchString reports whether s contains a match anywhere.
func (m *Matcher) MatchString(s string) bool { return m.re.MatchString(s) }

// translate normalizes flavor-specific metacharacter syntax into the
// RE2-compatible syntax Go's regexp package accepts. PCRE and ERE already
// match closely enough to pass through unchanged (Go's engine natively
// accepts POSIX bracket classes like [[:alpha:]]); BRE needs its
// backslash-escaped metacharacters swapped with their bare counterparts.
func translate(flavor Flavor, pattern string) (string, error) {
	switch flavor {
	case PCRE, ERE:
		return pattern, nil
	case BRE:
		return translateBRE(pattern), nil
	default:
		return "", fmt.Errorf("unknown regex flavor %v", flavor)
	}
}

// translateBRE converts POSIX Basic Regular Expression syntax to the
// extended syntax Go's regexp package expects:
//
//	\( \) \| \{ \} \+ \?   ->  ( ) | { } + ?   (escape-metas become metacharacters)
//	(  )  |  {  }  +  ?    ->  \( \) \| \{ \} \+ \?   (bare specials become literal)
//
// Character classes are passed through untouched; BRE has no special
// meaning for these bytes inside [...].
func translateBRE(pat string) string {
	var out strings.Builder
	inClass := false
	for i := 0; i < len(pat); i++ {
		ch := pat[i]
		if ch == '[' && !inClass {
			inClass = true
			out.WriteByte(ch)
			continue
		}
		if ch == ']' && inClass {
			inClass = false
			out.WriteByte(ch)
			continue
		}
		if inClass {
			out.WriteByte(ch)
			continue
		}
		if ch == '\\' && i+1 < len(pat) {
			next := pat[i+1]
			switch next {
			case '(', ')', '|', '{', '}', '+', '?':
				out.WriteByte(next)
				i++
			default:
				out.WriteByte(ch)
				out.WriteByte(next)
				i++
			}
			continue
		}
		if ch == '(' || ch == ')' || ch == '|' || ch == '{' || ch == '}' || ch == '+' || ch == '?' {
			out.WriteByte('\\')
			out.WriteByte(ch)
			continue
		}
		out.WriteByte(ch)
	}
	return out.String()
}
