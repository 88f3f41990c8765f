package regexflavor

import (
	"strings"
	"unicode"

	"sedx/pkg/core"
)

type tokKind int

const (
	tokLiteral tokKind = iota
	tokBackref
	tokWholeMatch
	tokCaseUpperOne  // \u — uppercase the single next emitted byte
	tokCaseLowerOne  // \l — lowercase the single next emitted byte
	tokCaseUpperSpan // \U — uppercase until \E
	tokCaseLowerSpan // \L — lowercase until \E
	tokCaseEnd       // \E
)

type token struct {
	kind tokKind
	lit  string
	n    int
}

// Replacement is a flavor-normalized, pre-validated replacement template:
// a token list that Expand walks against one match's captured groups.
type Replacement struct {
	tokens []token
}

// CompileReplacement parses a raw replacement operand (delimiter already
// stripped/unescaped by the script lexer) into a Replacement, validating
// every backreference against m's capture groups.
//
// PCRE accepts $1..$9, ${name}, $&, \1..\9, and & for the whole match.
// ERE and BRE accept \1..\9 and & for the whole match; a literal $ is
// never special for them.
func CompileReplacement(flavor Flavor, repl string, m *Matcher, pos core.Position) (*Replacement, error) {
	allowDollar := flavor == PCRE
	names := m.re.SubexpNames()
	numGroups := m.re.NumSubexp()

	nameIndex := func(name string) (int, bool) {
		for i, n := range names {
			if n == name {
				return i, true
			}
		}
		return 0, false
	}

	var toks []token
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			toks = append(toks, token{kind: tokLiteral, lit: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(repl); i++ {
		ch := repl[i]
		switch {
		case ch == '&':
			flush()
			toks = append(toks, token{kind: tokWholeMatch})
		case ch == '$' && allowDollar && i+1 < len(repl):
			next := repl[i+1]
			switch {
			case next == '&':
				flush()
				toks = append(toks, token{kind: tokWholeMatch})
				i++
			case next >= '0' && next <= '9':
				flush()
				n := int(next - '0')
				if n > numGroups {
					return nil, &core.RegexError{Pos: pos, Replace: true, Message: "replacement references nonexistent group $" + string(next)}
				}
				toks = append(toks, token{kind: tokBackref, n: n})
				i++
			case next == '{':
				end := strings.IndexByte(repl[i+2:], '}')
				if end < 0 {
					return nil, &core.RegexError{Pos: pos, Replace: true, Message: "unterminated ${...} in replacement"}
				}
				name := repl[i+2 : i+2+end]
				flush()
				if idx, ok := nameIndex(name); ok {
					toks = append(toks, token{kind: tokBackref, n: idx})
				} else if n, ok := parseDigits(name); ok {
					if n > numGroups {
						return nil, &core.RegexError{Pos: pos, Replace: true, Message: "replacement references nonexistent group ${" + name + "}"}
					}
					toks = append(toks, token{kind: tokBackref, n: n})
				} else {
					return nil, &core.RegexError{Pos: pos, Replace: true, Message: "replacement references undefined named group ${" + name + "}"}
				}
				i += 2 + end
			default:
				lit.WriteByte(ch)
			}
		case ch == '\\' && i+1 < len(repl):
			next := repl[i+1]
			switch next {
			case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
				flush()
				n := int(next - '0')
				if n > numGroups {
					return nil, &core.RegexError{Pos: pos, Replace: true, Message: "replacement references nonexistent group \\" + string(next)}
				}
				toks = append(toks, token{kind: tokBackref, n: n})
				i++
			case 'u':
				flush()
				toks = append(toks, token{kind: tokCaseUpperOne})
				i++
			case 'l':
				flush()
				toks = append(toks, token{kind: tokCaseLowerOne})
				i++
			case 'U':
				flush()
				toks = append(toks, token{kind: tokCaseUpperSpan})
				i++
			case 'L':
				flush()
				toks = append(toks, token{kind: tokCaseLowerSpan})
				i++
			case 'E':
				flush()
				toks = append(toks, token{kind: tokCaseEnd})
				i++
			case '&':
				lit.WriteByte('&')
				i++
			case '$':
				lit.WriteByte('$')
				i++
			case '\\':
				lit.WriteByte('\\')
				i++
			default:
				lit.WriteByte(next)
				i++
			}
		default:
			lit.WriteByte(ch)
		}
	}
	flush()
	return &Replacement{tokens: toks}, nil
}

func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// caseMode tracks the \u/\l/\U/\L/\E state machine while emitting bytes.
type caseMode int

const (
	caseNone caseMode = iota
	caseUpperOne
	caseLowerOne
	caseUpperSpan
	caseLowerSpan
)

// Expand renders the replacement against one match. groups[0] is the whole
// match; groups[i] is submatch i (empty string if the group did not
// participate in the match, per the spec's empty-capture rule).
func (r *Replacement) Expand(groups []string) string {
	var out strings.Builder
	mode := caseNone

	emit := func(s string) {
		for _, ru := range s {
			switch mode {
			case caseUpperOne:
				out.WriteRune(unicode.ToUpper(ru))
				mode = caseNone
			case caseLowerOne:
				out.WriteRune(unicode.ToLower(ru))
				mode = caseNone
			case caseUpperSpan:
				out.WriteRune(unicode.ToUpper(ru))
			case caseLowerSpan:
				out.WriteRune(unicode.ToLower(ru))
			default:
				out.WriteRune(ru)
			}
		}
	}

	for _, t := range r.tokens {
		switch t.kind {
		case tokLiteral:
			emit(t.lit)
		case tokWholeMatch:
			if len(groups) > 0 {
				emit(groups[0])
			}
		case tokBackref:
			if t.n < len(groups) {
				emit(groups[t.n])
			}
		case tokCaseUpperOne:
			mode = caseUpperOne
		case tokCaseLowerOne:
			mode = caseLowerOne
		case tokCaseUpperSpan:
			mode = caseUpperSpan
		case tokCaseLowerSpan:
			mode = caseLowerSpan
		case tokCaseEnd:
			mode = caseNone
		}
	}
	return out.String()
}
