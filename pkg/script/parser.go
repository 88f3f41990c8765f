package script

import (
	"fmt"
	"strconv"
	"strings"

	"sedx/pkg/core"
	"sedx/pkg/regexflavor"
)

// Options configures how a script is parsed.
type Options struct {
	// Flavor is the default regex flavor for addresses and s/// patterns
	// that don't otherwise override it.
	Flavor regexflavor.Flavor
}

// Parse assembles script text (already joined from -e expressions and -f
// file contents with newline separators, per §4.B) into a validated,
// flattened Program.
func Parse(src string, opts Options) (*Program, error) {
	p := &parser{src: src, flavor: opts.Flavor, prog: &Program{Labels: map[string]int{}}}
	if err := p.parseCommands(false); err != nil {
		return nil, err
	}
	if err := p.resolveBranches(); err != nil {
		return nil, err
	}
	return p.prog, nil
}

type parser struct {
	src    string
	pos    int
	line   int
	col    int
	flavor regexflavor.Flavor
	prog   *Program
}

func (p *parser) errorf(format string, args ...any) error {
	return &core.ScriptError{Pos: p.position(), Message: fmt.Sprintf(format, args...)}
}

func (p *parser) position() core.Position {
	line, col := 1, 1
	for i := 0; i < p.pos && i < len(p.src); i++ {
		if p.src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return core.Position{Line: line, Column: col}
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) skipWS() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == ';') {
		p.pos++
	}
}

func (p *parser) emit(in *Instr) int {
	p.prog.Instrs = append(p.prog.Instrs, in)
	return len(p.prog.Instrs) - 1
}

// parseCommands parses commands until EOF (top level) or a closing '}'
// (inGroup), appending flattened instructions directly to p.prog.Instrs.
func (p *parser) parseCommands(inGroup bool) error {
	for {
		p.skipWS()
		if p.pos >= len(p.src) {
			if inGroup {
				return p.errorf("unterminated '{'")
			}
			return nil
		}
		if p.src[p.pos] == '}' {
			if inGroup {
				p.pos++
				return nil
			}
			return p.errorf("unexpected '}'")
		}
		if p.src[p.pos] == '#' {
			for p.pos < len(p.src) && p.src[p.pos] != '\n' {
				p.pos++
			}
			continue
		}
		if err := p.parseOneCommand(); err != nil {
			return err
		}
	}
}

func (p *parser) parseOneCommand() error {
	p.skipSpaces()
	if p.pos >= len(p.src) {
		return nil
	}

	in := &Instr{}

	a1, err := p.parseAddress()
	if err != nil {
		return err
	}
	in.Addr1 = a1
	if a1 != nil && !a1.Last && !a1.ReuseRegex && a1.Regex == nil && a1.Step == 0 && a1.LineNum == 0 {
		return p.errorf("address line number 0 is not a valid first endpoint")
	}

	if p.pos < len(p.src) && p.src[p.pos] == ',' {
		p.pos++
		p.skipSpaces()
		a2, err := p.parseAddress()
		if err != nil {
			return err
		}
		if a2 == nil {
			return p.errorf("expected second address after ','")
		}
		in.Addr2 = a2
	}

	p.skipSpaces()
	if p.pos >= len(p.src) || p.src[p.pos] == '\n' || p.src[p.pos] == ';' {
		if in.Addr1 != nil {
			return p.errorf("incomplete command: address with no command")
		}
		return nil
	}

	if p.src[p.pos] == '!' {
		in.Negated = true
		p.pos++
		p.skipSpaces()
	}

	if p.pos >= len(p.src) {
		return p.errorf("incomplete command")
	}

	opByte := p.src[p.pos]
	p.pos++
	in.Op = Opcode(opByte)

	switch in.Op {
	case OpGroupStart:
		start := p.emit(in)
		if err := p.parseCommands(true); err != nil {
			return err
		}
		end := p.emit(&Instr{Op: OpGroupEnd})
		p.prog.Instrs[start].Target = end + 1
		return nil
	case OpInsert, OpAppend, OpChange:
		in.Text = p.parseTextArg()
	case OpLabel:
		p.skipSpaces()
		in.Label = p.parseLabel()
		if in.Label == "" {
			return p.errorf("empty label name")
		}
		if _, dup := p.prog.Labels[in.Label]; dup {
			return p.errorf("duplicate label %q", in.Label)
		}
		p.prog.Labels[in.Label] = len(p.prog.Instrs)
	case OpBranch, OpBranchIfSub, OpBranchIfNoSub:
		p.skipSpaces()
		in.Label = p.parseLabel()
	case OpSubstitute:
		if err := p.parseSubstitution(in); err != nil {
			return err
		}
	case OpTransliterate:
		if err := p.parseTransliterate(in); err != nil {
			return err
		}
	case OpReadFile, OpReadLine, OpWriteFile, OpWriteFirst:
		p.skipSpaces()
		start := p.pos
		for p.pos < len(p.src) && p.src[p.pos] != '\n' && p.src[p.pos] != ';' {
			p.pos++
		}
		in.Text = strings.TrimSpace(p.src[start:p.pos])
		if in.Text == "" {
			return p.errorf("command '%c' requires a path argument", opByte)
		}
	case OpQuit, OpQuitSilent:
		p.skipSpaces()
		if p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			start := p.pos
			for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
				p.pos++
			}
			n, _ := strconv.Atoi(p.src[start:p.pos])
			in.ExitCode = n
			in.HasExitCode = true
		}
	case OpDelete, OpDeleteFirst, OpGet, OpGetAppend, OpHold, OpHoldAppend,
		OpLineNumber, OpPrintFilename, OpNext, OpNextAppend, OpPrint,
		OpPrintFirst, OpExchange, OpZap:
		// no operands
	default:
		return p.errorf("unknown command: '%c'", opByte)
	}
	p.emit(in)
	return nil
}

func (p *parser) parseAddress() (*Address, error) {
	p.skipSpaces()
	if p.pos >= len(p.src) {
		return nil, nil
	}
	ch := p.src[p.pos]
	switch {
	case ch == '$':
		p.pos++
		return &Address{Last: true}, nil
	case ch >= '0' && ch <= '9':
		start := p.pos
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
		n, _ := strconv.Atoi(p.src[start:p.pos])
		if p.pos < len(p.src) && p.src[p.pos] == '~' {
			p.pos++
			s2 := p.pos
			for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
				p.pos++
			}
			step, _ := strconv.Atoi(p.src[s2:p.pos])
			return &Address{LineNum: n, Step: step}, nil
		}
		return &Address{LineNum: n}, nil
	case ch == '/' || ch == '\\':
		delim := byte('/')
		if ch == '\\' {
			p.pos++
			if p.pos >= len(p.src) {
				return nil, p.errorf("unterminated address regex")
			}
			delim = p.src[p.pos]
		}
		p.pos++
		pat := p.readUntilUnescaped(delim)
		if pat == "" {
			return &Address{ReuseRegex: true}, nil
		}
		m, err := regexflavor.Compile(p.flavor, pat, regexflavor.Options{}, p.position())
		if err != nil {
			return nil, err
		}
		return &Address{Regex: m}, nil
	case ch == '+':
		p.pos++
		start := p.pos
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
		if p.pos > start {
			n, _ := strconv.Atoi(p.src[start:p.pos])
			return &Address{LineNum: n, Relative: true}, nil
		}
		p.pos = start - 1
		return nil, nil
	}
	return nil, nil
}

func (p *parser) readUntilUnescaped(delim byte) string {
	var buf strings.Builder
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if ch == '\\' && p.pos+1 < len(p.src) {
			next := p.src[p.pos+1]
			switch next {
			case delim:
				buf.WriteByte(delim)
				p.pos += 2
				continue
			case 'n':
				buf.WriteByte('\n')
				p.pos += 2
				continue
			}
			buf.WriteByte(ch)
			buf.WriteByte(next)
			p.pos += 2
			continue
		}
		if ch == delim {
			p.pos++
			return buf.String()
		}
		buf.WriteByte(ch)
		p.pos++
	}
	return buf.String()
}

func (p *parser) parseTextArg() string {
	if p.pos < len(p.src) && p.src[p.pos] == '\\' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '\n' {
		p.pos += 2
	} else {
		p.skipSpaces()
	}
	var lines []string
	for {
		start := p.pos
		for p.pos < len(p.src) && p.src[p.pos] != '\n' {
			p.pos++
		}
		line := p.src[start:p.pos]
		if p.pos < len(p.src) && p.src[p.pos] == '\n' {
			p.pos++
		}
		line = strings.ReplaceAll(line, "\\n", "\n")
		if strings.HasSuffix(line, "\\") && !strings.HasSuffix(line, "\\\\") {
			lines = append(lines, line[:len(line)-1])
			continue
		}
		lines = append(lines, line)
		break
	}
	return strings.Join(lines, "\n")
}

func (p *parser) parseLabel() string {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != '\n' && p.src[p.pos] != ';' &&
		p.src[p.pos] != '}' && p.src[p.pos] != ' ' && p.src[p.pos] != '\t' {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) readSubstPart(delim byte, allowCharClass bool) string {
	var buf strings.Builder
	inClass := false
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if ch == '\\' && p.pos+1 < len(p.src) {
			next := p.src[p.pos+1]
			switch next {
			case delim:
				buf.WriteByte(delim)
				p.pos += 2
				continue
			case 'n':
				buf.WriteByte('\n')
				p.pos += 2
				continue
			case '\n':
				buf.WriteByte('\n')
				p.pos += 2
				continue
			}
			buf.WriteByte(ch)
			buf.WriteByte(next)
			p.pos += 2
			continue
		}
		if allowCharClass && ch == '[' && !inClass {
			inClass = true
			buf.WriteByte(ch)
			p.pos++
			continue
		}
		if ch == ']' && inClass {
			inClass = false
			buf.WriteByte(ch)
			p.pos++
			continue
		}
		if ch == delim && !inClass {
			p.pos++
			return buf.String()
		}
		buf.WriteByte(ch)
		p.pos++
	}
	return buf.String()
}

func (p *parser) parseSubstitution(in *Instr) error {
	if p.pos >= len(p.src) {
		return p.errorf("unterminated 's' command")
	}
	delim := p.src[p.pos]
	if delim == '\\' || delim == '\n' {
		return p.errorf("invalid delimiter for 's' command")
	}
	p.pos++
	pattern := p.readSubstPart(delim, true)
	replacement := p.readSubstPart(delim, false)

	sub := &SubCommand{}
	var opts regexflavor.Options
	for p.pos < len(p.src) && p.src[p.pos] != '\n' && p.src[p.pos] != ';' && p.src[p.pos] != '}' {
		ch := p.src[p.pos]
		switch {
		case ch == 'g':
			sub.Global = true
			p.pos++
		case ch == 'p':
			sub.Print = true
			p.pos++
		case ch == 'e':
			p.pos++ // parsed, reserved
		case ch == 'i' || ch == 'I':
			opts.CaseInsensitive = true
			p.pos++
		case ch == 'm' || ch == 'M':
			opts.Multiline = true
			p.pos++
		case ch == 'w':
			p.pos++
			p.skipSpaces()
			start := p.pos
			for p.pos < len(p.src) && p.src[p.pos] != '\n' && p.src[p.pos] != ';' {
				p.pos++
			}
			sub.WritePath = strings.TrimSpace(p.src[start:p.pos])
		case ch >= '1' && ch <= '9':
			n := 0
			for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
				n = n*10 + int(p.src[p.pos]-'0')
				p.pos++
			}
			if sub.Nth != 0 {
				return p.errorf("conflicting N flags on 's' command")
			}
			sub.Nth = n
		default:
			return p.errorf("unknown 's' flag '%c'", ch)
		}
	}

	m, err := regexflavor.Compile(p.flavor, pattern, opts, p.position())
	if err != nil {
		return err
	}
	repl, err := regexflavor.CompileReplacement(p.flavor, replacement, m, p.position())
	if err != nil {
		return err
	}
	sub.Matcher = m
	sub.Repl = repl
	in.Sub = sub
	return nil
}

func (p *parser) parseTransliterate(in *Instr) error {
	if p.pos >= len(p.src) {
		return p.errorf("unterminated 'y' command")
	}
	delim := p.src[p.pos]
	p.pos++
	from := p.readSubstPart(delim, false)
	to := p.readSubstPart(delim, false)
	fr := []rune(from)
	tr := []rune(to)
	if len(fr) != len(tr) {
		return p.errorf("'y' command operands have different lengths")
	}
	in.Trans = &TransTable{From: fr, To: tr}
	return nil
}

// resolveBranches fixes up b/t/T Label references into Target program
// counters, failing on any label that was never defined.
func (p *parser) resolveBranches() error {
	for _, in := range p.prog.Instrs {
		switch in.Op {
		case OpBranch, OpBranchIfSub, OpBranchIfNoSub:
			if in.Label == "" {
				in.Target = len(p.prog.Instrs)
				continue
			}
			target, ok := p.prog.Labels[in.Label]
			if !ok {
				return &core.ScriptError{Message: "can't find label for jump to '" + in.Label + "'"}
			}
			in.Target = target
		}
	}
	return nil
}
