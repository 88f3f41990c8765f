// Package vm is the execution VM: a flat, program-counter indexed
// dispatch loop over a script.Program. It owns pattern space, hold
// space, the append queue, and the substitution-success flag consulted
// by t/T, and drives every opcode the parser produces.
//
// The loop is flat rather than a tree-walk because script.Program is
// already flattened: {}-groups compile down to a conditional skip
// (OpGroupStart jumping past OpGroupEnd when its address doesn't
// select), so branching, restarting (D) and skipping a group are all
// just "set pc and continue" instead of recursive calls.
package vm

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"sedx/pkg/address"
	"sedx/pkg/core"
	"sedx/pkg/core/fs"
	"sedx/pkg/script"
	"sedx/pkg/stream"
)

// Result reports how a Run call ended.
type Result struct {
	Quit        bool // a q/Q command, or N with no next line, stopped the run
	ExitCode    int  // meaningful only when HasExitCode
	HasExitCode bool
}

// Machine is the execution VM. Hold space, the line counter, range state
// and w/W/R file handles live as long as the Machine: they are not reset
// between the files of a multi-file Source it runs over.
type Machine struct {
	prog  *script.Program
	quiet bool

	addrEval  *address.Evaluator
	lastRegex *address.LastRegex

	holdSpace string
	lineNum   int
	lastSub   bool // did the most recent s/// on the current line succeed, consulted by t/T

	wfiles map[string]*os.File       // w/W targets, opened lazily and kept open for the run
	rfiles map[string]*os.File       // R targets, one persistent handle per path
	rlines map[string]*bufio.Scanner // R's per-path line cursor

	out       *bufio.Writer
	pendingNL bool // a withheld line terminator for a newline-less final input line
}

// New creates a Machine for prog. quiet suppresses autoprint (-n).
func New(prog *script.Program, quiet bool) *Machine {
	last := &address.LastRegex{}
	return &Machine{
		prog:      prog,
		quiet:     quiet,
		addrEval:  address.NewEvaluator(last),
		lastRegex: last,
		wfiles:    map[string]*os.File{},
		rfiles:    map[string]*os.File{},
		rlines:    map[string]*bufio.Scanner{},
	}
}

// LineNum returns the number of input lines consumed so far.
func (m *Machine) LineNum() int { return m.lineNum }

// Close releases every w/W/R file handle opened during the run.
func (m *Machine) Close() error {
	var first error
	for _, f := range m.wfiles {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, f := range m.rfiles {
		f.Close()
	}
	m.wfiles = map[string]*os.File{}
	m.rfiles = map[string]*os.File{}
	m.rlines = map[string]*bufio.Scanner{}
	return first
}

// Run executes the program over src, writing autoprint and p/P output to
// out, until src is exhausted or a q/Q command stops it.
func (m *Machine) Run(src stream.Source, out *bufio.Writer) (Result, error) {
	m.out = out
	for {
		line, ok := src.Next()
		if !ok {
			return Result{}, nil
		}
		m.lineNum++
		res, stop, err := m.cycle(src, line)
		if err != nil {
			return Result{}, err
		}
		if stop {
			return res, nil
		}
	}
}

// emit writes s followed by an unconditional newline: used for anything
// that is never the newline-less tail of the original input (append/
// insert text, '=', 'F', P's first-line print).
func (m *Machine) emit(s string) {
	m.flushPendingNL()
	m.out.WriteString(s)
	m.out.WriteByte('\n')
}

// emitPattern writes pattern-space content standing for the whole
// current line (autoprint, p, n's pre-read print, q, s///p). omitNL is
// true only while processing the final input line when the source's
// very last line carried no trailing newline; the terminator is then
// withheld rather than written, so the run can echo a newline-less
// input byte-for-byte. The withheld newline is not lost if anything
// else is emitted afterward — flushPendingNL supplies it lazily — so
// only the line that truly is the last thing written ends up bare.
func (m *Machine) emitPattern(s string, omitNL bool) {
	m.flushPendingNL()
	m.out.WriteString(s)
	if omitNL {
		m.pendingNL = true
	} else {
		m.out.WriteByte('\n')
	}
}

func (m *Machine) flushPendingNL() {
	if m.pendingNL {
		m.out.WriteByte('\n')
		m.pendingNL = false
	}
}

func (m *Machine) drainAppend(queue []string) {
	for _, t := range queue {
		m.emit(t)
	}
}

// cycle runs the whole program once against one input line, including
// any restarts from D and any additional lines pulled in by n/N. It
// returns whether the caller's Run loop should stop reading more input.
func (m *Machine) cycle(src stream.Source, firstLine string) (Result, bool, error) {
	pattern := firstLine
	name := src.Name()
	isLast := src.IsLast()
	m.lastSub = false

	var appendQueue []string

restart:
	pc := 0
	for pc < len(m.prog.Instrs) {
		in := m.prog.Instrs[pc]

		if in.Op == script.OpLabel || in.Op == script.OpGroupEnd {
			pc++
			continue
		}

		selected := m.addrEval.Select(pc, in.Addr1, in.Addr2, in.Negated, m.lineNum, pattern, isLast)

		if in.Op == script.OpGroupStart {
			if !selected {
				pc = in.Target
				continue
			}
			pc++
			continue
		}
		if !selected {
			pc++
			continue
		}

		switch in.Op {
		case script.OpDelete:
			m.drainAppend(appendQueue)
			return Result{}, false, nil

		case script.OpDeleteFirst:
			if idx := strings.IndexByte(pattern, '\n'); idx >= 0 {
				pattern = pattern[idx+1:]
				goto restart
			}
			m.drainAppend(appendQueue)
			return Result{}, false, nil

		case script.OpPrint:
			m.emitPattern(pattern, isLast && !src.EndsWithNewline())

		case script.OpPrintFirst:
			first := pattern
			if idx := strings.IndexByte(pattern, '\n'); idx >= 0 {
				first = pattern[:idx]
			}
			m.emit(first)

		case script.OpLineNumber:
			// Always emitted, even under -n.
			m.emit(strconv.Itoa(m.lineNum))

		case script.OpPrintFilename:
			// Always emitted, even under -n.
			m.emit(name)

		case script.OpHold:
			m.holdSpace = pattern

		case script.OpHoldAppend:
			m.holdSpace = m.holdSpace + "\n" + pattern

		case script.OpGet:
			pattern = m.holdSpace

		case script.OpGetAppend:
			pattern = pattern + "\n" + m.holdSpace

		case script.OpExchange:
			pattern, m.holdSpace = m.holdSpace, pattern

		case script.OpZap:
			pattern = ""

		case script.OpNext:
			if !m.quiet {
				m.emitPattern(pattern, isLast && !src.EndsWithNewline())
			}
			m.drainAppend(appendQueue)
			appendQueue = nil
			next, ok := src.Next()
			if !ok {
				return Result{}, false, nil
			}
			m.lineNum++
			pattern = next
			name = src.Name()
			isLast = src.IsLast()
			m.lastSub = false

		case script.OpNextAppend:
			next, ok := src.Next()
			if !ok {
				// GNU extension: without more input, autoprint the pattern
				// space as it stands and quit, rather than erroring.
				if !m.quiet {
					m.emitPattern(pattern, isLast && !src.EndsWithNewline())
				}
				m.drainAppend(appendQueue)
				return Result{Quit: true}, true, nil
			}
			m.lineNum++
			pattern = pattern + "\n" + next
			name = src.Name()
			isLast = src.IsLast()

		case script.OpQuit:
			if !m.quiet {
				m.emitPattern(pattern, isLast && !src.EndsWithNewline())
			}
			m.drainAppend(appendQueue)
			return Result{Quit: true, ExitCode: in.ExitCode, HasExitCode: in.HasExitCode}, true, nil

		case script.OpQuitSilent:
			m.drainAppend(appendQueue)
			return Result{Quit: true, ExitCode: in.ExitCode, HasExitCode: in.HasExitCode}, true, nil

		case script.OpInsert:
			m.emit(in.Text)

		case script.OpAppend:
			appendQueue = append(appendQueue, in.Text)

		case script.OpChange:
			// A ranged c fires once, at the line that closes the range;
			// a single-address c fires every time it is selected.
			if in.Addr2 == nil || !m.addrEval.RangeActive(pc) {
				m.emit(in.Text)
			}
			m.drainAppend(appendQueue)
			return Result{}, false, nil

		case script.OpBranch:
			pc = in.Target
			continue

		case script.OpBranchIfSub:
			if m.lastSub {
				m.lastSub = false
				pc = in.Target
				continue
			}

		case script.OpBranchIfNoSub:
			if !m.lastSub {
				pc = in.Target
				continue
			}

		case script.OpSubstitute:
			m.execSubstitute(in.Sub, &pattern, isLast && !src.EndsWithNewline())

		case script.OpTransliterate:
			pattern = transliterate(in.Trans, pattern)

		case script.OpReadFile:
			// A missing file is silently ignored.
			if data, err := fs.ReadFile(in.Text); err == nil {
				appendQueue = append(appendQueue, strings.TrimSuffix(string(data), "\n"))
			}

		case script.OpReadLine:
			if line, ok := m.readOneLine(in.Text); ok {
				appendQueue = append(appendQueue, line)
			}

		case script.OpWriteFile:
			if err := m.writeTo(in.Text, pattern); err != nil {
				return Result{}, true, err
			}

		case script.OpWriteFirst:
			first := pattern
			if idx := strings.IndexByte(pattern, '\n'); idx >= 0 {
				first = pattern[:idx]
			}
			if err := m.writeTo(in.Text, first); err != nil {
				return Result{}, true, err
			}
		}
		pc++
	}

	if !m.quiet {
		m.emitPattern(pattern, isLast && !src.EndsWithNewline())
	}
	m.drainAppend(appendQueue)
	return Result{}, false, nil
}

// execSubstitute applies an s/// command to *pattern in place, honoring
// the g (all matches), N (only the Nth match; with g, the Nth and every
// later one), p (print on success) and
// w (write on success) flags. omitNL mirrors emitPattern's final-line
// newline-withholding rule for the sub's own p-flag print.
func (m *Machine) execSubstitute(sub *script.SubCommand, pattern *string, omitNL bool) {
	re := sub.Matcher.Regexp()
	m.lastRegex.M = sub.Matcher

	locs := re.FindAllStringSubmatchIndex(*pattern, -1)
	if len(locs) == 0 {
		return
	}
	start := 1
	if sub.Nth > 0 {
		start = sub.Nth
	}
	if start > len(locs) {
		return
	}

	var buf strings.Builder
	last := 0
	changed := false
	for i, loc := range locs {
		n := i + 1
		if n < start {
			continue
		}
		if n > start && !sub.Global {
			break
		}
		buf.WriteString((*pattern)[last:loc[0]])
		buf.WriteString(sub.Repl.Expand(submatchGroups(*pattern, loc)))
		last = loc[1]
		changed = true
	}
	if !changed {
		return
	}
	buf.WriteString((*pattern)[last:])
	*pattern = buf.String()
	m.lastSub = true

	if sub.Print {
		m.emitPattern(*pattern, omitNL)
	}
	if sub.WritePath != "" {
		m.writeTo(sub.WritePath, *pattern)
	}
}

func submatchGroups(s string, loc []int) []string {
	n := len(loc) / 2
	groups := make([]string, n)
	for i := 0; i < n; i++ {
		lo, hi := loc[2*i], loc[2*i+1]
		if lo >= 0 {
			groups[i] = s[lo:hi]
		}
	}
	return groups
}

func transliterate(t *script.TransTable, s string) string {
	tbl := make(map[rune]rune, len(t.From))
	for i, f := range t.From {
		tbl[f] = t.To[i]
	}
	var buf strings.Builder
	for _, r := range s {
		if d, ok := tbl[r]; ok {
			buf.WriteRune(d)
		} else {
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

// readOneLine advances R's per-path cursor by one line. Once a path is
// missing or exhausted it stays that way for the rest of the run.
func (m *Machine) readOneLine(path string) (string, bool) {
	sc, known := m.rlines[path]
	if !known {
		f, err := fs.Open(path)
		if err != nil {
			m.rlines[path] = nil
			return "", false
		}
		m.rfiles[path] = f
		sc = bufio.NewScanner(f)
		m.rlines[path] = sc
	}
	if sc == nil {
		return "", false
	}
	if sc.Scan() {
		return sc.Text(), true
	}
	return "", false
}

// writeTo appends data plus a newline to path, opening (and truncating)
// it on first use and keeping the handle open for the rest of the run.
func (m *Machine) writeTo(path, data string) error {
	f, ok := m.wfiles[path]
	if !ok {
		var err error
		f, err = fs.Create(path)
		if err != nil {
			return &core.IoError{Path: path, Op: "write", Err: err}
		}
		m.wfiles[path] = f
	}
	if _, err := f.WriteString(data + "\n"); err != nil {
		return &core.IoError{Path: path, Op: "write", Err: err}
	}
	return nil
}
