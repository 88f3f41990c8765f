// Package stream feeds the execution VM one pattern-space line at a time
// from stdin or a sequence of files, deciding between a buffered and a
// streaming read strategy and tracking which input each line came from
// for the F command and $ (last-line) addressing.
package stream

import (
	"bufio"
	"io"
	"strings"

	"sedx/pkg/core"
	"sedx/pkg/core/fs"
)

// StreamingThreshold is the total input size, in bytes, above which
// Select prefers streaming mode over buffered mode when neither mode is
// forced explicitly.
const StreamingThreshold = 1 << 20 // 1 MiB

// Mode selects how input is consumed.
type Mode int

const (
	// ModeBuffered reads each input file into memory up front. Used for
	// small inputs, and needed anywhere the whole original content has to
	// be held for a dry-run diff.
	ModeBuffered Mode = iota
	// ModeStreaming reads incrementally through a bufio.Reader without
	// loading a whole file into memory, for large inputs.
	ModeStreaming
)

// Select resolves the effective mode for a total input size, honoring an
// explicit override when one is given.
func Select(totalSize int64, forceStreaming, forceBuffered bool) Mode {
	switch {
	case forceStreaming:
		return ModeStreaming
	case forceBuffered:
		return ModeBuffered
	case totalSize > StreamingThreshold:
		return ModeStreaming
	default:
		return ModeBuffered
	}
}

// Source feeds the VM one line at a time, trailing "\n" stripped (a
// trailing "\r" from CRLF input is preserved, since it is part of the
// line's content as far as sedx is concerned).
type Source interface {
	// Next returns the next line and true, or ("", false) once every
	// input file (and stdin, if included) is exhausted.
	Next() (string, bool)
	// IsLast reports whether the line just returned by Next is the final
	// line across the whole input, not just the current file.
	IsLast() bool
	// Name returns the name of the file the current line came from, "-"
	// for standard input.
	Name() string
	// EndsWithNewline reports whether the very last line of input ended
	// with a newline byte. Valid as soon as IsLast reports true for the
	// line just returned by Next — the lookahead that detects "no more
	// lines" has already captured that line's own trailing-newline state.
	EndsWithNewline() bool
}

// lineIter is the low-level, non-lookahead iterator that both source
// flavors implement; lookaheadSource turns either one into a Source by
// buffering exactly one line ahead to answer IsLast.
type lineIter interface {
	rawNext() (line string, name string, ok bool, hadNewline bool)
	close()
}

type lookaheadSource struct {
	it        lineIter
	curName   string
	haveCur   bool
	nextLine  string
	nextName  string
	haveNext  bool
	lastHadNL bool
	exhausted bool
}

func newLookaheadSource(it lineIter) *lookaheadSource {
	s := &lookaheadSource{it: it}
	s.nextLine, s.nextName, s.haveNext, s.lastHadNL = it.rawNext()
	if !s.haveNext {
		it.close()
		s.exhausted = true
	}
	return s
}

func (s *lookaheadSource) Next() (string, bool) {
	if !s.haveNext {
		return "", false
	}
	line := s.nextLine
	s.curName = s.nextName
	s.haveCur = true
	var hadNL bool
	s.nextLine, s.nextName, s.haveNext, hadNL = s.it.rawNext()
	if s.haveNext {
		s.lastHadNL = hadNL
	}
	if !s.haveNext && !s.exhausted {
		s.it.close()
		s.exhausted = true
	}
	return line, true
}

func (s *lookaheadSource) IsLast() bool          { return s.haveCur && !s.haveNext }
func (s *lookaheadSource) Name() string          { return s.curName }
func (s *lookaheadSource) EndsWithNewline() bool { return s.lastHadNL }

// --- streaming mode -------------------------------------------------

type namedReader struct {
	name string
	r    io.Reader
	br   *bufio.Reader
}

type streamingIter struct {
	files []namedReader
	idx   int
	cur   *bufio.Reader
	name  string
}

// NewStreamingSource opens every path in paths (in order, "-" meaning
// stdin) and returns a Source that reads incrementally without loading
// whole files into memory. Files are opened eagerly so a missing file is
// reported before any line is produced; reading each file's bytes still
// happens lazily, one bufio read at a time.
func NewStreamingSource(paths []string, stdin io.Reader) (Source, error) {
	it := &streamingIter{}
	for _, p := range paths {
		if p == "-" {
			it.files = append(it.files, namedReader{name: "-", r: stdin})
			continue
		}
		f, err := fs.Open(p)
		if err != nil {
			return nil, &core.IoError{Path: p, Op: "open", Err: err}
		}
		it.files = append(it.files, namedReader{name: p, r: f})
	}
	return newLookaheadSource(it), nil
}

func (it *streamingIter) rawNext() (string, string, bool, bool) {
	for {
		if it.cur == nil {
			if it.idx >= len(it.files) {
				return "", "", false, false
			}
			nr := &it.files[it.idx]
			it.idx++
			if nr.br == nil {
				nr.br = bufio.NewReaderSize(nr.r, 64*1024)
			}
			it.cur = nr.br
			it.name = nr.name
		}
		line, ok, hadNL := readLine(it.cur)
		if !ok {
			it.cur = nil
			continue
		}
		return line, it.name, true, hadNL
	}
}

func (it *streamingIter) close() {
	for _, nr := range it.files {
		if c, ok := nr.r.(io.Closer); ok && nr.name != "-" {
			c.Close()
		}
	}
}

func readLine(br *bufio.Reader) (line string, ok bool, hadNewline bool) {
	l, err := br.ReadString('\n')
	if len(l) == 0 && err != nil {
		return "", false, false
	}
	if n := len(l); n > 0 && l[n-1] == '\n' {
		return l[:n-1], true, true
	}
	return l, true, false
}

// --- buffered mode ----------------------------------------------------

type bufferedLine struct {
	text string
	name string
}

type bufferedIter struct {
	lines  []bufferedLine
	idx    int
	lastNL bool
}

// NewBufferedSource reads every path in paths (and stdin, for "-") fully
// into memory up front, then returns a Source over the resulting lines.
// Needed wherever the whole original content must be available anyway,
// such as producing a dry-run diff before any file is touched.
func NewBufferedSource(paths []string, stdin io.Reader) (Source, error) {
	it := &bufferedIter{}
	for _, p := range paths {
		var data []byte
		var err error
		if p == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = fs.ReadFile(p)
		}
		if err != nil {
			return nil, &core.IoError{Path: p, Op: "read", Err: err}
		}
		lines, endsWithNL := splitLines(data)
		for _, l := range lines {
			it.lines = append(it.lines, bufferedLine{text: l, name: p})
		}
		if len(lines) > 0 {
			it.lastNL = endsWithNL
		}
	}
	return newLookaheadSource(it), nil
}

// NewBufferedSourceFromBytes returns a buffered Source over data already
// held in memory, labeled name. Used by the transaction wrapper, which
// has already read the target file itself (to diff and potentially
// back it up) and would otherwise have to read it a second time through
// NewBufferedSource.
func NewBufferedSourceFromBytes(name string, data []byte) Source {
	it := &bufferedIter{}
	lines, endsWithNL := splitLines(data)
	for _, l := range lines {
		it.lines = append(it.lines, bufferedLine{text: l, name: name})
	}
	it.lastNL = endsWithNL
	return newLookaheadSource(it)
}

func (it *bufferedIter) rawNext() (string, string, bool, bool) {
	if it.idx >= len(it.lines) {
		return "", "", false, false
	}
	l := it.lines[it.idx]
	isFinal := it.idx == len(it.lines)-1
	it.idx++
	hadNL := true // every non-final line in the buffer ended with \n
	if isFinal {
		hadNL = it.lastNL
	}
	return l.text, l.name, true, hadNL
}

func (it *bufferedIter) close() {}

// splitLines splits data on "\n", reporting whether the final line had a
// trailing newline of its own (an empty file reports no lines).
func splitLines(data []byte) (lines []string, endsWithNewline bool) {
	if len(data) == 0 {
		return nil, false
	}
	s := string(data)
	endsWithNewline = strings.HasSuffix(s, "\n")
	if endsWithNewline {
		s = s[:len(s)-1]
	}
	return strings.Split(s, "\n"), endsWithNewline
}
