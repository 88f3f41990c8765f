package txn

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultContext is how many unchanged lines surround each changed hunk
// when no --context value is given.
const DefaultContext = 3

// unifiedDiff renders a unified-diff-style preview of old versus new,
// line by line, with context unchanged lines around each hunk. context
// < 0 means "no context" (every hunk is just its changed lines).
//
// go-diff's DiffMain is a character-level Myers diff; the
// lines-to-chars/chars-to-lines trick (straight out of the library's
// own docs) maps each line to a single rune so DiffMain effectively
// diffs line-by-line instead of character-by-character.
func unifiedDiff(oldName, newName, oldText, newText string, context int) string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var entries []diffLine
	for _, d := range diffs {
		lines := splitKeepEmpty(d.Text)
		var kind byte
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			kind = ' '
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		}
		for _, l := range lines {
			entries = append(entries, diffLine{kind, l})
		}
	}

	if !hasChange(entries) {
		return ""
	}

	var out strings.Builder
	fmt.Fprintf(&out, "--- %s\n", oldName)
	fmt.Fprintf(&out, "+++ %s\n", newName)

	if context < 0 {
		for _, e := range entries {
			if e.kind != ' ' {
				out.WriteByte(e.kind)
				out.WriteString(e.text)
				out.WriteByte('\n')
			}
		}
		return out.String()
	}

	i := 0
	for i < len(entries) {
		if entries[i].kind == ' ' {
			i++
			continue
		}
		start := i
		for start > 0 && i-start < context && entries[start-1].kind == ' ' {
			start--
		}
		end := i
		for end < len(entries) && entries[end].kind != ' ' {
			end++
		}
		trail := end
		for trail < len(entries) && trail-end < context && entries[trail].kind == ' ' {
			trail++
		}
		for _, e := range entries[start:trail] {
			out.WriteByte(e.kind)
			out.WriteString(e.text)
			out.WriteByte('\n')
		}
		i = trail
	}
	return out.String()
}

type diffLine struct {
	kind byte // ' ', '-', '+'
	text string
}

func hasChange(entries []diffLine) bool {
	for _, e := range entries {
		if e.kind != ' ' {
			return true
		}
	}
	return false
}

func splitKeepEmpty(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
