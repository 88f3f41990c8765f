// Package address implements the addressing evaluator: given the current
// line number, pattern-space contents, and end-of-input flag, it decides
// whether a command's address selects the current line. Range addresses
// carry active-state across cycles, keyed by the owning instruction's
// program counter so the same Evaluator can serve an entire flat Program.
package address

import "sedx/pkg/script"

// LastRegex is state shared between the Evaluator and the VM: the most
// recently matched regex (set by regex addresses and by every s///), used
// by an empty "//" address to mean "reuse the last regex used anywhere in
// the script". An empty s// pattern does not consult it: it compiles as an
// ordinary empty regex.
type LastRegex struct {
	M interface{ MatchString(string) bool }
}

// Evaluator holds the per-range active/inactive state for every ranged
// address in a Program, keyed by program counter.
type Evaluator struct {
	active      map[int]bool
	rangeStart  map[int]int
	lastRegex   *LastRegex
}

// NewEvaluator returns an Evaluator sharing last-matched-regex state with
// the caller's LastRegex cell.
func NewEvaluator(last *LastRegex) *Evaluator {
	return &Evaluator{
		active:     make(map[int]bool),
		rangeStart: make(map[int]int),
		lastRegex:  last,
	}
}

// Select reports whether the instruction at pc, with the given address
// predicate, selects the current line. It is stateful for range addresses:
// call it at most once per instruction per cycle, in program order.
func (e *Evaluator) Select(pc int, addr1, addr2 *script.Address, negated bool, lineNum int, patternSpace string, isLast bool) bool {
	if addr1 == nil && addr2 == nil {
		return !negated
	}
	var matched bool
	if addr2 == nil {
		matched = e.matchOne(addr1, lineNum, patternSpace, isLast)
	} else {
		matched = e.matchRange(pc, addr1, addr2, lineNum, patternSpace, isLast)
	}
	if negated {
		return !matched
	}
	return matched
}

func (e *Evaluator) matchOne(a *script.Address, lineNum int, patternSpace string, isLast bool) bool {
	switch {
	case a.Last:
		return isLast
	case a.ReuseRegex:
		if e.lastRegex.M == nil {
			return false
		}
		return e.lastRegex.M.MatchString(patternSpace)
	case a.Regex != nil:
		if a.Regex.MatchString(patternSpace) {
			e.lastRegex.M = a.Regex
			return true
		}
		return false
	case a.Step > 0:
		if a.LineNum == 0 {
			return lineNum%a.Step == 0
		}
		return lineNum >= a.LineNum && (lineNum-a.LineNum)%a.Step == 0
	default:
		return lineNum == a.LineNum
	}
}

// matchOneNoTrack matches a range's first endpoint without disturbing
// last-regex state; used only to decide whether an inactive range becomes
// active on this line (matchRange records the last regex itself once the
// range activates).
func (e *Evaluator) matchOneNoTrack(a *script.Address, lineNum int, patternSpace string, isLast bool) bool {
	switch {
	case a.Last:
		return isLast
	case a.ReuseRegex:
		return e.lastRegex.M != nil && e.lastRegex.M.MatchString(patternSpace)
	case a.Regex != nil:
		return a.Regex.MatchString(patternSpace)
	case a.Step > 0:
		if a.LineNum == 0 {
			return lineNum%a.Step == 0
		}
		return lineNum >= a.LineNum && (lineNum-a.LineNum)%a.Step == 0
	default:
		return lineNum == a.LineNum
	}
}

func (e *Evaluator) matchRange(pc int, a1, a2 *script.Address, lineNum int, patternSpace string, isLast bool) bool {
	if !e.active[pc] {
		if !e.matchOneNoTrack(a1, lineNum, patternSpace, isLast) {
			return false
		}
		// Track last-regex as a real match, mirroring matchOne's side effect.
		if a1.Regex != nil {
			e.lastRegex.M = a1.Regex
		}
		e.active[pc] = true
		e.rangeStart[pc] = lineNum

		// A second endpoint that is a line number <= the activating line,
		// or a +0 relative offset, makes this a one-line range: active for
		// exactly this line only (§3 edge case: "if the second endpoint of
		// a line-numbered range is less than the first, the range selects
		// only the first line").
		if a2.Relative && a2.LineNum == 0 {
			e.active[pc] = false
		} else if !a2.Relative && !a2.Last && a2.Regex == nil && a2.Step == 0 && a2.LineNum <= lineNum {
			e.active[pc] = false
		}
		return true
	}

	end := e.endMatches(pc, a2, lineNum, patternSpace, isLast)
	if end {
		e.active[pc] = false
	}
	return true
}

func (e *Evaluator) endMatches(pc int, a2 *script.Address, lineNum int, patternSpace string, isLast bool) bool {
	switch {
	case a2.Relative:
		return lineNum >= e.rangeStart[pc]+a2.LineNum
	case a2.Last:
		return isLast
	case a2.Regex != nil:
		if a2.Regex.MatchString(patternSpace) {
			e.lastRegex.M = a2.Regex
			return true
		}
		return false
	case a2.Step > 0:
		if a2.LineNum == 0 {
			return lineNum%a2.Step == 0
		}
		return lineNum >= a2.LineNum && (lineNum-a2.LineNum)%a2.Step == 0
	default:
		return lineNum >= a2.LineNum
	}
}

// RangeActive reports whether the range rooted at pc is currently inside
// its active window. Used by the 'c' command to decide whether to emit
// its replacement text only once at the end of a range.
func (e *Evaluator) RangeActive(pc int) bool {
	return e.active[pc]
}
