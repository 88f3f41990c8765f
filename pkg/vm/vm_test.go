package vm_test

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"sedx/pkg/regexflavor"
	"sedx/pkg/script"
	"sedx/pkg/stream"
	"sedx/pkg/vm"
)

// run parses src as a sedx script under the ERE flavor, executes it over
// input as one buffered file named "-", and returns the captured output.
func run(t *testing.T, src, input string, quiet bool) (string, vm.Result) {
	t.Helper()
	prog, err := script.Parse(src, script.Options{Flavor: regexflavor.ERE})
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	source, err := stream.NewBufferedSource([]string{"-"}, strings.NewReader(input))
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	m := vm.New(prog, quiet)
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	res, err := m.Run(source, w)
	if err != nil {
		t.Fatalf("run %q: %v", src, err)
	}
	w.Flush()
	return buf.String(), res
}

func TestAutoprintIdentity(t *testing.T) {
	// A script with no commands is the identity transform.
	out, _ := run(t, "", "foo\nbar\n", false)
	if out != "foo\nbar\n" {
		t.Errorf("got %q", out)
	}
}

func TestIdentityPreservesMissingFinalNewline(t *testing.T) {
	// Invariant #2: the empty program is the identity on input, byte for
	// byte, even when the input's last line has no trailing newline.
	out, _ := run(t, "", "foo\nbar", false)
	if out != "foo\nbar" {
		t.Errorf("got %q", out)
	}
}

func TestAutoprintMissingFinalNewlineSingleLine(t *testing.T) {
	out, _ := run(t, "", "foo", false)
	if out != "foo" {
		t.Errorf("got %q", out)
	}
}

func TestDoublePrintOnNewlineLessLastLineOnlyLastOneBare(t *testing.T) {
	// "p" plus autoprint both print the same no-newline last line; only
	// the second (truly last) print should end up without a newline.
	out, _ := run(t, "p", "foo", false)
	if out != "foo\nfoo" {
		t.Errorf("got %q", out)
	}
}

func TestSubstituteFirstMatch(t *testing.T) {
	out, _ := run(t, "s/o/0/", "foo\nfoo\n", false)
	if out != "f0o\nf0o\n" {
		t.Errorf("got %q", out)
	}
}

func TestSubstituteGlobal(t *testing.T) {
	out, _ := run(t, "s/o/0/g", "foo\n", false)
	if out != "f00\n" {
		t.Errorf("got %q", out)
	}
}

func TestSubstituteNth(t *testing.T) {
	out, _ := run(t, "s/o/0/2", "foo-o\n", false)
	if out != "fo0-o\n" {
		t.Errorf("got %q", out)
	}
}

func TestSubstituteNthGlobal(t *testing.T) {
	out, _ := run(t, "s/o/0/2g", "o-o-o-o\n", false)
	if out != "o-0-0-0\n" {
		t.Errorf("got %q", out)
	}
}

func TestQuietSuppressesAutoprint(t *testing.T) {
	out, _ := run(t, "p", "foo\n", true)
	if out != "foo\n" {
		t.Errorf("got %q, want a single print under -n", out)
	}
}

func TestDeleteDropsLine(t *testing.T) {
	out, _ := run(t, "2d", "one\ntwo\nthree\n", false)
	if out != "one\nthree\n" {
		t.Errorf("got %q", out)
	}
}

func TestRangeAddress(t *testing.T) {
	out, _ := run(t, "2,3d", "1\n2\n3\n4\n", false)
	if out != "1\n4\n" {
		t.Errorf("got %q", out)
	}
}

func TestChangeOnRangeFiresOnce(t *testing.T) {
	out, _ := run(t, "2,3c\\\nREPLACED", "1\n2\n3\n4\n", false)
	if out != "1\nREPLACED\n4\n" {
		t.Errorf("got %q", out)
	}
}

func TestHoldAndGet(t *testing.T) {
	out, _ := run(t, "1h;2G", "a\nb\n", false)
	if out != "a\nb\na\n" {
		t.Errorf("got %q", out)
	}
}

func TestExchange(t *testing.T) {
	out, _ := run(t, "1h;2x", "a\nb\n", false)
	if out != "a\na\n" {
		t.Errorf("got %q", out)
	}
}

func TestNJoinsNextLine(t *testing.T) {
	out, _ := run(t, "N;s/\\n/-/", "a\nb\nc\nd\n", false)
	if out != "a-b\nc-d\n" {
		t.Errorf("got %q", out)
	}
}

func TestNAtEndOfInputAutoprintsAndQuits(t *testing.T) {
	out, res := run(t, "N;s/\\n/-/", "a\nb\nc\n", false)
	if out != "a-b\nc\n" {
		t.Errorf("got %q", out)
	}
	if !res.Quit {
		t.Error("expected N at end of input to stop the run")
	}
}

func TestBranchLoop(t *testing.T) {
	// strip every vowel via a t-loop
	out, _ := run(t, ":a\ns/[aeiou]//\nta", "banana\n", false)
	if out != "bnn\n" {
		t.Errorf("got %q", out)
	}
}

func TestBranchIfNoSub(t *testing.T) {
	out, _ := run(t, "s/x/y/\nTend\ns/$/ SUBBED/\n:end", "x\nz\n", false)
	if out != "y SUBBED\nz\n" {
		t.Errorf("got %q", out)
	}
}

func TestQuitWithExitCode(t *testing.T) {
	out, res := run(t, "2q5", "a\nb\nc\n", false)
	if out != "a\nb\n" {
		t.Errorf("got %q", out)
	}
	if !res.Quit || !res.HasExitCode || res.ExitCode != 5 {
		t.Errorf("got %+v", res)
	}
}

func TestQuitSilentSuppressesAutoprint(t *testing.T) {
	out, res := run(t, "2Q", "a\nb\nc\n", false)
	if out != "a\n" {
		t.Errorf("got %q", out)
	}
	if !res.Quit {
		t.Error("expected Q to stop the run")
	}
}

func TestLineNumberAlwaysEmitsUnderQuiet(t *testing.T) {
	out, _ := run(t, "=", "a\nb\n", true)
	if out != "1\n2\n" {
		t.Errorf("got %q", out)
	}
}

func TestTransliterate(t *testing.T) {
	out, _ := run(t, "y/abc/xyz/", "cab\n", false)
	if out != "zxy\n" {
		t.Errorf("got %q", out)
	}
}

func TestStepAddress(t *testing.T) {
	out, _ := run(t, "0~2d", "1\n2\n3\n4\n", false)
	if out != "1\n3\n" {
		t.Errorf("got %q", out)
	}
}

func TestNegatedAddress(t *testing.T) {
	out, _ := run(t, "2!d", "1\n2\n3\n", false)
	if out != "2\n" {
		t.Errorf("got %q", out)
	}
}

func TestAppendQueueOrderedAfterAutoprint(t *testing.T) {
	out, _ := run(t, "a after\ni before", "x\n", false)
	if out != "before\nx\nafter\n" {
		t.Errorf("got %q", out)
	}
}
