package stream

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func collect(t *testing.T, src Source) ([]string, bool) {
	t.Helper()
	var lines []string
	var lastFlag bool
	for {
		line, ok := src.Next()
		if !ok {
			break
		}
		lines = append(lines, line)
		lastFlag = src.IsLast()
	}
	return lines, lastFlag
}

func TestBufferedSourceSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.txt", "one\ntwo\nthree\n")

	src, err := NewBufferedSource([]string{path}, nil)
	if err != nil {
		t.Fatal(err)
	}
	lines, _ := collect(t, src)
	want := []string{"one", "two", "three"}
	assertLines(t, lines, want)
	if !src.EndsWithNewline() {
		t.Error("expected EndsWithNewline true")
	}
}

func TestBufferedSourceNoTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.txt", "one\ntwo")

	src, err := NewBufferedSource([]string{path}, nil)
	if err != nil {
		t.Fatal(err)
	}
	lines, _ := collect(t, src)
	assertLines(t, lines, []string{"one", "two"})
	if src.EndsWithNewline() {
		t.Error("expected EndsWithNewline false")
	}
}

func TestStreamingSourceMultiFileIsLast(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.txt", "a1\na2\n")
	b := writeTemp(t, dir, "b.txt", "b1\n")

	src, err := NewStreamingSource([]string{a, b}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for {
		_, ok := src.Next()
		if !ok {
			break
		}
		names = append(names, src.Name())
		if src.IsLast() {
			break
		}
	}
	assertLines(t, names, []string{a, a, b})
}

func TestStreamingSourceStdin(t *testing.T) {
	src, err := NewStreamingSource([]string{"-"}, strings.NewReader("x\ny\n"))
	if err != nil {
		t.Fatal(err)
	}
	lines, last := collect(t, src)
	assertLines(t, lines, []string{"x", "y"})
	if !last {
		t.Error("expected final line to report IsLast")
	}
	if src.Name() != "-" {
		t.Errorf("Name() = %q, want -", src.Name())
	}
}

func TestSelectMode(t *testing.T) {
	if Select(100, false, false) != ModeBuffered {
		t.Error("small input should select buffered mode")
	}
	if Select(StreamingThreshold+1, false, false) != ModeStreaming {
		t.Error("large input should select streaming mode")
	}
	if Select(100, true, false) != ModeStreaming {
		t.Error("forceStreaming should win regardless of size")
	}
	if Select(StreamingThreshold+1, false, true) != ModeBuffered {
		t.Error("forceBuffered should win regardless of size")
	}
}

func TestMissingFileIsAnError(t *testing.T) {
	if _, err := NewStreamingSource([]string{"/nonexistent/path/does/not/exist"}, nil); err == nil {
		t.Error("expected an error opening a missing file")
	}
	if _, err := NewBufferedSource([]string{"/nonexistent/path/does/not/exist"}, nil); err == nil {
		t.Error("expected an error reading a missing file")
	}
}

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertLines(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("lines = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}
