package sandbox

import (
	"bytes"
	"strings"
	"testing"
)

// === Capped writer ===

func TestCappedWriterUnderCap(t *testing.T) {
	var buf bytes.Buffer
	w := newCappedWriter(&buf, 10)

	n, err := w.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if buf.String() != "hello" {
		t.Errorf("buf = %q", buf.String())
	}
}

func TestCappedWriterTruncates(t *testing.T) {
	var buf bytes.Buffer
	w := newCappedWriter(&buf, 4)

	// Writers must report full consumption or exec treats it as an error.
	n, err := w.Write([]byte("overflow"))
	if err != nil || n != 8 {
		t.Fatalf("Write = (%d, %v), want (8, nil)", n, err)
	}
	if buf.String() != "over" {
		t.Errorf("buf = %q, want %q", buf.String(), "over")
	}

	n, err = w.Write([]byte("more"))
	if err != nil || n != 4 {
		t.Fatalf("post-cap Write = (%d, %v), want (4, nil)", n, err)
	}
	if buf.Len() != 4 {
		t.Errorf("cap breached: %d bytes", buf.Len())
	}
}

func TestCappedWriterExactBoundary(t *testing.T) {
	var buf bytes.Buffer
	w := newCappedWriter(&buf, 4)

	w.Write([]byte("ab"))
	w.Write([]byte("cd"))
	w.Write([]byte("ef"))
	if buf.String() != "abcd" {
		t.Errorf("buf = %q, want %q", buf.String(), "abcd")
	}
}

// === Shell quoting ===

func TestShellQuote(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`plain`, `'plain'`},
		{`with space`, `'with space'`},
		{`it's`, `'it'\''s'`},
		{`"double"`, `'"double"'`},
		{`$HOME`, `'$HOME'`},
	}
	for _, tc := range cases {
		if got := shellQuote(tc.in); got != tc.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestJSONString(t *testing.T) {
	got, err := jsonString(`say "hi"` + "\nnewline")
	if err != nil {
		t.Fatalf("jsonString: %v", err)
	}
	if !strings.HasPrefix(got, `"`) || !strings.HasSuffix(got, `"`) {
		t.Errorf("not a JSON string: %s", got)
	}
	if strings.Contains(got, "\n") {
		t.Errorf("raw newline survived encoding: %s", got)
	}
}

// === Limits ===

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	if l.Timeout.Seconds() != 10 {
		t.Errorf("timeout = %v, want 10s", l.Timeout)
	}
	if l.MemoryMiB != 256 {
		t.Errorf("memory = %d, want 256", l.MemoryMiB)
	}
	if l.MaxStdout != 1<<20 {
		t.Errorf("max stdout = %d, want 1MiB", l.MaxStdout)
	}
}
