package sandbox

import (
	"encoding/json"
	"io"
	"strings"
)

// jsonString encodes the input message for the harness argv.
func jsonString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// shellQuote single-quotes a string for safe use inside bash -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// cappedWriter keeps at most n bytes and silently discards the rest,
// so a runaway skill cannot exhaust memory through stdout.
type cappedWriter struct {
	dst io.Writer
	n   int
}

func newCappedWriter(dst io.Writer, n int) *cappedWriter {
	return &cappedWriter{dst: dst, n: n}
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.n <= 0 {
		return len(p), nil
	}
	if len(p) > w.n {
		if _, err := w.dst.Write(p[:w.n]); err != nil {
			return 0, err
		}
		w.n = 0
		return len(p), nil
	}
	w.n -= len(p)
	return w.dst.Write(p)
}
