package sandbox

import (
	"context"
	"time"
)

// Limits bounds one skill validation run.
type Limits struct {
	Timeout   time.Duration // wall clock, kills the process group
	MemoryMiB int           // address-space cap for the interpreter
	MaxStdout int           // bytes captured before truncation
}

// DefaultLimits returns the installation-wide validation bounds.
func DefaultLimits() Limits {
	return Limits{
		Timeout:   10 * time.Second,
		MemoryMiB: 256,
		MaxStdout: 1 << 20,
	}
}

// Result is the outcome of one sandboxed run. OK is true iff the skill
// exited zero within the deadline and produced output on stdout.
type Result struct {
	OK         bool   `json:"ok"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Killed     bool   `json:"killed"`
}

// Runner validates skill sources in isolation. The engine and skill
// service depend only on this contract, never on a concrete back-end.
type Runner interface {
	Run(ctx context.Context, source, entryName, inputMessage string, limits Limits) (*Result, error)
}
