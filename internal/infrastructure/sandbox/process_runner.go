package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// truncationMarker is appended when captured stdout hits the cap.
const truncationMarker = "\n[stdout truncated]"

// ProcessRunner executes skills under a separate OS process: fresh
// process group, scrubbed environment, scratch directory discarded at
// the end. It provides resource and lifetime isolation, not a full
// filesystem jail.
type ProcessRunner struct {
	interpreter string
	workDir     string
	logger      *zap.Logger
}

// NewProcessRunner creates a runner that invokes the given interpreter
// (usually python3) with scratch directories under workDir.
func NewProcessRunner(interpreter, workDir string, logger *zap.Logger) (*ProcessRunner, error) {
	if interpreter == "" {
		interpreter = "python3"
	}
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "dexter-sandbox")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox work dir: %w", err)
	}
	return &ProcessRunner{
		interpreter: interpreter,
		workDir:     workDir,
		logger:      logger.With(zap.String("component", "sandbox")),
	}, nil
}

var _ Runner = (*ProcessRunner)(nil)

// harness invokes the skill's entry operation with the input message
// and prints the returned value, so a healthy skill always produces
// stdout.
const harnessSource = `import json, sys

sys.path.insert(0, ".")
import skill

message = json.loads(sys.argv[1])
result = skill.%s(message)
if result is None:
    sys.exit(1)
sys.stdout.write(str(result))
`

// Run implements Runner.
func (r *ProcessRunner) Run(ctx context.Context, source, entryName, inputMessage string, limits Limits) (*Result, error) {
	if limits.Timeout <= 0 {
		limits = DefaultLimits()
	}
	if entryName == "" {
		entryName = "run"
	}

	scratch := filepath.Join(r.workDir, uuid.New().String())
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	skillPath := filepath.Join(scratch, "skill.py")
	if err := os.WriteFile(skillPath, []byte(source), 0o400); err != nil {
		return nil, fmt.Errorf("failed to write skill source: %w", err)
	}
	harnessPath := filepath.Join(scratch, "harness.py")
	harness := fmt.Sprintf(harnessSource, entryName)
	if err := os.WriteFile(harnessPath, []byte(harness), 0o400); err != nil {
		return nil, fmt.Errorf("failed to write harness: %w", err)
	}
	encoded, err := jsonString(inputMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	// ulimit confines the interpreter's address space; exec keeps the
	// pid so CommandContext kills the right process.
	script := fmt.Sprintf("ulimit -v %d; exec %s harness.py %s",
		limits.MemoryMiB*1024, r.interpreter, shellQuote(encoded))
	cmd := exec.CommandContext(execCtx, "bash", "-c", script)
	cmd.Dir = scratch
	cmd.Env = r.buildEnvironment(scratch)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
	cmd.Cancel = func() error {
		// Kill the whole group so skill subprocesses die too.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = newCappedWriter(&stdout, limits.MaxStdout)
	cmd.Stderr = newCappedWriter(&stderr, 64<<10)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: elapsed.Milliseconds(),
	}
	if stdout.Len() >= limits.MaxStdout {
		result.Stdout += truncationMarker
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.ExitCode = -1
		r.logger.Warn("Skill killed by timeout",
			zap.Duration("timeout", limits.Timeout),
		)
		return result, nil
	}
	if ctx.Err() != nil {
		result.Killed = true
		result.ExitCode = -1
		return result, ctx.Err()
	}

	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return result, fmt.Errorf("sandbox execution failed: %w", runErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	result.OK = result.ExitCode == 0 && len(result.Stdout) > 0
	r.logger.Info("Skill validation run finished",
		zap.Bool("ok", result.OK),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", elapsed),
	)
	return result, nil
}

// buildEnvironment scrubs the inherited environment. No API keys, no
// proxies; the skill sees only the interpreter essentials.
func (r *ProcessRunner) buildEnvironment(scratch string) []string {
	sysPath := os.Getenv("PATH")
	if sysPath == "" {
		sysPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	return []string{
		"PATH=" + sysPath,
		"HOME=" + scratch,
		"TMPDIR=" + scratch,
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
	}
}
