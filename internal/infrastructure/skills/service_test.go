package skills

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/infrastructure/persistence"
	"github.com/gliksbot/dexter/internal/infrastructure/sandbox"
	"github.com/gliksbot/dexter/pkg/errors"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// fakeRunner scripts sandbox outcomes.
type fakeRunner struct {
	ok     bool
	stdout string
	runs   int
}

func (f *fakeRunner) Run(_ context.Context, _, _, _ string, _ sandbox.Limits) (*sandbox.Result, error) {
	f.runs++
	return &sandbox.Result{OK: f.ok, Stdout: f.stdout, ExitCode: 0}, nil
}

func newService(runner sandbox.Runner) *Service {
	return NewService(persistence.NewMemorySkillRepository(), runner, sandbox.DefaultLimits(), testLogger())
}

const validSource = "def run(message):\n    return message\n"

// === Lifecycle ===

func TestSkillLifecycle(t *testing.T) {
	svc := newService(&fakeRunner{ok: true, stdout: "pong"})
	ctx := context.Background()

	skill, err := svc.CreateDraft(ctx, "echo", validSource)
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}
	if skill.State() != entity.SkillDraft {
		t.Errorf("state = %s, want draft", skill.State())
	}

	// Promotion before a passing test must fail.
	if _, err := svc.Promote(ctx, skill.ID()); err == nil {
		t.Fatal("Promote before validation should fail")
	}

	result, err := svc.Test(ctx, skill.ID(), "hi")
	if err != nil {
		t.Fatalf("Test failed: %v", err)
	}
	if !result.OK {
		t.Fatal("scripted run should pass")
	}

	promoted, err := svc.Promote(ctx, skill.ID())
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if promoted.State() != entity.SkillActive {
		t.Errorf("state = %s, want active", promoted.State())
	}

	out, err := svc.Execute(ctx, skill.ID(), "hi")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != "pong" {
		t.Errorf("stdout = %q", out)
	}
}

func TestExecuteRejectsDraft(t *testing.T) {
	svc := newService(&fakeRunner{ok: true, stdout: "x"})
	skill, _ := svc.CreateDraft(context.Background(), "echo", validSource)

	_, err := svc.Execute(context.Background(), skill.ID(), "hi")
	if errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Errorf("err = %v, want invalid input for draft execution", err)
	}
}

func TestTestRecordsFailure(t *testing.T) {
	svc := newService(&fakeRunner{ok: false})
	skill, _ := svc.CreateDraft(context.Background(), "broken", validSource)

	result, err := svc.Test(context.Background(), skill.ID(), "hi")
	if err != nil {
		t.Fatalf("Test failed: %v", err)
	}
	if result.OK {
		t.Fatal("scripted run should fail")
	}
	if _, err := svc.Promote(context.Background(), skill.ID()); err == nil {
		t.Error("Promote after failed test should be rejected")
	}
}

// === Harvest ===

func TestHarvestAnswerPromotes(t *testing.T) {
	runner := &fakeRunner{ok: true, stdout: "ok"}
	svc := newService(runner)

	answer := "# Echo\n\n```python\ndef run(message):\n    return message\n```\n"
	outcome := svc.HarvestAnswer(context.Background(), "session-1", answer)
	if outcome == nil {
		t.Fatal("outcome should not be nil for a code-bearing answer")
	}
	if !outcome.OK || !outcome.Promoted {
		t.Errorf("outcome = %+v, want ok and promoted", outcome)
	}
	if outcome.SkillName != "echo" {
		t.Errorf("outcome name = %q", outcome.SkillName)
	}

	skills, err := svc.List(context.Background(), true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(skills) != 1 {
		t.Fatalf("active skills = %d, want 1", len(skills))
	}
	if skills[0].Name() != "echo" {
		t.Errorf("name = %q", skills[0].Name())
	}
	if runner.runs != 1 {
		t.Errorf("sandbox runs = %d, want 1", runner.runs)
	}
}

func TestHarvestAnswerNoCandidate(t *testing.T) {
	runner := &fakeRunner{ok: true}
	svc := newService(runner)

	if outcome := svc.HarvestAnswer(context.Background(), "session-1", "no code here"); outcome != nil {
		t.Errorf("outcome = %+v, want nil", outcome)
	}

	skills, _ := svc.List(context.Background(), false)
	if len(skills) != 0 {
		t.Errorf("library should stay empty, got %d", len(skills))
	}
	if runner.runs != 0 {
		t.Errorf("sandbox should not have run, got %d", runner.runs)
	}
}

func TestHarvestAnswerFailedValidationStaysDraft(t *testing.T) {
	svc := newService(&fakeRunner{ok: false})

	answer := "```python\ndef run(message):\n    return message\n```\n"
	outcome := svc.HarvestAnswer(context.Background(), "session-1", answer)
	if outcome == nil || outcome.OK || outcome.Promoted {
		t.Errorf("outcome = %+v, want a failed attempt", outcome)
	}

	active, _ := svc.List(context.Background(), true)
	if len(active) != 0 {
		t.Error("failed skill must not be active")
	}
	drafts, _ := svc.List(context.Background(), false)
	if len(drafts) != 1 {
		t.Errorf("draft should be kept, got %d", len(drafts))
	}
}
