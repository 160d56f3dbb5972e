package judge

import (
	"strings"
	"testing"

	"github.com/codepr/graderd/model"
)

func intp(v int) *int { return &v }

func TestJudgeSuccessWhenOutputMatches(t *testing.T) {
	mods := []model.TestModifier{model.ExpectedOutput("hi\n")}
	result := model.FinishedExecution{Stdout: "hi\n", ExitCode: intp(0)}

	out := Judge(mods, result, false)
	if out.Kind != model.OutcomeSuccess {
		t.Fatalf("expected Success, got %s: %+v", out.Kind, out)
	}
}

func TestJudgeNewlineInsensitive(t *testing.T) {
	mods := []model.TestModifier{model.ExpectedOutput("hi")}

	withNewline := Judge(mods, model.FinishedExecution{Stdout: "hi\n", ExitCode: intp(0)}, false)
	withoutNewline := Judge(mods, model.FinishedExecution{Stdout: "hi", ExitCode: intp(0)}, false)

	if withNewline.Kind != withoutNewline.Kind {
		t.Fatalf("expected identical variants, got %s vs %s", withNewline.Kind, withoutNewline.Kind)
	}
	if withNewline.Kind != model.OutcomeSuccess {
		t.Fatalf("expected Success, got %s", withNewline.Kind)
	}
}

func TestJudgeOutputMismatchProducesUnifiedDiff(t *testing.T) {
	mods := []model.TestModifier{model.ExpectedOutput("a\nb\n")}
	result := model.FinishedExecution{Stdout: "a\nc\n", ExitCode: intp(0)}

	out := Judge(mods, result, false)
	if out.Kind != model.OutcomeFailure {
		t.Fatalf("expected Failure, got %s", out.Kind)
	}

	stderr := out.Execution.Stderr
	for _, want := range []string{"missing from yours", "extraneous in yours", "-b", "+c"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("expected stderr to contain %q, got:\n%s", want, stderr)
		}
	}
}

func TestJudgeShouldCrash(t *testing.T) {
	sig := 6
	result := model.FinishedExecution{Signal: &sig}

	withModifier := Judge([]model.TestModifier{model.ShouldCrash(model.SignalAbort)}, result, false)
	if withModifier.Kind != model.OutcomeSuccess {
		t.Fatalf("expected Success with ShouldCrash modifier, got %s: %+v", withModifier.Kind, withModifier)
	}

	withoutModifier := Judge(nil, result, false)
	if withoutModifier.Kind != model.OutcomeFailure {
		t.Fatalf("expected Failure without modifier, got %s", withoutModifier.Kind)
	}
	if !strings.Contains(withoutModifier.Execution.Stderr, "signal 6") {
		t.Errorf("expected stderr to mention signal 6, got: %s", withoutModifier.Execution.Stderr)
	}
}

func TestJudgeTimeoutVariantIgnoresModifiers(t *testing.T) {
	result := model.FinishedExecution{Stdout: "partial"}
	out := Judge([]model.TestModifier{model.ExitCode(0)}, result, true)
	if out.Kind != model.OutcomeTimeout {
		t.Fatalf("expected Timeout, got %s", out.Kind)
	}
}

func TestJudgeShouldTimeoutModifierTurnsTimeoutIntoSuccess(t *testing.T) {
	out := Judge([]model.TestModifier{model.ShouldTimeout()}, model.FinishedExecution{}, true)
	if out.Kind != model.OutcomeSuccess {
		t.Fatalf("expected Success, got %s", out.Kind)
	}
}

func TestJudgeIsDeterministic(t *testing.T) {
	mods := []model.TestModifier{model.ExitCode(1), model.ShouldFail(model.ReasonParsing)}
	result := model.FinishedExecution{ExitCode: intp(2)}

	first := Judge(mods, result, false)
	second := Judge(mods, result, false)

	if first.Kind != second.Kind {
		t.Fatalf("expected identical variants across calls, got %s vs %s", first.Kind, second.Kind)
	}
	if first.Execution.Stderr != second.Execution.Stderr {
		t.Fatalf("expected byte-identical stderr across calls:\n%q\nvs\n%q", first.Execution.Stderr, second.Execution.Stderr)
	}
}

func TestJudgeNonZeroExitWithoutPermittingModifierIsFailure(t *testing.T) {
	result := model.FinishedExecution{ExitCode: intp(1)}
	out := Judge(nil, result, false)
	if out.Kind != model.OutcomeFailure {
		t.Fatalf("expected Failure, got %s", out.Kind)
	}
}
