// Package judge turns a raw process result and a list of declarative
// expectations into a verdict. It is a pure function: no I/O, no
// clock reads beyond what the caller already measured.
package judge

import (
	"fmt"
	"strings"

	"github.com/codepr/graderd/model"
)

// problem is one mismatch between an expectation and the observed
// result, rendered as a human-readable paragraph appended to stderr.
type problem string

// Judge evaluates modifiers against the raw result of running one
// process and returns the verdict. exitCode and signal mirror what the
// OS reported; timedOut is set when the caller's wait loop hit its
// deadline rather than observing a real exit.
func Judge(modifiers []model.TestModifier, result model.FinishedExecution, timedOut bool) model.ExecutionOutput {
	if timedOut {
		if hasShouldTimeout(modifiers) {
			return model.Success(result)
		}
		return model.TimedOut(result)
	}

	var problems []problem

	if expected, ok := model.FullOutput(modifiers); ok {
		if p := judgeOutput(result, expected); p != "" {
			problems = append(problems, p)
		}
	}

	exitIsZero := result.ExitCode != nil && *result.ExitCode == 0 && result.Signal == nil
	permitsFailure := false

	for _, m := range modifiers {
		switch m.Kind {
		case model.ModExitCode:
			if p := judgeExitCode(result, m.ExitCode); p != "" {
				problems = append(problems, p)
			}
			permitsFailure = true
		case model.ModShouldCrash:
			if p := judgeShouldCrash(result, m.Signal); p != "" {
				problems = append(problems, p)
			}
			permitsFailure = true
		case model.ModShouldSucceed:
			if p := judgeShouldSucceed(result); p != "" {
				problems = append(problems, p)
			}
		case model.ModShouldFail:
			if p := judgeShouldFail(result, m.Reason); p != "" {
				problems = append(problems, p)
			}
			permitsFailure = true
		case model.ModShouldTimeout:
			problems = append(problems, "expected the program to time out, but it exited")
		}
	}

	if !exitIsZero && !permitsFailure {
		if result.Signal != nil {
			return model.Failure(withProblems(result, []problem{problem(fmt.Sprintf("the program was killed by signal %d", *result.Signal))}))
		}
		return model.Failure(result)
	}

	if len(problems) == 0 {
		return model.Success(result)
	}

	return model.Failure(withProblems(result, problems))
}

func hasShouldTimeout(mods []model.TestModifier) bool {
	for _, m := range mods {
		if m.Kind == model.ModShouldTimeout {
			return true
		}
	}
	return false
}

func judgeExitCode(result model.FinishedExecution, want int) problem {
	if result.ExitCode == nil {
		return problem(fmt.Sprintf("expected exit code %d, but the program was killed by a signal", want))
	}
	if *result.ExitCode != want {
		return problem(fmt.Sprintf("expected exit code %d, got %d", want, *result.ExitCode))
	}
	return ""
}

func judgeShouldSucceed(result model.FinishedExecution) problem {
	if result.Signal != nil {
		return problem(fmt.Sprintf("expected the program to succeed, but it was killed by signal %d", *result.Signal))
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		return problem("expected the program to succeed, but it exited non-zero")
	}
	return ""
}

func judgeShouldCrash(result model.FinishedExecution, want model.CrashSignal) problem {
	wantSignal := want.SignalNumber()
	if result.Signal == nil {
		return problem(fmt.Sprintf("expected the program to crash with signal %d (%s), but it did not crash", wantSignal, want))
	}
	if *result.Signal != wantSignal {
		return problem(fmt.Sprintf("expected the program to crash with signal %d (%s), got signal %d", wantSignal, want, *result.Signal))
	}
	return ""
}

func judgeShouldFail(result model.FinishedExecution, reason model.FailureReason) problem {
	if result.ExitCode == nil {
		return problem(fmt.Sprintf("expected a %s failure, but the program was killed by a signal", reason))
	}
	if *result.ExitCode == 0 {
		return problem(fmt.Sprintf("expected a %s failure, but the program exited successfully", reason))
	}
	return ""
}

// withProblems concatenates problem messages onto stderr, separated
// from existing output by a blank line when stderr is non-empty.
func withProblems(result model.FinishedExecution, problems []problem) model.FinishedExecution {
	var b strings.Builder
	b.WriteString(result.Stderr)
	if result.Stderr != "" {
		b.WriteString("\n\n")
	}
	for i, p := range problems {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(p))
	}
	result.Stderr = b.String()
	return result
}
