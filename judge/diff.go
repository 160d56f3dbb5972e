package judge

import (
	"fmt"
	"strings"

	"github.com/codepr/graderd/model"
	"github.com/pmezard/go-difflib/difflib"
)

// judgeOutput compares the observed stdout against the expected output,
// normalising both to end in a newline first so a missing trailing
// newline never fails a test on its own (testable property 8). On
// mismatch it renders a unified diff with 5 lines of context.
func judgeOutput(result model.FinishedExecution, expected string) problem {
	got := withTrailingNewline(result.Stdout)
	want := withTrailingNewline(expected)

	if got == want {
		return ""
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "missing from yours",
		ToFile:   "extraneous in yours",
		Context:  5,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		text = fmt.Sprintf("(failed to render diff: %v)\nexpected:\n%s\ngot:\n%s", err, want, got)
	}

	return problem(fmt.Sprintf("output did not match:\n%s", text))
}

func withTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
