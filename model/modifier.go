package model

// CrashSignal names the signal a ShouldCrash modifier expects, decoupled
// from the numeric signal number so the modifier stays portable.
type CrashSignal string

const (
	SignalAbort                 CrashSignal = "Abort"
	SignalSegmentationFault     CrashSignal = "SegmentationFault"
	SignalFloatingPointException CrashSignal = "FloatingPointException"
)

// SignalNumber maps a CrashSignal to the POSIX signal number the judge
// compares against the observed signal.
func (s CrashSignal) SignalNumber() int {
	switch s {
	case SignalAbort:
		return 6
	case SignalSegmentationFault:
		return 11
	case SignalFloatingPointException:
		return 8
	default:
		return -1
	}
}

// FailureReason is the convention a ShouldFail modifier expects the
// compiler under test to signal through its exit code.
type FailureReason string

const (
	ReasonParsing           FailureReason = "Parsing"
	ReasonSemanticAnalysis  FailureReason = "SemanticAnalysis"
)

// ModifierKind tags the variant carried by a TestModifier.
type ModifierKind string

const (
	ModExitCode            ModifierKind = "ExitCode"
	ModExpectedOutput       ModifierKind = "ExpectedOutput"
	ModProgramArgument      ModifierKind = "ProgramArgument"
	ModProgramArgumentFile  ModifierKind = "ProgramArgumentFile"
	ModProgramInput         ModifierKind = "ProgramInput"
	ModShouldCrash          ModifierKind = "ShouldCrash"
	ModShouldFail           ModifierKind = "ShouldFail"
	ModShouldSucceed        ModifierKind = "ShouldSucceed"
	ModShouldTimeout        ModifierKind = "ShouldTimeout"
)

// TestModifier is a declarative expectation attached to a test, or an
// input to be supplied before execution. Exactly one of the payload
// fields is meaningful, selected by Kind.
type TestModifier struct {
	Kind ModifierKind `json:"type"`

	ExitCode int           `json:"exitCode,omitempty"`
	Output   string        `json:"output,omitempty"`
	Argument string        `json:"argument,omitempty"`
	Input    string        `json:"input,omitempty"`
	Signal   CrashSignal   `json:"signal,omitempty"`
	Reason   FailureReason `json:"reason,omitempty"`
}

func ExitCode(code int) TestModifier          { return TestModifier{Kind: ModExitCode, ExitCode: code} }
func ExpectedOutput(out string) TestModifier  { return TestModifier{Kind: ModExpectedOutput, Output: out} }
func ProgramArgument(arg string) TestModifier { return TestModifier{Kind: ModProgramArgument, Argument: arg} }
func ProgramArgumentFile() TestModifier       { return TestModifier{Kind: ModProgramArgumentFile} }
func ProgramInput(in string) TestModifier     { return TestModifier{Kind: ModProgramInput, Input: in} }
func ShouldCrash(sig CrashSignal) TestModifier { return TestModifier{Kind: ModShouldCrash, Signal: sig} }
func ShouldFail(reason FailureReason) TestModifier { return TestModifier{Kind: ModShouldFail, Reason: reason} }
func ShouldSucceed() TestModifier             { return TestModifier{Kind: ModShouldSucceed} }
func ShouldTimeout() TestModifier             { return TestModifier{Kind: ModShouldTimeout} }

// FullOutput returns the ExpectedOutput modifier in mods, if any.
func FullOutput(mods []TestModifier) (string, bool) {
	for _, m := range mods {
		if m.Kind == ModExpectedOutput {
			return m.Output, true
		}
	}
	return "", false
}

// Arguments collects every ProgramArgument modifier's value, in order,
// for composing the process argv.
func Arguments(mods []TestModifier) []string {
	var args []string
	for _, m := range mods {
		if m.Kind == ModProgramArgument {
			args = append(args, m.Argument)
		}
	}
	return args
}

// ProgramInputValue returns the ProgramInput modifier's payload, if any.
func ProgramInputValue(mods []TestModifier) (string, bool) {
	for _, m := range mods {
		if m.Kind == ModProgramInput {
			return m.Input, true
		}
	}
	return "", false
}
