package model

import "time"

// RunnerUpdateKind tags the variant carried by a RunnerUpdate.
type RunnerUpdateKind string

const (
	UpdateAllTests     RunnerUpdateKind = "AllTests"
	UpdateStartedBuild RunnerUpdateKind = "StartedBuild"
	UpdateFinishedBuild RunnerUpdateKind = "FinishedBuild"
	UpdateStartedTest  RunnerUpdateKind = "StartedTest"
	UpdateFinishedTest RunnerUpdateKind = "FinishedTest"
	UpdateDone         RunnerUpdateKind = "Done"
)

// RunnerUpdate is one event a worker reports about an in-flight task.
// Exactly one of the payload fields is populated, selected by Kind.
type RunnerUpdate struct {
	Kind   RunnerUpdateKind `json:"type"`
	Tests  []TestId         `json:"tests,omitempty"`
	TestId TestId           `json:"testId,omitempty"`
	Build  *ExecutionOutput `json:"result,omitempty"`
	Test   *FinishedTest    `json:"finishedTest,omitempty"`
}

// RunnerUpdateForFrontend is a RunnerUpdate stamped with the time the
// dispatcher accepted it, the unit stored in RunningTaskState.SoFar and
// replayed to new subscribers.
type RunnerUpdateForFrontend struct {
	Update RunnerUpdate `json:"update"`
	Time   time.Time    `json:"time"`
}

func StampUpdate(u RunnerUpdate, now time.Time) RunnerUpdateForFrontend {
	return RunnerUpdateForFrontend{Update: u, Time: now}
}
