package model

import "time"

// WorkItem is a queued request to build and test a specific revision
// of a specific team's repository. At most one WorkItem with a given
// Id exists in the queue at any time; the storage collaborator
// enforces that uniqueness.
type WorkItem struct {
	Id            TaskId    `json:"id"`
	Team          TeamId    `json:"team"`
	Revision      string    `json:"revision"`
	CommitMessage string    `json:"commitMessage"`
	InsertTime    time.Time `json:"insertTime"`
}

// RunnerMode distinguishes a build worker from a test-tasting worker.
type RunnerMode string

const (
	ModeBuild RunnerMode = "build-runner"
	ModeTaste RunnerMode = "taste-runner"
)

// RunnerInfo is what a worker presents on register/ping; it is opaque
// to the dispatcher beyond Id and Mode.
type RunnerInfo struct {
	Id          RunnerId   `json:"id"`
	Description string     `json:"info"`
	Mode        RunnerMode `json:"mode"`
	// CurrentTask is the task the runner believes it owns, echoed back
	// by the worker on register/request-work so the dispatcher can
	// tell it to reset if its view has drifted.
	CurrentTask *TaskId `json:"currentTask,omitempty"`
}

// Runner is a remote worker known to the dispatcher.
type Runner struct {
	Info       RunnerInfo
	WorkingOn  *WorkItem
	LastPing   time.Time
}

// RunnerForFrontend is the read-only projection of a Runner exposed by
// Dispatcher.Info().
type RunnerForFrontend struct {
	Id        RunnerId   `json:"id"`
	Info      string     `json:"info"`
	WorkingOn *WorkItem  `json:"workingOn,omitempty"`
	LastSeen  time.Time  `json:"lastSeen"`
}

// ExecutorInfo summarises fleet state for observability endpoints.
type ExecutorInfo struct {
	Runners    []RunnerForFrontend `json:"runners"`
	InProgress []TaskProgress      `json:"inProgress"`
}

// TaskProgress pairs an in-flight task with its live subscriber count.
type TaskProgress struct {
	TaskId      TaskId `json:"taskId"`
	Subscribers int    `json:"subscribers"`
}
