// Package model holds the data types shared by the dispatcher, the
// container driver and the judge: identifiers, work items, runner
// state, the wire shape of a compiler task, and execution outcomes.
package model

// TaskId identifies one queued-and-possibly-running build+test task.
type TaskId string

// TeamId identifies a student team.
type TeamId string

// TestId identifies one test definition.
type TestId string

// RunnerId identifies a registered worker.
type RunnerId string

// ImageId names a container image available to the image store.
type ImageId string

// ContainerId is a driver-assigned container identifier, unique per
// TaskContainer instance.
type ContainerId string

func (i TaskId) String() string      { return string(i) }
func (i TeamId) String() string      { return string(i) }
func (i TestId) String() string      { return string(i) }
func (i RunnerId) String() string    { return string(i) }
func (i ImageId) String() string     { return string(i) }
func (i ContainerId) String() string { return string(i) }
