// Package storage is the persistence collaborator spec.md §4.D names:
// it owns the durable queue and the finished-task archive, and only
// promises the dispatcher an ordered queue, fetch-by-id, atomic
// writes, and task-id uniqueness — the rest (fairness ordering) is the
// dispatcher package's job.
package storage

import (
	"context"
	"time"

	"github.com/codepr/graderd/model"
)

// Store is everything the dispatcher needs from durable storage.
type Store interface {
	QueueTask(ctx context.Context, item model.WorkItem) error
	RemoveQueuedTask(ctx context.Context, id model.TaskId) error
	GetQueuedTasks(ctx context.Context) ([]model.WorkItem, error)
	FetchQueuedTask(ctx context.Context, id model.TaskId) (model.WorkItem, bool, error)

	AddFinishedTask(ctx context.Context, task model.FinishedCompilerTask) error
	GetTask(ctx context.Context, id model.TaskId) (model.FinishedCompilerTask, bool, error)
	GetRecentTasks(ctx context.Context, limit int) ([]model.FinishedCompilerTask, error)

	AddTest(ctx context.Context, test model.CompilerTest) error
	GetTests(ctx context.Context) ([]model.CompilerTest, error)

	GetRepo(ctx context.Context, team model.TeamId) (string, bool, error)
	SetRepo(ctx context.Context, team model.TeamId, repoPath string) error

	// BuildImage, BuildCommand and BuildTimeout describe the single
	// grading environment every queued task is built in. BoltStore
	// serves them from the GradingConfig passed to Open, so they stay
	// fixed for as long as the store is open.
	BuildImage() model.ImageId
	BuildCommand() []string
	BuildTimeout() time.Duration
}
