package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/codepr/graderd/model"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graderd.db")
	store, err := Open(path, GradingConfig{Image: "alpine:latest", BuildCommand: []string{"make"}, BuildTimeout: time.Minute})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestQueueTaskRejectsDuplicateId(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := model.WorkItem{Id: "t1", Team: "teamA", InsertTime: time.Now()}

	if err := store.QueueTask(ctx, item); err != nil {
		t.Fatalf("unexpected error on first queue: %v", err)
	}
	if err := store.QueueTask(ctx, item); err == nil {
		t.Fatalf("expected an error queuing a duplicate task id")
	}
}

func TestQueueTaskOrderingIsInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ids := []model.TaskId{"a", "b", "c"}
	for _, id := range ids {
		if err := store.QueueTask(ctx, model.WorkItem{Id: id, Team: "teamA", InsertTime: time.Now()}); err != nil {
			t.Fatalf("queueing %s: %v", id, err)
		}
	}

	got, err := store.GetQueuedTasks(ctx)
	if err != nil {
		t.Fatalf("GetQueuedTasks: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("expected %d items, got %d", len(ids), len(got))
	}
	for i, id := range ids {
		if got[i].Id != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].Id)
		}
	}
}

func TestRemoveQueuedTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := model.WorkItem{Id: "t1", Team: "teamA", InsertTime: time.Now()}

	if err := store.QueueTask(ctx, item); err != nil {
		t.Fatalf("queueing: %v", err)
	}
	if err := store.RemoveQueuedTask(ctx, item.Id); err != nil {
		t.Fatalf("removing: %v", err)
	}

	_, found, err := store.FetchQueuedTask(ctx, item.Id)
	if err != nil {
		t.Fatalf("fetching: %v", err)
	}
	if found {
		t.Errorf("expected task to be gone after removal")
	}
}

func TestAddFinishedTaskRemovesFromQueue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := model.WorkItem{Id: "t1", Team: "teamA", InsertTime: time.Now()}
	if err := store.QueueTask(ctx, item); err != nil {
		t.Fatalf("queueing: %v", err)
	}

	finished := model.FinishedCompilerTask{
		Kind: model.TaskRanTests,
		Info: model.TaskInfo{TaskId: item.Id, Team: item.Team},
	}
	if err := store.AddFinishedTask(ctx, finished); err != nil {
		t.Fatalf("AddFinishedTask: %v", err)
	}

	if _, found, _ := store.FetchQueuedTask(ctx, item.Id); found {
		t.Errorf("expected task to be removed from the queue once finished")
	}

	got, found, err := store.GetTask(ctx, item.Id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !found {
		t.Fatalf("expected finished task to be retrievable")
	}
	if got.Info.TaskId != item.Id {
		t.Errorf("expected task id %s, got %s", item.Id, got.Info.TaskId)
	}
}

func TestGradingConfigAccessors(t *testing.T) {
	store := newTestStore(t)
	if store.BuildImage() != "alpine:latest" {
		t.Errorf("unexpected build image: %s", store.BuildImage())
	}
	if len(store.BuildCommand()) != 1 || store.BuildCommand()[0] != "make" {
		t.Errorf("unexpected build command: %v", store.BuildCommand())
	}
	if store.BuildTimeout() != time.Minute {
		t.Errorf("unexpected build timeout: %v", store.BuildTimeout())
	}
}
