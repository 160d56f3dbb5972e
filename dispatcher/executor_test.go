package dispatcher

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codepr/graderd/model"
)

func newTestExecutor() *Executor {
	return &Executor{
		runners:    make(map[model.RunnerId]*model.Runner),
		inProgress: make(map[model.TaskId]*runningTaskState),
		tasting:    newTestTasting(),
		log:        zerolog.Nop(),
		stopSweep:  make(chan struct{}),
	}
}

func TestExclusiveOwnership(t *testing.T) {
	e := newTestExecutor()
	e.RegisterRunner(model.RunnerInfo{Id: "r1"})
	e.RegisterRunner(model.RunnerInfo{Id: "r2"})

	queue := []model.WorkItem{{Id: "t1", Team: "A"}}

	item1, err := e.GetWork(model.RunnerInfo{Id: "r1"}, queue, nil)
	if err != nil || item1 == nil {
		t.Fatalf("expected r1 to get t1, err=%v item=%v", err, item1)
	}

	item2, err := e.GetWork(model.RunnerInfo{Id: "r2"}, queue, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item2 != nil {
		t.Fatalf("expected r2 to get no work since t1 is already taken, got %+v", item2)
	}
}

func TestGetWorkUnknownRunner(t *testing.T) {
	e := newTestExecutor()
	_, err := e.GetWork(model.RunnerInfo{Id: "ghost"}, nil, nil)
	if err == nil {
		t.Fatalf("expected an error for an unregistered runner")
	}
}

func TestFinishTaskReleasesOwnership(t *testing.T) {
	e := newTestExecutor()
	e.RegisterRunner(model.RunnerInfo{Id: "r1"})
	queue := []model.WorkItem{{Id: "t1", Team: "A"}}

	if _, err := e.GetWork(model.RunnerInfo{Id: "r1"}, queue, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.FinishTask("r1")
	e.FinishTask("r1") // idempotent

	if task := e.GetCurrentTask("r1"); task != nil {
		t.Fatalf("expected no current task after finish, got %+v", task)
	}
}

func TestEvictionReleasesTask(t *testing.T) {
	e := newTestExecutor()
	e.RegisterRunner(model.RunnerInfo{Id: "r1"})
	queue := []model.WorkItem{{Id: "t1", Team: "A"}}
	if _, err := e.GetWork(model.RunnerInfo{Id: "r1"}, queue, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e.mu.Lock()
	e.runners["r1"].LastPing = time.Now().Add(-6 * time.Minute)
	e.mu.Unlock()

	e.evictStaleRunners()

	info := e.Info()
	for _, r := range info.Runners {
		if r.Id == "r1" {
			t.Fatalf("expected r1 to be evicted, found in Info(): %+v", r)
		}
	}

	e.RegisterRunner(model.RunnerInfo{Id: "r2"})
	reassigned, err := e.GetWork(model.RunnerInfo{Id: "r2"}, queue, nil)
	if err != nil || reassigned == nil {
		t.Fatalf("expected t1 to be re-offered after eviction, err=%v item=%v", err, reassigned)
	}
}

func TestLiveStreamReplay(t *testing.T) {
	e := newTestExecutor()
	e.RegisterRunner(model.RunnerInfo{Id: "r1"})
	queue := []model.WorkItem{{Id: "t1", Team: "A"}}
	if _, err := e.GetWork(model.RunnerInfo{Id: "r1"}, queue, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e.UpdateTask("r1", model.RunnerUpdate{Kind: model.UpdateStartedBuild})

	state, ok := e.GetRunningTask("t1")
	if !ok {
		t.Fatalf("expected running task state for t1")
	}
	// AllTests (seeded on assignment) + StartedBuild should already be
	// in the replay log.
	if len(state.SoFar) != 2 {
		t.Fatalf("expected 2 replayed updates, got %d: %+v", len(state.SoFar), state.SoFar)
	}

	e.UpdateTask("r1", model.RunnerUpdate{Kind: model.UpdateFinishedBuild})

	select {
	case got := <-state.Updates:
		if got.Update.Kind != model.UpdateFinishedBuild {
			t.Fatalf("expected to observe FinishedBuild live, got %s", got.Update.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live update")
	}

	state.Unsubscribe()
}
