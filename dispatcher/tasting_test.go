package dispatcher

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codepr/graderd/model"
)

func TestTastingRoundTrip(t *testing.T) {
	tasting := newTestTasting()

	test := model.CompilerTest{TestId: "t1", RunCommand: []string{"./a.out"}}
	reply := tasting.AddTasting("reference:latest", test)

	task := tasting.PollTasting("taste-runner-1")
	if task == nil {
		t.Fatalf("expected a pending tasting to be handed out")
	}
	if task.Image != "reference:latest" || task.Test.TestId != "t1" {
		t.Fatalf("unexpected tasting task: %+v", *task)
	}

	if again := tasting.PollTasting("taste-runner-2"); again != nil {
		t.Fatalf("expected the claimed tasting to not be offered twice, got %+v", *again)
	}

	want := model.Success(model.FinishedExecution{Stdout: "ok"})
	tasting.FinishTasting(task.Id, want)

	select {
	case got, ok := <-reply:
		if !ok {
			t.Fatalf("expected a value, got a closed channel")
		}
		if got.Kind != want.Kind {
			t.Fatalf("expected verdict %+v, got %+v", want, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the tasting reply")
	}
}

func TestTastingFinishIsNoOpOnceExpired(t *testing.T) {
	tasting := newTestTasting()

	test := model.CompilerTest{TestId: "t2"}
	reply := tasting.AddTasting("reference:latest", test)

	task := tasting.PollTasting("taste-runner-1")
	if task == nil {
		t.Fatalf("expected a pending tasting to be handed out")
	}

	// Force the claimed entry to look expired, then let the sweeper
	// reclaim it the way runSweeper would on its next tick.
	tasting.mu.Lock()
	tasting.claimed[task.Id].insertedAt = time.Now().Add(-2 * tastingExpiry)
	tasting.mu.Unlock()
	tasting.sweep(zerolog.Nop())

	select {
	case _, ok := <-reply:
		if ok {
			t.Fatalf("expected the reply channel to be closed without a value")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the expired tasting's channel to close")
	}

	// FinishTasting arriving after expiry must be a safe no-op, not a
	// panic from sending on the now-closed channel.
	tasting.FinishTasting(task.Id, model.Success(model.FinishedExecution{}))
}
