package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/codepr/graderd/model"
)

func TestEmptySourceTarIsReadable(t *testing.T) {
	path, err := emptySourceTar()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(path)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Errorf("expected a non-empty tar (end-of-archive marker), got 0 bytes")
	}
}

func TestSleepCtxReturnsFalseOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Second) {
		t.Errorf("expected sleepCtx to return false for an already-cancelled context")
	}
}

func TestSleepCtxReturnsTrueOnElapse(t *testing.T) {
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Errorf("expected sleepCtx to return true once the duration elapses")
	}
}

func TestTestForwarderTranslatesEvents(t *testing.T) {
	var got []model.RunnerUpdateKind
	forwarder := testForwarder{report: reportFunc(func(u model.RunnerUpdate) {
		got = append(got, u.Kind)
	})}

	forwarder.TestStarted("t1")
	forwarder.TestFinished(model.FinishedTest{TestId: "t1"})

	want := []model.RunnerUpdateKind{model.UpdateStartedTest, model.UpdateFinishedTest}
	if len(got) != len(want) {
		t.Fatalf("expected %d updates, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
