package worker

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/codepr/graderd/container"
	"github.com/codepr/graderd/judge"
	"github.com/codepr/graderd/model"
)

// updateReporter lets executeTask report progress without depending on
// the polling loop directly, the same separation RunTests draws with
// TestObserver.
type updateReporter interface {
	report(model.RunnerUpdate)
}

type reportFunc func(model.RunnerUpdate)

func (f reportFunc) report(u model.RunnerUpdate) { f(u) }

// testForwarder adapts a reporter to container.TestObserver, translating
// test lifecycle events into the RunnerUpdate wire shape the dispatcher
// replays to live subscribers.
type testForwarder struct{ report updateReporter }

func (f testForwarder) TestStarted(id model.TestId) {
	f.report.report(model.RunnerUpdate{Kind: model.UpdateStartedTest, TestId: id})
}

func (f testForwarder) TestFinished(t model.FinishedTest) {
	f.report.report(model.RunnerUpdate{Kind: model.UpdateFinishedTest, Test: &t})
}

// executeTask runs task's grading matrix to completion: build the
// image, run every test against the built rootfs, and fold the result
// into a FinishedCompilerTask. Mirrors
// original_source/executor/src/task_executor.rs's execute_task_impl,
// translated from the Rust phase-typed container API onto
// container.CreatedContainer/StartedContainer/BuiltContainer.
func executeTask(ctx context.Context, baseDir string, task model.CompilerTask, sourceTar string, parallelism int, aborted *atomic.Bool, report updateReporter, log zerolog.Logger) model.FinishedCompilerTask {
	started := time.Now()
	info := model.TaskInfo{
		TaskId:        task.TaskId,
		Team:          task.TeamId,
		Revision:      task.RevisionId,
		CommitMessage: task.CommitMessage,
		StartedAt:     started,
	}

	testIDs := make([]model.TestId, len(task.Tests))
	for i, t := range task.Tests {
		testIDs[i] = t.TestId
	}
	report.report(model.RunnerUpdate{Kind: model.UpdateAllTests, Tests: testIDs})

	built, timedOut, wasAborted, err := runBuild(ctx, baseDir, task, sourceTar, aborted, report, log)
	if err != nil {
		info.FinishedAt = time.Now()
		return model.FinishedCompilerTask{
			Kind:        model.TaskBuildFailed,
			Info:        info,
			BuildOutput: model.ErrorOutput(model.InternalError{Message: err.Error(), Runtime: time.Since(started)}),
		}
	}
	defer built.Close()

	buildOutput := buildOutputOf(built, timedOut, wasAborted)
	report.report(model.RunnerUpdate{Kind: model.UpdateFinishedBuild, Build: &buildOutput})

	if !built.Success() {
		info.FinishedAt = time.Now()
		return model.FinishedCompilerTask{Kind: model.TaskBuildFailed, Info: info, BuildOutput: buildOutput}
	}

	tests, err := container.RunTests(ctx, built, task.Tests, parallelism, aborted, testForwarder{report: report})
	info.FinishedAt = time.Now()
	if err != nil {
		log.Error().Err(err).Str("task_id", string(task.TaskId)).Msg("error running test matrix")
	}

	return model.FinishedCompilerTask{
		Kind:        model.TaskRanTests,
		Info:        info,
		BuildOutput: buildOutput,
		Tests:       tests,
	}
}

func runBuild(ctx context.Context, baseDir string, task model.CompilerTask, sourceTar string, aborted *atomic.Bool, report updateReporter, log zerolog.Logger) (built *container.BuiltContainer, timedOut, wasAborted bool, err error) {
	created, err := container.New(ctx, baseDir, task.Image, task.BuildCommand, log)
	if err != nil {
		return nil, false, false, err
	}
	defer created.Close()

	if err := created.IntegrateSource(ctx, sourceTar); err != nil {
		return nil, false, false, err
	}

	started, err := created.Run()
	if err != nil {
		return nil, false, false, err
	}
	defer started.Close()
	report.report(model.RunnerUpdate{Kind: model.UpdateStartedBuild})

	built, err = started.WaitForBuild(aborted, task.BuildTimeout)
	if err != nil {
		if container.IsTimeout(err) {
			return built, true, false, nil
		}
		if container.IsAborted(err) {
			return built, false, true, nil
		}
		return nil, false, false, err
	}
	return built, false, false, nil
}

func buildOutputOf(built *container.BuiltContainer, timedOut, wasAborted bool) model.ExecutionOutput {
	execution := model.FinishedExecution{
		Stdout:   built.Stdout(),
		Stderr:   built.Stderr(),
		ExitCode: built.ExitCodeValue(),
		Signal:   built.SignalValue(),
	}
	switch {
	case timedOut:
		return model.TimedOut(execution)
	case wasAborted:
		return model.AbortedOutput(model.AbortedExecution{Stdout: execution.Stdout, Stderr: execution.Stderr})
	case built.Success():
		return model.Success(execution)
	default:
		return model.Failure(execution)
	}
}

// runTastingTask builds a disposable container off the reference
// image, runs the single candidate test's run command in one overlay
// container forked off that build, and returns the judged outcome.
// Mirrors task_executor.rs's run_test_impl, which forks a one-shot
// container with `true` as the build step.
func runTastingTask(ctx context.Context, baseDir string, task model.TastingTask, aborted *atomic.Bool, log zerolog.Logger) model.ExecutionOutput {
	created, err := container.New(ctx, baseDir, task.Image, []string{"true"}, log)
	if err != nil {
		return model.ErrorOutput(model.InternalError{Message: err.Error()})
	}
	defer created.Close()

	emptyTar, err := emptySourceTar()
	if err != nil {
		return model.ErrorOutput(model.InternalError{Message: err.Error()})
	}
	defer os.Remove(emptyTar)

	if err := created.IntegrateSource(ctx, emptyTar); err != nil {
		return model.ErrorOutput(model.InternalError{Message: err.Error()})
	}

	started, err := created.Run()
	if err != nil {
		return model.ErrorOutput(model.InternalError{Message: err.Error()})
	}
	defer started.Close()

	built, err := started.WaitForBuild(aborted, 10*time.Second)
	if err != nil && !container.IsTimeout(err) {
		return model.ErrorOutput(model.InternalError{Message: err.Error()})
	}
	defer built.Close()
	if !built.Success() {
		return model.Failure(model.FinishedExecution{Stdout: built.Stdout(), Stderr: built.Stderr()})
	}

	args := append(append([]string{}, task.Test.RunCommand...), model.Arguments(task.Test.BinaryModifiers)...)
	input, _ := model.ProgramInputValue(task.Test.BinaryModifiers)
	outcome, err := built.RunTest(ctx, args, input, aborted, task.Test.Timeout)
	if err != nil {
		return model.ErrorOutput(model.InternalError{Message: err.Error()})
	}
	if outcome.Aborted {
		return model.AbortedOutput(model.AbortedExecution{Stdout: outcome.Stdout, Stderr: outcome.Stderr})
	}

	execution := model.FinishedExecution{
		Stdout:   outcome.Stdout,
		Stderr:   outcome.Stderr,
		ExitCode: outcome.ExitCode,
		Signal:   outcome.Signal,
	}
	return judge.Judge(task.Test.BinaryModifiers, execution, outcome.Timeout)
}
