// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package container

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/codepr/graderd/judge"
	"github.com/codepr/graderd/model"
)

// TestObserver receives progress events as RunTests works through a
// task's test list, letting the caller forward them onto the
// dispatcher's live-update channel without RunTests knowing about
// that protocol.
type TestObserver interface {
	TestStarted(model.TestId)
	TestFinished(model.FinishedTest)
}

// RunTests forks one overlay container per test off built, bounded to
// parallelism concurrent containers at a time, judging each test's
// binary output against its modifiers. The built rootfs is read-only
// from every overlay's viewpoint, so concurrent tests never observe
// each other's writes. Results are returned in the same order as
// tests regardless of completion order.
func RunTests(ctx context.Context, built *BuiltContainer, tests []model.CompilerTest, parallelism int, aborted *atomic.Bool, observer TestObserver) ([]model.FinishedTest, error) {
	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]model.FinishedTest, len(tests))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(parallelism)

	for i, test := range tests {
		i, test := i, test
		group.Go(func() error {
			if observer != nil {
				observer.TestStarted(test.TestId)
			}

			output := runOneTest(groupCtx, built, test, aborted)
			result := model.FinishedTest{TestId: test.TestId, Output: output}
			results[i] = result

			if observer != nil {
				observer.TestFinished(result)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func runOneTest(ctx context.Context, built *BuiltContainer, test model.CompilerTest, aborted *atomic.Bool) model.ExecutionOutput {
	args := test.RunCommand
	if extra := model.Arguments(test.BinaryModifiers); len(extra) > 0 {
		args = append(append([]string{}, args...), extra...)
	}
	input, _ := model.ProgramInputValue(test.BinaryModifiers)

	outcome, err := built.RunTest(ctx, args, input, aborted, test.Timeout)
	if err != nil {
		if IsTimeout(err) {
			return model.TimedOut(model.FinishedExecution{})
		}
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
	return judge.Judge(test.BinaryModifiers, execution, outcome.Timeout)
}
